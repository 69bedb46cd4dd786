package model

import (
	"strings"

	"github.com/pkg/errors"
)

// Architecture names a network family.
type Architecture string

const (
	MVTec  Architecture = "mvtec"
	MVTec2 Architecture = "mvtec2"
	ResNet Architecture = "resnet"
	NASNet Architecture = "nasnet"
)

var (
	// ErrUnknownArchitecture is returned for names outside Architectures.
	ErrUnknownArchitecture = errors.New("model: unknown architecture")
	// ErrNotImplemented is returned for architectures that are accepted on the
	// command line but cannot be built.
	ErrNotImplemented = errors.New("model: architecture not implemented")
)

// Architectures lists the accepted architecture names.
var Architectures = []Architecture{MVTec, MVTec2, ResNet, NASNet}

// ParseArchitecture validates an architecture name.
func ParseArchitecture(s string) (Architecture, error) {
	a := Architecture(strings.ToLower(s))
	for _, known := range Architectures {
		if a == known {
			return a, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownArchitecture, "%q", s)
}

// RGBOnly reports whether the architecture needs three input channels.
func (a Architecture) RGBOnly() bool {
	return a == ResNet || a == NASNet
}

// Shape is the spatial input size of a network.
type Shape struct {
	Height int `json:"height"`
	Width  int `json:"width"`
}

// Preprocessing maps raw 8-bit pixel values into the network's input range:
// v' = v*Scale + Offset.
type Preprocessing struct {
	Name   string  `json:"preprocessing"`
	Scale  float64 `json:"rescale"`
	Offset float64 `json:"offset"`
	VMin   float64 `json:"vmin"`
	VMax   float64 `json:"vmax"`
	Shape  Shape   `json:"shape"`
}

// DynamicRange is VMax - VMin.
func (p Preprocessing) DynamicRange() float64 { return p.VMax - p.VMin }

// Apply converts a raw value in [0, 255].
func (p Preprocessing) Apply(v float64) float32 {
	return float32(v*p.Scale + p.Offset)
}

// PreprocessingFor returns the default preprocessing of an architecture.
func PreprocessingFor(a Architecture) (Preprocessing, error) {
	switch a {
	case MVTec, MVTec2:
		return Preprocessing{Name: "rescale", Scale: 1.0 / 255, VMin: 0, VMax: 1, Shape: Shape{256, 256}}, nil
	case ResNet:
		return Preprocessing{Name: "inception", Scale: 1.0 / 127.5, Offset: -1, VMin: -1, VMax: 1, Shape: Shape{299, 299}}, nil
	case NASNet:
		return Preprocessing{Name: "inception", Scale: 1.0 / 127.5, Offset: -1, VMin: -1, VMax: 1, Shape: Shape{224, 224}}, nil
	}
	return Preprocessing{}, errors.Wrapf(ErrUnknownArchitecture, "%q", string(a))
}
