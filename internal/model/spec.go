package model

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// LayerSpec is one entry of a loom JSON network definition.
type LayerSpec struct {
	Type          string `json:"type"`
	Activation    string `json:"activation,omitempty"`
	InputChannels int    `json:"input_channels,omitempty"`
	Filters       int    `json:"filters,omitempty"`
	KernelSize    int    `json:"kernel_size,omitempty"`
	Stride        int    `json:"stride,omitempty"`
	Padding       int    `json:"padding,omitempty"`
	InputHeight   int    `json:"input_height,omitempty"`
	InputWidth    int    `json:"input_width,omitempty"`
	OutputHeight  int    `json:"output_height,omitempty"`
	OutputWidth   int    `json:"output_width,omitempty"`
}

// NetworkSpec is a single-cell loom network: every layer lives in cell (0, 0).
type NetworkSpec struct {
	ID            string      `json:"id"`
	BatchSize     int         `json:"batch_size"`
	GridRows      int         `json:"grid_rows"`
	GridCols      int         `json:"grid_cols"`
	LayersPerCell int         `json:"layers_per_cell"`
	Layers        []LayerSpec `json:"layers"`
}

// JSON renders the definition accepted by nn.BuildNetworkFromJSON.
func (s NetworkSpec) JSON() (string, error) {
	s.GridRows, s.GridCols, s.BatchSize = 1, 1, 1
	s.LayersPerCell = len(s.Layers)
	b, err := json.Marshal(s)
	if err != nil {
		return "", errors.Wrap(err, "encode network spec")
	}
	return string(b), nil
}

// volume tracks the CHW shape flowing through a builder.
type volume struct {
	c, h, w int
}

func (v volume) size() int { return v.c * v.h * v.w }

func convOut(in, kernel, stride, pad int) int {
	return (in+2*pad-kernel)/stride + 1
}

// builder appends layers while keeping track of the current volume.
type builder struct {
	cur    volume
	layers []LayerSpec
	err    error
}

func (b *builder) conv(filters, kernel, stride, pad int, act string) *builder {
	if b.err != nil {
		return b
	}
	oh := convOut(b.cur.h, kernel, stride, pad)
	ow := convOut(b.cur.w, kernel, stride, pad)
	if oh < 1 || ow < 1 {
		b.err = errors.Errorf("model: input %dx%d too small for conv layer %d", b.cur.h, b.cur.w, len(b.layers))
		return b
	}
	b.layers = append(b.layers, LayerSpec{
		Type:          "conv2d",
		Activation:    act,
		InputChannels: b.cur.c,
		Filters:       filters,
		KernelSize:    kernel,
		Stride:        stride,
		Padding:       pad,
		InputHeight:   b.cur.h,
		InputWidth:    b.cur.w,
		OutputHeight:  oh,
		OutputWidth:   ow,
	})
	b.cur = volume{c: filters, h: oh, w: ow}
	return b
}

// residualConv adds a same-shape conv layer followed by a residual layer,
// which loom evaluates as x + conv(x) with x the input of the conv layer.
func (b *builder) residualConv(kernel int, act string) *builder {
	b.conv(b.cur.c, kernel, 1, kernel/2, act)
	if b.err == nil {
		b.layers = append(b.layers, LayerSpec{Type: "residual"})
	}
	return b
}

func (b *builder) dense(out int, act string) *builder {
	if b.err != nil {
		return b
	}
	b.layers = append(b.layers, LayerSpec{
		Type:         "dense",
		Activation:   act,
		InputHeight:  b.cur.size(),
		OutputHeight: out,
	})
	b.cur = volume{c: 1, h: out, w: 1}
	return b
}

// reshape reinterprets the flat vector as a CHW volume of the same size.
func (b *builder) reshape(c, h, w int) *builder {
	if b.err == nil && c*h*w != b.cur.size() {
		b.err = errors.Errorf("model: cannot reshape %d values to %dx%dx%d", b.cur.size(), c, h, w)
	}
	b.cur = volume{c: c, h: h, w: w}
	return b
}

// Spec returns the layer stack of an architecture for images of the given
// channel count and shape.
func Spec(arch Architecture, channels int, shape Shape) (NetworkSpec, error) {
	if channels != 1 && channels != 3 {
		return NetworkSpec{}, errors.Errorf("model: unsupported channel count %d", channels)
	}
	if shape.Height < 1 || shape.Width < 1 {
		return NetworkSpec{}, errors.Errorf("model: invalid shape %dx%d", shape.Height, shape.Width)
	}
	out := channels * shape.Height * shape.Width
	b := &builder{cur: volume{c: channels, h: shape.Height, w: shape.Width}}

	switch arch {
	case MVTec:
		b.conv(32, 5, 2, 2, "leaky_relu").
			conv(64, 5, 2, 2, "leaky_relu").
			conv(128, 5, 2, 2, "leaky_relu").
			dense(100, "leaky_relu").
			dense(128, "leaky_relu").
			dense(out, "sigmoid")
	case MVTec2:
		for _, f := range []int{32, 32, 64, 64, 128, 128} {
			b.conv(f, 5, 2, 2, "leaky_relu")
		}
		b.dense(64, "leaky_relu").
			reshape(4, 4, 4).
			conv(8, 5, 1, 2, "leaky_relu").
			dense(out, "sigmoid")
	case ResNet:
		if channels != 3 {
			return NetworkSpec{}, errors.New("resnet expects rgb images")
		}
		b.conv(32, 3, 2, 1, "leaky_relu").
			residualConv(3, "leaky_relu").
			residualConv(3, "leaky_relu").
			conv(64, 3, 2, 1, "leaky_relu").
			dense(128, "leaky_relu").
			dense(out, "tanh")
	case NASNet:
		return NetworkSpec{}, errors.Wrap(ErrNotImplemented, "nasnet is not yet implemented")
	default:
		return NetworkSpec{}, errors.Wrapf(ErrUnknownArchitecture, "%q", string(arch))
	}
	if b.err != nil {
		return NetworkSpec{}, b.err
	}
	return NetworkSpec{ID: string(arch), Layers: b.layers}, nil
}
