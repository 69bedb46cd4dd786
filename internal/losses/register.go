package losses

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"cae-forge/internal/ssim"
	"cae-forge/internal/tensor"
)

// ErrUnknownLoss is returned for a loss name that has not been registered.
var ErrUnknownLoss = errors.New("losses: unknown loss")

// Constructor builds a loss for images spanning dynamicRange.
type Constructor func(dynamicRange float64) Loss

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

func init() {
	list := map[string]Constructor{
		"SSIM":  SSIM,
		"MSSIM": MSSIM,
		"L2":    func(float64) Loss { return L2() },
		"MSE":   func(float64) Loss { return MSE() },
	}
	for name, c := range list {
		if err := Register(name, c); err != nil {
			panic(err.Error())
		}
	}
}

// Register adds a loss constructor under name (case-insensitive).
func Register(name string, c Constructor) error {
	key := strings.ToUpper(name)
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[key]; ok {
		return errors.Errorf("losses: %s already registered", key)
	}
	registry[key] = c
	return nil
}

// New returns the loss registered under name.
func New(name string, dynamicRange float64) (Loss, error) {
	registryMu.RLock()
	c, ok := registry[strings.ToUpper(name)]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownLoss, "%q", name)
	}
	return c(dynamicRange), nil
}

// Names lists the registered losses in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Metric is a monitored similarity score (higher is better).
type Metric func(imgsTrue, imgsPred tensor.Batch) (float64, error)

// SSIMMetric returns the batch mean SSIM.
func SSIMMetric(dynamicRange float64) Metric {
	o := ssim.DefaultOptions(dynamicRange)
	return func(imgsTrue, imgsPred tensor.Batch) (float64, error) {
		v, _, err := similarity(imgsTrue, imgsPred, o, singleScale, false)
		return v, err
	}
}

// MSSIMMetric returns the batch mean MS-SSIM.
func MSSIMMetric(dynamicRange float64) Metric {
	o := ssim.DefaultOptions(dynamicRange)
	return func(imgsTrue, imgsPred tensor.Batch) (float64, error) {
		v, _, err := similarity(imgsTrue, imgsPred, o, multiScale, false)
		return v, err
	}
}
