package model

import (
	"math"
	"sync"

	"github.com/openfluke/loom/nn"
	"github.com/pkg/errors"

	"cae-forge/internal/losses"
	"cae-forge/internal/tensor"
)

const modelID = "cae"

// Autoencoder is a convolutional autoencoder running on a loom network.
// Images are NHWC outside and CHW inside the network.
type Autoencoder struct {
	mu       sync.Mutex
	net      *nn.Network
	arch     Architecture
	channels int
	shape    Shape
}

var _ Model = (*Autoencoder)(nil)

// Build constructs a freshly initialised autoencoder.
func Build(arch Architecture, channels int, shape Shape) (*Autoencoder, error) {
	spec, err := Spec(arch, channels, shape)
	if err != nil {
		return nil, err
	}
	def, err := spec.JSON()
	if err != nil {
		return nil, err
	}
	net, err := nn.BuildNetworkFromJSON(def)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s network", arch)
	}
	net.BatchSize = 1
	net.InitializeWeights()
	return &Autoencoder{net: net, arch: arch, channels: channels, shape: shape}, nil
}

// Load reads a model written by Save.
func Load(path string, arch Architecture, channels int, shape Shape) (*Autoencoder, error) {
	net, err := nn.LoadModel(path, modelID)
	if err != nil {
		return nil, errors.Wrapf(err, "load model %s", path)
	}
	net.BatchSize = 1
	return &Autoencoder{net: net, arch: arch, channels: channels, shape: shape}, nil
}

// Architecture returns the network family.
func (a *Autoencoder) Architecture() Architecture { return a.arch }

// Channels returns the number of image channels.
func (a *Autoencoder) Channels() int { return a.channels }

// InputShape returns the spatial input size.
func (a *Autoencoder) InputShape() Shape { return a.shape }

func (a *Autoencoder) check(b tensor.Batch) error {
	if b.H != a.shape.Height || b.W != a.shape.Width || b.C != a.channels {
		return errors.Wrapf(tensor.ErrShapeMismatch, "batch %s, model expects (_, %d, %d, %d)",
			b.Shape(), a.shape.Height, a.shape.Width, a.channels)
	}
	return nil
}

// forward runs one NHWC image and returns the NHWC reconstruction.
func (a *Autoencoder) forward(img tensor.Batch) (tensor.Batch, error) {
	out, _ := a.net.ForwardCPU(toCHW(img))
	if len(out) != img.ImageSize() {
		return tensor.Batch{}, errors.Errorf("model: network produced %d values, want %d", len(out), img.ImageSize())
	}
	return fromCHW(out, img.H, img.W, img.C), nil
}

// Reconstruct runs the network on every image of b.
func (a *Autoencoder) Reconstruct(b tensor.Batch) (tensor.Batch, error) {
	if err := a.check(b); err != nil {
		return tensor.Batch{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := tensor.New(b.N, b.H, b.W, b.C)
	size := b.ImageSize()
	for i := 0; i < b.N; i++ {
		pred, err := a.forward(b.Image(i))
		if err != nil {
			return tensor.Batch{}, err
		}
		copy(out.Data[i*size:], pred.Data)
	}
	return out, nil
}

// TrainStep performs one SGD update per image of b. The gradient of each
// image is scaled so that a mean-reduced loss averages over the batch, and
// the returned value is the batch loss under the loss's reduction.
func (a *Autoencoder) TrainStep(b tensor.Batch, loss losses.Loss, lr float64) (float64, error) {
	if err := a.check(b); err != nil {
		return 0, err
	}
	if b.N == 0 {
		return 0, errors.New("model: empty batch")
	}
	scale := float32(1)
	if loss.Reduction() == losses.ReduceMean {
		scale = 1 / float32(b.N)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0.0
	for i := 0; i < b.N; i++ {
		img := b.Image(i)
		pred, err := a.forward(img)
		if err != nil {
			return 0, err
		}
		v, grad, err := loss.Gradient(img, pred)
		if err != nil {
			return 0, errors.Wrapf(err, "%s gradient", loss.Name())
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return v, nil
		}
		total += v
		for j := range grad.Data {
			grad.Data[j] *= scale
		}
		// BackwardCPU overwrites the stored gradients, so no zeroing is needed
		a.net.BackwardCPU(toCHW(grad))
		a.net.ApplyGradients(float32(lr))
	}
	if loss.Reduction() == losses.ReduceMean {
		total /= float64(b.N)
	}
	return total, nil
}

// Evaluate returns loss.Compute on the reconstruction of b.
func (a *Autoencoder) Evaluate(b tensor.Batch, loss losses.Loss) (float64, error) {
	pred, err := a.Reconstruct(b)
	if err != nil {
		return 0, err
	}
	return loss.Compute(b, pred)
}

// Snapshot serialises the current weights.
func (a *Autoencoder) Snapshot() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, err := a.net.SaveModelToString(modelID)
	if err != nil {
		return "", errors.Wrap(err, "snapshot weights")
	}
	return s, nil
}

// Restore replaces the weights with a snapshot.
func (a *Autoencoder) Restore(snapshot string) error {
	net, err := nn.LoadModelFromString(snapshot, modelID)
	if err != nil {
		return errors.Wrap(err, "restore weights")
	}
	net.BatchSize = 1
	a.mu.Lock()
	a.net = net
	a.mu.Unlock()
	return nil
}

// Save writes the network definition and weights as JSON.
func (a *Autoencoder) Save(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.net.SaveModel(path, modelID); err != nil {
		return errors.Wrapf(err, "save model %s", path)
	}
	return nil
}

func toCHW(img tensor.Batch) []float32 {
	out := make([]float32, img.ImageSize())
	plane := img.H * img.W
	for y := 0; y < img.H; y++ {
		for x := 0; x < img.W; x++ {
			for c := 0; c < img.C; c++ {
				out[c*plane+y*img.W+x] = img.At(0, y, x, c)
			}
		}
	}
	return out
}

func fromCHW(data []float32, h, w, c int) tensor.Batch {
	out := tensor.New(1, h, w, c)
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for ch := 0; ch < c; ch++ {
				out.Set(0, y, x, ch, data[ch*plane+y*w+x])
			}
		}
	}
	return out
}
