// Package losses implements the reconstruction losses used to train the
// autoencoder. Every loss returns a scalar for a pair of batches together
// with its gradient with respect to the reconstructed batch.
package losses

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"

	"cae-forge/internal/ssim"
	"cae-forge/internal/tensor"
)

// Reduction tells how per-image losses combine into a batch loss.
type Reduction int

const (
	ReduceMean Reduction = iota
	ReduceSum
)

// Loss is a differentiable reconstruction loss.
type Loss interface {
	Name() string
	Reduction() Reduction
	// Compute returns the scalar loss of imgsPred against imgsTrue.
	Compute(imgsTrue, imgsPred tensor.Batch) (float64, error)
	// Gradient returns the loss and d(loss)/d(imgsPred).
	Gradient(imgsTrue, imgsPred tensor.Batch) (float64, tensor.Batch, error)
}

type l2Loss struct{}

// L2 is the sum of squared differences, twice tf.nn.l2_loss.
func L2() Loss { return l2Loss{} }

func (l2Loss) Name() string { return "L2" }

func (l2Loss) Reduction() Reduction { return ReduceSum }

func (l l2Loss) Compute(imgsTrue, imgsPred tensor.Batch) (float64, error) {
	v, _, err := l.eval(imgsTrue, imgsPred, false)
	return v, err
}

func (l l2Loss) Gradient(imgsTrue, imgsPred tensor.Batch) (float64, tensor.Batch, error) {
	return l.eval(imgsTrue, imgsPred, true)
}

func (l2Loss) eval(imgsTrue, imgsPred tensor.Batch, withGrad bool) (float64, tensor.Batch, error) {
	if err := tensor.CheckSameShape(imgsTrue, imgsPred); err != nil {
		return 0, tensor.Batch{}, err
	}
	var grad tensor.Batch
	if withGrad {
		grad = tensor.New(imgsPred.N, imgsPred.H, imgsPred.W, imgsPred.C)
	}
	sum := 0.0
	for i, p := range imgsPred.Data {
		d := float64(p) - float64(imgsTrue.Data[i])
		sum += d * d
		if withGrad {
			grad.Data[i] = float32(2 * d)
		}
	}
	return sum, grad, nil
}

type mseLoss struct{}

// MSE is the mean squared error over all values.
func MSE() Loss { return mseLoss{} }

func (mseLoss) Name() string { return "MSE" }

func (mseLoss) Reduction() Reduction { return ReduceMean }

func (m mseLoss) Compute(imgsTrue, imgsPred tensor.Batch) (float64, error) {
	v, _, err := m.Gradient(imgsTrue, imgsPred)
	return v, err
}

func (mseLoss) Gradient(imgsTrue, imgsPred tensor.Batch) (float64, tensor.Batch, error) {
	sum, grad, err := l2Loss{}.eval(imgsTrue, imgsPred, true)
	if err != nil {
		return 0, tensor.Batch{}, err
	}
	n := float64(len(imgsPred.Data))
	if n == 0 {
		return 0, grad, nil
	}
	for i := range grad.Data {
		grad.Data[i] = float32(float64(grad.Data[i]) / n)
	}
	return sum / n, grad, nil
}

// planeFunc evaluates a per-plane similarity and optionally its gradient.
type planeFunc func(x, y ssim.Plane, o ssim.Options, withGrad bool) (float64, ssim.Plane)

type similarityLoss struct {
	name string
	opts ssim.Options
	fn   planeFunc
}

// SSIM is the negative mean single-scale structural similarity.
func SSIM(dynamicRange float64) Loss {
	return &similarityLoss{name: "SSIM", opts: ssim.DefaultOptions(dynamicRange), fn: singleScale}
}

// MSSIM is the negative mean multi-scale structural similarity.
func MSSIM(dynamicRange float64) Loss {
	return &similarityLoss{name: "MSSIM", opts: ssim.DefaultOptions(dynamicRange), fn: multiScale}
}

func singleScale(x, y ssim.Plane, o ssim.Options, withGrad bool) (float64, ssim.Plane) {
	if withGrad {
		return ssim.MeanGrad(x, y, o)
	}
	return ssim.Mean(x, y, o), ssim.Plane{}
}

func multiScale(x, y ssim.Plane, o ssim.Options, withGrad bool) (float64, ssim.Plane) {
	if withGrad {
		return ssim.MultiScaleGrad(x, y, o)
	}
	return ssim.MultiScale(x, y, o), ssim.Plane{}
}

func (s *similarityLoss) Name() string { return s.name }

func (s *similarityLoss) Reduction() Reduction { return ReduceMean }

func (s *similarityLoss) Compute(imgsTrue, imgsPred tensor.Batch) (float64, error) {
	mean, _, err := similarity(imgsTrue, imgsPred, s.opts, s.fn, false)
	return -mean, err
}

func (s *similarityLoss) Gradient(imgsTrue, imgsPred tensor.Batch) (float64, tensor.Batch, error) {
	mean, grad, err := similarity(imgsTrue, imgsPred, s.opts, s.fn, true)
	if err != nil {
		return 0, tensor.Batch{}, err
	}
	for i := range grad.Data {
		grad.Data[i] = -grad.Data[i]
	}
	return -mean, grad, nil
}

// similarity returns the batch mean of the per-image similarity, each image
// being the mean over its channels, and the gradient of that mean.
func similarity(imgsTrue, imgsPred tensor.Batch, o ssim.Options, fn planeFunc, withGrad bool) (float64, tensor.Batch, error) {
	if err := tensor.CheckSameShape(imgsTrue, imgsPred); err != nil {
		return 0, tensor.Batch{}, err
	}
	if imgsTrue.N == 0 {
		return 0, tensor.Batch{}, errors.New("losses: empty batch")
	}
	var grad tensor.Batch
	if withGrad {
		grad = tensor.New(imgsPred.N, imgsPred.H, imgsPred.W, imgsPred.C)
	}
	perImage := make([]float64, imgsTrue.N)
	scale := 1 / float64(imgsTrue.N*imgsTrue.C)

	forEachImage(imgsTrue.N, func(i int) {
		total := 0.0
		for c := 0; c < imgsTrue.C; c++ {
			x := ssim.Plane{H: imgsTrue.H, W: imgsTrue.W, Pix: imgsTrue.Plane(i, c)}
			y := ssim.Plane{H: imgsPred.H, W: imgsPred.W, Pix: imgsPred.Plane(i, c)}
			v, g := fn(x, y, o, withGrad)
			total += v
			if withGrad {
				for j := range g.Pix {
					g.Pix[j] *= scale
				}
				grad.SetPlane(i, c, g.Pix)
			}
		}
		perImage[i] = total / float64(imgsTrue.C)
	})

	sum := 0.0
	for _, v := range perImage {
		sum += v
	}
	return sum / float64(imgsTrue.N), grad, nil
}

// forEachImage runs fn for every index on a bounded set of goroutines.
func forEachImage(n int, fn func(i int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				fn(i)
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}
