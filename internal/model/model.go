package model

import (
	"cae-forge/internal/losses"
	"cae-forge/internal/tensor"
)

// Model defines the training functionality required by the trainer.
type Model interface {
	// Reconstruct runs the network on every image of b.
	Reconstruct(b tensor.Batch) (tensor.Batch, error)
	// TrainStep updates the weights on b and returns the batch loss.
	TrainStep(b tensor.Batch, loss losses.Loss, lr float64) (float64, error)
	// Evaluate returns the loss of the reconstruction of b without training.
	Evaluate(b tensor.Batch, loss losses.Loss) (float64, error)
	// Snapshot captures the weights so they can be put back by Restore.
	Snapshot() (string, error)
	Restore(snapshot string) error
	Save(path string) error
}
