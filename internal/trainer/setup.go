package trainer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"cae-forge/internal/model"
)

const (
	setupFile     = "setup.json"
	timeLayout    = "02-01-2006_15-04-05"
	lrFindPlot    = "lr_find_plot.png"
	lossPlot      = "loss_plot.png"
	lrPlot        = "lr_plot.png"
	historyFile   = "history.json"
	inspectValDir = "inspection_val"
	inspectTstDir = "inspection_test"
)

// SaveDir returns <out>/saved_models/<directory>/<arch>/<LOSS>/<timestamp>.
func SaveDir(out, directory, arch, loss string, now time.Time) string {
	return filepath.Join(out, "saved_models", directory, arch, loss, now.Format(timeLayout))
}

// ModelName is CAE_<arch>_b<batch>.
func ModelName(arch string, batch int) string {
	return "CAE_" + arch + "_b" + strconv.Itoa(batch)
}

// Setup is the run description written to setup.json.
type Setup struct {
	RunID string `json:"run_id,omitempty"`

	DataSetup struct {
		Directory          string `json:"directory"`
		NbTrainingImages   int    `json:"nb_training_images"`
		NbValidationImages int    `json:"nb_validation_images"`
	} `json:"data_setup"`

	PreprocessingSetup struct {
		Rescale       float64 `json:"rescale"`
		Offset        float64 `json:"offset"`
		Shape         [2]int  `json:"shape"`
		Preprocessing string  `json:"preprocessing"`
	} `json:"preprocessing_setup"`

	LRFinder struct {
		StartLR    float64 `json:"start_lr"`
		MaxLR      float64 `json:"max_lr"`
		StopFactor float64 `json:"stop_factor"`
		MaxEpochs  *int    `json:"max_epochs"`
		SteepestLR float64 `json:"steepest_lr"`
		MinLossLR  float64 `json:"min_loss_lr"`
	} `json:"lr_finder"`

	TrainSetup struct {
		Architecture        string  `json:"architecture"`
		NbTrainingImagesAug int     `json:"nb_training_images_aug"`
		Epochs              int     `json:"epochs"`
		EpochsRun           int     `json:"epochs_run"`
		MaxLR               float64 `json:"max_lr"`
		MinLR               float64 `json:"min_lr"`
		BatchSize           int     `json:"batch_size"`
		Loss                string  `json:"loss"`
		ColorMode           string  `json:"color_mode"`
		Channels            int     `json:"channels"`
		ValidationSplit     float64 `json:"validation_split"`
		ModelFile           string  `json:"model_file"`
	} `json:"train_setup"`

	Tag string `json:"tag"`
}

// Shape returns the preprocessing shape as a model.Shape.
func (s *Setup) Shape() model.Shape {
	return model.Shape{Height: s.PreprocessingSetup.Shape[0], Width: s.PreprocessingSetup.Shape[1]}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return errors.Wrapf(err, "encode %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", filepath.Base(path))
	}
	return nil
}

// ReadSetup loads setup.json from a save directory.
func ReadSetup(saveDir string) (*Setup, error) {
	data, err := os.ReadFile(filepath.Join(saveDir, setupFile))
	if err != nil {
		return nil, errors.Wrap(err, "read setup")
	}
	s := &Setup{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, errors.Wrap(err, "parse setup")
	}
	return s, nil
}

// LoadModel restores the trained autoencoder of a save directory.
func LoadModel(saveDir string) (*model.Autoencoder, *Setup, error) {
	s, err := ReadSetup(saveDir)
	if err != nil {
		return nil, nil, err
	}
	ts := s.TrainSetup
	m, err := model.Load(filepath.Join(saveDir, ts.ModelFile), model.Architecture(ts.Architecture), ts.Channels, s.Shape())
	if err != nil {
		return nil, nil, err
	}
	return m, s, nil
}
