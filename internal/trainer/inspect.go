package trainer

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"cae-forge/internal/dataset"
	"cae-forge/internal/npy"
	"cae-forge/internal/plots"
	"cae-forge/internal/resmaps"
	"cae-forge/internal/tensor"
)

// setTags maps a set name to the tag used in dump file names.
var setTags = map[string]string{"validation": "val", "test": "test"}

// inspect reconstructs every image of a set, dumps inputs and predictions as
// .npy and writes one panel per image with the input, the reconstruction and
// the three residual maps of channel 0.
func (r *run) inspect(ctx context.Context, set string, entries []dataset.Entry, dir string) error {
	if len(entries) == 0 {
		log.Printf("no %s images to inspect", set)
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	log.Printf("inspecting %d %s images", len(entries), set)

	imgs, err := dataset.LoadAll(ctx, entries, r.decode, r.cfg.NumWorkers)
	if err != nil {
		return errors.Wrapf(err, "load %s images", set)
	}
	preds, err := r.mdl.Reconstruct(imgs)
	if err != nil {
		return errors.Wrapf(err, "reconstruct %s images", set)
	}

	tag := setTags[set]
	if err := npy.Save(filepath.Join(dir, "imgs_"+tag+"_input.npy"), imgs); err != nil {
		return err
	}
	if err := npy.Save(filepath.Join(dir, "imgs_"+tag+"_pred.npy"), preds); err != nil {
		return err
	}

	diff, err := tensor.Sub(imgs, preds)
	if err != nil {
		return err
	}
	ssimMaps, err := resmaps.Calculate(imgs, preds, resmaps.MethodSSIM, resmaps.Options{DynamicRange: r.prep.DynamicRange()})
	if err != nil {
		return err
	}
	l2Maps, err := resmaps.Calculate(imgs, preds, resmaps.MethodL2, resmaps.Options{})
	if err != nil {
		return err
	}

	lo, hi := r.prep.VMin, r.prep.VMax
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		tile := func(label string, b tensor.Batch, heat bool, vmin, vmax float64) plots.Tile {
			return plots.Tile{Label: label, H: b.H, W: b.W, Pix: b.Plane(i, 0), Heat: heat, Min: vmin, Max: vmax}
		}
		tiles := []plots.Tile{
			tile("input", imgs, false, lo, hi),
			tile("pred", preds, false, lo, hi),
			tile("resmap_diff", diff, false, 0, 0),
			tile("resmap_ssim", ssimMaps, true, 0, 2),
			tile("resmap_L2", l2Maps, true, 0, 0),
		}
		title := strings.ToUpper(set) + " " + e.Name()
		if err := plots.SavePanel(filepath.Join(dir, inspectionName(e)), title, tiles, 2); err != nil {
			return err
		}
	}
	log.Printf("%s inspection saved at %s", set, dir)
	return nil
}

// inspectionName turns good/000.png into good_000_inspection.png.
func inspectionName(e dataset.Entry) string {
	name := strings.ReplaceAll(e.Name(), "/", "_")
	return strings.TrimSuffix(name, filepath.Ext(name)) + "_inspection.png"
}
