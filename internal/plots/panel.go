package plots

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	minTileSide = 128
	labelHeight = 18
	gap         = 6
)

var (
	heatLow, _  = colorful.Hex("#313695")
	heatMid, _  = colorful.Hex("#ffffbf")
	heatHigh, _ = colorful.Hex("#a50026")
)

// Heat maps t in [0, 1] onto a diverging blue-yellow-red scale blended in
// Lab space.
func Heat(t float64) color.RGBA {
	t = math.Max(0, math.Min(1, t))
	var c colorful.Color
	if t < 0.5 {
		c = heatLow.BlendLab(heatMid, t*2)
	} else {
		c = heatMid.BlendLab(heatHigh, (t-0.5)*2)
	}
	r, g, b := c.Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// palette returns distinct line colours spaced around the HCL hue circle.
func palette(i int) color.Color {
	c := colorful.Hcl(float64((i*137)%360), 0.6, 0.5).Clamped()
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// Tile is one labelled H x W plane of a panel.
type Tile struct {
	Label string
	H, W  int
	Pix   []float64
	// Heat renders with the heat scale instead of grayscale.
	Heat bool
	// Min and Max fix the value range; equal values mean the plane's own range.
	Min, Max float64
}

func (t Tile) bounds() (lo, hi float64) {
	if t.Max > t.Min {
		return t.Min, t.Max
	}
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range t.Pix {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	if !(hi > lo) {
		return lo, lo + 1
	}
	return lo, hi
}

// Panel lays tiles out on a grid with cols columns under a title.
func Panel(title string, tiles []Tile, cols int) (*image.RGBA, error) {
	if len(tiles) == 0 {
		return nil, errors.New("plots: empty panel")
	}
	if cols <= 0 {
		cols = 2
	}
	th, tw := 0, 0
	for _, t := range tiles {
		if len(t.Pix) != t.H*t.W || t.H == 0 {
			return nil, errors.Errorf("plots: tile %q has %d values for %dx%d", t.Label, len(t.Pix), t.H, t.W)
		}
		if t.H > th {
			th = t.H
		}
		if t.W > tw {
			tw = t.W
		}
	}
	scale := 1
	if side := max(th, tw); side < minTileSide {
		scale = (minTileSide + side - 1) / side
	}
	cellW, cellH := tw*scale+gap, th*scale+labelHeight+gap
	rows := (len(tiles) + cols - 1) / cols

	img := image.NewRGBA(image.Rect(0, 0, cols*cellW+gap, rows*cellH+labelHeight+gap))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	drawLabel(img, gap, labelHeight-4, title)

	for i, t := range tiles {
		x0 := gap + (i%cols)*cellW
		y0 := labelHeight + gap + (i/cols)*cellH
		drawLabel(img, x0, y0+labelHeight-5, t.Label)
		lo, hi := t.bounds()
		for y := 0; y < t.H; y++ {
			for x := 0; x < t.W; x++ {
				v := (t.Pix[y*t.W+x] - lo) / (hi - lo)
				var c color.RGBA
				if t.Heat {
					c = Heat(v)
				} else {
					g := uint8(math.Round(255 * math.Max(0, math.Min(1, v))))
					c = color.RGBA{R: g, G: g, B: g, A: 255}
				}
				r := image.Rect(x0+x*scale, y0+labelHeight+y*scale, x0+(x+1)*scale, y0+labelHeight+(y+1)*scale)
				draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
			}
		}
	}
	return img, nil
}

func drawLabel(img draw.Image, x, y int, s string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// SavePanel renders a panel and writes it as PNG.
func SavePanel(path, title string, tiles []Tile, cols int) error {
	img, err := Panel(title, tiles, cols)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create panel")
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode panel %s", path)
	}
	return errors.Wrap(f.Close(), "close panel")
}
