package fmatrix

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"sort"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// SummaryRenderer draws a residual profile of one estimate: every residual
// as a bar in ascending order, with the median cost and the inlier
// threshold marked and a text header.
type SummaryRenderer struct {
	Source  string
	Result  *Result
	Width   int
	Height  int
	Padding int
	Color   color.RGBA // inlier bar color
}

// NewSummaryRenderer creates a summary renderer with default settings
func NewSummaryRenderer(source string, result *Result) *SummaryRenderer {
	return &SummaryRenderer{
		Source:  source,
		Result:  result,
		Width:   640,
		Height:  360,
		Padding: 40,
		Color:   color.RGBA{0, 128, 0, 255},
	}
}

// Render draws the summary image
func (r *SummaryRenderer) Render() (*image.RGBA, error) {
	if r.Result == nil || len(r.Result.Residuals) == 0 {
		return nil, fmt.Errorf("render summary: no residuals")
	}
	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			img.Set(x, y, color.RGBA{255, 255, 255, 255})
		}
	}

	type bar struct {
		value  float64
		inlier bool
	}
	bars := make([]bar, len(r.Result.Residuals))
	for i, v := range r.Result.Residuals {
		inlier := i < len(r.Result.Inliers) && r.Result.Inliers[i]
		bars[i] = bar{value: v, inlier: inlier}
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].value < bars[j].value })

	// The vertical scale is capped so sentinel residuals do not flatten the plot
	ceiling := 4 * r.Result.Threshold
	if ceiling <= 0 || math.IsInf(ceiling, 0) || math.IsNaN(ceiling) {
		ceiling = 1
	}

	plotW := r.Width - 2*r.Padding
	plotH := r.Height - 2*r.Padding
	if plotW <= 0 || plotH <= 0 {
		return nil, fmt.Errorf("render summary: image too small for padding %d", r.Padding)
	}
	baseY := r.Height - r.Padding
	toY := func(v float64) int {
		frac := math.Min(v/ceiling, 1)
		return baseY - int(frac*float64(plotH))
	}

	outlier := color.RGBA{220, 20, 60, 255}
	barW := float64(plotW) / float64(len(bars))
	for i, b := range bars {
		c := outlier
		if b.inlier {
			c = r.Color
		}
		x0 := r.Padding + int(float64(i)*barW)
		x1 := r.Padding + int(float64(i+1)*barW)
		if x1 == x0 {
			x1 = x0 + 1
		}
		top := toY(b.value)
		for y := top; y < baseY; y++ {
			for x := x0; x < x1; x++ {
				img.Set(x, y, c)
			}
		}
	}

	drawHLine(img, r.Padding, r.Width-r.Padding, baseY, color.RGBA{0, 0, 0, 255})
	drawHLine(img, r.Padding, r.Width-r.Padding, toY(r.Result.Threshold), color.RGBA{184, 134, 11, 255})
	drawHLine(img, r.Padding, r.Width-r.Padding, toY(r.Result.Cost), color.RGBA{0, 0, 139, 255})

	black := color.RGBA{0, 0, 0, 255}
	header := fmt.Sprintf("%s  inliers %d/%d  samples %d", r.Source, r.Result.InlierCount, len(bars), r.Result.Samples)
	drawText(img, r.Padding, 16, header, black)
	drawText(img, r.Padding, 30, fmt.Sprintf("median %.4g  threshold %.4g", r.Result.Cost, r.Result.Threshold), black)

	return img, nil
}

// RenderToPNG writes the summary as a PNG to the provided writer
func (r *SummaryRenderer) RenderToPNG(w io.Writer) error {
	img, err := r.Render()
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// drawHLine draws a horizontal line clipped to the image
func drawHLine(img *image.RGBA, x0, x1, y int, c color.RGBA) {
	if y < 0 || y >= img.Bounds().Max.Y {
		return
	}
	for x := x0; x < x1; x++ {
		if x >= 0 && x < img.Bounds().Max.X {
			img.Set(x, y, c)
		}
	}
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// ParseHexColor parses a hex color string like "#FF6B6B" to color.RGBA.
// Malformed input yields red.
func ParseHexColor(hex string) color.RGBA {
	defaultColor := color.RGBA{255, 0, 0, 255}

	if len(hex) == 0 {
		return defaultColor
	}
	if hex[0] == '#' {
		hex = hex[1:]
	}
	if len(hex) != 6 {
		return defaultColor
	}

	c, err := colorful.Hex("#" + hex)
	if err != nil {
		return defaultColor
	}
	r, g, b := c.RGB255()
	return color.RGBA{r, g, b, 255}
}
