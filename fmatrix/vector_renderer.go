package fmatrix

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha
// This is needed for the canvas library which expects premultiplied RGBA
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// MatchColors are the colors used to draw a classified correspondence set
type MatchColors struct {
	Inlier   color.NRGBA
	Outlier  color.NRGBA
	Link     color.NRGBA // line joining a match across the two panels
	Epipolar color.NRGBA
	Epipole  color.NRGBA
}

// DefaultMatchColors returns the standard diagnostic palette
func DefaultMatchColors() MatchColors {
	return MatchColors{
		Inlier:   color.NRGBA{0, 128, 0, 255},    // Green
		Outlier:  color.NRGBA{220, 20, 60, 255},  // Crimson
		Link:     color.NRGBA{100, 149, 237, 90}, // Cornflower blue
		Epipolar: color.NRGBA{184, 134, 11, 120}, // Dark goldenrod
		Epipole:  color.NRGBA{128, 0, 128, 255},  // Purple
	}
}

// VectorRenderer draws the two views of a correspondence set side by side,
// colored by inlier classification, with the epipolar lines of the inliers
// in the second view.
type VectorRenderer struct {
	Points        PointSet
	Result        *Result // may be nil: all matches are drawn as inliers
	Colors        MatchColors
	Padding       float64           // Padding around each panel in pixels
	Resolution    canvas.Resolution // PNG pixels per canvas unit (default: one per image pixel)
	EpipolarLines bool
	Links         bool
}

// NewVectorRenderer creates a vector renderer with default settings
func NewVectorRenderer(points PointSet, result *Result) *VectorRenderer {
	return &VectorRenderer{
		Points:        points,
		Result:        result,
		Colors:        DefaultMatchColors(),
		Padding:       20.0,
		Resolution:    canvas.DPMM(1),
		EpipolarLines: true,
		Links:         true,
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// panelLayout places the two views on the canvas
type panelLayout struct {
	first, second orb.Bound
	width, height float64 // size of one panel
	padding       float64
}

// toCanvas maps a point of the given view to canvas coordinates.
// The canvas y axis points up, image rows point down.
func (l panelLayout) toCanvas(view int, x, y float64) (float64, float64) {
	b := l.first
	offsetX := l.padding
	if view == 2 {
		b = l.second
		offsetX = 2*l.padding + l.width
	}
	cx := offsetX + (x - b.Min[0])
	cy := l.padding + l.height - (y - b.Min[1])
	return cx, cy
}

func (l panelLayout) canvasSize() (float64, float64) {
	return 2*l.width + 3*l.padding, l.height + 2*l.padding
}

func (r *VectorRenderer) layout() (panelLayout, error) {
	if len(r.Points) == 0 {
		return panelLayout{}, fmt.Errorf("render: no correspondences: %w", ErrDegenerateInput)
	}
	s := Summarize(r.Points)
	w := math.Max(s.FirstBound.Right()-s.FirstBound.Left(), s.SecondBound.Right()-s.SecondBound.Left())
	h := math.Max(s.FirstBound.Top()-s.FirstBound.Bottom(), s.SecondBound.Top()-s.SecondBound.Bottom())
	return panelLayout{
		first:   s.FirstBound,
		second:  s.SecondBound,
		width:   math.Max(w, 1),
		height:  math.Max(h, 1),
		padding: r.Padding,
	}, nil
}

// RenderToSVG writes the diagnostic view as an SVG to the provided writer
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	l, err := r.layout()
	if err != nil {
		return err
	}
	width, height := l.canvasSize()

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, l)
	return svgRenderer.Close()
}

// RenderToPNG writes the diagnostic view as a PNG to the provided writer
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	l, err := r.layout()
	if err != nil {
		return err
	}
	width, height := l.canvasSize()

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, l)
	return png.Encode(w, rast)
}

func (r *VectorRenderer) isInlier(i int) bool {
	if r.Result == nil || i >= len(r.Result.Inliers) {
		return true
	}
	return r.Result.Inliers[i]
}

// renderToCanvas renders the panels to a canvas renderer (shared logic for SVG and PNG)
func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, l panelLayout) {
	width, height := l.canvasSize()
	markerRadius := math.Max(1.0, 0.008*math.Max(l.width, l.height))
	strokeWidth := markerRadius / 3

	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	// Panel frames
	frameStyle := canvas.DefaultStyle
	frameStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	frameStyle.Stroke = canvas.Paint{Color: canvas.Gray}
	frameStyle.StrokeWidth = strokeWidth
	for view := 1; view <= 2; view++ {
		b := l.first
		if view == 2 {
			b = l.second
		}
		x0, y0 := l.toCanvas(view, b.Min[0], b.Min[1]+l.height)
		renderer.RenderPath(canvas.Rectangle(l.width, l.height).Translate(x0, y0), frameStyle, canvas.Identity)
	}

	// Epipolar lines of the inliers in the second view
	if r.EpipolarLines && r.Result != nil {
		lineStyle := canvas.DefaultStyle
		lineStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		lineStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(r.Colors.Epipolar)}
		lineStyle.StrokeWidth = strokeWidth

		for i, c := range r.Points {
			if !r.isInlier(i) {
				continue
			}
			line := r.Result.Matrix.MulVec(c.First.Vec())
			seg, ok := clipLine(line, l.second)
			if !ok {
				continue
			}
			x1, y1 := l.toCanvas(2, seg[0][0], seg[0][1])
			x2, y2 := l.toCanvas(2, seg[1][0], seg[1][1])
			p := &canvas.Path{}
			p.MoveTo(x1, y1)
			p.LineTo(x2, y2)
			renderer.RenderPath(p, lineStyle, canvas.Identity)
		}
	}

	// Links across the panels
	if r.Links {
		linkStyle := canvas.DefaultStyle
		linkStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		linkStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(r.Colors.Link)}
		linkStyle.StrokeWidth = strokeWidth

		for _, c := range r.Points {
			if c.First.W == 0 || c.Second.W == 0 {
				continue
			}
			ax, ay := c.First.Euclidean()
			bx, by := c.Second.Euclidean()
			x1, y1 := l.toCanvas(1, ax, ay)
			x2, y2 := l.toCanvas(2, bx, by)
			p := &canvas.Path{}
			p.MoveTo(x1, y1)
			p.LineTo(x2, y2)
			renderer.RenderPath(p, linkStyle, canvas.Identity)
		}
	}

	// Match markers, outliers first so inliers stay on top
	for _, wantInlier := range []bool{false, true} {
		markerStyle := canvas.DefaultStyle
		markerStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
		if wantInlier {
			markerStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(r.Colors.Inlier)}
		} else {
			markerStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(r.Colors.Outlier)}
		}

		for i, c := range r.Points {
			if r.isInlier(i) != wantInlier {
				continue
			}
			for view, p := range [2]HomgPoint{c.First, c.Second} {
				if p.W == 0 {
					continue
				}
				x, y := p.Euclidean()
				cx, cy := l.toCanvas(view+1, x, y)
				renderer.RenderPath(canvas.Circle(markerRadius).Translate(cx, cy), markerStyle, canvas.Identity)
			}
		}
	}

	// Epipoles that fall inside their panel
	if r.Result != nil {
		e1, e2, err := Epipoles(r.Result.Matrix)
		if err != nil {
			return
		}
		epStyle := canvas.DefaultStyle
		epStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		epStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(r.Colors.Epipole)}
		epStyle.StrokeWidth = strokeWidth

		for view, e := range [2]HomgPoint{e1, e2} {
			b := l.first
			if view == 1 {
				b = l.second
			}
			if e.W == 0 {
				continue
			}
			x, y := e.Euclidean()
			if !b.Contains(orb.Point{x, y}) {
				continue
			}
			cx, cy := l.toCanvas(view+1, x, y)
			renderer.RenderPath(canvas.Circle(3*markerRadius).Translate(cx, cy), epStyle, canvas.Identity)
		}
	}
}

// clipLine intersects the line a·x + b·y + c = 0 with the bound.
// It returns the visible segment, or false if the line misses the bound.
func clipLine(line [3]float64, b orb.Bound) (orb.LineString, bool) {
	a, bb, c := line[0], line[1], line[2]
	if a == 0 && bb == 0 {
		return nil, false
	}

	var hits orb.LineString
	add := func(x, y float64) {
		p := orb.Point{x, y}
		if !b.Contains(p) {
			return
		}
		for _, h := range hits {
			if math.Abs(h[0]-x) < 1e-9 && math.Abs(h[1]-y) < 1e-9 {
				return
			}
		}
		hits = append(hits, p)
	}

	if bb != 0 {
		for _, x := range []float64{b.Min[0], b.Max[0]} {
			add(x, -(a*x+c)/bb)
		}
	}
	if a != 0 {
		for _, y := range []float64{b.Min[1], b.Max[1]} {
			add(-(bb*y+c)/a, y)
		}
	}
	if len(hits) < 2 {
		return nil, false
	}
	return hits[:2], true
}
