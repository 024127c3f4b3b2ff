// Package debugview renders a top-down map of the tracked scene for the
// /debug/ pages: plane outlines, world anchors, the cursor and the device.
package debugview

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/google/uuid"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"tailscale.com/tsweb"

	"github.com/banshee-data/planeplopper/internal/monitoring"
)

// Point is a position on the floor plane: world X across, world Z down the page.
type Point struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

// Plane is the world-space outline of one detected plane.
type Plane struct {
	ID        uuid.UUID `json:"id"`
	Alignment string    `json:"alignment"`
	Outline   []Point   `json:"outline"`
}

// Anchor is one world anchor known to the reconciler.
type Anchor struct {
	ID      uuid.UUID `json:"id"`
	Point   Point     `json:"point"`
	State   string    `json:"state"`
	Tracked bool      `json:"tracked"`
}

// MapSnapshot is everything drawn on the map at one instant.
type MapSnapshot struct {
	Taken   time.Time `json:"taken"`
	Planes  []Plane   `json:"planes"`
	Anchors []Anchor  `json:"anchors"`
	Cursor  *Point    `json:"cursor,omitempty"`
	Device  *Point    `json:"device,omitempty"`
}

// Source produces map snapshots.
type Source interface {
	Map(ctx context.Context) (MapSnapshot, error)
}

// mapPad is the minimum half-extent of the map in metres.
const mapPad = 2.0

var (
	planeColor  = color.RGBA{R: 0x31, G: 0x68, B: 0x8e, A: 0xff}
	wallColor   = color.RGBA{R: 0x8e, G: 0x44, B: 0x31, A: 0xff}
	boundColor  = color.RGBA{R: 0x35, G: 0xb7, B: 0x79, A: 0xff}
	otherColor  = color.RGBA{R: 0x99, G: 0x99, B: 0x99, A: 0xff}
	cursorColor = color.RGBA{R: 0xfd, G: 0xa0, B: 0x25, A: 0xff}
)

// AttachRoutes mounts map.png and map.html under /debug/ on mux.
func AttachRoutes(mux *http.ServeMux, src Source) {
	debug := tsweb.Debugger(mux)
	debug.Handle("map.png", "Top-down map of planes and anchors (PNG)", pngHandler(src))
	debug.Handle("map.html", "Top-down map of planes and anchors (interactive)", htmlHandler(src))
}

func pngHandler(src Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, err := src.Map(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to read map: %v", err), http.StatusServiceUnavailable)
			return
		}
		var buf bytes.Buffer
		if err := RenderPNG(&buf, snap); err != nil {
			http.Error(w, fmt.Sprintf("failed to render map: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	})
}

func htmlHandler(src Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, err := src.Map(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to read map: %v", err), http.StatusServiceUnavailable)
			return
		}
		var buf bytes.Buffer
		if err := RenderHTML(&buf, snap); err != nil {
			http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	})
}

// extent returns the half-width of a square view centred on the origin that
// contains every point in snap.
func extent(snap MapSnapshot) float64 {
	half := mapPad
	grow := func(p Point) {
		half = math.Max(half, math.Max(math.Abs(p.X), math.Abs(p.Z))+0.5)
	}
	for _, pl := range snap.Planes {
		for _, p := range pl.Outline {
			grow(p)
		}
	}
	for _, a := range snap.Anchors {
		grow(a.Point)
	}
	if snap.Cursor != nil {
		grow(*snap.Cursor)
	}
	if snap.Device != nil {
		grow(*snap.Device)
	}
	return half
}

// RenderPNG draws snap with gonum/plot.
func RenderPNG(w io.Writer, snap MapSnapshot) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("planes=%d anchors=%d", len(snap.Planes), len(snap.Anchors))
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Z (m)"
	pad := extent(snap)
	p.X.Min, p.X.Max = -pad, pad
	p.Y.Min, p.Y.Max = -pad, pad
	p.Add(plotter.NewGrid())

	for _, pl := range snap.Planes {
		if len(pl.Outline) < 2 {
			continue
		}
		pts := make(plotter.XYs, 0, len(pl.Outline)+1)
		for _, v := range pl.Outline {
			pts = append(pts, plotter.XY{X: v.X, Y: v.Z})
		}
		pts = append(pts, pts[0])
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = planeColor
		if pl.Alignment != "horizontal" {
			line.Color = wallColor
		}
		line.Width = vg.Points(1)
		p.Add(line)
	}

	var bound, other plotter.XYs
	for _, a := range snap.Anchors {
		xy := plotter.XY{X: a.Point.X, Y: a.Point.Z}
		if a.State == "bound" && a.Tracked {
			bound = append(bound, xy)
		} else {
			other = append(other, xy)
		}
	}
	if err := addScatter(p, "bound", bound, boundColor, draw.CircleGlyph{}); err != nil {
		return err
	}
	if err := addScatter(p, "other", other, otherColor, draw.RingGlyph{}); err != nil {
		return err
	}
	if snap.Cursor != nil {
		if err := addScatter(p, "cursor", plotter.XYs{{X: snap.Cursor.X, Y: snap.Cursor.Z}}, cursorColor, draw.CrossGlyph{}); err != nil {
			return err
		}
	}
	if snap.Device != nil {
		if err := addScatter(p, "device", plotter.XYs{{X: snap.Device.X, Y: snap.Device.Z}}, color.Black, draw.TriangleGlyph{}); err != nil {
			return err
		}
	}

	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

func addScatter(p *plot.Plot, name string, pts plotter.XYs, c color.Color, shape draw.GlyphDrawer) error {
	if len(pts) == 0 {
		return nil
	}
	s, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Shape = shape
	s.GlyphStyle.Radius = vg.Points(4)
	p.Add(s)
	p.Legend.Add(name, s)
	return nil
}

// RenderHTML draws snap as an interactive go-echarts scatter.
func RenderHTML(w io.Writer, snap MapSnapshot) error {
	pad := extent(snap)

	planes := make([]opts.ScatterData, 0)
	for _, pl := range snap.Planes {
		for _, v := range pl.Outline {
			planes = append(planes, opts.ScatterData{Name: pl.ID.String(), Value: []interface{}{v.X, v.Z}})
		}
	}
	anchors := make([]opts.ScatterData, 0, len(snap.Anchors))
	for _, a := range snap.Anchors {
		anchors = append(anchors, opts.ScatterData{
			Name:  fmt.Sprintf("%s (%s, tracked=%t)", a.ID, a.State, a.Tracked),
			Value: []interface{}{a.Point.X, a.Point.Z},
		})
	}
	var cursor []opts.ScatterData
	if snap.Cursor != nil {
		cursor = append(cursor, opts.ScatterData{Name: "cursor", Value: []interface{}{snap.Cursor.X, snap.Cursor.Z}})
	}
	var device []opts.ScatterData
	if snap.Device != nil {
		device = append(device, opts.ScatterData{Name: "device", Value: []interface{}{snap.Device.X, snap.Device.Z}})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "PlanePlopper map", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Scene (top-down)", Subtitle: fmt.Sprintf("planes=%d anchors=%d taken=%s", len(snap.Planes), len(snap.Anchors), snap.Taken.Format(time.RFC3339))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Z (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("planes", planes, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	scatter.AddSeries("anchors", anchors, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))
	scatter.AddSeries("cursor", cursor, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 14}))
	scatter.AddSeries("device", device, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))

	if err := scatter.Render(w); err != nil {
		monitoring.Logf("[debugview] failed to render chart: %v", err)
		return err
	}
	return nil
}
