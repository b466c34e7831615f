// Package report renders fit diagnostics: an interactive HTML residual chart
// and a static PNG pull plot. Both work from the same per-state residual
// extraction so the two outputs always agree.
package report

import (
	"fmt"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/track"
	"github.com/banshee-data/trackfit/internal/track/fit"
)

// Residual is the measurement-space residual of one measurement state against
// its best available estimate (smoothed when present, filtered otherwise).
type Residual struct {
	SurfaceID  geom.ID
	PathLength float64
	Loc0       float64
	Loc1       float64
	Chi2       float64
	Outlier    bool
}

// Residuals extracts residuals for every calibrated state of a fit, in
// trajectory order.
func Residuals(res *fit.Result) []Residual {
	if res == nil || res.Trajectory == nil {
		return nil
	}
	var out []Residual
	for i := 0; i < res.Trajectory.Len(); i++ {
		st := res.Trajectory.State(i)
		if st.Calibrated == nil || st.Projection == nil {
			continue
		}
		est := st.Smoothed
		if est == nil {
			est = st.Filtered
		}
		if est == nil {
			est = st.Predicted
		}
		if est == nil {
			continue
		}

		var hx mat.VecDense
		hx.MulVec(st.Projection, est)
		r := mat.VecDenseCopyOf(st.Calibrated)
		r.SubVec(r, &hx)

		resid := Residual{
			PathLength: st.PathLength,
			Loc0:       r.AtVec(0),
			Chi2:       st.Chi2,
			Outlier:    st.Flags.Has(track.FlagOutlier),
		}
		if r.Len() > 1 {
			resid.Loc1 = r.AtVec(1)
		}
		if st.Surface != nil {
			resid.SurfaceID = st.Surface.GeometryID()
		}
		out = append(out, resid)
	}
	return out
}

// WriteHTML renders an interactive residual scatter chart to path. Accepted
// measurements and outliers are separate series so rejected hits stand out.
func WriteHTML(path, title string, residuals []Residual) error {
	accepted := make([]opts.ScatterData, 0, len(residuals))
	outliers := make([]opts.ScatterData, 0)
	for _, r := range residuals {
		d := opts.ScatterData{Value: []interface{}{r.PathLength, r.Loc0, r.Chi2}}
		if r.Outlier {
			outliers = append(outliers, d)
		} else {
			accepted = append(accepted, d)
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("measurements=%d outliers=%d", len(accepted), len(outliers))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "path length", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "loc0 residual", NameLocation: "middle", NameGap: 35}),
	)
	scatter.AddSeries("accepted", accepted, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	if len(outliers) > 0 {
		scatter.AddSeries("outliers", outliers, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create residual chart: %w", err)
	}
	defer f.Close()
	if err := scatter.Render(f); err != nil {
		return fmt.Errorf("render residual chart: %w", err)
	}
	return nil
}

// WritePNG renders a static residual-vs-path plot to path.
func WritePNG(path, title string, residuals []Residual) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "path length"
	p.Y.Label.Text = "residual"

	loc0 := make(plotter.XYs, 0, len(residuals))
	loc1 := make(plotter.XYs, 0, len(residuals))
	for _, r := range residuals {
		if r.Outlier {
			continue
		}
		loc0 = append(loc0, plotter.XY{X: r.PathLength, Y: r.Loc0})
		loc1 = append(loc1, plotter.XY{X: r.PathLength, Y: r.Loc1})
	}

	line0, points0, err := plotter.NewLinePoints(loc0)
	if err != nil {
		return fmt.Errorf("build loc0 series: %w", err)
	}
	line0.Width = vg.Points(1)
	p.Add(line0, points0)
	p.Legend.Add("loc0", line0, points0)

	line1, points1, err := plotter.NewLinePoints(loc1)
	if err != nil {
		return fmt.Errorf("build loc1 series: %w", err)
	}
	line1.Width = vg.Points(1)
	line1.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(line1, points1)
	p.Legend.Add("loc1", line1, points1)

	p.Legend.Top = true

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save residual plot: %w", err)
	}
	return nil
}
