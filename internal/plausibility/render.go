package plausibility

import (
	"io"
	"math"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/rotisserie/eris"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// RenderPNG draws the relative shares as grouped bars, one group per
// category and one bar per mask, and saves the chart to path. The image
// format follows the file extension.
func RenderPNG(rep *Report, path string) error {
	if len(rep.Masks) == 0 {
		return eris.New("plausibility: nothing to render")
	}

	p := plot.New()
	p.Title.Text = "Suitability masks by reference category"
	p.Y.Label.Text = "Share of selected pixels"
	p.Y.Min = 0
	p.Legend.Top = true

	width := vg.Points(float64(60) / float64(len(rep.Masks)))
	if width < vg.Points(4) {
		width = vg.Points(4)
	}
	for m, name := range rep.Masks {
		vals := make(plotter.Values, len(rep.Categories))
		for k, v := range rep.Relative[m] {
			// Empty masks have NaN shares; plot them as zero-height bars.
			if !math.IsNaN(v) {
				vals[k] = v
			}
		}
		bars, err := plotter.NewBarChart(vals, width)
		if err != nil {
			return eris.Wrapf(err, "plausibility: bar chart for %s", name)
		}
		bars.Color = plotutil.Color(m)
		bars.LineStyle.Width = vg.Length(0)
		bars.Offset = width * vg.Length(float64(m)-float64(len(rep.Masks)-1)/2)
		p.Add(bars)
		p.Legend.Add(name, bars)
	}
	p.NominalX(rep.Labels...)

	w := vg.Length(math.Max(6, float64(len(rep.Categories))*1.2)) * vg.Inch
	if err := p.Save(w, 5*vg.Inch, path); err != nil {
		return eris.Wrapf(err, "plausibility: save chart %s", path)
	}
	return nil
}

// RenderHTML writes the relative shares as an interactive grouped bar chart,
// in percent, to w.
func RenderHTML(rep *Report, w io.Writer) error {
	if len(rep.Masks) == 0 {
		return eris.New("plausibility: nothing to render")
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Plausibility", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Suitability masks by reference category", Subtitle: "share of selected pixels (%)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(rep.Labels)
	for m, name := range rep.Masks {
		data := make([]opts.BarData, len(rep.Categories))
		for k, v := range rep.Relative[m] {
			if math.IsNaN(v) {
				v = 0
			}
			data[k] = opts.BarData{Value: math.Round(v*1000) / 10}
		}
		bar.AddSeries(name, data)
	}

	if err := bar.Render(w); err != nil {
		return eris.Wrap(err, "plausibility: render html chart")
	}
	return nil
}

// WriteHTML renders the chart to path.
func WriteHTML(rep *Report, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "plausibility: create %s", path)
	}
	if err := RenderHTML(rep, f); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "plausibility: close %s", path)
}
