package report

import (
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const histogramBins = 40

// WriteResidualHistogram saves a histogram of residuals to path; the file
// extension selects the format. Residuals beyond 5*maxError are clipped
// into the last bin and a vertical line marks maxError.
func WriteResidualHistogram(path string, residuals []float64, maxError float64) error {
	limit := 5 * maxError
	values := make(plotter.Values, 0, len(residuals))
	for _, r := range residuals {
		if math.IsNaN(r) {
			continue
		}
		values = append(values, math.Min(r, limit))
	}
	if len(values) == 0 {
		return ErrNoData
	}

	p := plot.New()
	p.Title.Text = "Match residuals"
	p.X.Label.Text = "Residual (px)"
	p.Y.Label.Text = "Matches"

	hist, err := plotter.NewHist(values, histogramBins)
	if err != nil {
		return err
	}
	p.Add(hist)

	var peak float64
	for _, b := range hist.Bins {
		peak = math.Max(peak, b.Weight)
	}
	threshold, err := plotter.NewLine(plotter.XYs{{X: maxError, Y: 0}, {X: maxError, Y: peak}})
	if err != nil {
		return err
	}
	threshold.Color = color.RGBA{R: 200, A: 255}
	threshold.Width = vg.Points(1)
	threshold.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(threshold)
	p.Legend.Add("max error", threshold)

	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}
