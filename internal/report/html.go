package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// maxScatterPairs bounds the number of per-pair scatter charts.
const maxScatterPairs = 12

// WriteHTML renders the dashboard to w.
func WriteHTML(w io.Writer, summaries []PairSummary) error {
	if len(summaries) == 0 {
		return ErrNoData
	}
	page := components.NewPage()
	page.AddCharts(inlierBar(summaries))
	for i, s := range summaries {
		if i == maxScatterPairs {
			break
		}
		if s.NumInliers == 0 {
			continue
		}
		page.AddCharts(pairScatter(s))
	}
	return page.Render(w)
}

func inlierBar(summaries []PairSummary) *charts.Bar {
	labels := make([]string, len(summaries))
	matches := make([]opts.BarData, len(summaries))
	inliers := make([]opts.BarData, len(summaries))
	for i, s := range summaries {
		labels[i] = s.Label
		matches[i] = opts.BarData{Value: s.NumMatches}
		inliers[i] = opts.BarData{Value: s.NumInliers}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Two-view verification", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Matches per pair", Subtitle: fmt.Sprintf("pairs=%d", len(summaries))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).
		AddSeries("matches", matches).
		AddSeries("inliers", inliers)
	return bar
}

func pairScatter(s PairSummary) *charts.Scatter {
	toData := func(n int, at func(i int) (float64, float64)) []opts.ScatterData {
		out := make([]opts.ScatterData, n)
		for i := range out {
			x, y := at(i)
			out[i] = opts.ScatterData{Value: []interface{}{x, y}}
		}
		return out
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Pair " + s.Label, Subtitle: fmt.Sprintf("%v inliers=%d/%d", s.Kind, s.NumInliers, s.NumMatches)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "x (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "y (px)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("inliers", toData(len(s.Inliers), func(i int) (float64, float64) { return s.Inliers[i].X, s.Inliers[i].Y }),
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	scatter.AddSeries("outliers", toData(len(s.Outliers), func(i int) (float64, float64) { return s.Outliers[i].X, s.Outliers[i].Y }),
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	return scatter
}
