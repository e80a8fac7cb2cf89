// MIT License
//
// Copyright (c) 2021 Yuchen Niu and EASE lab
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package plotter renders evaluation results as PNG charts.
package plotter

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/wcharczuk/go-chart"
	"github.com/wcharczuk/go-chart/drawing"
	"gonum.org/v1/plot"
	gplotter "gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/vhive-serverless/topdown/runner"
)

// TopLevelGroup names the stacked chart of the level 1 metrics.
const TopLevelGroup = "TopDownL1"

// Group is a set of sibling metrics that share one stacked chart.
type Group struct {
	Name    string
	Metrics []string
}

// series is one metric averaged over CPUs, per timestamp.
type series struct {
	name    string
	percent bool
	values  map[float64]float64
}

// Groups derives the stacked chart groups from the hierarchy recorded in
// res: the level 1 metrics, and the children of every parent.
func Groups(res *runner.Results) []Group {
	var (
		members = make(map[string]map[string]bool)
		names   []string
	)
	for _, v := range res.Values {
		if v.User {
			continue
		}
		group := v.Parent
		if v.Level == 1 {
			group = TopLevelGroup
		}
		if group == "" {
			continue
		}
		if _, isPresent := members[group]; !isPresent {
			members[group] = make(map[string]bool)
			names = append(names, group)
		}
		members[group][v.Name] = true
	}

	groups := make([]Group, 0, len(names))
	for _, name := range names {
		g := Group{Name: name}
		for metric := range members[name] {
			g.Metrics = append(g.Metrics, metric)
		}
		// sort metrics to make list order consistent
		sort.Strings(g.Metrics)
		groups = append(groups, g)
	}
	return groups
}

// PlotLineCharts plots every metric of res over the interval timestamps,
// one PNG per metric in dir.
func PlotLineCharts(dir string, res *runner.Results) error {
	all, timestamps := collect(res)

	// a line needs two points at least
	if len(timestamps) < 2 {
		log.Warn("Only find one interval of data. Plotting aborts")
		return nil
	}

	for _, s := range all {
		p := plot.New()
		p.Title.Text = s.name
		p.X.Label.Text = "Time (s)"
		p.Y.Label.Text = s.name
		if s.percent {
			p.Y.Label.Text += " (%)"
		}

		pts := make(gplotter.XYs, len(timestamps))
		for i, ts := range timestamps {
			pts[i].X = ts
			pts[i].Y = s.values[ts]
		}

		if err := plotutil.AddLinePoints(p, pts); err != nil {
			return errors.Wrapf(err, "plotting %s", s.name)
		}

		if err := p.Save(4*vg.Inch, 4*vg.Inch, pngPath(dir, s.name)); err != nil {
			return errors.Wrapf(err, "saving plot of %s", s.name)
		}
	}

	log.Info("Plot line charts finished.")
	return nil
}

// PlotStackCharts plots one stacked chart per group whose metrics are all
// present in res.
func PlotStackCharts(dir string, res *runner.Results, groups []Group) error {
	var (
		all, timestamps = collect(res)
		ticks           = xTicks(timestamps)
		strokeColors    = getStrokeColors()
		fillColors      = getFillColors()
	)

	if len(timestamps) < 2 {
		log.Warn("Only find one interval of data. Plotting aborts")
		return nil
	}

	byName := make(map[string]*series, len(all))
	for _, s := range all {
		byName[s.name] = s
	}

	for _, group := range groups {
		metrics, isComplete := groupSeries(byName, group)
		if !isComplete || len(metrics) == 0 {
			log.Debugf("Skipping stack chart %s, metrics are missing", group.Name)
			continue
		}

		var (
			yMax   float64
			chartS = make([]chart.Series, len(metrics))
			values = make([][]float64, len(timestamps))
		)
		for row, ts := range timestamps {
			line := make([]float64, len(metrics))
			for col, s := range metrics {
				// negative shares would fold the stack onto itself
				line[col] = math.Max(s.values[ts], 0)
			}
			cum, err := stats.CumulativeSum(line)
			if err != nil {
				return errors.Wrapf(err, "summing %s", group.Name)
			}
			values[row] = cum
			yMax = math.Max(yMax, cum[len(cum)-1])
		}

		for idx, s := range metrics {
			yValues := make([]float64, len(values))
			for row, line := range values {
				yValues[row] = line[idx]
			}
			color := idx % len(strokeColors)
			chartS[idx] = continuousSeries(s.name, strokeColors[color], fillColors[color], timestamps, yValues)
		}
		// reverse list because latter series cover former series.
		for i, j := 0, len(chartS)-1; i < j; i, j = i+1, j-1 {
			chartS[i], chartS[j] = chartS[j], chartS[i]
		}

		graph := stackGraph("Time (s)", group.Name+" (%)", timestamps[0], timestamps[len(timestamps)-1],
			0, math.Max(math.Ceil(yMax), 1), chartS, ticks)
		if err := render(graph, pngPath(dir, group.Name)); err != nil {
			return errors.Wrapf(err, "rendering %s", group.Name)
		}
	}

	log.Info("Plot stack charts finished.")
	return nil
}

func render(graph chart.Chart, fileName string) error {
	pngFile, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer pngFile.Close()

	return graph.Render(chart.PNG, pngFile)
}

func groupSeries(byName map[string]*series, group Group) ([]*series, bool) {
	metrics := make([]*series, 0, len(group.Metrics))
	for _, name := range group.Metrics {
		s, isPresent := byName[name]
		if !isPresent {
			return nil, false
		}
		metrics = append(metrics, s)
	}
	return metrics, true
}

// collect averages every metric over the CPUs of each interval. Node
// values are scaled to percent.
func collect(res *runner.Results) ([]*series, []float64) {
	var (
		byName = make(map[string]*series)
		counts = make(map[string]map[float64]int)
		seen   = make(map[float64]bool)
		order  []*series
		stamps []float64
	)

	for _, v := range res.Values {
		s, isPresent := byName[v.Name]
		if !isPresent {
			s = &series{name: v.Name, percent: !v.User, values: make(map[float64]float64)}
			byName[v.Name] = s
			counts[v.Name] = make(map[float64]int)
			order = append(order, s)
		}
		value := v.Value
		if s.percent {
			value *= 100
		}
		s.values[v.Timestamp] += value
		counts[v.Name][v.Timestamp]++

		if !seen[v.Timestamp] {
			seen[v.Timestamp] = true
			stamps = append(stamps, v.Timestamp)
		}
	}

	for _, s := range order {
		for ts, n := range counts[s.name] {
			s.values[ts] /= float64(n)
		}
	}
	sort.Float64s(stamps)

	return order, stamps
}

// xTicks returns ticks on x-axis for every timestamp
func xTicks(timestamps []float64) []chart.Tick {
	ticks := make([]chart.Tick, 0, len(timestamps))
	for _, ts := range timestamps {
		ticks = append(ticks, chart.Tick{
			Value: ts,
			Label: fmt.Sprintf("%.1f", ts),
		})
	}
	return ticks
}

func pngPath(dir, name string) string {
	return filepath.Join(dir, strings.ReplaceAll(name, "/", "-")+".png")
}

// continuousSeries returns a instance of chart.ContinuousSeries
func continuousSeries(name string, strokeColor, fillColor drawing.Color, xValues, yValues []float64) chart.ContinuousSeries {
	return chart.ContinuousSeries{
		Name: name,
		Style: chart.Style{
			Show:        true,
			StrokeWidth: 5,
			StrokeColor: strokeColor,
			FillColor:   fillColor,
		},
		XValues: xValues,
		YValues: yValues,
	}
}

// stackGraph returns a instance of chart.Chart
func stackGraph(xLabel, yLabel string, xMin, xMax, yMin, yMax float64, series []chart.Series, ticks []chart.Tick) chart.Chart {
	graph := chart.Chart{
		Background: chart.Style{
			Padding: chart.Box{
				Top: 30,
			},
		},
		XAxis: chart.XAxis{
			Name:      xLabel,
			NameStyle: chart.StyleShow(),
			Style:     chart.StyleShow(),
			Range: &chart.ContinuousRange{
				Min: xMin,
				Max: xMax,
			},
			Ticks: ticks,
		},
		YAxis: chart.YAxis{
			Name:      yLabel,
			NameStyle: chart.StyleShow(),
			Style:     chart.StyleShow(),
			Range: &chart.ContinuousRange{
				Min: yMin,
				Max: yMax,
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{
		chart.LegendThin(&graph),
	}
	return graph
}

func getStrokeColors() []drawing.Color {
	return []drawing.Color{
		{R: 2, G: 10, B: 55, A: 255},
		{R: 116, G: 62, B: 16, A: 255},
		{R: 0, G: 129, B: 65, A: 255},
		{R: 51, G: 139, B: 253, A: 255},
		{R: 94, G: 223, B: 251, A: 255},
		{R: 239, G: 255, B: 77, A: 255},
	}
}

func getFillColors() []drawing.Color {
	return []drawing.Color{
		{R: 2, G: 10, B: 55, A: 200},
		{R: 116, G: 62, B: 16, A: 200},
		{R: 0, G: 129, B: 65, A: 200},
		{R: 51, G: 139, B: 253, A: 200},
		{R: 94, G: 223, B: 251, A: 200},
		{R: 239, G: 255, B: 77, A: 200},
	}
}
