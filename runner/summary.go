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

package runner

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
)

// Summary aggregates one metric over every interval and CPU.
type Summary struct {
	Name        string
	Level       int
	User        bool
	Count       int
	Mean        float64
	StdDev      float64
	Median      float64
	P95         float64
	Bottlenecks int
}

// Summarize returns one summary per metric, nodes first in level order
// and then user metrics, each group sorted by name.
func Summarize(res *Results) ([]Summary, error) {
	var (
		agg  = make(map[string][]float64)
		sums = make(map[string]*Summary)
	)

	for _, v := range res.Values {
		s, isPresent := sums[v.Name]
		if !isPresent {
			s = &Summary{Name: v.Name, Level: v.Level, User: v.User}
			sums[v.Name] = s
		}
		if v.Bottleneck {
			s.Bottlenecks++
		}
		agg[v.Name] = append(agg[v.Name], v.Value)
	}

	result := make([]Summary, 0, len(sums))
	for name, s := range sums {
		values := agg[name]
		s.Count = len(values)
		s.Mean, s.StdDev = stat.MeanStdDev(values, nil)

		median, err := stats.Median(values)
		if err != nil {
			return nil, err
		}
		p95, err := stats.Percentile(values, 95)
		if err != nil {
			return nil, err
		}
		s.Median, s.P95 = median, p95

		result = append(result, *s)
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.User != b.User {
			return !a.User
		}
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		return a.Name < b.Name
	})

	return result, nil
}

// PrintSummary prints summaries as a table.
func PrintSummary(w io.Writer, summaries []Summary) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "Metric    \tMean    \tStdDev    \tMedian    \tP95    \tBottleneck\n")
	for _, s := range summaries {
		fmt.Fprintf(bw, "%s    \t%8.4f    \t%8.4f    \t%8.4f    \t%8.4f    \t%d\n",
			indent(s), s.Mean, s.StdDev, s.Median, s.P95, s.Bottlenecks)
	}

	return bw.Flush()
}

func indent(s Summary) string {
	name := s.Name
	for i := 1; i < s.Level; i++ {
		name = "  " + name
	}
	return name
}
