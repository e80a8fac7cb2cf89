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
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var csvHeader = []string{"Timestamp", "CPUs", "Area", "Value", "Unit", "Description", "Sample", "Stddev", "Multiplex", "Bottleneck", "Idle"}

// WriteCSV writes the results in the CSV layout of toplev -x,. Node values
// are written as percentages of their domain.
func WriteCSV(w io.Writer, res *Results) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, v := range res.Values {
		value, unit := v.Value, v.Unit
		if !v.User {
			value *= 100
			unit = "% " + unit
		}
		bottleneck := ""
		if v.Bottleneck {
			bottleneck = "<=="
		}

		record := []string{
			strconv.FormatFloat(v.Timestamp, 'f', 9, 64),
			v.CPU,
			v.Name,
			strconv.FormatFloat(value, 'f', -1, 64),
			unit,
			v.Description,
			"",
			"",
			"",
			bottleneck,
			"",
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// Report is the per-area average of a CSV result file.
type Report struct {
	Averages    map[string]float64
	Bottlenecks map[string]float64
	Cores       map[string]bool
}

// PrintReport prints the averages of report sorted by area, marking the
// bottleneck areas.
func PrintReport(w io.Writer, report *Report) error {
	areas := make([]string, 0, len(report.Averages))
	for area := range report.Averages {
		areas = append(areas, area)
	}
	sort.Strings(areas)

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "Area    \tAverage    \tBottleneck\n")
	for _, area := range areas {
		marker := ""
		if _, isBottleneck := report.Bottlenecks[area]; isBottleneck {
			marker = "<=="
		}
		fmt.Fprintf(bw, "%s    \t%8.4f    \t%s\n", area, report.Averages[area], marker)
	}
	fmt.Fprintf(bw, "Cores: %d\n", len(report.Cores))

	return bw.Flush()
}

type pmuLine struct {
	timestamp    float64
	cpu          string
	area         string
	value        float64
	unit         string
	isBottleneck bool
}

// ReadCSV reads a result file written by WriteCSV or toplev, keeping the
// lines stamped between warmTime and tearDownTime.
func ReadCSV(path string, warmTime, tearDownTime float64) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", path)
	}
	defer f.Close()

	return ParseCSV(f, warmTime, tearDownTime)
}

// ParseCSV is ReadCSV over a reader. A zero tearDownTime keeps every line
// after warmTime.
func ParseCSV(r io.Reader, warmTime, tearDownTime float64) (*Report, error) {
	var (
		records []pmuLine
		report  = &Report{
			Bottlenecks: make(map[string]float64),
			Cores:       make(map[string]bool),
		}
	)

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	headers, err := reader.Read()
	if err != nil {
		return nil, err
	}
	headerIdxMap := headerPos(headers)
	for _, col := range []string{"Timestamp", "Area", "Value"} {
		if _, isPresent := headerIdxMap[col]; !isPresent {
			return nil, errors.Errorf("missing %s column", col)
		}
	}

	for {
		line, err := reader.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		if len(line) > 0 && strings.HasPrefix(line[0], "#") {
			break
		}

		record, keep, err := splitLine(headerIdxMap, line, warmTime, tearDownTime)
		if err != nil {
			return nil, err
		}
		if record.timestamp < 0 {
			break
		}
		if !keep {
			continue
		}
		if record.isBottleneck {
			report.Bottlenecks[record.area] = record.value
		}
		records = append(records, record)
	}

	report.Averages = parseMetric(records, report)
	return report, nil
}

func splitLine(headers map[string]int, line []string, warmTime, tearDownTime float64) (pmuLine, bool, error) {
	ts, err := strconv.ParseFloat(field(headers, line, "Timestamp"), 64)
	if err != nil {
		return pmuLine{}, false, err
	}

	if ts < warmTime {
		return pmuLine{}, false, nil
	} else if tearDownTime > 0 && ts > tearDownTime {
		return pmuLine{timestamp: -1}, false, nil
	}

	value, err := strconv.ParseFloat(field(headers, line, "Value"), 64)
	if err != nil {
		log.Warnf("error line: %v", line)
		return pmuLine{}, false, err
	}

	cpu := "uncore"
	if _, isCore := headers["CPUs"]; isCore {
		cpu = field(headers, line, "CPUs")
	}

	data := pmuLine{
		timestamp:    ts,
		cpu:          cpu,
		area:         field(headers, line, "Area"),
		value:        value,
		unit:         field(headers, line, "Unit"),
		isBottleneck: field(headers, line, "Bottleneck") != "",
	}

	return data, true, nil
}

func field(headers map[string]int, line []string, name string) string {
	idx, isPresent := headers[name]
	if !isPresent || idx >= len(line) {
		return ""
	}
	return line[idx]
}

func headerPos(headers []string) map[string]int {
	result := make(map[string]int)
	for i, name := range headers {
		result[name] = i
	}
	return result
}

func parseMetric(lines []pmuLine, report *Report) map[string]float64 {
	var (
		epochs  = make(map[string]float64)
		results = make(map[string]float64)
	)
	for _, line := range lines {
		results[line.area] += line.value
		epochs[line.area]++
		report.Cores[line.cpu] = true
	}
	for k, v := range results {
		results[k] = v / epochs[k]
	}
	for k := range report.Bottlenecks {
		report.Bottlenecks[k] = results[k]
	}
	return results
}
