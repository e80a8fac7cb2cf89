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
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vhive-serverless/topdown/counters"
	"github.com/vhive-serverless/topdown/topdown"
	"github.com/vhive-serverless/topdown/topdown/knl"
)

func knlSample(notDelivered float64) counters.Sample {
	return counters.Sample{
		"CPU_CLK_UNHALTED.THREAD":       1000,
		"CPU_CLK_UNHALTED.REF_TSC":      500,
		"INST_RETIRED.ANY":              1500,
		"NO_ALLOC_CYCLES.NOT_DELIVERED": notDelivered,
		"NO_ALLOC_CYCLES.MISPREDICTS":   200,
		"NO_ALLOC_CYCLES.RAT_STALL":     300,
		"UOPS_RETIRED.ALL":              1000,
	}
}

func knlProfile(t *testing.T) topdown.Profile {
	old := knl.SMTEnabled
	knl.SMTEnabled = false
	t.Cleanup(func() { knl.SMTEnabled = old })

	p, err := topdown.Lookup("knl")
	require.NoError(t, err, "knl profile is not registered")
	return p
}

func intervals() []counters.Interval {
	return []counters.Interval{
		{Timestamp: 1, Elapsed: 1, CPUs: map[string]counters.Sample{
			"CPU0": knlSample(100),
			"CPU1": knlSample(600),
		}},
		{Timestamp: 2, Elapsed: 1, CPUs: map[string]counters.Sample{
			"CPU0": knlSample(100),
			"CPU1": knlSample(100),
		}},
	}
}

func find(values []Value, ts float64, cpu, name string) (Value, bool) {
	for _, v := range values {
		if v.Timestamp == ts && v.CPU == cpu && v.Name == name {
			return v, true
		}
	}
	return Value{}, false
}

func TestRunnerCollects(t *testing.T) {
	r := New()
	knl.Setup(r)

	require.Len(t, r.Nodes(), 5)
	require.Len(t, r.UserMetrics(), 5)
	require.Len(t, r.children[nil], 4, "level 1 nodes")
	require.Len(t, r.children[r.Nodes()[0]], 1, "children of Frontend_Bound")
}

func TestEvaluate(t *testing.T) {
	res, err := Evaluate(knlProfile(t), intervals())
	require.NoError(t, err, "Failed evaluating intervals")
	require.NotEmpty(t, res.RunID)
	require.Equal(t, "knl", res.Profile)
	require.Len(t, res.Values, 2*2*10)

	type testCase struct {
		ts         float64
		cpu, name  string
		expected   float64
		bottleneck bool
	}

	cases := []testCase{
		{1, "CPU0", "Frontend_Bound", 0.1, false},
		{1, "CPU0", "Retiring", 0.5, true},
		{1, "CPU0", "Backend_Bound", 0.2, false},
		{1, "CPU1", "Frontend_Bound", 0.6, false},
		{1, "CPU1", "Frontend_Latency", 0.3, true},
		{1, "CPU1", "Backend_Bound", -0.3, false},
		{1, "CPU1", "Retiring", 0.5, false},
		{2, "CPU1", "Retiring", 0.5, true},
		{1, "CPU0", "IPC", 1.5, false},
		{1, "CPU0", "Turbo_Utilization", 2, false},
		{2, "CPU1", "Time", 1, false},
	}

	for _, tCase := range cases {
		t.Run(fmt.Sprintf("%s/%s@%.0f", tCase.cpu, tCase.name, tCase.ts), func(t *testing.T) {
			v, isPresent := find(res.Values, tCase.ts, tCase.cpu, tCase.name)
			require.True(t, isPresent, "value is missing")
			require.InDelta(t, tCase.expected, v.Value, 1e-12, "value does not match")
			require.Equal(t, tCase.bottleneck, v.Bottleneck, "bottleneck does not match")
			require.Equal(t, v.Value > 0, v.Threshold)
		})
	}

	v, _ := find(res.Values, 1, "CPU1", "Frontend_Latency")
	require.Equal(t, "Frontend_Bound", v.Parent)
	require.Equal(t, 2, v.Level)
	require.Equal(t, []string{"Frontend_Bound", "TopDownL2"}, v.MetricGroup)
	require.True(t, v.Server)
	require.NotEmpty(t, v.Description)

	ipc, _ := find(res.Values, 1, "CPU0", "IPC")
	require.Equal(t, []string{"TopDownL1"}, ipc.MetricGroup)
	require.False(t, ipc.Server)
}

func TestEvaluateCPUOrder(t *testing.T) {
	sample := map[string]counters.Sample{}
	for _, cpu := range []string{"CPU10", "CPU2", "CPU1", "CPU0"} {
		sample[cpu] = knlSample(100)
	}
	in := []counters.Interval{{Timestamp: 1, Elapsed: 1, CPUs: sample}}
	require.Equal(t, []string{"CPU0", "CPU1", "CPU2", "CPU10"}, cpuSet(in))

	res, err := Evaluate(knlProfile(t), in)
	require.NoError(t, err)

	var order []string
	for _, v := range res.Values {
		if len(order) == 0 || order[len(order)-1] != v.CPU {
			order = append(order, v.CPU)
		}
	}
	require.Equal(t, []string{"CPU0", "CPU1", "CPU2", "CPU10"}, order)
}

func TestEvaluateFatalErrors(t *testing.T) {
	profile := knlProfile(t)
	broken := topdown.Profile{
		Name: "broken",
		Setup: func(r topdown.Runner) {
			ok := topdown.NewNode(topdown.Desc{Level: 1, Name: "Retiring"}, knl.Retiring{})
			r.Run(ok)
			r.Run(topdown.NewNode(topdown.Desc{Level: 1, Name: "Backend_Bound"}, &knl.BackendBound{}))
		},
	}

	res, err := Evaluate(broken, intervals())
	require.Error(t, err, "missing references must not be swallowed")
	require.True(t, strings.Contains(err.Error(), "missing references"), "unexpected error %v", err)
	require.Len(t, res.Values, 4, "other metrics must still be evaluated")

	empty := topdown.Profile{Name: "empty", Setup: func(topdown.Runner) {}}
	_, err = Evaluate(empty, intervals())
	require.EqualError(t, err, "profile empty submitted no metrics")

	sample := knlSample(100)
	delete(sample, "UOPS_RETIRED.ALL")
	_, err = Evaluate(profile, []counters.Interval{{Timestamp: 1, CPUs: map[string]counters.Sample{"CPU0": sample}}})
	require.Error(t, err, "unknown events must not be swallowed")
}

func TestCSVRoundTrip(t *testing.T) {
	res, err := Evaluate(knlProfile(t), intervals())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, res), "Failed writing csv")

	records, err := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, len(res.Values)+1)
	for i, v := range res.Values {
		require.NotEmpty(t, records[i+1][5], "description of %s is missing", v.Name)
		require.Equal(t, v.Description, records[i+1][5])
	}

	report, err := ParseCSV(&buf, 0, 0)
	require.NoError(t, err, "Failed reading csv")

	// average over both cpus and both intervals, in percent
	require.InDelta(t, 22.5, report.Averages["Frontend_Bound"], 1e-9)
	require.InDelta(t, 50., report.Averages["Retiring"], 1e-9)
	require.InDelta(t, 1.5, report.Averages["IPC"], 1e-9)
	require.Equal(t, map[string]bool{"CPU0": true, "CPU1": true}, report.Cores)
	require.Contains(t, report.Bottlenecks, "Retiring")
	require.Contains(t, report.Bottlenecks, "Frontend_Latency")
}

func TestReadCSV(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "test.csv")
	require.NoError(t, createData(fileName), "Failed creating test file")

	type testCase struct {
		warmTime, tearDownTime float64
		expected               map[string]float64
	}

	cases := []testCase{
		{warmTime: 0, tearDownTime: 2, expected: map[string]float64{"Frontend_Bound": 2, "Backend_Bound": 3}},
		{warmTime: 0, tearDownTime: 1, expected: map[string]float64{"Frontend_Bound": 1, "Backend_Bound": 2}},
		{warmTime: 1, tearDownTime: 2, expected: map[string]float64{"Frontend_Bound": 3, "Backend_Bound": 4}},
	}

	for _, tCase := range cases {
		testName := fmt.Sprintf("%.2f,%.2f", tCase.warmTime, tCase.tearDownTime)

		t.Run(testName, func(t *testing.T) {
			report, err := ReadCSV(fileName, tCase.warmTime, tCase.tearDownTime)
			require.NoError(t, err, "Failed reading data")
			require.EqualValues(t, tCase.expected, report.Averages, "results do not match")
		})
	}

	report, err := ReadCSV(fileName, 0, 2)
	require.NoError(t, err)
	require.Equal(t, map[string]float64{"Backend_Bound": 3}, report.Bottlenecks)

	_, err = ParseCSV(strings.NewReader("Timestamp,CPUs\n"), 0, 0)
	require.EqualError(t, err, "missing Area column")
}

func TestSummarize(t *testing.T) {
	res := &Results{Values: []Value{
		{Name: "IPC", Value: 1, User: true},
		{Name: "IPC", Value: 3, User: true},
		{Name: "Retiring", Level: 1, Value: 0.2, Bottleneck: true},
		{Name: "Retiring", Level: 1, Value: 0.4},
		{Name: "Frontend_Latency", Level: 2, Value: 0.1},
		{Name: "Frontend_Latency", Level: 2, Value: 0.3, Bottleneck: true},
		{Name: "Backend_Bound", Level: 1, Value: 0.5},
		{Name: "Backend_Bound", Level: 1, Value: 0.5},
	}}

	summaries, err := Summarize(res)
	require.NoError(t, err, "Failed summarizing")

	names := make([]string, len(summaries))
	for i, s := range summaries {
		names[i] = s.Name
	}
	require.Equal(t, []string{"Backend_Bound", "Retiring", "Frontend_Latency", "IPC"}, names)

	ipc := summaries[3]
	require.Equal(t, 2, ipc.Count)
	require.InDelta(t, 2., ipc.Mean, 1e-12)
	require.InDelta(t, 1.4142135623730951, ipc.StdDev, 1e-12)
	require.InDelta(t, 2., ipc.Median, 1e-12)

	require.Equal(t, 1, summaries[1].Bottlenecks)
	require.Zero(t, summaries[0].StdDev)

	var buf bytes.Buffer
	require.NoError(t, PrintSummary(&buf, summaries))
	require.Contains(t, buf.String(), "  Frontend_Latency")
}

func TestPrintReport(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "test.csv")
	require.NoError(t, createData(fileName), "Failed creating test file")

	report, err := ReadCSV(fileName, 0, 2)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, PrintReport(&buf, report))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	require.True(t, strings.HasPrefix(lines[1], "Backend_Bound"), "areas are sorted by name")
	require.True(t, strings.HasSuffix(lines[1], "<=="), "bottleneck is marked")
	require.True(t, strings.HasPrefix(lines[2], "Frontend_Bound"))
	require.False(t, strings.HasSuffix(lines[2], "<=="))
	require.Equal(t, "Cores: 2", lines[3])
}

func createData(fileName string) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer f.Close()

	lines := []string{"Timestamp,CPUs,Area,Value,Unit,Description,Sample,Stddev,Multiplex,Bottleneck,Idle",
		"0.503247704,C0,Frontend_Bound,1,% Slots <,,,0.0,3.99,,Y",
		"0.503247704,C0,Backend_Bound,2,% Slots <,,,0.0,3.99,,Y",
		"1.503247704,C1,Frontend_Bound,3,% Slots <,,,0.0,3.99,,Y",
		"1.503247704,C1,Backend_Bound,4,% Slots,,,0.0,3.99,<==,Y"}

	for _, line := range lines {
		_, err := f.WriteString(line + "\n")
		if err != nil {
			return err
		}
	}

	return nil
}
