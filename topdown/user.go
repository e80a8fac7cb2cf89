// MIT License
//
// Copyright (c) 2021 EASE lab
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

package topdown

import (
	"github.com/pkg/errors"
)

// Common event names read by the user metrics.
const (
	EventThreadClocks = "CPU_CLK_UNHALTED.THREAD"
	EventRefClocks    = "CPU_CLK_UNHALTED.REF_TSC"
	EventInstructions = "INST_RETIRED.ANY"
	EventInterval     = "interval-s"
)

// UserMetric is a plain ratio shown to the user. It does not take part
// in the reference graph and is always read at level 0.
type UserMetric struct {
	Name        string
	Domain      string
	Description string
	MetricGroup []string

	formula Formula
	state
}

// NewUserMetric returns a user metric computing f.
func NewUserMetric(name, domain, desc string, groups []string, f Formula) *UserMetric {
	return &UserMetric{
		Name:        name,
		Domain:      domain,
		Description: desc,
		MetricGroup: groups,
		formula:     f,
	}
}

// Compute evaluates the metric with the same zero division handling as
// Node.Compute.
func (m *UserMetric) Compute(ev EV) (float64, error) {
	if m.formula == nil {
		return 0, errors.Wrapf(ErrNotImplemented, "metric %s", m.Name)
	}
	val, err := m.formula.Compute(ev, 0)
	if err := m.record(m.Name, val, err); err != nil {
		return 0, err
	}
	return m.val, nil
}

func (m *UserMetric) String() string {
	return m.Name
}

// Clks reads the unhalted thread clocks.
func Clks(ev EV, level int) (float64, error) {
	return ev.Read(EventThreadClocks, level)
}

// IPC is instructions per thread clock.
func IPC(ev EV, level int) (float64, error) {
	inst, err := ev.Read(EventInstructions, level)
	if err != nil {
		return 0, err
	}
	clks, err := Clks(ev, level)
	if err != nil {
		return 0, err
	}
	return Div(inst, clks)
}

// CPI is thread clocks per instruction.
func CPI(ev EV, level int) (float64, error) {
	inst, err := ev.Read(EventInstructions, level)
	if err != nil {
		return 0, err
	}
	clks, err := Clks(ev, level)
	if err != nil {
		return 0, err
	}
	return Div(clks, inst)
}

// TurboUtilization is the ratio of actual to nominal clocks.
func TurboUtilization(ev EV, level int) (float64, error) {
	clks, err := Clks(ev, level)
	if err != nil {
		return 0, err
	}
	ref, err := ev.Read(EventRefClocks, level)
	if err != nil {
		return 0, err
	}
	return Div(clks, ref)
}

// Time is the length of the measured interval in seconds.
func Time(ev EV, level int) (float64, error) {
	return ev.Read(EventInterval, level)
}

// UserMetrics returns the user metrics common to every profile, in the
// order they are reported.
func UserMetrics() []*UserMetric {
	return []*UserMetric{
		NewUserMetric("IPC", "Metric",
			"Instructions Per Cycle (per logical thread)",
			[]string{"TopDownL1"}, FormulaFunc(IPC)),
		NewUserMetric("CPI", "Metric",
			"Cycles Per Instruction (threaded)",
			[]string{"Pipeline", "Summary"}, FormulaFunc(CPI)),
		NewUserMetric("Turbo_Utilization", "Core_Metric",
			"Average Frequency Utilization relative nominal frequency",
			[]string{"Power"}, FormulaFunc(TurboUtilization)),
		NewUserMetric("CLKS", "Count",
			"Per-thread actual clocks",
			[]string{"Summary"}, FormulaFunc(Clks)),
		NewUserMetric("Time", "Count",
			"Run duration time in seconds",
			[]string{"Summary"}, FormulaFunc(Time)),
	}
}
