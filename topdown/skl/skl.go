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

// Package skl is the Top-Down metric table for Skylake client parts.
package skl

import (
	"github.com/vhive-serverless/topdown/topdown"
)

const (
	// PipelineWidth is the number of issue slots per core clock.
	PipelineWidth = 4
	// Version of the metric table.
	Version = "1.0"
)

// SMTEnabled selects per-core clock normalisation over both hyperthreads.
var SMTEnabled = true

func init() {
	topdown.Register(topdown.Profile{
		Name:          "skl",
		Description:   "Intel Skylake client",
		Version:       Version,
		PipelineWidth: PipelineWidth,
		SetSMT:        func(enabled bool) { SMTEnabled = enabled },
		Setup:         Setup,
	})
}

func coreClock(ev topdown.EV, level int) (float64, error) {
	if SMTEnabled {
		// CPU_CLK_UNHALTED.THREAD_ANY / 2
		v, err := ev.Read("CPU_CLK_UNHALTED.THREAD_ANY", level)
		return v / 2, err
	}
	return topdown.Clks(ev, level)
}

func slots(ev topdown.EV, level int) (float64, error) {
	// #Pipeline_Width * CORE_CLKS
	c, err := coreClock(ev, level)
	return PipelineWidth * c, err
}

func recoveryCycles(ev topdown.EV, level int) (float64, error) {
	if SMTEnabled {
		v, err := ev.Read("INT_MISC.RECOVERY_CYCLES_ANY", level)
		return v / 2, err
	}
	return ev.Read("INT_MISC.RECOVERY_CYCLES", level)
}

func mispredClearsFraction(ev topdown.EV, level int) (float64, error) {
	// BR_MISP_RETIRED.ALL_BRANCHES / ( BR_MISP_RETIRED.ALL_BRANCHES + MACHINE_CLEARS.COUNT )
	misp, err := ev.Read("BR_MISP_RETIRED.ALL_BRANCHES", level)
	if err != nil {
		return 0, err
	}
	clears, err := ev.Read("MACHINE_CLEARS.COUNT", level)
	if err != nil {
		return 0, err
	}
	return topdown.Div(misp, misp+clears)
}

// perSlot divides the value of fn by the slots at level.
func perSlot(ev topdown.EV, level int, fn func() (float64, error)) (float64, error) {
	v, err := fn()
	if err != nil {
		return 0, err
	}
	s, err := slots(ev, level)
	if err != nil {
		return 0, err
	}
	return topdown.Div(v, s)
}

type frontendBound struct{}

func (frontendBound) Compute(ev topdown.EV, level int) (float64, error) {
	// IDQ_UOPS_NOT_DELIVERED.CORE / SLOTS
	return perSlot(ev, level, func() (float64, error) {
		return ev.Read("IDQ_UOPS_NOT_DELIVERED.CORE", level)
	})
}

type fetchLatency struct{}

func (fetchLatency) Compute(ev topdown.EV, level int) (float64, error) {
	// #Pipeline_Width * IDQ_UOPS_NOT_DELIVERED.CYCLES_0_UOPS_DELIV.CORE / SLOTS
	return perSlot(ev, level, func() (float64, error) {
		v, err := ev.Read("IDQ_UOPS_NOT_DELIVERED.CYCLES_0_UOPS_DELIV.CORE", level)
		return PipelineWidth * v, err
	})
}

type fetchBandwidth struct {
	frontendBound *topdown.Node
	fetchLatency  *topdown.Node
}

func (f *fetchBandwidth) Refs() []topdown.Ref {
	return []topdown.Ref{
		{Role: "frontend_bound", Node: f.frontendBound},
		{Role: "fetch_latency", Node: f.fetchLatency},
	}
}

func (f *fetchBandwidth) Compute(ev topdown.EV, _ int) (float64, error) {
	// Frontend_Bound - Fetch_Latency
	return difference(ev, f.frontendBound, f.fetchLatency)
}

type badSpeculation struct{}

func (badSpeculation) Compute(ev topdown.EV, level int) (float64, error) {
	// ( UOPS_ISSUED.ANY - UOPS_RETIRED.RETIRE_SLOTS + #Pipeline_Width * #Recovery_Cycles ) / SLOTS
	return perSlot(ev, level, func() (float64, error) {
		issued, err := ev.Read("UOPS_ISSUED.ANY", level)
		if err != nil {
			return 0, err
		}
		retired, err := ev.Read("UOPS_RETIRED.RETIRE_SLOTS", level)
		if err != nil {
			return 0, err
		}
		recovery, err := recoveryCycles(ev, level)
		if err != nil {
			return 0, err
		}
		return issued - retired + PipelineWidth*recovery, nil
	})
}

type branchMispredicts struct {
	badSpeculation *topdown.Node
}

func (b *branchMispredicts) Refs() []topdown.Ref {
	return []topdown.Ref{{Role: "bad_speculation", Node: b.badSpeculation}}
}

func (b *branchMispredicts) Compute(ev topdown.EV, level int) (float64, error) {
	// Mispred_Clears_Fraction * Bad_Speculation
	frac, err := mispredClearsFraction(ev, level)
	if err != nil {
		return 0, err
	}
	bad, err := b.badSpeculation.Compute(ev)
	if err != nil {
		return 0, err
	}
	return frac * bad, nil
}

type machineClears struct {
	badSpeculation    *topdown.Node
	branchMispredicts *topdown.Node
}

func (m *machineClears) Refs() []topdown.Ref {
	return []topdown.Ref{
		{Role: "bad_speculation", Node: m.badSpeculation},
		{Role: "branch_mispredicts", Node: m.branchMispredicts},
	}
}

func (m *machineClears) Compute(ev topdown.EV, _ int) (float64, error) {
	// Bad_Speculation - Branch_Mispredicts
	return difference(ev, m.badSpeculation, m.branchMispredicts)
}

type retiring struct{}

func (retiring) Compute(ev topdown.EV, level int) (float64, error) {
	// UOPS_RETIRED.RETIRE_SLOTS / SLOTS
	return perSlot(ev, level, func() (float64, error) {
		return ev.Read("UOPS_RETIRED.RETIRE_SLOTS", level)
	})
}

type backendBound struct {
	frontendBound  *topdown.Node
	badSpeculation *topdown.Node
	retiring       *topdown.Node
}

func (b *backendBound) Refs() []topdown.Ref {
	return []topdown.Ref{
		{Role: "frontend_bound", Node: b.frontendBound},
		{Role: "bad_speculation", Node: b.badSpeculation},
		{Role: "retiring", Node: b.retiring},
	}
}

func (b *backendBound) Compute(ev topdown.EV, _ int) (float64, error) {
	// 1 - ( Frontend_Bound + Bad_Speculation + Retiring )
	var sum float64
	for _, n := range []*topdown.Node{b.frontendBound, b.badSpeculation, b.retiring} {
		v, err := n.Compute(ev)
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return 1 - sum, nil
}

func difference(ev topdown.EV, from, minus *topdown.Node) (float64, error) {
	a, err := from.Compute(ev)
	if err != nil {
		return 0, err
	}
	b, err := minus.Compute(ev)
	if err != nil {
		return 0, err
	}
	return a - b, nil
}
