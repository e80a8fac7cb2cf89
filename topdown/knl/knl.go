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

// Package knl is the Top-Down metric table for Knights Landing.
package knl

import (
	"math"

	"github.com/vhive-serverless/topdown/topdown"
)

// Version of the metric table.
const Version = "1.0"

// PipelineWidth is the number of issue slots per core clock.
const PipelineWidth = 4

// SMTEnabled selects per-core clock normalisation. It is set once, before
// Setup, by whoever knows the machine topology.
var SMTEnabled = false

func init() {
	topdown.Register(topdown.Profile{
		Name:          "knl",
		Description:   "Intel Knights Landing",
		Version:       Version,
		PipelineWidth: PipelineWidth,
		SetSMT:        func(enabled bool) { SMTEnabled = enabled },
		Setup:         Setup,
	})
}

func clks(ev topdown.EV, level int) (float64, error) {
	return topdown.Clks(ev, level)
}

func coreClks(ev topdown.EV, level int) (float64, error) {
	return coreClksSMT(ev, level, SMTEnabled)
}

func coreClksSMT(ev topdown.EV, level int, smt bool) (float64, error) {
	c, err := clks(ev, level)
	if err != nil {
		return 0, err
	}
	if smt {
		return c / 4, nil
	}
	return c, nil
}

func slots(ev topdown.EV, level int) (float64, error) {
	c, err := coreClks(ev, level)
	if err != nil {
		return 0, err
	}
	return PipelineWidth * c, nil
}

// frontendLatencyCycles reads the cycles where the RAT stalled, capped by
// the thread clocks. Both reads happen inside one combinator so they share
// the aggregation of the outer level.
func frontendLatencyCycles(ev topdown.EV, level int) (float64, error) {
	fn := topdown.Combinator(func(ev topdown.EV, _ int) (float64, error) {
		c, err := ev.Read(topdown.EventThreadClocks, 1)
		if err != nil {
			return 0, err
		}
		stall, err := ev.Read("NO_ALLOC_CYCLES.RAT_STALL", 1)
		if err != nil {
			return 0, err
		}
		return math.Min(c, stall), nil
	})
	return ev(fn, level)
}

// ratio reads event at level 1 and divides it by scale core clocks at level.
func ratio(ev topdown.EV, event string, scale float64, level int) (float64, error) {
	v, err := ev.Read(event, 1)
	if err != nil {
		return 0, err
	}
	c, err := coreClks(ev, level)
	if err != nil {
		return 0, err
	}
	return topdown.Div(v, scale*c)
}

// FrontendBound is the share of slots the frontend left empty.
type FrontendBound struct{}

// Compute implements topdown.Formula.
func (FrontendBound) Compute(ev topdown.EV, level int) (float64, error) {
	return ratio(ev, "NO_ALLOC_CYCLES.NOT_DELIVERED", 1, level)
}

// FrontendLatency is the share of slots lost to frontend latency.
type FrontendLatency struct{}

// Compute implements topdown.Formula.
func (FrontendLatency) Compute(ev topdown.EV, level int) (float64, error) {
	cycles, err := frontendLatencyCycles(ev, level)
	if err != nil {
		return 0, err
	}
	s, err := slots(ev, level)
	if err != nil {
		return 0, err
	}
	return topdown.Div(PipelineWidth*cycles, s)
}

// BadSpeculation is the share of slots wasted by mispredictions.
type BadSpeculation struct{}

// Compute implements topdown.Formula.
func (BadSpeculation) Compute(ev topdown.EV, level int) (float64, error) {
	return ratio(ev, "NO_ALLOC_CYCLES.MISPREDICTS", 1, level)
}

// Retiring is the share of slots used by retired uops.
type Retiring struct{}

// Compute implements topdown.Formula.
func (Retiring) Compute(ev topdown.EV, level int) (float64, error) {
	return ratio(ev, "UOPS_RETIRED.ALL", 2, level)
}

// BackendBound is what the other level 1 categories leave over.
type BackendBound struct {
	Retiring       *topdown.Node
	BadSpeculation *topdown.Node
	FrontendBound  *topdown.Node
}

// Refs implements topdown.Referrer.
func (b *BackendBound) Refs() []topdown.Ref {
	return []topdown.Ref{
		{Role: "retiring", Node: b.Retiring},
		{Role: "bad_speculation", Node: b.BadSpeculation},
		{Role: "frontend_bound", Node: b.FrontendBound},
	}
}

// Compute implements topdown.Formula.
func (b *BackendBound) Compute(ev topdown.EV, _ int) (float64, error) {
	var sum float64
	for _, n := range []*topdown.Node{b.Retiring, b.BadSpeculation, b.FrontendBound} {
		v, err := n.Compute(ev)
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return 1 - sum, nil
}
