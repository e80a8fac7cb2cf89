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

// Package topdown evaluates hierarchical Top-Down metrics from hardware
// event counters. A profile builds a small graph of metric nodes, wires
// their references and hands them to a Runner in level order.
package topdown

import (
	"github.com/pkg/errors"
)

var (
	// ErrZeroDivision is returned by a formula that divided by zero.
	ErrZeroDivision = errors.New("zero division")
	// ErrMissingReferences is returned when a node is computed before
	// all of its required references are bound.
	ErrMissingReferences = errors.New("missing references")
	// ErrNotImplemented is returned when a node has no formula.
	ErrNotImplemented = errors.New("metric formula is not implemented")
)

// Selector picks what an evaluator reads: an Event or a Combinator.
type Selector interface {
	selector()
}

// Event is the name of a hardware event, e.g. "CPU_CLK_UNHALTED.THREAD".
type Event string

func (Event) selector() {}

// Combinator derives a value from other evaluator reads. It is passed to
// the evaluator in place of an event name so that it is computed under the
// same aggregation as a single counter read.
type Combinator func(ev EV, level int) (float64, error)

func (Combinator) selector() {}

// EV evaluates a selector at an aggregation level.
type EV func(sel Selector, level int) (float64, error)

// Read is a shorthand for ev(Event(name), level).
func (ev EV) Read(name string, level int) (float64, error) {
	return ev(Event(name), level)
}

// Div divides a by b, failing with ErrZeroDivision when b is zero.
func Div(a, b float64) (float64, error) {
	if b == 0 {
		return 0, ErrZeroDivision
	}
	return a / b, nil
}

// Apply evaluates sel with ev. Evaluators call it to run combinators
// and to reject selectors they do not know.
func Apply(ev EV, sel Selector, level int, read func(Event) (float64, error)) (float64, error) {
	switch s := sel.(type) {
	case Event:
		return read(s)
	case Combinator:
		return s(ev, level)
	default:
		return 0, errors.Errorf("invalid selector %T", sel)
	}
}
