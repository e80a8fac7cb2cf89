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

// Package counters turns perf stat output into evaluators for the
// topdown metric graph.
package counters

import (
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/vhive-serverless/topdown/topdown"
)

// ErrUnknownEvent is returned when a formula reads an event that was not
// collected.
var ErrUnknownEvent = errors.New("event was not collected")

// Sample maps upper case event names to counter values.
type Sample map[string]float64

// Interval is one print interval of perf stat.
type Interval struct {
	// Timestamp is the end of the interval in seconds since perf started.
	Timestamp float64
	// Elapsed is the length of the interval in seconds.
	Elapsed float64
	// CPUs holds one sample per CPU, or a single AllCPUs sample.
	CPUs map[string]Sample
}

// CPUList returns the CPU keys of the interval in sorted order.
func (i Interval) CPUList() []string {
	cpus := make([]string, 0, len(i.CPUs))
	for cpu := range i.CPUs {
		cpus = append(cpus, cpu)
	}
	SortCPUs(cpus)
	return cpus
}

// SortCPUs sorts CPU names by their prefix and then by CPU number, so
// CPU10 follows CPU9.
func SortCPUs(cpus []string) {
	sort.Slice(cpus, func(a, b int) bool {
		pa, na := splitCPU(cpus[a])
		pb, nb := splitCPU(cpus[b])
		if pa != pb {
			return pa < pb
		}
		if na != nb {
			return na < nb
		}
		return cpus[a] < cpus[b]
	})
}

func splitCPU(name string) (string, int) {
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	n, err := strconv.Atoi(name[i:])
	if err != nil {
		return name, -1
	}
	return name[:i], n
}

// EV returns an evaluator reading the given CPU of the interval. The
// interval length is served as the interval-s event.
func (i Interval) EV(cpu string) topdown.EV {
	s := i.CPUs[cpu]
	return s.ev(i.Elapsed)
}

// EV returns an evaluator reading s. Event reads do not depend on the
// level: the sample already is at the granularity it was collected at.
func (s Sample) EV() topdown.EV {
	return s.ev(0)
}

func (s Sample) ev(elapsed float64) topdown.EV {
	var ev topdown.EV
	ev = func(sel topdown.Selector, level int) (float64, error) {
		return topdown.Apply(ev, sel, level, func(e topdown.Event) (float64, error) {
			name := normalize(string(e))
			if name == normalize(topdown.EventInterval) && elapsed > 0 {
				return elapsed, nil
			}
			v, isPresent := s[name]
			if !isPresent {
				return 0, errors.Wrapf(ErrUnknownEvent, "%s", e)
			}
			return v, nil
		})
	}
	return ev
}

// collector is a topdown.Runner keeping whatever it is handed.
type collector struct {
	nodes []*topdown.Node
	user  []*topdown.UserMetric
}

func (c *collector) Run(n *topdown.Node)          { c.nodes = append(c.nodes, n) }
func (c *collector) Metric(m *topdown.UserMetric) { c.user = append(c.user, m) }

// Discover returns the events the metrics built by setup read, in first
// read order. Every read is answered with 1 so that no formula takes a
// zero division shortcut.
func Discover(setup func(topdown.Runner)) ([]string, error) {
	var (
		c      = &collector{}
		seen   = make(map[string]bool)
		events []string
	)
	setup(c)

	var ev topdown.EV
	ev = func(sel topdown.Selector, level int) (float64, error) {
		return topdown.Apply(ev, sel, level, func(e topdown.Event) (float64, error) {
			name := normalize(string(e))
			if !seen[name] && name != normalize(topdown.EventInterval) {
				seen[name] = true
				events = append(events, name)
			}
			return 1, nil
		})
	}

	for _, n := range c.nodes {
		if _, err := n.Compute(ev); err != nil {
			return nil, errors.Wrapf(err, "discovering events of %s", n.Name())
		}
	}
	for _, m := range c.user {
		if _, err := m.Compute(ev); err != nil {
			return nil, errors.Wrapf(err, "discovering events of %s", m.Name)
		}
	}

	return events, nil
}
