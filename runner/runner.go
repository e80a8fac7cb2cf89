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

// Package runner evaluates a topdown profile over collected counter
// intervals.
package runner

import (
	"runtime"

	"github.com/go-multierror/multierror"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vhive-serverless/topdown/counters"
	"github.com/vhive-serverless/topdown/topdown"
)

// Runner keeps the nodes and user metrics handed over by a profile Setup,
// in submission order.
type Runner struct {
	nodes    []*topdown.Node
	user     []*topdown.UserMetric
	children map[*topdown.Node][]*topdown.Node
}

// New returns an empty runner.
func New() *Runner {
	r := new(Runner)
	r.children = make(map[*topdown.Node][]*topdown.Node)

	return r
}

// Run implements topdown.Runner.
func (r *Runner) Run(n *topdown.Node) {
	r.nodes = append(r.nodes, n)
	r.children[n.Parent()] = append(r.children[n.Parent()], n)
}

// Metric implements topdown.Runner.
func (r *Runner) Metric(m *topdown.UserMetric) {
	r.user = append(r.user, m)
}

// Nodes returns the submitted nodes.
func (r *Runner) Nodes() []*topdown.Node {
	return r.nodes
}

// UserMetrics returns the submitted user metrics.
func (r *Runner) UserMetrics() []*topdown.UserMetric {
	return r.user
}

// Value is one evaluated metric for one CPU in one interval.
type Value struct {
	Timestamp   float64
	CPU         string
	Name        string
	Area        string
	Level       int
	Parent      string
	Value       float64
	Unit        string
	Description string
	MetricGroup []string
	Server      bool
	Threshold   bool
	Bottleneck  bool
	// User is set for metrics outside the Top-Down hierarchy.
	User bool
}

// Results holds the values of one evaluation run.
type Results struct {
	RunID   string
	Profile string
	Values  []Value
}

// Evaluate computes every metric of every interval. Each CPU gets its own
// node set, so CPUs are evaluated in parallel. Fatal metric errors do not
// stop the other metrics; they are returned together with the results.
func Evaluate(profile topdown.Profile, intervals []counters.Interval) (*Results, error) {
	var (
		cpus    = cpuSet(intervals)
		values  = make([][]Value, len(cpus))
		errList = make([][]error, len(cpus))
		g       errgroup.Group
	)
	g.SetLimit(runtime.NumCPU())

	res := &Results{RunID: uuid.New().String(), Profile: profile.Name}
	logger := log.WithFields(log.Fields{"run": res.RunID, "profile": profile.Name})
	logger.Debugf("Evaluating %d intervals on %d cpus", len(intervals), len(cpus))

	for i, cpu := range cpus {
		i, cpu := i, cpu
		g.Go(func() error {
			r := New()
			profile.Setup(r)
			if len(r.nodes) == 0 {
				return errors.Errorf("profile %s submitted no metrics", profile.Name)
			}

			for _, interval := range intervals {
				if _, isPresent := interval.CPUs[cpu]; !isPresent {
					continue
				}
				vals, errs := r.Evaluate(interval.EV(cpu))
				for j := range vals {
					vals[j].Timestamp = interval.Timestamp
					vals[j].CPU = cpu
				}
				values[i] = append(values[i], vals...)
				for _, err := range errs {
					errList[i] = append(errList[i], errors.Wrapf(err, "cpu %s at %.3fs", cpu, interval.Timestamp))
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []error
	for i := range cpus {
		res.Values = append(res.Values, values[i]...)
		all = append(all, errList[i]...)
	}

	if len(all) > 0 {
		logger.Warnf("%d metric evaluations failed", len(all))
		return res, multierror.Of(all...)
	}
	return res, nil
}

// Evaluate computes every node and user metric once with ev and marks the
// bottleneck among the nodes.
func (r *Runner) Evaluate(ev topdown.EV) ([]Value, []error) {
	var (
		values []Value
		errs   []error
		ok     = make(map[*topdown.Node]bool)
	)

	for _, n := range r.nodes {
		if _, err := n.Compute(ev); err != nil {
			errs = append(errs, err)
			continue
		}
		ok[n] = true
	}

	bottleneck := r.bottleneck(ok)
	for _, n := range r.nodes {
		if !ok[n] {
			continue
		}
		v := Value{
			Name:        n.Name(),
			Area:        n.Area(),
			Level:       n.Level(),
			Value:       n.Value(),
			Unit:        n.Domain(),
			Description: n.Description(),
			MetricGroup: n.MetricGroup(),
			Server:      n.Server(),
			Threshold:   n.Threshold(),
			Bottleneck:  n == bottleneck,
		}
		if p := n.Parent(); p != nil {
			v.Parent = p.Name()
		}
		values = append(values, v)
	}

	for _, m := range r.user {
		if _, err := m.Compute(ev); err != nil {
			errs = append(errs, err)
			continue
		}
		values = append(values, Value{
			Name:        m.Name,
			Value:       m.Value(),
			Unit:        m.Domain,
			Description: m.Description,
			MetricGroup: m.MetricGroup,
			Threshold:   m.Threshold(),
			User:        true,
		})
	}

	return values, errs
}

// bottleneck walks down from the top level, following the sibling with
// the highest value above threshold, and returns the deepest one reached.
func (r *Runner) bottleneck(ok map[*topdown.Node]bool) *topdown.Node {
	var (
		found    *topdown.Node
		siblings = r.children[nil]
	)
	for len(siblings) > 0 {
		var best *topdown.Node
		for _, n := range siblings {
			if !ok[n] || !n.Threshold() {
				continue
			}
			if best == nil || n.Value() > best.Value() {
				best = n
			}
		}
		if best == nil {
			break
		}
		found = best
		siblings = r.children[best]
	}
	return found
}

func cpuSet(intervals []counters.Interval) []string {
	var (
		seen = make(map[string]bool)
		cpus []string
	)
	for _, interval := range intervals {
		for _, cpu := range interval.CPUList() {
			if !seen[cpu] {
				seen[cpu] = true
				cpus = append(cpus, cpu)
			}
		}
	}
	counters.SortCPUs(cpus)
	return cpus
}
