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

package skl

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vhive-serverless/topdown/topdown"
)

type recorder struct {
	nodes []*topdown.Node
	user  []*topdown.UserMetric
}

func (r *recorder) Run(n *topdown.Node)          { r.nodes = append(r.nodes, n) }
func (r *recorder) Metric(m *topdown.UserMetric) { r.user = append(r.user, m) }

func fakeEV(values map[string]float64) topdown.EV {
	var ev topdown.EV
	ev = func(sel topdown.Selector, level int) (float64, error) {
		return topdown.Apply(ev, sel, level, func(e topdown.Event) (float64, error) {
			v, isPresent := values[string(e)]
			if !isPresent {
				return 0, fmt.Errorf("unknown event %s", e)
			}
			return v, nil
		})
	}
	return ev
}

func sample() map[string]float64 {
	return map[string]float64{
		"CPU_CLK_UNHALTED.THREAD_ANY":                     2000,
		"CPU_CLK_UNHALTED.THREAD":                         1200,
		"IDQ_UOPS_NOT_DELIVERED.CORE":                     400,
		"IDQ_UOPS_NOT_DELIVERED.CYCLES_0_UOPS_DELIV.CORE": 60,
		"UOPS_ISSUED.ANY":                                 2200,
		"UOPS_RETIRED.RETIRE_SLOTS":                       2000,
		"INT_MISC.RECOVERY_CYCLES_ANY":                    200,
		"INT_MISC.RECOVERY_CYCLES":                        100,
		"BR_MISP_RETIRED.ALL_BRANCHES":                    30,
		"MACHINE_CLEARS.COUNT":                            10,
	}
}

func TestSetup(t *testing.T) {
	r := &recorder{}
	Setup(r)

	expected := map[string]float64{
		"Frontend_Bound":     0.1,
		"Bad_Speculation":    0.15,
		"Retiring":           0.5,
		"Backend_Bound":      0.25,
		"Fetch_Latency":      0.06,
		"Fetch_Bandwidth":    0.04,
		"Branch_Mispredicts": 0.1125,
		"Machine_Clears":     0.0375,
	}

	require.Len(t, r.nodes, len(expected))
	require.Len(t, r.user, 5)

	ev := fakeEV(sample())
	prev := 0
	for _, n := range r.nodes {
		require.GreaterOrEqual(t, n.Level(), prev, "levels are not sorted")
		prev = n.Level()

		val, err := n.Compute(ev)
		require.NoError(t, err, "Failed computing %s", n.Name())
		require.InDelta(t, expected[n.Name()], val, 1e-12, "metric %s is incorrect", n.Name())

		if n.Level() == 2 {
			require.NotNil(t, n.Parent(), "metric %s", n.Name())
			require.Equal(t, n.Area(), n.Parent().Area(), "metric %s is under the wrong parent", n.Name())
		} else {
			require.Nil(t, n.Parent(), "metric %s", n.Name())
		}
	}
}

func TestNoSMT(t *testing.T) {
	SMTEnabled = false
	defer func() { SMTEnabled = true }()

	ev := fakeEV(sample())
	c, err := coreClock(ev, 1)
	require.NoError(t, err)
	require.Equal(t, 1200., c)

	r, err := recoveryCycles(ev, 1)
	require.NoError(t, err)
	require.Equal(t, 100., r)
}

func TestMissingReferences(t *testing.T) {
	type testCase struct {
		name    string
		formula topdown.Formula
		roles   []string
	}

	cases := []testCase{
		{"Backend_Bound", &backendBound{}, []string{"frontend_bound", "bad_speculation", "retiring"}},
		{"Fetch_Bandwidth", &fetchBandwidth{}, []string{"frontend_bound", "fetch_latency"}},
		{"Branch_Mispredicts", &branchMispredicts{}, []string{"bad_speculation"}},
		{"Machine_Clears", &machineClears{}, []string{"bad_speculation", "branch_mispredicts"}},
	}

	for _, tCase := range cases {
		t.Run(tCase.name, func(t *testing.T) {
			n := topdown.NewNode(topdown.Desc{Level: 1, Name: tCase.name}, tCase.formula)
			require.Equal(t, tCase.roles, n.RequiredRefs())

			_, err := n.Compute(fakeEV(sample()))
			require.True(t, errors.Is(err, topdown.ErrMissingReferences), "expected missing references, got %v", err)
		})
	}
}

func TestZeroSlots(t *testing.T) {
	values := sample()
	values["CPU_CLK_UNHALTED.THREAD_ANY"] = 0

	ev := fakeEV(values)
	for _, n := range Nodes() {
		_, err := n.Compute(ev)
		require.NoError(t, err, "zero division escaped from %s", n.Name())
	}
}
