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

import "sort"

// Runner receives the metrics of a profile from its Setup. Run is called
// once per graph node in level order, Metric once per user metric.
type Runner interface {
	Run(n *Node)
	Metric(m *UserMetric)
}

// SortByLevel orders nodes by ascending level, keeping construction order
// between nodes of the same level.
func SortByLevel(nodes []*Node) []*Node {
	sorted := make([]*Node, len(nodes))
	copy(sorted, nodes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Level() < sorted[j].Level()
	})
	return sorted
}

// AddParent sets parent as the owner of every node in nodes.
func AddParent(parent *Node, nodes ...*Node) {
	for _, n := range nodes {
		n.SetParent(parent)
	}
}

// Submit hands every node and user metric to r, nodes first in level order.
func Submit(r Runner, nodes []*Node, user []*UserMetric) {
	for _, n := range SortByLevel(nodes) {
		r.Run(n)
	}
	for _, m := range user {
		r.Metric(m)
	}
}
