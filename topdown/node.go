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
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Formula computes the raw ratio of a node at the given level.
type Formula interface {
	Compute(ev EV, level int) (float64, error)
}

// FormulaFunc adapts a plain function to Formula.
type FormulaFunc func(ev EV, level int) (float64, error)

// Compute calls f.
func (f FormulaFunc) Compute(ev EV, level int) (float64, error) {
	return f(ev, level)
}

// Ref is a named collaborator slot of a formula.
type Ref struct {
	Role string
	Node *Node
}

// Referrer is implemented by formulas that read other nodes. Refs lists
// every required role in declaration order, bound or not.
type Referrer interface {
	Refs() []Ref
}

// Desc is the static description of a node.
type Desc struct {
	Level       int
	Name        string
	Domain      string
	Area        string
	Description string
	MetricGroup []string
	Server      bool
}

// Node is one metric of the Top-Down hierarchy.
//
// A node set is not safe for concurrent use.
type Node struct {
	desc    Desc
	formula Formula
	parent  *Node

	state
}

// NewNode returns a node computing f. Nodes with a non-positive level
// are rejected since level 1 is the top of the hierarchy.
func NewNode(desc Desc, f Formula) *Node {
	if desc.Level < 1 {
		panic(fmt.Sprintf("metric %s: invalid level %d", desc.Name, desc.Level))
	}
	return &Node{desc: desc, formula: f}
}

// Level returns the hierarchy depth of the node.
func (n *Node) Level() int { return n.desc.Level }

// Name returns the unique metric name.
func (n *Node) Name() string { return n.desc.Name }

// Domain returns the unit label, e.g. "Slots".
func (n *Node) Domain() string { return n.desc.Domain }

// Area returns the short area tag.
func (n *Node) Area() string { return n.desc.Area }

// Description returns the free text description.
func (n *Node) Description() string { return n.desc.Description }

// MetricGroup returns the group tags of the node.
func (n *Node) MetricGroup() []string {
	return append([]string(nil), n.desc.MetricGroup...)
}

// Server reports whether the formula is valid on server parts.
func (n *Node) Server() bool { return n.desc.Server }

// Parent returns the owning node, nil for level 1 nodes.
func (n *Node) Parent() *Node { return n.parent }

// SetParent sets the owning node.
func (n *Node) SetParent(p *Node) { n.parent = p }

// RequiredRefs returns the roles the node needs bound before computing.
func (n *Node) RequiredRefs() []string {
	r, ok := n.formula.(Referrer)
	if !ok {
		return nil
	}
	var roles []string
	for _, ref := range r.Refs() {
		roles = append(roles, ref.Role)
	}
	return roles
}

// Compute evaluates the node with ev. A zero division is recorded on the
// node and reported as a zero value; every other error is returned.
func (n *Node) Compute(ev EV) (float64, error) {
	if n.formula == nil {
		return 0, errors.Wrapf(ErrNotImplemented, "metric %s", n.desc.Name)
	}
	if err := checkRefs(n); err != nil {
		return 0, err
	}

	val, err := n.formula.Compute(ev, n.desc.Level)
	if err := n.record(n.desc.Name, val, err); err != nil {
		return 0, err
	}
	return n.val, nil
}

func checkRefs(n *Node) error {
	r, ok := n.formula.(Referrer)
	if !ok {
		return nil
	}

	var missing []string
	for _, ref := range r.Refs() {
		if ref.Node == nil {
			missing = append(missing, ref.Role)
		}
	}
	if len(missing) > 0 {
		return errors.Wrapf(ErrMissingReferences, "metric %s: %s", n.desc.Name, strings.Join(missing, ", "))
	}
	return nil
}

func (n *Node) String() string {
	return n.desc.Name
}
