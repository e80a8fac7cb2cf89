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
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Profile is the metric table of one microarchitecture.
type Profile struct {
	Name          string
	Description   string
	Version       string
	PipelineWidth int
	// SetSMT switches how thread clocks are normalised to core clocks.
	// It must be called before Setup.
	SetSMT func(enabled bool)
	// Setup builds the node graph and submits it to the runner.
	Setup func(r Runner)
}

var (
	profilesMu sync.RWMutex
	profiles   = make(map[string]Profile)
)

// Register makes a profile available by name. It panics on duplicate
// names.
func Register(p Profile) {
	profilesMu.Lock()
	defer profilesMu.Unlock()

	if _, isPresent := profiles[p.Name]; isPresent {
		panic(fmt.Sprintf("topdown: profile %s registered twice", p.Name))
	}
	profiles[p.Name] = p
}

// Lookup returns the profile registered under name.
func Lookup(name string) (Profile, error) {
	profilesMu.RLock()
	defer profilesMu.RUnlock()

	p, isPresent := profiles[name]
	if !isPresent {
		return Profile{}, errors.Errorf("profile %q does not exist", name)
	}
	return p, nil
}

// Profiles returns the registered profile names in sorted order.
func Profiles() []string {
	profilesMu.RLock()
	defer profilesMu.RUnlock()

	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
