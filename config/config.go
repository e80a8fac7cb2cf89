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

package config

import (
	"encoding/json"
	"io/ioutil"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vhive-serverless/topdown/topdown"
)

const (
	defaultConfigPath   = "/etc/topdown/config.json"
	defaultProfile      = "knl"
	defaultLogLevel     = "Info"
	defaultPerCPU       = true
	defaultInterval     = 1000
	defaultDuration     = 10
	defaultOutput       = "topdown.csv"
	defaultPerfOutput   = "perf-stat.txt"
	defaultPlotEnabled  = false
	defaultPlotDir      = "plots"
	defaultWarmTime     = 0
	defaultTearDownTime = 0
)

// Config represents runtime configuration parameters
type Config struct {
	Profile  string `json:"profile"`
	LogLevel string `json:"log_level"`
	// SMTEnabled overrides the SMT setting of the profile when set.
	SMTEnabled *bool `json:"smt_enabled"`
	PerCPU     bool  `json:"per_cpu"`
	// Interval is the perf print interval in milliseconds.
	Interval int `json:"interval_ms"`
	// Duration is the measurement length in seconds.
	Duration     int      `json:"duration_s"`
	Events       []string `json:"events"`
	PerfOutput   string   `json:"perf_output"`
	Output       string   `json:"output"`
	PlotEnabled  bool     `json:"plot_enabled"`
	PlotDir      string   `json:"plot_dir"`
	WarmTime     float64  `json:"warm_time_s"`
	TearDownTime float64  `json:"teardown_time_s"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Profile:      defaultProfile,
		LogLevel:     defaultLogLevel,
		PerCPU:       defaultPerCPU,
		Interval:     defaultInterval,
		Duration:     defaultDuration,
		PerfOutput:   defaultPerfOutput,
		Output:       defaultOutput,
		PlotEnabled:  defaultPlotEnabled,
		PlotDir:      defaultPlotDir,
		WarmTime:     defaultWarmTime,
		TearDownTime: defaultTearDownTime,
	}
}

// LoadConfig loads configuration from JSON file at 'path'
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = defaultConfigPath
	}

	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config from %q", path)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config in %q", path)
	}
	return cfg, nil
}

// SetSMT sets whether SMT normalisation is overridden.
func (c *Config) SetSMT(enabled bool) {
	c.SMTEnabled = &enabled
}

// ApplyProfile hands the SMT override to p. Without an override the
// profile keeps its own setting.
func (c *Config) ApplyProfile(p topdown.Profile) {
	if c.SMTEnabled == nil || p.SetSMT == nil {
		return
	}
	log.Debugf("SMT of profile %s set to %v", p.Name, *c.SMTEnabled)
	p.SetSMT(*c.SMTEnabled)
}

// Validate checks the parameters that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Profile == "" {
		return errors.New("profile is empty")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Interval < 10 {
		return errors.Errorf("interval of %dms is less than 10ms", c.Interval)
	}
	if c.Duration <= 0 {
		return errors.Errorf("duration of %ds is not positive", c.Duration)
	}
	if c.WarmTime < 0 || c.TearDownTime < 0 {
		return errors.New("warm and teardown times must not be negative")
	}
	if c.TearDownTime > 0 && c.TearDownTime <= c.WarmTime {
		return errors.Errorf("teardown time %.2fs is not after warm time %.2fs", c.TearDownTime, c.WarmTime)
	}
	return nil
}
