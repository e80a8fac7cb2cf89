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

package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vhive-serverless/topdown/config"
	"github.com/vhive-serverless/topdown/counters"
	"github.com/vhive-serverless/topdown/plotter"
	"github.com/vhive-serverless/topdown/runner"
	"github.com/vhive-serverless/topdown/topdown"
	_ "github.com/vhive-serverless/topdown/topdown/knl"
	_ "github.com/vhive-serverless/topdown/topdown/skl"
)

func main() {
	debug := flag.Bool("dbg", false, "Enable debug logging")
	configPath := flag.String("config", "", "Path to a JSON config file, defaults are used if empty")
	list := flag.Bool("list", false, "List the available profiles and exit")
	perfFile := flag.String("perfFile", "", "Evaluate an existing perf stat -x output instead of running perf")
	reportFile := flag.String("report", "", "Print the averages of an existing result CSV and exit")

	// Profile
	profileName := flag.String("profile", "", "Metric profile to evaluate")
	smt := flag.Bool("smt", false, "Normalise thread clocks to core clocks for SMT")

	// Perf
	interval := flag.Int("interval", 0, "Perf print interval (ms)")
	duration := flag.Int("duration", 0, "Measurement length (s)")
	perCPU := flag.Bool("percpu", true, "Collect and evaluate every CPU separately")
	warmTime := flag.Float64("warm", 0, "Drop intervals before this time (s)")
	tearDownTime := flag.Float64("teardown", 0, "Drop intervals after this time (s)")

	// Output
	output := flag.String("o", "", "Result CSV file")
	plotDir := flag.String("plot", "", "Render charts into this directory")

	flag.Parse()

	log.SetFormatter(&log.TextFormatter{
		TimestampFormat: time.RFC3339Nano,
		FullTimestamp:   true,
	})
	log.SetOutput(os.Stdout)

	if *list {
		for _, name := range topdown.Profiles() {
			p, _ := topdown.Lookup(name)
			fmt.Printf("%s\t%s\t%s\n", name, p.Version, p.Description)
		}
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*configPath); err != nil {
			log.Fatalf("Failed loading config: %v", err)
		}
	}

	// flags given on the command line override the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "profile":
			cfg.Profile = *profileName
		case "smt":
			cfg.SetSMT(*smt)
		case "interval":
			cfg.Interval = *interval
		case "duration":
			cfg.Duration = *duration
		case "percpu":
			cfg.PerCPU = *perCPU
		case "warm":
			cfg.WarmTime = *warmTime
		case "teardown":
			cfg.TearDownTime = *tearDownTime
		case "o":
			cfg.Output = *output
		case "plot":
			cfg.PlotEnabled = *plotDir != ""
			if cfg.PlotEnabled {
				cfg.PlotDir = *plotDir
			}
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if *debug {
		log.SetLevel(log.DebugLevel)
		log.Debug("Debug logging is enabled")
	} else {
		level, _ := log.ParseLevel(cfg.LogLevel)
		log.SetLevel(level)
	}

	if *reportFile != "" {
		rep, err := runner.ReadCSV(*reportFile, cfg.WarmTime, cfg.TearDownTime)
		if err != nil {
			log.Fatalf("Failed reading %s: %v", *reportFile, err)
		}
		if err := runner.PrintReport(os.Stdout, rep); err != nil {
			log.Fatalf("Failed printing report: %v", err)
		}
		return
	}

	profile, err := topdown.Lookup(cfg.Profile)
	if err != nil {
		log.Fatalf("%v, available profiles: %v", err, topdown.Profiles())
	}
	cfg.ApplyProfile(profile)

	var intervals []counters.Interval
	if *perfFile != "" {
		intervals, err = counters.ReadPerfStat(*perfFile, counters.DefaultSep, cfg.WarmTime, cfg.TearDownTime)
	} else {
		intervals, err = measure(cfg, profile)
	}
	if err != nil {
		log.Fatalf("Failed collecting counters: %v", err)
	}
	log.Infof("Collected %d intervals", len(intervals))

	res, err := runner.Evaluate(profile, intervals)
	if err != nil {
		if res == nil {
			log.Fatalf("Failed evaluating %s: %v", profile.Name, err)
		}
		log.Errorf("Some metrics of %s failed: %v", profile.Name, err)
	}

	if err := report(cfg, res); err != nil {
		log.Fatalf("Failed reporting results: %v", err)
	}
}

// measure runs perf stat for the events the profile reads.
func measure(cfg *config.Config, profile topdown.Profile) ([]counters.Interval, error) {
	events := cfg.Events
	if len(events) == 0 {
		var err error
		if events, err = counters.Discover(profile.Setup); err != nil {
			return nil, err
		}
	}
	log.WithFields(log.Fields{"profile": profile.Name, "events": len(events)}).Info("Starting perf stat")

	perfStat := counters.NewPerfStat(events, cfg.PerfOutput, cfg.Interval, cfg.Duration, cfg.PerCPU)
	if err := perfStat.Run(); err != nil {
		return nil, err
	}

	if cfg.WarmTime > 0 {
		time.Sleep(seconds(cfg.WarmTime))
		perfStat.SetWarmTime()
	}
	if cfg.TearDownTime > 0 {
		time.Sleep(seconds(cfg.TearDownTime - cfg.WarmTime))
		perfStat.SetTearDownTime()
	}

	return perfStat.GetResult()
}

func report(cfg *config.Config, res *runner.Results) error {
	f, err := os.Create(cfg.Output)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := runner.WriteCSV(f, res); err != nil {
		return err
	}
	log.Infof("Results of run %s written to %s", res.RunID, cfg.Output)

	summaries, err := runner.Summarize(res)
	if err != nil {
		return err
	}
	if err := runner.PrintSummary(os.Stdout, summaries); err != nil {
		return err
	}

	if !cfg.PlotEnabled {
		return nil
	}
	if err := os.MkdirAll(cfg.PlotDir, 0755); err != nil {
		return err
	}
	if err := plotter.PlotLineCharts(cfg.PlotDir, res); err != nil {
		return err
	}
	return plotter.PlotStackCharts(cfg.PlotDir, res, plotter.Groups(res))
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
