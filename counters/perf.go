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

package counters

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultSep is the field separator passed to perf stat -x.
const DefaultSep = "|"

// AllCPUs is the CPU key of an interval collected without -A.
const AllCPUs = "all"

// PerfStat A instance of perf stat command
type PerfStat struct {
	cmd          *exec.Cmd
	tStart       time.Time
	execTime     int
	interval     int
	warmTime     float64
	tearDownTime float64
	outFile      string
	sep          string
}

// NewPerfStat returns a new instance for perf stat counting events system
// wide every interval milliseconds for executionTime seconds.
func NewPerfStat(events []string, outFile string, interval, executionTime int, perCPU bool) *PerfStat {
	perfStat := new(PerfStat)
	perfStat.sep = DefaultSep
	perfStat.outFile = outFile
	perfStat.execTime = executionTime
	perfStat.interval = interval

	lower := make([]string, len(events))
	for i, e := range events {
		lower[i] = strings.ToLower(e)
	}

	perfStat.cmd = exec.Command("perf", "stat", "-a")
	if perCPU {
		perfStat.cmd.Args = append(perfStat.cmd.Args, "-A")
	}
	perfStat.cmd.Args = append(perfStat.cmd.Args,
		"-e", strings.Join(lower, ","),
		"-I", strconv.Itoa(interval),
		"-x", perfStat.sep,
		"-o", perfStat.outFile,
		"--", "sleep", strconv.Itoa(executionTime))
	log.Debugf("Perf command: %s", perfStat.cmd)

	return perfStat
}

// Args returns the perf command line.
func (p *PerfStat) Args() []string {
	return p.cmd.Args
}

// Run checks arguments and starts perf stat
func (p *PerfStat) Run() error {
	if p.execTime < 0 {
		return errors.New("perf execution time is less than 0s")
	}

	if p.interval < 10 {
		return errors.New("perf print interval is less than 10ms")
	}

	if p.interval < 100 {
		log.Warn("print interval < 100ms. The overhead percentage could be high in some cases. Please proceed with caution.")
	}

	if err := p.cmd.Start(); err != nil {
		return errors.Wrap(err, "failed to start perf")
	}
	p.tStart = time.Now()

	return nil
}

// SetWarmTime sets the time duration until system is warm.
func (p *PerfStat) SetWarmTime() {
	p.warmTime = time.Since(p.tStart).Seconds()

	if p.execTime > 0 && p.warmTime > float64(p.execTime) {
		log.Warn("System warmup time is longer than perf execution time.")
	}
}

// SetTearDownTime sets the time duration until system tears down.
func (p *PerfStat) SetTearDownTime() {
	p.tearDownTime = time.Since(p.tStart).Seconds()
}

// GetResult waits for perf to finish and returns the parsed intervals.
func (p *PerfStat) GetResult() ([]Interval, error) {
	if p.tStart.IsZero() {
		return nil, errors.New("perf was not executed, run perf first")
	}

	if err := p.cmd.Wait(); err != nil {
		return nil, errors.Wrap(err, "perf returned error")
	}

	log.Debugf("Warm time: %f, Teardown time: %f", p.warmTime, p.tearDownTime)
	return ReadPerfStat(p.outFile, p.sep, p.warmTime, p.tearDownTime)
}

// ReadPerfStat parses the perf stat output file at path.
func ReadPerfStat(path, sep string, warmTime, tearDownTime float64) ([]Interval, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open perf output %q", path)
	}
	defer file.Close()

	return ParsePerfStat(file, sep, warmTime, tearDownTime)
}

// ParsePerfStat parses interval output of perf stat -x sep -I ms [-A].
// Lines stamped before warmTime are dropped and parsing stops after
// tearDownTime unless it is zero.
func ParsePerfStat(r io.Reader, sep string, warmTime, tearDownTime float64) ([]Interval, error) {
	if sep == "" {
		sep = DefaultSep
	}

	var (
		results   []Interval
		epoch     *Interval
		prevStamp float64
		scanner   = bufio.NewScanner(r)
		lineNum   int
	)

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rec, err := splitLine(line, sep)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNum)
		}

		// omitting warm and tear down period
		if rec.timestamp < warmTime {
			prevStamp = rec.timestamp
			continue
		} else if tearDownTime > 0 && rec.timestamp > tearDownTime {
			break
		}

		if epoch == nil || rec.timestamp != epoch.Timestamp {
			if epoch != nil {
				results = append(results, *epoch)
			}
			epoch = &Interval{
				Timestamp: rec.timestamp,
				Elapsed:   rec.timestamp - prevStamp,
				CPUs:      make(map[string]Sample),
			}
			prevStamp = rec.timestamp
		}

		s, isPresent := epoch.CPUs[rec.cpu]
		if !isPresent {
			s = make(Sample)
			epoch.CPUs[rec.cpu] = s
		}
		s[normalize(rec.event)] += rec.value
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if epoch != nil {
		results = append(results, *epoch)
	}

	return results, nil
}

type perfLine struct {
	timestamp float64
	cpu       string
	value     float64
	event     string
}

func splitLine(line, sep string) (perfLine, error) {
	tokens := strings.Split(line, sep)
	if len(tokens) < 4 {
		return perfLine{}, errors.Errorf("malformed perf line %q", line)
	}

	timestamp, err := strconv.ParseFloat(strings.TrimSpace(tokens[0]), 64)
	if err != nil {
		return perfLine{}, err
	}

	rec := perfLine{timestamp: timestamp, cpu: AllCPUs}
	rest := tokens[1:]
	if strings.HasPrefix(rest[0], "CPU") {
		rec.cpu = rest[0]
		rest = rest[1:]
	}
	if len(rest) < 3 {
		return perfLine{}, errors.Errorf("malformed perf line %q", line)
	}

	// value, unit, event
	rec.event = rest[2]
	valueStr := strings.TrimSpace(rest[0])
	if strings.HasPrefix(valueStr, "<") {
		// <not counted> or <not supported>
		log.Debugf("event %s %s", rec.event, valueStr)
		return rec, nil
	}

	rec.value, err = strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return perfLine{}, err
	}

	return rec, nil
}

func normalize(event string) string {
	return strings.ToUpper(strings.TrimSpace(event))
}
