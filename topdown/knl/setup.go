package knl

import (
	"github.com/vhive-serverless/topdown/topdown"
)

var (
	frontendBoundDesc = topdown.Desc{
		Level:  1,
		Name:   "Frontend_Bound",
		Domain: "Slots",
		Area:   "FE",
		Description: "This category reflects slots where the Frontend of the " +
			"processor undersupplies its Backend.",
		MetricGroup: []string{"TopDownL1"},
		Server:      true,
	}

	frontendLatencyDesc = topdown.Desc{
		Level:  2,
		Name:   "Frontend_Latency",
		Domain: "Slots",
		Area:   "FE",
		Description: "This metric represents slots fraction the CPU was stalled " +
			"due to Frontend latency issues. For example; instruction-cache " +
			"misses; iTLB misses or fetch stalls after a branch misprediction " +
			"are categorized under Frontend Latency. In such cases; the " +
			"Frontend eventually delivers no uops for some period.",
		MetricGroup: []string{"Frontend_Bound", "TopDownL2"},
		Server:      true,
	}

	badSpeculationDesc = topdown.Desc{
		Level:  1,
		Name:   "Bad_Speculation",
		Domain: "Slots",
		Area:   "BAD",
		Description: "This category represents slots fraction wasted due to " +
			"incorrect speculations. This includes slots used to issue uops " +
			"that do not eventually get retired and slots for which the " +
			"issue-pipeline was blocked due to recovery from earlier incorrect " +
			"speculation. For example; wasted work due to miss-predicted " +
			"branches are categorized under Bad Speculation category. " +
			"Incorrect data speculation followed by Memory Ordering Nukes is " +
			"another example.",
		MetricGroup: []string{"Bad_Speculation", "TopDownL1"},
		Server:      true,
	}

	retiringDesc = topdown.Desc{
		Level:  1,
		Name:   "Retiring",
		Domain: "Slots",
		Area:   "RET",
		Description: "This category represents slots fraction utilized by " +
			"useful work i.e. issued uops that eventually get retired. " +
			"Ideally; all pipeline slots would be attributed to the Retiring " +
			"category. Retiring of 100% would indicate the maximum 4 uops " +
			"retired per cycle has been achieved. Maximizing Retiring " +
			"typically increases the Instruction-Per-Cycle metric. Note that " +
			"a high Retiring value does not necessary mean there is no room " +
			"for more performance. For example; Microcode assists are " +
			"categorized under Retiring. They hurt performance and can often " +
			"be avoided. A high Retiring value for non-vectorized code may be " +
			"a good hint for programmer to consider vectorizing his code.",
		MetricGroup: []string{"TopDownL1"},
		Server:      true,
	}

	backendBoundDesc = topdown.Desc{
		Level:  1,
		Name:   "Backend_Bound",
		Domain: "Slots",
		Area:   "BE",
		Description: "This category represents slots fraction where no uops are " +
			"being delivered due to a lack of required resources for accepting " +
			"new uops in the Backend. Backend is the portion of the processor " +
			"core where the out-of-order scheduler dispatches ready uops into " +
			"their respective execution units; and once completed these uops " +
			"get retired according to program order. For example; stalls due " +
			"to data-cache misses or stalls due to the divider unit being " +
			"overloaded are both categorized under Backend Bound. Backend " +
			"Bound is further divided into two main categories: Memory Bound " +
			"and Core Bound.",
		MetricGroup: []string{"TopDownL1"},
		Server:      true,
	}
)

// Setup builds the Knights Landing metric graph and submits it to r.
func Setup(r topdown.Runner) {
	topdown.Submit(r, Nodes(), topdown.UserMetrics())
}

// Nodes builds and wires the metric graph in construction order.
func Nodes() []*topdown.Node {
	// L1 objects
	backendFormula := &BackendBound{}
	frontend := topdown.NewNode(frontendBoundDesc, FrontendBound{})
	backend := topdown.NewNode(backendBoundDesc, backendFormula)
	badSpeculation := topdown.NewNode(badSpeculationDesc, BadSpeculation{})
	retiring := topdown.NewNode(retiringDesc, Retiring{})

	// L2 objects
	frontendLatency := topdown.NewNode(frontendLatencyDesc, FrontendLatency{})

	topdown.AddParent(frontend, frontendLatency)

	backendFormula.Retiring = retiring
	backendFormula.BadSpeculation = badSpeculation
	backendFormula.FrontendBound = frontend

	return []*topdown.Node{frontend, backend, badSpeculation, retiring, frontendLatency}
}
