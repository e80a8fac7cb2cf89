package skl

import (
	"github.com/vhive-serverless/topdown/topdown"
)

// Setup builds the Skylake metric graph and submits it to r.
func Setup(r topdown.Runner) {
	topdown.Submit(r, Nodes(), topdown.UserMetrics())
}

// Nodes builds and wires the metric graph in construction order.
func Nodes() []*topdown.Node {
	var (
		backendF  = &backendBound{}
		bandwidth = &fetchBandwidth{}
		mispredF  = &branchMispredicts{}
		clearsF   = &machineClears{}
	)

	// L1
	frontend := topdown.NewNode(topdown.Desc{
		Level: 1, Name: "Frontend_Bound", Domain: "Slots", Area: "FE",
		Description: "This category represents slots fraction where the " +
			"processor's Frontend undersupplies its Backend.",
		MetricGroup: []string{"TopDownL1"},
	}, frontendBound{})
	bad := topdown.NewNode(topdown.Desc{
		Level: 1, Name: "Bad_Speculation", Domain: "Slots", Area: "BAD",
		Description: "This category represents slots fraction wasted due to " +
			"incorrect speculations.",
		MetricGroup: []string{"TopDownL1"},
	}, badSpeculation{})
	ret := topdown.NewNode(topdown.Desc{
		Level: 1, Name: "Retiring", Domain: "Slots", Area: "RET",
		Description: "This category represents slots fraction utilized by " +
			"useful work i.e. issued uops that eventually get retired.",
		MetricGroup: []string{"TopDownL1"},
	}, retiring{})
	backend := topdown.NewNode(topdown.Desc{
		Level: 1, Name: "Backend_Bound", Domain: "Slots", Area: "BE",
		Description: "This category represents slots fraction where no uops " +
			"are being delivered due to a lack of required resources for " +
			"accepting new uops in the Backend.",
		MetricGroup: []string{"TopDownL1"},
	}, backendF)

	// L2
	latency := topdown.NewNode(topdown.Desc{
		Level: 2, Name: "Fetch_Latency", Domain: "Slots", Area: "FE",
		Description: "This metric represents slots fraction the CPU was " +
			"stalled due to Frontend latency issues.",
		MetricGroup: []string{"Frontend", "TopDownL2"},
	}, fetchLatency{})
	bw := topdown.NewNode(topdown.Desc{
		Level: 2, Name: "Fetch_Bandwidth", Domain: "Slots", Area: "FE",
		Description: "This metric represents slots fraction the CPU was " +
			"stalled due to Frontend bandwidth issues.",
		MetricGroup: []string{"FetchBW", "Frontend", "TopDownL2"},
	}, bandwidth)
	mispred := topdown.NewNode(topdown.Desc{
		Level: 2, Name: "Branch_Mispredicts", Domain: "Slots", Area: "BAD",
		Description: "This metric represents slots fraction the CPU has " +
			"wasted due to Branch Misprediction.",
		MetricGroup: []string{"BadSpec", "BrMispredicts", "TopDownL2"},
	}, mispredF)
	clears := topdown.NewNode(topdown.Desc{
		Level: 2, Name: "Machine_Clears", Domain: "Slots", Area: "BAD",
		Description: "This metric represents slots fraction the CPU has " +
			"wasted due to Machine Clears.",
		MetricGroup: []string{"BadSpec", "MachineClears", "TopDownL2"},
	}, clearsF)

	topdown.AddParent(frontend, latency, bw)
	topdown.AddParent(bad, mispred, clears)

	backendF.frontendBound = frontend
	backendF.badSpeculation = bad
	backendF.retiring = ret
	bandwidth.frontendBound = frontend
	bandwidth.fetchLatency = latency
	mispredF.badSpeculation = bad
	clearsF.badSpeculation = bad
	clearsF.branchMispredicts = mispred

	return []*topdown.Node{frontend, bad, ret, backend, latency, bw, mispred, clears}
}
