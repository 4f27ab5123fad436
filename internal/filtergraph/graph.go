package filtergraph

import (
	"fmt"
	"strings"
)

// Arg is one filter option. Order matters for deterministic serialization,
// so nodes carry a slice instead of a map.
type Arg struct {
	Key   string
	Value string
}

// Node is a single filter instance with named input and output pads.
// A node with no inputs is a source filter (anoisesrc and friends).
type Node struct {
	Filter  string
	Args    []Arg
	Inputs  []string
	Outputs []string
}

// Graph is an ordered filter DAG. Nodes may only consume pads produced by
// earlier nodes or declared as external sources, so the node order is a
// valid topological order by construction.
type Graph struct {
	sources []string
	nodes   []Node
}

// New creates a graph whose external input pads are sources
// (typically "0:v" and "0:a").
func New(sources ...string) *Graph {
	return &Graph{sources: sources}
}

// Add appends a node. Validation is deferred to Validate so builders can
// assemble freely.
func (g *Graph) Add(filter string, args []Arg, inputs []string, outputs []string) {
	g.nodes = append(g.nodes, Node{Filter: filter, Args: args, Inputs: inputs, Outputs: outputs})
}

// Chain appends a single-input single-output node, a convenience for the
// common linear stretches.
func (g *Graph) Chain(filter string, args []Arg, in, out string) {
	g.Add(filter, args, []string{in}, []string{out})
}

// Nodes returns the node list in insertion order.
func (g *Graph) Nodes() []Node {
	return g.nodes
}

// Validate checks structural soundness: every input pad must be produced by
// an earlier node or be a declared source, every pad is consumed at most
// once, and no output label is produced twice. Terminal pads (produced,
// never consumed) are the graph outputs.
func (g *Graph) Validate() error {
	available := make(map[string]bool, len(g.sources))
	produced := make(map[string]bool, len(g.sources))
	for _, s := range g.sources {
		available[s] = true
		produced[s] = true
	}
	for i, n := range g.nodes {
		for _, in := range n.Inputs {
			if !produced[in] {
				return fmt.Errorf("node %d (%s): input pad [%s] is not produced by any earlier node", i, n.Filter, in)
			}
			if !available[in] {
				return fmt.Errorf("node %d (%s): input pad [%s] is already consumed", i, n.Filter, in)
			}
			available[in] = false
		}
		for _, out := range n.Outputs {
			if produced[out] {
				return fmt.Errorf("node %d (%s): duplicate output pad [%s]", i, n.Filter, out)
			}
			produced[out] = true
			available[out] = true
		}
	}
	return nil
}

// Terminals returns the pads produced but never consumed, in production
// order. These are the pads to map on the ffmpeg command line.
func (g *Graph) Terminals() []string {
	consumed := make(map[string]bool)
	for _, n := range g.nodes {
		for _, in := range n.Inputs {
			consumed[in] = true
		}
	}
	var out []string
	for _, n := range g.nodes {
		for _, o := range n.Outputs {
			if !consumed[o] {
				out = append(out, o)
			}
		}
	}
	return out
}

// FilterComplex serializes the graph to the ffmpeg -filter_complex syntax.
// Only the media engine calls this; everything upstream works on the
// structured form.
func (g *Graph) FilterComplex() string {
	parts := make([]string, 0, len(g.nodes))
	for _, n := range g.nodes {
		var b strings.Builder
		for _, in := range n.Inputs {
			b.WriteString("[" + in + "]")
		}
		b.WriteString(n.Filter)
		for i, a := range n.Args {
			if i == 0 {
				b.WriteString("=")
			} else {
				b.WriteString(":")
			}
			if a.Key != "" {
				b.WriteString(a.Key + "=")
			}
			b.WriteString(a.Value)
		}
		for _, out := range n.Outputs {
			b.WriteString("[" + out + "]")
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, ";")
}
