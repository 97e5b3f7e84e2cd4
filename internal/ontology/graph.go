package ontology

import (
	"sort"

	"ontogen/internal/schema"
	"ontogen/internal/types"
)

// Graph is a directed graph of data types connected by tools. At most one
// tool exists per ordered (input, output) pair.
//
// Graph does no locking. Callers must serialize AddType, AddTool, RemoveTool,
// Restore and Load against concurrent readers.
type Graph struct {
	nodes map[string]DataType
	out   map[string]map[string]Tool
	in    map[string]map[string]struct{}
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]DataType),
		out:   make(map[string]map[string]Tool),
		in:    make(map[string]map[string]struct{}),
	}
}

// AddType registers or overwrites a node. The schema is not checked here, but
// it is stored in its JSON-decoded shape so a saved graph loads back equal.
func (g *Graph) AddType(name string, s schema.Schema) {
	g.nodes[name] = DataType{Name: name, Schema: schema.Normalize(s)}
}

// AddTool registers the edge (tool.InputType, tool.OutputType), replacing any
// tool already on that pair. Both endpoints must be registered.
func (g *Graph) AddTool(tool Tool) error {
	if _, ok := g.nodes[tool.InputType]; !ok {
		return types.Errorf(types.KindGraphLookup, "tool %q: input type %q is not registered", tool.Name, tool.InputType)
	}
	if _, ok := g.nodes[tool.OutputType]; !ok {
		return types.Errorf(types.KindGraphLookup, "tool %q: output type %q is not registered", tool.Name, tool.OutputType)
	}
	if g.out[tool.InputType] == nil {
		g.out[tool.InputType] = make(map[string]Tool)
	}
	if g.in[tool.OutputType] == nil {
		g.in[tool.OutputType] = make(map[string]struct{})
	}
	g.out[tool.InputType][tool.OutputType] = tool
	g.in[tool.OutputType][tool.InputType] = struct{}{}
	return nil
}

// RemoveTool deletes the edge (input, output). It reports whether an edge was removed.
func (g *Graph) RemoveTool(input, output string) bool {
	if _, ok := g.out[input][output]; !ok {
		return false
	}
	delete(g.out[input], output)
	if len(g.out[input]) == 0 {
		delete(g.out, input)
	}
	delete(g.in[output], input)
	if len(g.in[output]) == 0 {
		delete(g.in, output)
	}
	return true
}

// HasType reports whether name is registered.
func (g *Graph) HasType(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// Type returns the registered data type.
func (g *Graph) Type(name string) (DataType, bool) {
	dt, ok := g.nodes[name]
	return dt, ok
}

// Tool returns the tool on the edge (input, output).
func (g *Graph) Tool(input, output string) (Tool, bool) {
	t, ok := g.out[input][output]
	return t, ok
}

// Types returns every data type sorted by name.
func (g *Graph) Types() []DataType {
	out := make([]DataType, 0, len(g.nodes))
	for _, dt := range g.nodes {
		out = append(out, dt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Tools returns every tool sorted by (input, output).
func (g *Graph) Tools() []Tool {
	var out []Tool
	for _, src := range sortedKeys(g.out) {
		for _, dst := range sortedKeys(g.out[src]) {
			out = append(out, g.out[src][dst])
		}
	}
	return out
}

// FindPath returns the shortest path from start to end by edge count, as a
// list of type names including both endpoints. It returns nil when either
// type is unregistered or end is unreachable.
func (g *Graph) FindPath(start, end string) []string {
	if !g.HasType(start) || !g.HasType(end) {
		return nil
	}
	if start == end {
		return []string{start}
	}

	prev := map[string]string{start: ""}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range sortedKeys(g.out[cur]) {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == end {
				return walkBack(prev, start, end)
			}
			queue = append(queue, next)
		}
	}
	return nil
}

func walkBack(prev map[string]string, start, end string) []string {
	path := []string{end}
	for cur := end; cur != start; {
		cur = prev[cur]
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Descendants returns every type reachable from name, excluding name itself.
func (g *Graph) Descendants(name string) map[string]struct{} {
	return g.closure(name, func(n string) []string { return sortedKeys(g.out[n]) })
}

// Ancestors returns every type that can reach name, excluding name itself.
func (g *Graph) Ancestors(name string) map[string]struct{} {
	return g.closure(name, func(n string) []string { return sortedKeys(g.in[n]) })
}

func (g *Graph) closure(name string, next func(string) []string) map[string]struct{} {
	seen := make(map[string]struct{})
	if !g.HasType(name) {
		return seen
	}
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range next(cur) {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			queue = append(queue, n)
		}
	}
	delete(seen, name)
	return seen
}

// ForwardReachable is Descendants(start) plus start; empty when start is unregistered.
func (g *Graph) ForwardReachable(start string) []string {
	if !g.HasType(start) {
		return []string{}
	}
	set := g.Descendants(start)
	set[start] = struct{}{}
	return sortedKeys(set)
}

// BackwardRequired is Ancestors(end) plus end; empty when end is unregistered.
func (g *Graph) BackwardRequired(end string) []string {
	if !g.HasType(end) {
		return []string{}
	}
	set := g.Ancestors(end)
	set[end] = struct{}{}
	return sortedKeys(set)
}

// DetectGap reports whether no path connects start to end. When a gap exists
// the forward and backward reachable sets are attached.
func (g *Graph) DetectGap(start, end string) Gap {
	if len(g.FindPath(start, end)) > 0 {
		return Gap{Gap: false}
	}
	return Gap{
		Gap:              true,
		Source:           start,
		Target:           end,
		ForwardReachable: g.ForwardReachable(start),
		BackwardRequired: g.BackwardRequired(end),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
