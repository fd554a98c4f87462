package graph

import (
	"fmt"
	"strings"
)

// ToDOT generates a DOT format representation of the closure for
// visualization. The output can be rendered with Graphviz tools. Requested
// rules are filled to distinguish them from dependencies pulled in
// transitively.
func (c *Closure) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph BuildGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	inClosure := make(map[int]bool, len(c.order))
	for _, id := range c.order {
		inClosure[id] = true
	}

	for _, id := range c.order {
		r := c.Rule(id)
		label := fmt.Sprintf("%s\\n%s", escapeDOT(r.Name()), escapeDOT(r.PrimaryOutput()))
		if c.requested[id] {
			sb.WriteString(fmt.Sprintf("  \"rule_%d\" [label=\"%s\", fillcolor=\"lightblue\", style=\"filled,rounded\"];\n",
				id, label))
		} else {
			sb.WriteString(fmt.Sprintf("  \"rule_%d\" [label=\"%s\"];\n", id, label))
		}
	}

	sb.WriteString("\n")
	for _, id := range c.order {
		for _, dep := range c.Rule(id).Deps() {
			if !inClosure[dep] {
				continue
			}
			sb.WriteString(fmt.Sprintf("  \"rule_%d\" -> \"rule_%d\";\n", dep, id))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// escapeDOT quotes characters that would break a DOT string literal.
func escapeDOT(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	return strings.ReplaceAll(s, "\"", "\\\"")
}
