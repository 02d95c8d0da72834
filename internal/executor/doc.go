// Package executor implements the eleven node-kind strategies
// described in spec.md §4.3: input, template, agent, merge, judge,
// switch, extract, invoke, foreach, state, output. Each implements the
// Executor interface and is looked up by graph.Kind from the Registry.
package executor
