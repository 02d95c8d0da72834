// Package graph defines the DAG data model: graphs, nodes, edges, and
// the payload value that flows along an edge.
//
// It has no external dependencies, following the shape of the
// dependency-free domain package pattern (plain structs plus a
// Validate() error method, no framework types leaking in).
package graph
