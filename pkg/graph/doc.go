// Package graph models the update graph published by the remote graph
// service and resolves the next update candidate for a host.
//
// A graph is a set of Release nodes and directed edges describing permitted
// version transitions. Resolution walks the edges leaving the host's current
// release, filters targets through admissibility checks (barrier flags and
// the host's deterministic rollout wariness) and selects the most recent
// admissible target. A graph instance is never mutated, only replaced
// wholesale by each fetch.
package graph
