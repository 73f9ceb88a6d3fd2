package graph

import (
	"strings"
)

// Outcome classifies a resolution pass for logging and metering. Callers
// that only care about "is there a candidate" should check the Candidate
// pointer instead.
type Outcome string

const (
	// OutcomeSelected means a candidate was resolved.
	OutcomeSelected Outcome = "selected"
	// OutcomeNone means no newer release is reachable from the current one.
	OutcomeNone Outcome = "none"
	// OutcomeWithheld means reachable targets exist but every one of them is
	// currently held back by rollout policy or a barrier.
	OutcomeWithheld Outcome = "withheld"
	// OutcomeOffGraph means the current release is not present in the graph.
	OutcomeOffGraph Outcome = "off-graph"
)

// Wariness reports the host's rollout wariness permille for a target
// version. It must be deterministic across calls.
type Wariness func(version string) uint16

// Resolve picks the next update candidate reachable from the current
// version, or nil with a non-selected Outcome.
//
// Only direct successor edges are considered. Targets are admissible when
// they are not barrier-flagged (unless allowBarriers) and the host's
// wariness falls under the target's rollout throttle. Among admissible
// targets the one with the highest age index wins, ties broken by version
// string. The successor scan is bounded by the graph's node count so a
// malformed graph with conflicting edges cannot loop the walk forever.
func Resolve(g *Graph, currentVersion string, wariness Wariness, allowBarriers bool) (*Candidate, Outcome) {
	currentIdx, ok := g.find(currentVersion)
	if !ok {
		return nil, OutcomeOffGraph
	}

	var (
		best     *Release
		bestAge  uint64
		withheld bool
	)
	seen := make(map[int]bool, len(g.Nodes))
	for _, edge := range g.Edges {
		if edge[0] != currentIdx {
			continue
		}
		if edge[1] < 0 || edge[1] >= len(g.Nodes) || edge[1] == currentIdx {
			continue
		}
		if seen[edge[1]] {
			continue
		}
		if len(seen) >= len(g.Nodes) {
			break
		}
		seen[edge[1]] = true
		target := g.Nodes[edge[1]]

		if target.Barrier() && !allowBarriers {
			withheld = true
			continue
		}
		if throttle, throttled := target.RolloutPermille(); throttled {
			if wariness(target.Version) >= throttle {
				withheld = true
				continue
			}
		}

		age := target.AgeIndex()
		switch {
		case best == nil:
		case age < bestAge:
			continue
		case age == bestAge && strings.Compare(target.Version, best.Version) <= 0:
			continue
		}
		picked := target
		best = &picked
		bestAge = age
	}

	if best == nil {
		if withheld {
			return nil, OutcomeWithheld
		}
		return nil, OutcomeNone
	}
	return &Candidate{Release: *best, AgeIndex: bestAge}, OutcomeSelected
}
