package graph

import (
	"strconv"
)

// Well-known metadata keys on Release nodes.
const (
	// MetadataAgeIndex orders releases by recency; greater is newer.
	MetadataAgeIndex = "io.shepherd.releases.age_index"
	// MetadataBarrier marks a release that must not be crossed without an
	// explicit override.
	MetadataBarrier = "io.shepherd.updates.barrier"
	// MetadataBarrierReason carries the operator-facing reason for a barrier.
	MetadataBarrierReason = "io.shepherd.updates.barrier_reason"
	// MetadataRolloutPermille is the fraction of the fleet (in permille)
	// currently allowed to adopt a release. Absent means fully open.
	MetadataRolloutPermille = "io.shepherd.updates.rollout_permille"
)

// Release is a single node in the update graph.
type Release struct {
	Version  string            `json:"version"`
	Payload  string            `json:"payload,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// AgeIndex reports the release's recency ordering. Releases without a valid
// age index sort oldest.
func (r Release) AgeIndex() uint64 {
	raw, ok := r.Metadata[MetadataAgeIndex]
	if !ok {
		return 0
	}
	age, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return age
}

// Barrier reports whether the release is flagged as an update barrier.
func (r Release) Barrier() bool {
	return r.Metadata[MetadataBarrier] == "true"
}

// BarrierReason returns the operator-facing reason attached to a barrier.
func (r Release) BarrierReason() string {
	return r.Metadata[MetadataBarrierReason]
}

// RolloutPermille reports how much of the fleet may adopt this release. The
// second return is false when the release carries no rollout throttle (or an
// unparsable one), meaning it is fully open.
func (r Release) RolloutPermille() (uint16, bool) {
	raw, ok := r.Metadata[MetadataRolloutPermille]
	if !ok {
		return 0, false
	}
	permille, err := strconv.ParseUint(raw, 10, 16)
	if err != nil || permille > 1000 {
		return 0, false
	}
	return uint16(permille), true
}

// Graph is one wholesale fetch of the update graph. Edges are directed
// [from, to] pairs of node indexes.
type Graph struct {
	Nodes []Release `json:"nodes"`
	Edges [][2]int  `json:"edges"`
}

func (g *Graph) find(version string) (int, bool) {
	for i, node := range g.Nodes {
		if node.Version == version {
			return i, true
		}
	}
	return 0, false
}

// Candidate is a resolved update target together with the resolution
// metadata that justified selecting it. Immutable once produced.
type Candidate struct {
	Release Release `json:"release"`
	// AgeIndex is the target's recency ordering at resolution time.
	AgeIndex uint64 `json:"age_index"`
}

// Version is the candidate's target version string.
func (c Candidate) Version() string {
	return c.Release.Version
}
