package allowlist

import (
	"strings"
	"time"
)

// Source provenance tags recorded on snapshots.
const (
	SourceNone            = "none"
	SourceRuntimeOverride = "runtime-override"
)

// Snapshot is an immutable view of the approval policy at a point in time.
// Updates never mutate a snapshot; the cache replaces the whole value by
// reference, so readers can hold one without synchronization.
type Snapshot struct {
	model       Model
	proofTokens map[string]struct{}
	hashes      map[string]struct{}
	hashTargets map[string]map[string]struct{}
	minVersion  string
	source      string
	refreshedAt time.Time
}

// NewSnapshot freezes a model into a snapshot tagged with its provenance.
// The model is normalized first, so lookups are against trimmed, lowercased
// entries regardless of what the source document contained.
func NewSnapshot(model Model, source string, refreshedAt time.Time) Snapshot {
	normalized := model.Normalized()
	s := Snapshot{
		model:       normalized,
		proofTokens: make(map[string]struct{}, len(normalized.ProofTokens)),
		hashes:      make(map[string]struct{}),
		minVersion:  normalized.MinVersion,
		source:      source,
		refreshedAt: refreshedAt.UTC(),
	}
	if s.minVersion == "" {
		s.minVersion = "0.0.0"
	}
	for _, token := range normalized.ProofTokens {
		s.proofTokens[token] = struct{}{}
	}
	if len(normalized.HashLists) > 0 {
		s.hashTargets = make(map[string]map[string]struct{}, len(normalized.HashLists))
		for target, hashes := range normalized.HashLists {
			set := make(map[string]struct{}, len(hashes))
			for _, hash := range hashes {
				set[hash] = struct{}{}
				s.hashes[hash] = struct{}{}
			}
			s.hashTargets[target] = set
		}
	}
	return s
}

// Deny returns the empty, deny-all snapshot used when no policy source is
// available. Its source tag is "none" so issuance can tell "no policy" apart
// from "policy with no matching entry".
func Deny(refreshedAt time.Time) Snapshot {
	return NewSnapshot(Model{}, SourceNone, refreshedAt)
}

// HasProofToken reports whether the opaque token is in the proof-token set.
// Comparison is case-sensitive.
func (s Snapshot) HasProofToken(token string) bool {
	_, ok := s.proofTokens[strings.TrimSpace(token)]
	return ok
}

// HasHash reports whether the executable hash appears in any hash list.
// Comparison is case-insensitive; stored hashes are lowercase hex.
func (s Snapshot) HasHash(hash string) bool {
	_, ok := s.hashes[strings.ToLower(strings.TrimSpace(hash))]
	return ok
}

// HasHashForTarget reports whether the hash appears in the named target's
// list or in the shared client list. Targets without a dedicated list fall
// back to the client list alone.
func (s Snapshot) HasHashForTarget(target, hash string) bool {
	hash = strings.ToLower(strings.TrimSpace(hash))
	target = strings.TrimSpace(strings.ToLower(target))
	if set, ok := s.hashTargets[target]; ok {
		if _, ok := set[hash]; ok {
			return true
		}
	}
	if set, ok := s.hashTargets[TargetClient]; ok && target != TargetClient {
		if _, ok := set[hash]; ok {
			return true
		}
	}
	return false
}

// MinVersion returns the minimum allowed game version, "0.0.0" when unset.
func (s Snapshot) MinVersion() string {
	if s.minVersion == "" {
		return "0.0.0"
	}
	return s.minVersion
}

// Source returns the provenance tag of the snapshot.
func (s Snapshot) Source() string {
	if s.source == "" {
		return SourceNone
	}
	return s.source
}

// RefreshedAt returns when the snapshot was constructed.
func (s Snapshot) RefreshedAt() time.Time {
	return s.refreshedAt
}

// Age returns how old the snapshot is relative to now.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.refreshedAt)
}

// IsDenyAll reports whether this is the fallback snapshot with no usable
// policy behind it.
func (s Snapshot) IsDenyAll() bool {
	return s.Source() == SourceNone
}

// View returns a copy of the underlying model for read-only presentation.
// Mutating the returned value has no effect on the snapshot.
func (s Snapshot) View() Model {
	return s.model.Clone()
}
