package allowlist

import (
	"sort"
	"strings"
)

// Target names the hash list a build is checked against. TargetClient is the
// shared baseline list; TargetDev and TargetRelease exist so operators can
// scope approvals per channel without the policy layer hardcoding the split.
const (
	TargetClient  = "client"
	TargetDev     = "dev"
	TargetRelease = "release"
)

// Model is the mutable, operator-facing representation of the approval
// policy. It is what the local file, the remote document, and admin requests
// decode into before being frozen as a Snapshot.
type Model struct {
	ProofTokens []string            `json:"proofTokens,omitempty" yaml:"proofTokens,omitempty"`
	HashLists   map[string][]string `json:"hashLists,omitempty"   yaml:"hashLists,omitempty"`
	MinVersion  string              `json:"minVersion,omitempty"  yaml:"minVersion,omitempty"`
}

// Normalized returns a copy of the model with every list cleaned up: entries
// trimmed, hashes lowercased, empties dropped, duplicates removed, and lists
// sorted for stable views. The receiver is not modified.
func (m Model) Normalized() Model {
	out := Model{
		ProofTokens: normalizeTokens(m.ProofTokens),
		MinVersion:  strings.TrimSpace(m.MinVersion),
	}
	if len(m.HashLists) > 0 {
		out.HashLists = make(map[string][]string, len(m.HashLists))
		for target, hashes := range m.HashLists {
			target = strings.TrimSpace(strings.ToLower(target))
			if target == "" {
				continue
			}
			normalized := normalizeHashes(hashes)
			if len(normalized) == 0 {
				continue
			}
			out.HashLists[target] = normalized
		}
		if len(out.HashLists) == 0 {
			out.HashLists = nil
		}
	}
	return out
}

// Clone returns a deep copy of the model.
func (m Model) Clone() Model {
	out := Model{MinVersion: m.MinVersion}
	if len(m.ProofTokens) > 0 {
		out.ProofTokens = append([]string(nil), m.ProofTokens...)
	}
	if len(m.HashLists) > 0 {
		out.HashLists = make(map[string][]string, len(m.HashLists))
		for target, hashes := range m.HashLists {
			out.HashLists[target] = append([]string(nil), hashes...)
		}
	}
	return out
}

// IsEmpty reports whether the model carries no policy data at all.
func (m Model) IsEmpty() bool {
	return len(m.ProofTokens) == 0 && len(m.HashLists) == 0 && strings.TrimSpace(m.MinVersion) == ""
}

// Merge returns a copy of the model with the incoming model's entries added.
// Lists are unioned; a non-empty incoming MinVersion replaces the current one.
func (m Model) Merge(incoming Model) Model {
	merged := m.Clone()
	merged.ProofTokens = unionTokens(merged.ProofTokens, incoming.ProofTokens)
	if len(incoming.HashLists) > 0 && merged.HashLists == nil {
		merged.HashLists = make(map[string][]string, len(incoming.HashLists))
	}
	for target, hashes := range incoming.HashLists {
		merged.HashLists[target] = unionTokens(merged.HashLists[target], hashes)
	}
	if v := strings.TrimSpace(incoming.MinVersion); v != "" {
		merged.MinVersion = v
	}
	return merged.Normalized()
}

// Remove returns a copy of the model with the incoming model's entries
// removed from the corresponding lists. MinVersion is untouched.
func (m Model) Remove(incoming Model) Model {
	removed := m.Clone()
	removed.ProofTokens = differenceTokens(removed.ProofTokens, incoming.ProofTokens)
	for target, hashes := range incoming.HashLists {
		remaining := differenceTokens(removed.HashLists[target], normalizeHashes(hashes))
		if len(remaining) == 0 {
			delete(removed.HashLists, target)
			continue
		}
		removed.HashLists[target] = remaining
	}
	return removed.Normalized()
}

// WithCurrentHash returns a copy of the model with hash installed on each
// named target. When replaceList is set the hash becomes the sole entry for
// the target; otherwise it is appended to the existing list. When
// clearOthers is set, every hash list not named in targets is dropped in the
// same operation.
func (m Model) WithCurrentHash(hash string, targets []string, replaceList, clearOthers bool) Model {
	hash = strings.ToLower(strings.TrimSpace(hash))
	next := m.Clone()
	if clearOthers {
		next.HashLists = nil
	}
	if next.HashLists == nil {
		next.HashLists = make(map[string][]string, len(targets))
	}
	for _, target := range targets {
		target = strings.TrimSpace(strings.ToLower(target))
		if target == "" {
			continue
		}
		if replaceList {
			next.HashLists[target] = []string{hash}
			continue
		}
		next.HashLists[target] = append(next.HashLists[target], hash)
	}
	return next.Normalized()
}

func normalizeTokens(tokens []string) []string {
	return dedupe(tokens, func(s string) string { return strings.TrimSpace(s) })
}

func normalizeHashes(hashes []string) []string {
	return dedupe(hashes, func(s string) string { return strings.ToLower(strings.TrimSpace(s)) })
}

func dedupe(values []string, canon func(string) string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = canon(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

func unionTokens(current, incoming []string) []string {
	return dedupe(append(append([]string(nil), current...), incoming...), func(s string) string { return strings.TrimSpace(s) })
}

func differenceTokens(current, incoming []string) []string {
	if len(current) == 0 || len(incoming) == 0 {
		return current
	}
	drop := make(map[string]struct{}, len(incoming))
	for _, v := range incoming {
		drop[strings.TrimSpace(v)] = struct{}{}
	}
	out := make([]string, 0, len(current))
	for _, v := range current {
		if _, ok := drop[v]; ok {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
