// Package idset provides an insertion-ordered string set.
//
// Candidate item IDs flow through the pipeline as ordered collections where
// the first occurrence of a duplicate wins. Archive files, retry queues, and
// backfill windows all rely on that dedup rule, so it lives in one type
// instead of ad hoc slice/map pairs.
package idset

// Set is an insertion-ordered set of item IDs. The zero value is ready to use.
// Add keeps the first occurrence of a duplicate and ignores the rest.
type Set struct {
	ids  []string
	seen map[string]struct{}
}

// New returns a set seeded with the provided IDs in order.
func New(ids ...string) *Set {
	s := &Set{}
	s.Add(ids...)
	return s
}

// Add appends each ID that has not been seen before, preserving order.
// It reports whether at least one ID was newly added.
func (s *Set) Add(ids ...string) bool {
	if s.seen == nil {
		s.seen = make(map[string]struct{}, len(ids))
	}
	added := false
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.seen[id]; ok {
			continue
		}
		s.seen[id] = struct{}{}
		s.ids = append(s.ids, id)
		added = true
	}
	return added
}

// Contains reports whether id is a member.
func (s *Set) Contains(id string) bool {
	if s == nil || s.seen == nil {
		return false
	}
	_, ok := s.seen[id]
	return ok
}

// Len returns the number of members.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// IDs returns the members in insertion order. The caller owns the slice.
func (s *Set) IDs() []string {
	if s == nil || len(s.ids) == 0 {
		return nil
	}
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Diff returns the members of s that are not members of other, in order.
func (s *Set) Diff(other *Set) []string {
	if s == nil {
		return nil
	}
	var out []string
	for _, id := range s.ids {
		if !other.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}

// Diff returns the ids not present in other, in order, with duplicates
// collapsed to their first occurrence.
func Diff(ids []string, other *Set) []string {
	return New(ids...).Diff(other)
}
