// Package stack models version stacks: ordered revision histories of a single
// creative asset, keyed by the original ("parent") video id. Index 0 of a
// sequence is the original upload, the last element is the newest revision.
//
// Stacks are persisted as raw JSON and are never trusted as-is. Sanitize and
// Normalize are total functions: malformed input degrades to an empty or
// best-effort Map, it never fails a request.
package stack

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Map is an ordered mapping from a parent video id to that parent's revision
// sequence. Parent insertion order is preserved because Normalize resolves
// cross-stack membership conflicts in favor of the earliest parent, so
// iteration order has to be reproducible.
type Map struct {
	order   []string
	members map[string][]string
}

// Set stores a sequence under parent, keeping the parent's original position
// if it was already present. No validation happens here; callers that handle
// untrusted input go through Sanitize or Normalize instead.
func (m *Map) Set(parent string, seq []string) {
	if m.members == nil {
		m.members = make(map[string][]string)
	}
	if _, exists := m.members[parent]; !exists {
		m.order = append(m.order, parent)
	}
	m.members[parent] = seq
}

// Parents returns parent ids in insertion order.
func (m Map) Parents() []string {
	return m.order
}

// Members returns the sequence stored under parent, or nil.
func (m Map) Members(parent string) []string {
	return m.members[parent]
}

// Len reports the number of stacks.
func (m Map) Len() int {
	return len(m.order)
}

// MarshalJSON renders the map as a JSON object with parents in insertion
// order, suitable for persisting back to the galleries.stacks column.
func (m Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, parent := range m.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(parent)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		seq, err := json.Marshal(m.members[parent])
		if err != nil {
			return nil, err
		}
		buf.Write(seq)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// BuildChildToParent maps every non-parent member id to its owning parent id.
// The result is rebuilt per request and never mutated in place.
func BuildChildToParent(m Map) map[string]string {
	childToParent := make(map[string]string)
	for _, parent := range m.order {
		for _, id := range m.members[parent] {
			if id != parent {
				childToParent[id] = parent
			}
		}
	}
	return childToParent
}

// LatestIDForCard resolves any member id to the newest revision of its stack.
// Unknown ids resolve to themselves, so stale deep links to a superseded
// revision land on the current one instead of a dead end.
func LatestIDForCard(id string, m Map, childToParent map[string]string) string {
	parent := id
	if owner, ok := childToParent[id]; ok {
		parent = owner
	}
	seq := m.members[parent]
	if len(seq) == 0 {
		seq = []string{parent}
	}
	return seq[len(seq)-1]
}

// NextIDInStack returns the member immediately following id in its stack, or
// "" when id is the last member or no sequence resolves for it. When a
// sequence resolves but does not actually contain id (raw data where a parent
// is missing from its own list), the stack head is returned so navigation
// still lands somewhere valid. "Found but last" and "not found" are distinct
// outcomes and must stay that way.
func NextIDInStack(id string, m Map) string {
	parent := id
	if owner, ok := BuildChildToParent(m)[id]; ok {
		parent = owner
	}
	seq := m.members[parent]
	if len(seq) == 0 {
		return ""
	}
	idx := -1
	for i, member := range seq {
		if member == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return seq[0]
	}
	if idx == len(seq)-1 {
		return ""
	}
	return seq[idx+1]
}

// Sanitize rebuilds a Map from raw persisted JSON of unknown shape. It never
// fails: non-object input yields an empty Map, entries that are not
// non-empty-key/array pairs are skipped, members are coerced to trimmed
// strings, empties dropped, duplicates deduped first-wins (within one
// sequence and across the whole map), and the parent id is forced to the
// front of its own sequence.
func Sanitize(raw []byte) Map {
	var m Map
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return m
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return m
	}

	claimed := make(map[string]bool)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return m
		}
		parent, ok := keyTok.(string)
		if !ok {
			return m
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return m
		}

		parent = strings.TrimSpace(parent)
		if parent == "" || claimed[parent] {
			continue
		}

		var items []any
		if err := json.Unmarshal(value, &items); err != nil {
			continue
		}

		ids := cleanMemberIDs(items)
		if len(ids) == 0 {
			continue
		}

		seq := []string{parent}
		claimed[parent] = true
		for _, id := range ids {
			if id == parent || claimed[id] {
				continue
			}
			seq = append(seq, id)
			claimed[id] = true
		}
		m.Set(parent, seq)
	}
	return m
}

func cleanMemberIDs(items []any) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, item := range items {
		var id string
		switch v := item.(type) {
		case string:
			id = v
		case json.Number:
			id = v.String()
		case float64:
			id = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			id = strconv.FormatBool(v)
		default:
			continue
		}
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// Normalize restricts a Map to a share's allow-list. Parents outside the
// allow-list are dropped with their stacks; children are dropped when outside
// the allow-list, self-referencing, or already claimed by an earlier parent.
// The first claim wins globally, in parent insertion order, which upholds the
// one-parent-per-child invariant even when the raw data violates it.
// The result never contains an id outside allowed, and applying Normalize
// twice with the same allow-list is a no-op.
func Normalize(m Map, allowed map[string]bool) Map {
	var out Map
	claimed := make(map[string]bool)
	for _, parent := range m.order {
		if !allowed[parent] || claimed[parent] {
			continue
		}
		seq := []string{parent}
		claimed[parent] = true
		for _, id := range m.members[parent] {
			if id == parent || !allowed[id] || claimed[id] {
				continue
			}
			seq = append(seq, id)
			claimed[id] = true
		}
		out.Set(parent, seq)
	}
	return out
}

// AllowedSet turns a slice of ids into the lookup form Normalize expects.
func AllowedSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
