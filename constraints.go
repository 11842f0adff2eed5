// Equality constraint extraction.
//
// A condition built only from eq leaves under and nodes is equivalent to a
// flat field=value map, which a collection can test without walking the
// tree and, when _id is pinned, answer with a single map lookup. Any other
// node kind makes its subtree irreducible. Two different values asserted
// for the same field can never both hold; the field is dropped from the
// map and the caller is told, so it falls back to a full scan instead of
// trusting an incomplete map.
package jsondb

// ExtractEqualityConstraints flattens c into a field=value map. ok is
// false when c contains anything other than eq and and nodes. Fields
// asserted to two different values are omitted from the map.
func ExtractEqualityConstraints(c Condition) (map[string]any, bool) {
	m, _, ok := equalityConstraints(c)
	return m, ok
}

// equalityConstraints is ExtractEqualityConstraints plus the set of
// fields dropped as contradictions anywhere in the tree. A map with
// dropped fields is not a faithful substitute for c.
func equalityConstraints(c Condition) (m map[string]any, dropped map[string]bool, ok bool) {
	switch c.Op() {
	case OpEq:
		return map[string]any{c.field: c.value}, nil, true
	case OpAnd:
		out := make(map[string]any)
		dropped = make(map[string]bool)
		for _, ch := range c.children {
			sub, subDropped, subOK := equalityConstraints(ch)
			if !subOK {
				return nil, nil, false
			}
			for k := range subDropped {
				delete(out, k)
				dropped[k] = true
			}
			for k, v := range sub {
				if dropped[k] {
					continue
				}
				if prev, seen := out[k]; seen {
					if !sameValue(prev, v) {
						delete(out, k)
						dropped[k] = true
					}
					continue
				}
				out[k] = v
			}
		}
		return out, dropped, true
	}
	return nil, nil, false
}

// matchEquality reports whether doc satisfies every pair in m. doc must
// hold normalised values.
func matchEquality(doc map[string]any, m map[string]any) bool {
	for k, want := range m {
		v, ok := doc[k]
		if !ok || !sameValue(v, want) {
			return false
		}
	}
	return true
}
