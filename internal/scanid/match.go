package scanid

import "slices"

// Match reports whether a and b name the same scan session: same
// convention, phantom flag and identity fields, compared on normalized
// values. Listing FieldTimepoint and FieldSession in ignore groups repeat
// scans of one subject. File name fields never take part.
func Match(a, b Identifier, ignore ...Field) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	if a.phantom != b.phantom {
		return false
	}
	if a.convention != b.convention && !slices.Contains(ignore, FieldConvention) {
		return false
	}
	return a.equalOn(b, identityFields, ignore)
}

// Group partitions ids into classes of matching identifiers. Groups and
// their members keep first-appearance order.
func Group(ids []Identifier, ignore ...Field) [][]Identifier {
	var groups [][]Identifier
next:
	for _, id := range ids {
		for i, g := range groups {
			if Match(g[0], id, ignore...) {
				groups[i] = append(groups[i], id)
				continue next
			}
		}
		groups = append(groups, []Identifier{id})
	}
	return groups
}
