package camera

import "sort"

// Diff compares a freshly fetched set against the persisted baseline.
//
// added contains cameras whose name appears in current but not in the
// baseline, sorted by name so every subscriber sees the same ordering.
//
// changed is true whenever the two sets differ at all, including
// coordinate-only changes and removals. Removals and coordinate changes
// are never announced to subscribers, but the caller uses changed to
// decide whether the baseline needs rewriting.
//
// Callers must not pass an empty current set; an empty fetch is a
// failure upstream and never reaches the diff.
func Diff(current, baseline Set) (added []Camera, changed bool) {
	for name, c := range current {
		if _, ok := baseline[name]; !ok {
			added = append(added, c)
		}
	}
	sort.Slice(added, func(i, j int) bool { return added[i].Name < added[j].Name })
	return added, !current.Equal(baseline)
}
