package repository

import "slices"

// DiffCategories computes the pivot changes that turn current into desired.
// Duplicates in desired are ignored; both results are sorted.
func DiffCategories(current, desired []int64) (attach, detach []int64) {
	have := make(map[int64]struct{}, len(current))
	for _, id := range current {
		have[id] = struct{}{}
	}
	want := make(map[int64]struct{}, len(desired))
	for _, id := range desired {
		if _, dup := want[id]; dup {
			continue
		}
		want[id] = struct{}{}
		if _, ok := have[id]; !ok {
			attach = append(attach, id)
		}
	}
	for id := range have {
		if _, ok := want[id]; !ok {
			detach = append(detach, id)
		}
	}
	slices.Sort(attach)
	slices.Sort(detach)
	return attach, detach
}

// UniqueIDs returns ids without duplicates, preserving first occurrence order.
func UniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
