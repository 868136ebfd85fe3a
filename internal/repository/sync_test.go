package repository

import (
	"slices"
	"testing"
)

func TestDiffCategories(t *testing.T) {
	tests := []struct {
		name       string
		current    []int64
		desired    []int64
		wantAttach []int64
		wantDetach []int64
	}{
		{"empty to set", nil, []int64{3, 1}, []int64{1, 3}, nil},
		{"set to empty", []int64{1, 2}, nil, nil, []int64{1, 2}},
		{"unchanged", []int64{1, 2}, []int64{2, 1}, nil, nil},
		{"mixed", []int64{1, 2, 3}, []int64{2, 4}, []int64{4}, []int64{1, 3}},
		{"duplicates in desired", []int64{1}, []int64{5, 5, 1}, []int64{5}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attach, detach := DiffCategories(tt.current, tt.desired)
			if !slices.Equal(attach, tt.wantAttach) {
				t.Errorf("attach: expected %v, got %v", tt.wantAttach, attach)
			}
			if !slices.Equal(detach, tt.wantDetach) {
				t.Errorf("detach: expected %v, got %v", tt.wantDetach, detach)
			}
		})
	}
}

func TestUniqueIDs(t *testing.T) {
	got := UniqueIDs([]int64{4, 2, 4, 9, 2})
	if !slices.Equal(got, []int64{4, 2, 9}) {
		t.Errorf("expected [4 2 9], got %v", got)
	}
}
