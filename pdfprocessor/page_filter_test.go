package pdfprocessor

import (
	"reflect"
	"testing"
)

func TestPageFilter(t *testing.T) {
	paths := []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8"}

	tests := []struct {
		name   string
		filter PageFilter
		want   []string
	}{
		{"no filter", PageFilter{}, paths},
		{"skip cover", PageFilter{SkipCover: 2}, []string{"p3", "p4", "p5", "p6", "p7", "p8"}},
		{"skip back", PageFilter{SkipBack: 1}, []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7"}},
		{"both", PageFilter{SkipCover: 1, SkipBack: 2}, []string{"p2", "p3", "p4", "p5", "p6"}},
		{"clamped", PageFilter{SkipCover: 10, SkipBack: 10}, []string{"p5", "p6"}},
		{"negative ignored", PageFilter{SkipCover: -3}, paths},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Apply(paths); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Apply() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPageFilterShortDocument(t *testing.T) {
	got := PageFilter{SkipCover: 4, SkipBack: 2}.Apply([]string{"a", "b", "c"})
	if len(got) != 0 {
		t.Errorf("Apply() = %v, want nothing left", got)
	}
}
