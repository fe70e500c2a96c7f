package pdfprocessor

// Page filter limits.
const (
	MaxCoverPages = 4
	MaxBackPages  = 2
)

// PageFilter drops leading cover pages and trailing back pages before
// analysis. Counts above the limits are clamped.
type PageFilter struct {
	SkipCover int
	SkipBack  int
}

// Normalized clamps the counts to [0, max].
func (f PageFilter) Normalized() PageFilter {
	return PageFilter{
		SkipCover: clamp(f.SkipCover, MaxCoverPages),
		SkipBack:  clamp(f.SkipBack, MaxBackPages),
	}
}

// Indices returns the kept 0-based page indices for a document of total pages.
func (f PageFilter) Indices(total int) []int {
	f = f.Normalized()
	start, end := f.SkipCover, total-f.SkipBack
	if start >= end {
		return nil
	}
	out := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, i)
	}
	return out
}

// Apply returns the paths that survive the filter, in order.
func (f PageFilter) Apply(paths []string) []string {
	idx := f.Indices(len(paths))
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = paths[j]
	}
	return out
}

func clamp(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
