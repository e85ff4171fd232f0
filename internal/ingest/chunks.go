// Package ingest turns decoded recordings into QuestDB rows: it splits each
// file's series into chunks, fans them out to a worker pool and folds the
// per-chunk counts into file and job reports.
package ingest

// DefaultChunkSize keeps per-worker memory bounded at a few million rows.
const DefaultChunkSize = 2_000_000

// Range is the half-open index span [Start, End) of one chunk.
type Range struct {
	Index int
	Start int
	End   int
}

func (r Range) Len() int {
	return r.End - r.Start
}

// SplitChunks covers [0, n) with contiguous ranges of at most size elements.
// The last range is shorter when n is not a multiple of size.
func SplitChunks(n, size int) []Range {
	if n <= 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	out := make([]Range, 0, (n+size-1)/size)
	for start, idx := 0, 0; start < n; start, idx = start+size, idx+1 {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, Range{Index: idx, Start: start, End: end})
	}
	return out
}
