package splat

import "slices"

// ranksAbove orders primitives for budget selection: higher opacity first,
// NaN below every number, and the lower original index on ties. This is a
// strict total order, so the selected set is unique for a given input.
func ranksAbove(op []float32, a, b int) bool {
	x, y := op[a], op[b]
	xNaN, yNaN := x != x, y != y
	switch {
	case xNaN != yNaN:
		return yNaN
	case !xNaN && x != y:
		return x > y
	}
	return a < b
}

// selectTopK returns the indices of the k highest-ranked primitives in
// ascending index order. It partitions around median-of-three pivots
// (quickselect) rather than sorting all n opacities; only the k survivors
// are sorted. Requires 0 < k < len(op).
func selectTopK(op []float32, k int) []int {
	idx := make([]int, len(op))
	for i := range idx {
		idx[i] = i
	}

	lo, hi := 0, len(idx)-1
	for lo < hi {
		p := partition(op, idx, lo, hi)
		switch {
		case p == k:
			lo = hi
		case p < k:
			lo = p + 1
		default:
			hi = p - 1
		}
	}

	kept := make([]int, k)
	copy(kept, idx[:k])
	slices.Sort(kept)
	return kept
}

// partition places a median-of-three pivot at its final rank within
// idx[lo:hi+1] and returns that position. Everything left of it ranks above.
func partition(op []float32, idx []int, lo, hi int) int {
	mid := lo + (hi-lo)/2
	if ranksAbove(op, idx[mid], idx[lo]) {
		idx[lo], idx[mid] = idx[mid], idx[lo]
	}
	if ranksAbove(op, idx[hi], idx[lo]) {
		idx[lo], idx[hi] = idx[hi], idx[lo]
	}
	if ranksAbove(op, idx[hi], idx[mid]) {
		idx[mid], idx[hi] = idx[hi], idx[mid]
	}
	idx[mid], idx[hi] = idx[hi], idx[mid]

	pivot := idx[hi]
	store := lo
	for i := lo; i < hi; i++ {
		if ranksAbove(op, idx[i], pivot) {
			idx[store], idx[i] = idx[i], idx[store]
			store++
		}
	}
	idx[store], idx[hi] = idx[hi], idx[store]
	return store
}
