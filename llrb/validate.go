package llrb

import "fmt"

// Stats reports structural statistics gathered by Validate, per spec §4.2.
type Stats struct {
	Count       int64
	BlackHeight int
	MaxDepth    int
	MinDepth    int
	DepthHist   map[int]int64
}

// Validate confirms the LLRB invariants hold: no two consecutive red
// links from root to any leaf, equal black-height on both sides of
// every node, and in-order keys; it returns structural statistics.
func (t *Tree) Validate() (Stats, error) { return validateFrom(t.root) }

// Validate confirms the same invariants hold for this snapshot's view
// of the tree.
func (s *Snapshot) Validate() (Stats, error) { return validateFrom(s.r.node) }

func validateFrom(root *node) (Stats, error) {
	st := Stats{DepthHist: map[int]int64{}}
	var prevSet bool
	var prev *node
	var walk func(n *node, depth int, parentRed bool) (int, error)
	walk = func(n *node, depth int, parentRed bool) (int, error) {
		if n == nil {
			return 0, nil
		}
		if parentRed && isRed(n) {
			return 0, fmt.Errorf("llrb: two consecutive red links at depth %d", depth)
		}
		lh, err := walk(n.left, depth+1, isRed(n))
		if err != nil {
			return 0, err
		}
		if prevSet && prev.entry.Key().Compare(n.entry.Key()) >= 0 {
			return 0, fmt.Errorf("llrb: keys out of order at depth %d", depth)
		}
		prevSet, prev = true, n
		st.Count++
		rh, err := walk(n.right, depth+1, isRed(n))
		if err != nil {
			return 0, err
		}
		if lh != rh {
			return 0, fmt.Errorf("llrb: unequal black-height at depth %d (%d vs %d)", depth, lh, rh)
		}
		if depth > st.MaxDepth {
			st.MaxDepth = depth
		}
		if st.MinDepth == 0 || depth < st.MinDepth {
			st.MinDepth = depth
		}
		st.DepthHist[depth]++
		bh := lh
		if !isRed(n) {
			bh++
		}
		return bh, nil
	}
	bh, err := walk(root, 0, false)
	if err != nil {
		return st, err
	}
	st.BlackHeight = bh
	return st, nil
}
