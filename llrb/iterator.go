package llrb

import "github.com/gholt/lsmkv"

// Iterator walks entries in ascending (or, for Reverse, descending)
// key order using an explicit path stack rather than parent pointers,
// per spec §4.2/§9 ("the LLRB tree is strictly parent->child; range
// iteration carries a path stack").
type Iterator struct {
	stack   []*node
	reverse bool
	lowOK   bool
	low     lsmkv.Key
	lowIncl bool
	highOK  bool
	high    lsmkv.Key
	highIncl bool
}

// Iter returns an ascending iterator over every live entry.
func (t *Tree) Iter() *Iterator { return iterFrom(t.root) }

// Range returns an ascending iterator bounded by low and high, each
// inclusive or exclusive per its flag; a nil bound means unbounded on
// that side.
func (t *Tree) Range(low, high lsmkv.Key, lowIncl, highIncl bool) *Iterator {
	return rangeFrom(t.root, low, high, lowIncl, highIncl)
}

// Reverse returns a descending iterator bounded by low and high, each
// inclusive or exclusive per its flag.
func (t *Tree) Reverse(low, high lsmkv.Key, lowIncl, highIncl bool) *Iterator {
	return reverseFrom(t.root, low, high, lowIncl, highIncl)
}

func iterFrom(root *node) *Iterator {
	it := &Iterator{}
	it.descendLeft(root)
	return it
}

func rangeFrom(root *node, low, high lsmkv.Key, lowIncl, highIncl bool) *Iterator {
	it := &Iterator{
		lowOK: low != nil, low: low, lowIncl: lowIncl,
		highOK: high != nil, high: high, highIncl: highIncl,
	}
	it.descendLeftBounded(root)
	return it
}

func reverseFrom(root *node, low, high lsmkv.Key, lowIncl, highIncl bool) *Iterator {
	it := &Iterator{
		reverse: true,
		lowOK:   low != nil, low: low, lowIncl: lowIncl,
		highOK:  high != nil, high: high, highIncl: highIncl,
	}
	it.descendRightBounded(root)
	return it
}

func (it *Iterator) descendLeft(n *node) {
	for n != nil {
		it.stack = append(it.stack, n)
		n = n.left
	}
}

func (it *Iterator) aboveLow(k lsmkv.Key) bool {
	if !it.lowOK {
		return true
	}
	c := k.Compare(it.low)
	if it.lowIncl {
		return c >= 0
	}
	return c > 0
}

func (it *Iterator) belowHigh(k lsmkv.Key) bool {
	if !it.highOK {
		return true
	}
	c := k.Compare(it.high)
	if it.highIncl {
		return c <= 0
	}
	return c < 0
}

func (it *Iterator) descendLeftBounded(n *node) {
	for n != nil {
		if it.lowOK && n.entry.Key().Compare(it.low) < 0 {
			n = n.right
			continue
		}
		it.stack = append(it.stack, n)
		n = n.left
	}
}

func (it *Iterator) descendRightBounded(n *node) {
	for n != nil {
		if it.highOK {
			c := n.entry.Key().Compare(it.high)
			if c > 0 || (c == 0 && !it.highIncl) {
				n = n.left
				continue
			}
		}
		it.stack = append(it.stack, n)
		n = n.right
	}
}

// Next returns the next entry, or false once the iterator is
// exhausted or the bound range is left.
func (it *Iterator) Next() (*lsmkv.Entry, bool) {
	for len(it.stack) > 0 {
		n := it.stack[len(it.stack)-1]
		it.stack = it.stack[:len(it.stack)-1]
		if it.reverse {
			it.descendRightBounded(n.left)
		} else {
			it.descendLeftBounded(n.right)
		}
		k := n.entry.Key()
		if !it.aboveLow(k) || !it.belowHigh(k) {
			continue
		}
		return n.entry, true
	}
	return nil, false
}
