package glyphatlas

// rowID addresses a row within one slice's row arena. Rows are referenced by
// id, never by pointer, so the recency list, the height index and the
// positional links all stay valid while the arena grows.
type rowID int32

// invalidRow is the nil value for row references.
const invalidRow rowID = -1

// row is one horizontal strip of an atlas slice. Entries pack left to right
// at the row's current edge and are never reshuffled; the only way space
// comes back is evicting the whole row.
type row struct {
	// y is the vertical position of the row within its slice.
	y int

	// height is the row height, always a multiple of the allocator
	// granularity. It never decreases while the row holds entries.
	height int

	// used is the consumed width at the left edge.
	used int

	// keys lists the cache keys packed into this row, in packing order.
	keys []GlyphKey

	// lastUsed is the cache cycle counter value at the last lookup or
	// reservation touching this row. A row with lastUsed equal to the
	// current counter is exempt from eviction for the rest of the cycle.
	lastUsed uint64

	// citedBy holds the ids of every LayoutBuffer currently citing an
	// entry in this row. Allocated lazily.
	citedBy map[uint64]struct{}

	// prev and next link the row into the slice's recency list.
	// The head is the least recently used end.
	prev, next rowID

	// above and below link the row to its vertical neighbors, used when
	// splitting and merging empty rows.
	above, below rowID

	// live marks arena slots that are in use (false for free-listed slots).
	live bool
}

// empty reports whether the row holds no entries.
func (r *row) empty() bool { return len(r.keys) == 0 }

// remaining returns the unconsumed width, given the slice width.
func (r *row) remaining(width int) int { return width - r.used }

// rowAllocator manages the rows of a single atlas slice. It is owned by
// GlyphCache and has no locking of its own.
type rowAllocator struct {
	width       int
	height      int
	granularity int

	// rows is the arena; a rowID indexes into it.
	rows []row

	// free lists arena slots available for reuse.
	free []rowID

	// top is the row at y = 0.
	top rowID

	// lruHead and lruTail delimit the recency list. Head is the least
	// recently used row, tail the most recently used.
	lruHead, lruTail rowID

	// byHeight indexes live rows by their (granularity-rounded) height.
	byHeight map[int][]rowID
}

// newRowAllocator creates an allocator covering a width x height slice with
// a single empty row spanning the full height.
func newRowAllocator(width, height, granularity int) *rowAllocator {
	a := &rowAllocator{
		width:       width,
		height:      height,
		granularity: granularity,
		byHeight:    make(map[int][]rowID),
	}
	a.reset()
	return a
}

// reset drops all rows and reinstates one empty row covering the slice.
func (a *rowAllocator) reset() {
	a.rows = a.rows[:0]
	a.free = a.free[:0]
	a.lruHead, a.lruTail = invalidRow, invalidRow
	clear(a.byHeight)

	id := a.allocRow()
	r := &a.rows[id]
	r.y = 0
	r.height = a.height
	a.top = id
	a.indexAdd(id)
	a.lruPushFront(id)
}

// roundHeight rounds h up to the allocator granularity.
func (a *rowAllocator) roundHeight(h int) int {
	g := a.granularity
	return (h + g - 1) / g * g
}

// allocRow takes a slot from the free list or grows the arena, and returns
// a zeroed live row.
func (a *rowAllocator) allocRow() rowID {
	var id rowID
	if n := len(a.free); n > 0 {
		id = a.free[n-1]
		a.free = a.free[:n-1]
		a.rows[id] = row{}
	} else {
		a.rows = append(a.rows, row{})
		id = rowID(len(a.rows) - 1)
	}
	r := &a.rows[id]
	r.prev, r.next = invalidRow, invalidRow
	r.above, r.below = invalidRow, invalidRow
	r.live = true
	return id
}

// freeRow returns an arena slot to the free list. The caller must already
// have unlinked the row from every index.
func (a *rowAllocator) freeRow(id rowID) {
	a.rows[id].live = false
	a.rows[id].keys = nil
	a.rows[id].citedBy = nil
	a.free = append(a.free, id)
}

// findRow locates a row that can hold a width x height rectangle. The
// height is rounded up to the granularity, and the height index is scanned
// upward for the first bucket containing a row with enough remaining width.
// A matching empty row that is taller than needed is split so the remainder
// stays allocatable. Returns false if no row fits.
func (a *rowAllocator) findRow(width, height int) (rowID, bool) {
	if width > a.width || height <= 0 || width <= 0 {
		return invalidRow, false
	}
	h := a.roundHeight(height)
	if h > a.height {
		return invalidRow, false
	}

	for hh := h; hh <= a.height; hh += a.granularity {
		best := invalidRow
		for _, id := range a.byHeight[hh] {
			r := &a.rows[id]
			if r.remaining(a.width) < width {
				continue
			}
			// Prefer the topmost fitting row for deterministic packing.
			if best == invalidRow || r.y < a.rows[best].y {
				best = id
			}
		}
		if best == invalidRow {
			continue
		}
		if a.rows[best].empty() && a.rows[best].height-h >= a.granularity {
			a.split(best, h)
		}
		return best, true
	}
	return invalidRow, false
}

// split shrinks an empty row to height h and inserts a new empty row
// directly below it covering the remainder. If the row below the remainder
// is also empty, the two are merged to limit fragmentation.
func (a *rowAllocator) split(id rowID, h int) {
	remainder := a.rows[id].height - h

	a.indexRemove(id)
	a.rows[id].height = h
	a.indexAdd(id)

	nid := a.allocRow()
	// The arena may have been reallocated by allocRow; re-take pointers.
	r := &a.rows[id]
	n := &a.rows[nid]
	n.y = r.y + h
	n.height = remainder

	// Link the remainder between id and its old below-neighbor.
	n.above = id
	n.below = r.below
	if r.below != invalidRow {
		a.rows[r.below].above = nid
	}
	r.below = nid

	// Merge with empty neighbors below.
	for a.rows[nid].below != invalidRow && a.rows[a.rows[nid].below].live && a.rows[a.rows[nid].below].empty() {
		bid := a.rows[nid].below
		a.indexRemove(bid)
		a.lruRemove(bid)
		a.rows[nid].height += a.rows[bid].height
		a.rows[nid].below = a.rows[bid].below
		if a.rows[bid].below != invalidRow {
			a.rows[a.rows[bid].below].above = nid
		}
		a.freeRow(bid)
	}

	a.indexAdd(nid)
	a.lruPushFront(nid)
}

// reserve appends an entry at the row's right edge and returns its x
// offset. The caller must have checked the fit via findRow.
func (a *rowAllocator) reserve(id rowID, key GlyphKey, width int) int {
	r := &a.rows[id]
	x := r.used
	r.used += width
	r.keys = append(r.keys, key)
	return x
}

// markUsed stamps the row with the current cycle counter and moves it to
// the most-recently-used end of the recency list.
func (a *rowAllocator) markUsed(id rowID, counter uint64) {
	a.rows[id].lastUsed = counter
	a.lruMoveToBack(id)
}

// evict clears all entries from a row, returning the evicted keys and the
// ids of the layout buffers that cited the row. The row keeps its position
// and height and becomes immediately reusable at full width.
func (a *rowAllocator) evict(id rowID) (keys []GlyphKey, citedBy map[uint64]struct{}) {
	r := &a.rows[id]
	keys = r.keys
	citedBy = r.citedBy
	r.keys = nil
	r.citedBy = nil
	r.used = 0
	return keys, citedBy
}

// cite records that the buffer with the given id depends on this row.
func (a *rowAllocator) cite(id rowID, bufferID uint64) {
	r := &a.rows[id]
	if r.citedBy == nil {
		r.citedBy = make(map[uint64]struct{})
	}
	r.citedBy[bufferID] = struct{}{}
}

// uncite removes a buffer dependency from the row.
func (a *rowAllocator) uncite(id rowID, bufferID uint64) {
	if a.rows[id].citedBy != nil {
		delete(a.rows[id].citedBy, bufferID)
	}
}

// victimFor selects the row to evict to make room for a width x height
// rectangle. Among rows that are not empty, not used this cycle and tall
// enough, it picks the smallest sufficient height; ties go to the least
// recently used row. Returns false if nothing can be evicted.
func (a *rowAllocator) victimFor(width, height int, counter uint64) (rowID, bool) {
	if width > a.width {
		return invalidRow, false
	}
	h := a.roundHeight(height)
	best := invalidRow
	for id := a.lruHead; id != invalidRow; id = a.rows[id].next {
		r := &a.rows[id]
		if r.empty() || r.lastUsed == counter || r.height < h {
			continue
		}
		// Walking from the LRU head, the first row seen at any given
		// height is the least recently used one, so only a strictly
		// smaller height replaces the current candidate.
		if best == invalidRow || r.height < a.rows[best].height {
			best = id
		}
	}
	return best, best != invalidRow
}

// indexAdd inserts the row into the height index.
func (a *rowAllocator) indexAdd(id rowID) {
	h := a.rows[id].height
	a.byHeight[h] = append(a.byHeight[h], id)
}

// indexRemove deletes the row from the height index.
func (a *rowAllocator) indexRemove(id rowID) {
	h := a.rows[id].height
	bucket := a.byHeight[h]
	for i, b := range bucket {
		if b == id {
			bucket[i] = bucket[len(bucket)-1]
			a.byHeight[h] = bucket[:len(bucket)-1]
			return
		}
	}
}

// lruPushFront inserts the row at the least-recently-used end.
func (a *rowAllocator) lruPushFront(id rowID) {
	r := &a.rows[id]
	r.prev = invalidRow
	r.next = a.lruHead
	if a.lruHead != invalidRow {
		a.rows[a.lruHead].prev = id
	}
	a.lruHead = id
	if a.lruTail == invalidRow {
		a.lruTail = id
	}
}

// lruPushBack inserts the row at the most-recently-used end.
func (a *rowAllocator) lruPushBack(id rowID) {
	r := &a.rows[id]
	r.next = invalidRow
	r.prev = a.lruTail
	if a.lruTail != invalidRow {
		a.rows[a.lruTail].next = id
	}
	a.lruTail = id
	if a.lruHead == invalidRow {
		a.lruHead = id
	}
}

// lruRemove unlinks the row from the recency list.
func (a *rowAllocator) lruRemove(id rowID) {
	r := &a.rows[id]
	if r.prev != invalidRow {
		a.rows[r.prev].next = r.next
	} else if a.lruHead == id {
		a.lruHead = r.next
	}
	if r.next != invalidRow {
		a.rows[r.next].prev = r.prev
	} else if a.lruTail == id {
		a.lruTail = r.prev
	}
	r.prev, r.next = invalidRow, invalidRow
}

// lruMoveToBack moves the row to the most-recently-used end.
func (a *rowAllocator) lruMoveToBack(id rowID) {
	if a.lruTail == id {
		return
	}
	a.lruRemove(id)
	a.lruPushBack(id)
}
