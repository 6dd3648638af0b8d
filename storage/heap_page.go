package storage

import (
	"mit.edu/dsg/heapdb/common"
)

// HeapPage Layout:
// header bitmap (ceil(N/8) bytes, bit i = slot i, low-order bit first) | N fixed-width slots
//
// N = floor(PageSize*8 / (tupleSize*8 + 1)): every tuple costs its bytes plus one header bit.
// Unused slots are written as zero bytes. The in-memory form keeps the header bytes and a
// decoded tuple per used slot; PageData re-serializes both.
type HeapPage struct {
	pageMetadata

	pid      common.PageID
	desc     *TupleDesc
	numSlots int
	numUsed  int
	header   []byte
	bitmap   Bitmap
	tuples   []*Tuple
}

// NumHeapPageSlots returns how many tuples of desc fit on one heap page.
func NumHeapPageSlots(desc *TupleDesc) int {
	return (common.PageSize * 8) / (desc.Size()*8 + 1)
}

// HeapPageHeaderSize returns the number of header bytes on a heap page for desc.
func HeapPageHeaderSize(desc *TupleDesc) int {
	return BitmapBytes(NumHeapPageSlots(desc))
}

// EmptyPageData returns the serialized form of a heap page with every slot free.
func EmptyPageData() []byte {
	return make([]byte, common.PageSize)
}

// NewHeapPage decodes a heap page from exactly common.PageSize bytes.
func NewHeapPage(pid common.PageID, data []byte, desc *TupleDesc) (*HeapPage, error) {
	if len(data) != common.PageSize {
		return nil, common.Errorf(common.MalformedPageError, "%s: expected %d bytes, got %d", pid, common.PageSize, len(data))
	}
	numSlots := NumHeapPageSlots(desc)
	headerSize := BitmapBytes(numSlots)
	hp := &HeapPage{
		pid:      pid,
		desc:     desc,
		numSlots: numSlots,
		header:   make([]byte, headerSize),
		tuples:   make([]*Tuple, numSlots),
	}
	copy(hp.header, data[:headerSize])
	hp.bitmap = AsBitmap(hp.header, numSlots)

	rowSize := desc.Size()
	for slot := 0; slot < numSlots; slot++ {
		if !hp.bitmap.LoadBit(slot) {
			continue
		}
		start := headerSize + slot*rowSize
		tup, err := ReadTuple(desc, data[start:start+rowSize])
		if err != nil {
			return nil, common.Errorf(common.MalformedPageError, "%s slot %d: %v", pid, slot, err)
		}
		tup.SetRID(&common.RecordID{PageID: pid, Slot: int32(slot)})
		hp.tuples[slot] = tup
		hp.numUsed++
	}
	return hp, nil
}

func (hp *HeapPage) ID() common.PageID {
	return hp.pid
}

// TupleDesc returns the schema of every tuple on the page.
func (hp *HeapPage) TupleDesc() *TupleDesc {
	return hp.desc
}

// NumSlots returns the fixed slot capacity of the page.
func (hp *HeapPage) NumSlots() int {
	return hp.numSlots
}

// NumEmptySlots returns the number of free slots.
func (hp *HeapPage) NumEmptySlots() int {
	return hp.numSlots - hp.numUsed
}

// IsSlotUsed reports whether slot i holds a tuple. Out-of-range slots are never used.
func (hp *HeapPage) IsSlotUsed(i int) bool {
	if i < 0 || i >= hp.numSlots {
		return false
	}
	return hp.bitmap.LoadBit(i)
}

// InsertTuple places a copy of t in the lowest free slot, binds t's RecordID to that slot, and marks the page
// dirty. The buffer pool attributes the change to a transaction.
func (hp *HeapPage) InsertTuple(t *Tuple) error {
	if !hp.desc.Equals(t.Desc()) {
		return common.Errorf(common.TypeMismatchError, "tuple schema %s does not match page schema %s", t.Desc(), hp.desc)
	}
	if hp.numUsed == hp.numSlots {
		return common.Errorf(common.PageFullError, "%s has no empty slots", hp.pid)
	}
	slot := hp.bitmap.FindFirstZero(0)
	common.Assert(slot != -1, "%s: used count %d disagrees with header", hp.pid, hp.numUsed)

	rid := common.RecordID{PageID: hp.pid, Slot: int32(slot)}
	t.SetRID(&rid)
	hp.tuples[slot] = t.Copy()
	hp.bitmap.SetBit(slot, true)
	hp.numUsed++
	hp.touch()
	return nil
}

// DeleteTuple frees the slot t's RecordID points at and marks the page dirty.
func (hp *HeapPage) DeleteTuple(t *Tuple) error {
	rid := t.RID()
	if rid == nil {
		return common.Errorf(common.TupleNotFoundError, "tuple has no record id")
	}
	if rid.PageID != hp.pid {
		return common.Errorf(common.TupleNotFoundError, "%s is not on %s", rid, hp.pid)
	}
	slot := int(rid.Slot)
	if !hp.IsSlotUsed(slot) {
		return common.Errorf(common.TupleNotFoundError, "%s is not in use", rid)
	}
	hp.bitmap.SetBit(slot, false)
	hp.tuples[slot] = nil
	hp.numUsed--
	hp.touch()
	return nil
}

// Tuple returns a copy of the tuple in slot i, or nil if the slot is free.
func (hp *HeapPage) Tuple(i int) *Tuple {
	if !hp.IsSlotUsed(i) {
		return nil
	}
	return hp.tuples[i].Copy()
}

// PageData writes the header and then every slot; free slots are zero-filled.
func (hp *HeapPage) PageData() ([]byte, error) {
	data := EmptyPageData()
	headerSize := copy(data, hp.header)
	rowSize := hp.desc.Size()
	for slot := 0; slot < hp.numSlots; slot++ {
		if !hp.bitmap.LoadBit(slot) {
			continue
		}
		start := headerSize + slot*rowSize
		hp.tuples[slot].WriteTo(data[start : start+rowSize])
	}
	return data, nil
}

// Iterator returns an iterator over the used slots of the page, in ascending slot order.
func (hp *HeapPage) Iterator() *HeapPageIterator {
	return &HeapPageIterator{page: hp, slot: -1}
}

// HeapPageIterator walks the used slots of a HeapPage. It is lazy, finite, and restartable.
type HeapPageIterator struct {
	page    *HeapPage
	slot    int
	current *Tuple
}

// Next advances to the next used slot. It returns false once every slot has been visited.
func (it *HeapPageIterator) Next() bool {
	for it.slot+1 < it.page.numSlots {
		it.slot++
		if it.page.bitmap.LoadBit(it.slot) {
			it.current = it.page.tuples[it.slot].Copy()
			return true
		}
	}
	it.slot = it.page.numSlots
	it.current = nil
	return false
}

// Current returns the tuple at the current position.
func (it *HeapPageIterator) Current() *Tuple {
	return it.current
}

// Rewind restarts the iterator at the first slot.
func (it *HeapPageIterator) Rewind() {
	it.slot = -1
	it.current = nil
}
