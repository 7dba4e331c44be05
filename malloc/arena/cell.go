package arena

import "unsafe"

// Cell layout. Every allocation is a cell: a 16-byte header followed by the
// payload. Header word 0 holds the physical cell size (16-aligned, low bits
// used as flags); word 1 holds the usable size for allocated cells and the
// owning bin index for free cells. Free cells additionally thread their list
// links through the first 16 payload bytes, which every cell can hold since
// the minimum cell is header plus one quantum.
const (
	// CellHeaderSize precedes every payload.
	CellHeaderSize = 16

	// minCellSize is the smallest legal cell: header plus link space.
	minCellSize = 32

	allocatedBit = 1
	flagMask     = uintptr(15)

	// largeBin marks a free cell parked on the large list.
	largeBin = ^uintptr(0)
)

// Junk fill patterns, applied when the junk option is on.
const (
	junkAlloc = 0xa5
	junkFree  = 0x5a
)

func load(p uintptr) uintptr { return *(*uintptr)(unsafe.Pointer(p)) }
func store(p, v uintptr)     { *(*uintptr)(unsafe.Pointer(p)) = v }

func cellPhys(cell uintptr) uintptr   { return load(cell) &^ flagMask }
func cellAllocated(cell uintptr) bool { return load(cell)&allocatedBit != 0 }
func cellUsable(cell uintptr) uintptr { return load(cell + 8) }
func cellBin(cell uintptr) uintptr    { return load(cell + 8) }
func cellNext(cell uintptr) uintptr   { return load(cell + CellHeaderSize) }
func cellPrev(cell uintptr) uintptr   { return load(cell + CellHeaderSize + 8) }
func setCellNext(cell, next uintptr)  { store(cell+CellHeaderSize, next) }
func setCellPrev(cell, prev uintptr)  { store(cell+CellHeaderSize+8, prev) }

func markAllocated(cell, phys, usable uintptr) {
	store(cell, phys|allocatedBit)
	store(cell+8, usable)
}

func markFree(cell, phys, bin uintptr) {
	store(cell, phys)
	store(cell+8, bin)
}

// payload returns the payload address of a cell.
func payload(cell uintptr) uintptr { return cell + CellHeaderSize }

// cellOf returns the cell address of a payload pointer.
func cellOf(ptr uintptr) uintptr { return ptr - CellHeaderSize }

// UsableSize reports the usable size recorded for an allocated payload.
func UsableSize(ptr uintptr) uintptr {
	return cellUsable(cellOf(ptr))
}

// binHead returns a pointer to the list head the free cell belongs to.
func (a *Arena) binHead(bin uintptr) *uintptr {
	if bin == largeBin {
		return &a.largeHead
	}
	return &a.bins[bin]
}

// pushFree inserts a free cell at the head of its list. The cell's header
// must already be marked free with its bin recorded.
func (a *Arena) pushFree(cell uintptr) {
	head := a.binHead(cellBin(cell))
	setCellNext(cell, *head)
	setCellPrev(cell, 0)
	if *head != 0 {
		setCellPrev(*head, cell)
	}
	*head = cell
}

// unlinkFree removes a free cell from its list.
func (a *Arena) unlinkFree(cell uintptr) {
	next, prev := cellNext(cell), cellPrev(cell)
	if prev == 0 {
		*a.binHead(cellBin(cell)) = next
	} else {
		setCellNext(prev, next)
	}
	if next != 0 {
		setCellPrev(next, prev)
	}
}

// insertFree marks a cell free, bins it by payload size, and pushes it.
func (a *Arena) insertFree(env *Env, cell, phys uintptr) {
	pl := phys - CellHeaderSize
	bin := largeBin
	if pl <= env.Table.SmallMax() {
		bin = uintptr(env.Table.FloorIndex(pl))
	}
	markFree(cell, phys, bin)
	a.pushFree(cell)
}

func fill(ptr, n uintptr, b byte) {
	s := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n)
	for i := range s {
		s[i] = b
	}
}

func clearRange(ptr, n uintptr) {
	clear(unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n))
}
