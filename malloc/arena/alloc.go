package arena

import "github.com/joshuapare/mallockit/malloc/chunk"

// Alloc returns the payload address of a cell with exactly usable bytes of
// recorded capacity. usable must be a size-class value at or below the large
// maximum. Returns 0 only when the chunk manager cannot grow the arena.
func (a *Arena) Alloc(env *Env, usable uintptr, zero bool) (uintptr, error) {
	need := CellHeaderSize + usable

	a.mu.Lock()
	cell, err := a.takeCell(env, usable)
	if err != nil {
		a.mu.Unlock()
		return 0, err
	}
	a.carve(env, cell, need, usable)
	a.allocated += uint64(usable)
	a.nmalloc++
	a.mu.Unlock()

	p := payload(cell)
	a.finish(env, p, usable, zero)
	return p, nil
}

// AllocAligned is Alloc with an explicit payload alignment above the
// quantum. The arena over-reserves, splits off the misaligned head as a free
// cell, and returns an aligned payload of exactly usable recorded bytes.
func (a *Arena) AllocAligned(env *Env, usable, align uintptr, zero bool) (uintptr, error) {
	if align <= env.Table.Quantum() {
		return a.Alloc(env, usable, zero)
	}
	need := CellHeaderSize + usable

	a.mu.Lock()
	// Reserve enough that an aligned cell with a legal leading split is
	// guaranteed to fit somewhere inside.
	cell, err := a.takeCell(env, usable+align+minCellSize)
	if err != nil {
		a.mu.Unlock()
		return 0, err
	}
	phys := cellPhys(cell)
	end := cell + phys

	aligned := (payload(cell) + align - 1) &^ (align - 1)
	if aligned != payload(cell) && aligned-CellHeaderSize-cell < minCellSize {
		aligned += align
	}
	if aligned != payload(cell) {
		head := aligned - CellHeaderSize
		a.insertFree(env, cell, head-cell)
		cell = head
		markFree(cell, end-cell, 0) // size only; carve rewrites the rest
	}
	a.carve(env, cell, need, usable)
	a.allocated += uint64(usable)
	a.nmalloc++
	a.mu.Unlock()

	p := payload(cell)
	a.finish(env, p, usable, zero)
	return p, nil
}

// Dalloc releases a payload back to the arena, coalescing forward and
// returning fully empty chunks to the chunk manager.
func (a *Arena) Dalloc(env *Env, ptr uintptr) {
	cell := cellOf(ptr)
	usable := cellUsable(cell)
	if env.Junk {
		fill(ptr, usable, junkFree)
	}

	a.mu.Lock()
	phys := a.coalesce(env, cell, cellPhys(cell))
	a.allocated -= uint64(usable)
	a.ndalloc++

	chunkBase := cell &^ env.Chunks.Mask()
	if cell == chunkBase+headerReserve && phys == env.Chunks.Size()-headerReserve {
		// Last cell standing; the whole chunk is free.
		a.nchunks--
		a.mu.Unlock()
		env.Chunks.Dealloc(chunkBase, env.Chunks.Size())
		return
	}
	a.insertFree(env, cell, phys)
	a.mu.Unlock()
}

// ResizeInPlace tries to change a payload's recorded usable size without
// moving it, growing into the following free cell when possible. Reports
// whether the resize happened; on false the allocation is untouched.
func (a *Arena) ResizeInPlace(env *Env, ptr, usable uintptr, zero bool) bool {
	cell := cellOf(ptr)
	need := CellHeaderSize + usable

	a.mu.Lock()
	phys := cellPhys(cell)
	oldUsable := cellUsable(cell)

	if need > phys {
		// See how far contiguous free cells would take us before
		// committing to any unlinking.
		end := cell + phys
		limit := (cell &^ env.Chunks.Mask()) + env.Chunks.Size()
		avail := phys
		for end < limit && !cellAllocated(end) && avail < need {
			avail += cellPhys(end)
			end = cell + avail
		}
		if avail < need {
			a.mu.Unlock()
			return false
		}
		for phys < need {
			next := cell + phys
			a.unlinkFree(next)
			phys += cellPhys(next)
		}
		markFree(cell, phys, 0)
	}

	a.carve(env, cell, need, usable)
	a.allocated += uint64(usable) - uint64(oldUsable)
	a.mu.Unlock()

	if usable > oldUsable {
		grown := ptr + oldUsable
		if zero {
			clearRange(grown, usable-oldUsable)
		} else if env.Junk {
			fill(grown, usable-oldUsable, junkAlloc)
		}
	}
	return true
}

// headerReserve is the chunk prefix arenas may not carve into.
const headerReserve = chunk.HeaderSize

// takeCell finds a free cell whose payload capacity is at least minPayload,
// unlinks it, and returns it still marked free. Grows the arena by one chunk
// when nothing fits.
func (a *Arena) takeCell(env *Env, minPayload uintptr) (uintptr, error) {
	if minPayload <= env.Table.SmallMax() {
		// Any cell binned at or above the ceiling class is big enough.
		for i := env.Table.ClassIndex(minPayload); i < env.Table.NumSmallClasses(); i++ {
			if cell := a.bins[i]; cell != 0 {
				a.unlinkFree(cell)
				return cell, nil
			}
		}
	}

	// Best fit over the large list.
	var best uintptr
	for cell := a.largeHead; cell != 0; cell = cellNext(cell) {
		pl := cellPhys(cell) - CellHeaderSize
		if pl < minPayload {
			continue
		}
		if best == 0 || cellPhys(cell) < cellPhys(best) {
			best = cell
		}
	}
	if best != 0 {
		a.unlinkFree(best)
		return best, nil
	}

	return a.addChunk(env)
}

// addChunk grows the arena by one chunk and returns it as a single
// just-unlinked free cell.
func (a *Arena) addChunk(env *Env) (uintptr, error) {
	base, err := env.Chunks.Alloc(env.Chunks.Size(), chunk.KindArena, a.ind)
	if err != nil {
		return 0, err
	}
	a.nchunks++
	cell := base + headerReserve
	markFree(cell, env.Chunks.Size()-headerReserve, 0)
	return cell, nil
}

// carve trims a free cell to need physical bytes, returning the tail to the
// free lists, and marks the front allocated with the given usable size.
func (a *Arena) carve(env *Env, cell, need, usable uintptr) {
	phys := cellPhys(cell)
	if rem := phys - need; rem >= minCellSize {
		a.insertFree(env, cell+need, rem)
		phys = need
	}
	markAllocated(cell, phys, usable)
}

// coalesce folds every contiguous following free cell into this one and
// returns the combined physical size. Caller holds the arena lock.
func (a *Arena) coalesce(env *Env, cell, phys uintptr) uintptr {
	limit := (cell &^ env.Chunks.Mask()) + env.Chunks.Size()
	for {
		next := cell + phys
		if next >= limit || cellAllocated(next) {
			return phys
		}
		a.unlinkFree(next)
		phys += cellPhys(next)
	}
}

// finish applies the zero/junk policy to a freshly carved payload. Reused
// cells carry stale contents, so a zero request always clears.
func (a *Arena) finish(env *Env, ptr, usable uintptr, zero bool) {
	if zero {
		clearRange(ptr, usable)
	} else if env.Junk {
		fill(ptr, usable, junkAlloc)
	}
}
