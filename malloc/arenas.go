package malloc

import (
	"github.com/joshuapare/mallockit/internal/diag"
	"github.com/joshuapare/mallockit/malloc/arena"
)

// chooseArena binds a thread to an arena, creating one lazily when every
// existing arena already has threads on it. The scan prefers the
// least-loaded populated slot and remembers the first empty one; an empty
// slot is only filled when no idle arena exists, so arenas come into being
// one at a time as concurrency actually grows.
func (a *Allocator) chooseArena(th *Thread) *arena.Arena {
	if th.arena != nil {
		return th.arena
	}

	a.arenasMu.Lock()
	var ar *arena.Arena
	if a.narenasAuto > 1 {
		choose := uint32(0)
		firstNull := a.narenasAuto
		for i := uint32(1); i < a.narenasAuto; i++ {
			if a.arenas[i] != nil {
				if a.arenas[i].NThreads() < a.arenas[choose].NThreads() {
					choose = i
				}
			} else if firstNull == a.narenasAuto {
				firstNull = i
			}
		}
		if a.arenas[choose].NThreads() == 0 || firstNull == a.narenasAuto {
			// An arena is idle, or the directory is full. Reuse.
			ar = a.arenas[choose]
		} else {
			ar = a.extendLocked(firstNull)
		}
	} else {
		ar = a.arenas[0]
	}
	ar.AddThread()
	a.arenasMu.Unlock()

	th.arena = ar
	return ar
}

// extendLocked populates a directory slot. Creation failure is survivable:
// the thread is parked on arena 0 and the slot stays empty for a later
// retry.
func (a *Allocator) extendLocked(ind uint32) *arena.Arena {
	ar, err := arena.New(a.base, ind)
	if err != nil {
		diag.Writef("cannot create arena %d, falling back to arena 0", ind)
		if a.opts.Abort {
			a.abortFn()
		}
		return a.arenas[0]
	}
	a.arenas[ind] = ar
	return ar
}

// dropArena undoes a thread's binding when the thread is released.
func (a *Allocator) dropArena(ar *arena.Arena) {
	a.arenasMu.Lock()
	ar.DropThread()
	a.arenasMu.Unlock()
}

// arenaByIndex resolves an explicit arena override. Only populated slots
// are valid targets; the directory does not create arenas on demand for
// overrides.
func (a *Allocator) arenaByIndex(ind int) (*arena.Arena, error) {
	if ind < 0 || uint32(ind) >= a.narenasAuto {
		return nil, ErrBadArena
	}
	a.arenasMu.Lock()
	ar := a.arenas[ind]
	a.arenasMu.Unlock()
	if ar == nil {
		return nil, ErrBadArena
	}
	return ar, nil
}
