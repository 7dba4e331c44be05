package malloc

// quiescer is anything holding a lock that must be quiesced across fork.
type quiescer interface {
	Prefork()
	PostforkParent()
	PostforkChild()
}

// arenaSet quiesces the directory lock and every populated arena, in
// index order, as one unit. Release happens in reverse within the unit.
type arenaSet struct{ a *Allocator }

func (s arenaSet) Prefork() {
	s.a.arenasMu.Lock()
	for i := uint32(0); i < s.a.narenasAuto; i++ {
		if s.a.arenas[i] != nil {
			s.a.arenas[i].Prefork()
		}
	}
}

func (s arenaSet) PostforkParent() {
	for i := s.a.narenasAuto; i > 0; i-- {
		if s.a.arenas[i-1] != nil {
			s.a.arenas[i-1].PostforkParent()
		}
	}
	s.a.arenasMu.Unlock()
}

func (s arenaSet) PostforkChild() {
	for i := s.a.narenasAuto; i > 0; i-- {
		if s.a.arenas[i-1] != nil {
			s.a.arenas[i-1].PostforkChild()
		}
	}
	s.a.arenasMu.Unlock()
}

// buildForkList fixes the subsystem quiesce order. Acquisition follows
// this order exactly and release walks it backwards, so the fork
// coordinator can never deadlock against an allocation that respects the
// same order.
func (a *Allocator) buildForkList() {
	a.forkList = []quiescer{
		a.ctl,
		a.prof,
		arenaSet{a},
		a.chunks,
		a.base,
		a.huge,
	}
}

// BeforeFork acquires every allocator lock so no lock is mid-critical-
// section at the moment of fork. A never-booted allocator has no locks
// worth taking.
func (a *Allocator) BeforeFork() {
	if !a.initialized.Load() {
		return
	}
	for _, q := range a.forkList {
		q.Prefork()
	}
}

// AfterForkParent releases the locks in reverse order in the parent.
func (a *Allocator) AfterForkParent() {
	if !a.initialized.Load() {
		return
	}
	for i := len(a.forkList); i > 0; i-- {
		a.forkList[i-1].PostforkParent()
	}
}

// AfterForkChild reinitializes the locks in reverse order in the child,
// which inherits the parent's memory but none of its threads.
func (a *Allocator) AfterForkChild() {
	if !a.initialized.Load() {
		return
	}
	for i := len(a.forkList); i > 0; i-- {
		a.forkList[i-1].PostforkChild()
	}
}
