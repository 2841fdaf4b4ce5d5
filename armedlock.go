package blockstm

import "sync/atomic"

// armed lock bit layout: bit0 = unlocked, bit1 = armed (pending work).
const (
	lockBitUnlocked uint32 = 1 << 0
	lockBitArmed    uint32 = 1 << 1
)

// ArmedLock single-flights commit coordination: at most one worker at a
// time runs the try_commit loop, and a writer can publish "there may be new
// committable work" without itself taking the lock, via Arm (spec.md §3.4,
// §9 "ArmedLock rationale").
type ArmedLock struct {
	state atomic.Uint32
}

// NewArmedLock returns an unlocked, unarmed lock.
func NewArmedLock() *ArmedLock {
	l := &ArmedLock{}
	l.state.Store(lockBitUnlocked)
	return l
}

// TryLock succeeds only if the lock is both unlocked and armed, atomically
// clearing both bits back to 0 on success: a caller must Arm again before
// the lock is acquirable a second time, so a thread never re-scans
// commit_state without new work having signalled it (spec.md §9 "ArmedLock
// rationale").
func (l *ArmedLock) TryLock() bool {
	return l.state.CompareAndSwap(lockBitUnlocked|lockBitArmed, 0)
}

// Unlock marks the lock unlocked again. Callers must hold the lock (have
// won a prior TryLock) before calling Unlock.
func (l *ArmedLock) Unlock() {
	for {
		old := l.state.Load()
		if l.state.CompareAndSwap(old, old|lockBitUnlocked) {
			return
		}
	}
}

// Arm marks pending work without taking the lock, a lock-free signal picked
// up by the next TryLock caller.
func (l *ArmedLock) Arm() {
	for {
		old := l.state.Load()
		if l.state.CompareAndSwap(old, old|lockBitArmed) {
			return
		}
	}
}
