package ledger

// ChangeLog is an undo journal shared by every store an action can touch.
// Each mutation records the closure that reverses it; reverting to a snapshot
// replays those closures newest first.
// Not thread-safe; only accessed from the single-threaded deterministic core.
type ChangeLog struct {
	undo []func()
}

func NewChangeLog() *ChangeLog {
	return &ChangeLog{}
}

// Record registers the inverse of a mutation that has just been applied.
func (l *ChangeLog) Record(undo func()) {
	l.undo = append(l.undo, undo)
}

// Snapshot returns an id that RevertToSnapshot can roll back to.
func (l *ChangeLog) Snapshot() int {
	return len(l.undo)
}

// RevertToSnapshot undoes every mutation recorded after the snapshot was taken.
func (l *ChangeLog) RevertToSnapshot(id int) {
	if id < 0 || id > len(l.undo) {
		panic("ledger: invalid change log snapshot")
	}
	for i := len(l.undo) - 1; i >= id; i-- {
		l.undo[i]()
		l.undo[i] = nil
	}
	l.undo = l.undo[:id]
}

// Commit forgets all recorded mutations, making them permanent.
func (l *ChangeLog) Commit() {
	clear(l.undo)
	l.undo = l.undo[:0]
}

func (l *ChangeLog) Len() int {
	return len(l.undo)
}
