package engine

// Journal is an undo log. Every state change appends a closure that restores
// the previous value; reverting runs them newest first.
type Journal struct {
	entries []func()
}

// Append records how to undo a change that has just been applied.
func (j *Journal) Append(undo func()) {
	j.entries = append(j.entries, undo)
}

// Snapshot returns an id that RevertToSnapshot can rewind to.
func (j *Journal) Snapshot() int {
	return len(j.entries)
}

// RevertToSnapshot undoes every change recorded after id.
func (j *Journal) RevertToSnapshot(id int) {
	for i := len(j.entries) - 1; i >= id; i-- {
		j.entries[i]()
		j.entries[i] = nil
	}
	j.entries = j.entries[:id]
}

// Length is the number of undoable changes.
func (j *Journal) Length() int {
	return len(j.entries)
}

// reset forgets all entries, making the current state permanent.
func (j *Journal) reset() {
	clear(j.entries)
	j.entries = j.entries[:0]
}
