package lod

// DeactivationQueue holds the cells that lost all their sources and wait to
// be hidden. Draining is rate limited to spread the cost of a source leaving
// a dense area over several frames. Drain order is not guaranteed.
type DeactivationQueue struct {
	cells []*Cell
}

// Len returns the number of pending cells.
func (q *DeactivationQueue) Len() int {
	return len(q.cells)
}

func (q *DeactivationQueue) push(cell *Cell) {
	if cell.pendingIndex >= 0 {
		return
	}

	cell.pendingIndex = len(q.cells)
	q.cells = append(q.cells, cell)
}

// cancel removes cell from the queue and reports whether it was pending.
func (q *DeactivationQueue) cancel(cell *Cell) bool {
	i := cell.pendingIndex
	if i < 0 {
		return false
	}

	last := len(q.cells) - 1
	if i != last {
		moved := q.cells[last]
		q.cells[i] = moved
		moved.pendingIndex = i
	}
	q.cells[last] = nil
	q.cells = q.cells[:last]

	cell.pendingIndex = -1
	return true
}

// drain removes up to max cells and passes them to deactivate. A max of zero
// or less drains every pending cell.
func (q *DeactivationQueue) drain(max int, deactivate func(*Cell)) int {
	n := 0
	for len(q.cells) != 0 && (max <= 0 || n < max) {
		last := len(q.cells) - 1
		cell := q.cells[last]
		q.cells[last] = nil
		q.cells = q.cells[:last]
		cell.pendingIndex = -1

		deactivate(cell)
		n++
	}
	return n
}

func (q *DeactivationQueue) reset() {
	for _, cell := range q.cells {
		cell.pendingIndex = -1
	}
	q.cells = nil
}
