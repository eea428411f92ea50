package arena

import "time"

// waiting is a connection queued for a matchmaking opponent
type waiting struct {
	conn     Connection
	playerID int64
	joinedAt time.Time
	removed  bool
}

// waitQueue is a FIFO with O(1) removal by connection. Removed entries are
// skipped lazily and the backing slice is compacted once the dead prefix
// outgrows the live part.
type waitQueue struct {
	entries []*waiting
	head    int
	byConn  map[string]*waiting
}

func newWaitQueue() *waitQueue {
	return &waitQueue{byConn: make(map[string]*waiting)}
}

func (q *waitQueue) Len() int { return len(q.byConn) }

func (q *waitQueue) contains(connID string) bool {
	_, ok := q.byConn[connID]
	return ok
}

// hasPlayer reports whether any connection of playerID is waiting
func (q *waitQueue) hasPlayer(playerID int64) bool {
	for _, w := range q.byConn {
		if w.playerID == playerID {
			return true
		}
	}
	return false
}

// push appends and returns the 1-based position
func (q *waitQueue) push(w *waiting) int {
	q.entries = append(q.entries, w)
	q.byConn[w.conn.ID()] = w
	return q.Len()
}

// pop removes the oldest live entry
func (q *waitQueue) pop() (*waiting, bool) {
	for q.head < len(q.entries) {
		w := q.entries[q.head]
		q.entries[q.head] = nil
		q.head++
		if w.removed {
			continue
		}
		delete(q.byConn, w.conn.ID())
		q.compact()
		return w, true
	}
	q.compact()
	return nil, false
}

func (q *waitQueue) remove(connID string) bool {
	w, ok := q.byConn[connID]
	if !ok {
		return false
	}
	w.removed = true
	delete(q.byConn, connID)
	return true
}

// removePlayer removes every entry of playerID and returns them
func (q *waitQueue) removePlayer(playerID int64) []*waiting {
	var out []*waiting
	for id, w := range q.byConn {
		if w.playerID == playerID {
			w.removed = true
			delete(q.byConn, id)
			out = append(out, w)
		}
	}
	return out
}

// expire removes every entry that joined before cutoff, oldest first
func (q *waitQueue) expire(cutoff time.Time) []*waiting {
	var out []*waiting
	for _, w := range q.entries[q.head:] {
		if w == nil || w.removed || !w.joinedAt.Before(cutoff) {
			continue
		}
		w.removed = true
		delete(q.byConn, w.conn.ID())
		out = append(out, w)
	}
	q.compact()
	return out
}

func (q *waitQueue) compact() {
	if q.head == 0 || q.head < len(q.entries)-q.head {
		return
	}
	live := q.entries[:0]
	for _, w := range q.entries[q.head:] {
		if w != nil && !w.removed {
			live = append(live, w)
		}
	}
	for i := len(live); i < len(q.entries); i++ {
		q.entries[i] = nil
	}
	q.entries = live
	q.head = 0
}
