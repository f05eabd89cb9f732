package service

import (
	"math/rand/v2"
	"sync"

	"github.com/tejashwikalptaru/pomelo/internal/domain"
)

// Queue is the ordered list of media items and the traversal state over it.
//
// Items keep insertion order. When shuffle is on, traversal follows a
// permutation of canonical indices that starts at the current item. The
// cursor always indexes the canonical order and is -1 only when the queue is
// empty.
//
// The session is the only writer; the lock makes concurrent reads safe.
type Queue struct {
	items     []*domain.MediaItem
	order     []int // nil unless shuffle is on
	direction domain.Direction
	cursor    int
	wrap      bool
	rng       *rand.Rand

	mu sync.RWMutex
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithWrap sets the wrap policy.
func WithWrap(wrap bool) QueueOption {
	return func(q *Queue) { q.wrap = wrap }
}

// WithRand sets the random source used for shuffle orders.
func WithRand(r *rand.Rand) QueueOption {
	return func(q *Queue) { q.rng = r }
}

// NewQueue creates an empty queue.
func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{cursor: -1}
	for _, opt := range opts {
		opt(q)
	}
	if q.rng == nil {
		q.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return q
}

// Len returns the number of items.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// Items returns a copy of the canonical order.
func (q *Queue) Items() []*domain.MediaItem {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]*domain.MediaItem, len(q.items))
	copy(out, q.items)
	return out
}

// At returns the item at a canonical index.
func (q *Queue) At(index int) (*domain.MediaItem, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if index < 0 || index >= len(q.items) {
		return nil, domain.ErrInvalidIndex
	}
	return q.items[index], nil
}

// IndexOf returns the canonical index of the item with id, or -1.
func (q *Queue) IndexOf(id string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.indexOfLocked(id)
}

func (q *Queue) indexOfLocked(id string) int {
	for i, item := range q.items {
		if item.ID() == id {
			return i
		}
	}
	return -1
}

// Cursor returns the canonical index of the current item, or -1.
func (q *Queue) Cursor() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.cursor
}

// Current returns the current item and its index.
func (q *Queue) Current() (*domain.MediaItem, int, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.cursor < 0 {
		return nil, -1, false
	}
	return q.items[q.cursor], q.cursor, true
}

// Shuffled reports whether shuffle is on.
func (q *Queue) Shuffled() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.order != nil
}

// Direction returns the traversal direction.
func (q *Queue) Direction() domain.Direction {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.direction
}

// Wrap reports whether traversal wraps around at the ends.
func (q *Queue) Wrap() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.wrap
}

// SetWrap sets the wrap policy.
func (q *Queue) SetWrap(wrap bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.wrap = wrap
}

// Order returns the traversal order as canonical indices.
func (q *Queue) Order() []int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.orderLocked()
}

func (q *Queue) orderLocked() []int {
	if q.order != nil {
		return append([]int(nil), q.order...)
	}
	out := make([]int, len(q.items))
	for i := range out {
		out[i] = i
	}
	return out
}

// Append adds items to the end. The first item appended to an empty queue
// becomes current.
func (q *Queue) Append(items ...*domain.MediaItem) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, items...)
	if q.cursor < 0 {
		q.cursor = 0
	}
	q.reshuffleLocked()
}

// Select makes the item at index current.
func (q *Queue) Select(index int) (*domain.MediaItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index < 0 || index >= len(q.items) {
		return nil, domain.ErrInvalidIndex
	}
	q.cursor = index
	return q.items[index], nil
}

// Next moves one step in the current direction.
// At an end with wrap off it returns ErrEndOfQueue and does not move.
func (q *Queue) Next() (*domain.MediaItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stepLocked(q.direction, true)
}

// Previous moves one step against the current direction.
func (q *Queue) Previous() (*domain.MediaItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stepLocked(q.direction.Opposite(), true)
}

// PeekNext returns the item Next would move to without moving.
func (q *Queue) PeekNext() (*domain.MediaItem, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.stepLocked(q.direction, false)
}

func (q *Queue) stepLocked(dir domain.Direction, commit bool) (*domain.MediaItem, error) {
	idx, err := q.neighbourLocked(dir, q.wrap)
	if err != nil {
		return nil, err
	}
	if commit {
		q.cursor = idx
	}
	return q.items[idx], nil
}

// neighbourLocked returns the canonical index one step from the cursor.
func (q *Queue) neighbourLocked(dir domain.Direction, wrap bool) (int, error) {
	n := len(q.items)
	if n == 0 {
		return -1, domain.ErrQueueEmpty
	}

	order := q.orderLocked()
	pos := 0
	for i, idx := range order {
		if idx == q.cursor {
			pos = i
			break
		}
	}

	delta := 1
	if dir == domain.Reverse {
		delta = -1
	}
	next := pos + delta
	if next < 0 || next >= n {
		if !wrap {
			return -1, domain.ErrEndOfQueue
		}
		next = (next + n) % n
	}
	return order[next], nil
}

// RemoveAt removes the item at index. Removing the current item moves the
// cursor to its neighbour in the current direction, or the opposite one at
// an end. It reports whether the current item was removed.
func (q *Queue) RemoveAt(index int) (removed *domain.MediaItem, wasCurrent bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.items) {
		return nil, false, domain.ErrInvalidIndex
	}
	removed = q.items[index]
	wasCurrent = index == q.cursor

	if wasCurrent {
		next, err := q.neighbourLocked(q.direction, false)
		if err != nil {
			next, err = q.neighbourLocked(q.direction.Opposite(), false)
		}
		if err != nil {
			next = -1
		}
		q.cursor = next
	}

	q.items = append(q.items[:index], q.items[index+1:]...)
	if q.cursor > index {
		q.cursor--
	}
	if len(q.items) == 0 {
		q.cursor = -1
	}
	q.reshuffleLocked()
	return removed, wasCurrent, nil
}

// MoveTo moves the item at from to position to. The cursor keeps following
// the same item.
func (q *Queue) MoveTo(from, to int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if from < 0 || from >= len(q.items) || to < 0 || to >= len(q.items) {
		return domain.ErrInvalidIndex
	}
	if from == to {
		return nil
	}

	item := q.items[from]
	q.items = append(q.items[:from], q.items[from+1:]...)
	q.items = append(q.items[:to], append([]*domain.MediaItem{item}, q.items[to:]...)...)

	switch {
	case q.cursor == from:
		q.cursor = to
	case from < q.cursor && to >= q.cursor:
		q.cursor--
	case from > q.cursor && to <= q.cursor:
		q.cursor++
	}
	q.reshuffleLocked()
	return nil
}

// ReplaceAt substitutes the item at index with items, as when a playlist is
// expanded into its entries. If the replaced item was current, the first
// replacement becomes current. An empty replacement behaves like RemoveAt.
func (q *Queue) ReplaceAt(index int, items []*domain.MediaItem) error {
	if len(items) == 0 {
		_, _, err := q.RemoveAt(index)
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.items) {
		return domain.ErrInvalidIndex
	}

	tail := append([]*domain.MediaItem(nil), q.items[index+1:]...)
	q.items = append(append(q.items[:index], items...), tail...)
	if q.cursor > index {
		q.cursor += len(items) - 1
	}
	q.reshuffleLocked()
	return nil
}

// Clear removes every item.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.cursor = -1
	if q.order != nil {
		q.order = []int{}
	}
}

// ToggleShuffle flips shuffle and returns the new setting.
func (q *Queue) ToggleShuffle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.setShuffleLocked(q.order == nil)
	return q.order != nil
}

// SetShuffle turns shuffle on or off. Turning it on always draws a new order.
func (q *Queue) SetShuffle(on bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.setShuffleLocked(on)
}

func (q *Queue) setShuffleLocked(on bool) {
	if !on {
		q.order = nil
		return
	}
	q.order = []int{}
	q.reshuffleLocked()
}

// reshuffleLocked draws a new shuffle order with the current item first.
// It does nothing when shuffle is off.
func (q *Queue) reshuffleLocked() {
	if q.order == nil {
		return
	}
	order := make([]int, 0, len(q.items))
	if q.cursor >= 0 {
		order = append(order, q.cursor)
	}
	rest := make([]int, 0, len(q.items))
	for i := range q.items {
		if i != q.cursor {
			rest = append(rest, i)
		}
	}
	q.rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	q.order = append(order, rest...)
}

// ToggleReverse flips the direction and returns the new one.
func (q *Queue) ToggleReverse() domain.Direction {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.direction = q.direction.Opposite()
	return q.direction
}

// SetDirection sets the traversal direction.
func (q *Queue) SetDirection(dir domain.Direction) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.direction = dir
}

// Snapshot captures the queue for the resume state.
func (q *Queue) Snapshot() domain.ResumeState {
	q.mu.RLock()
	defer q.mu.RUnlock()

	state := domain.ResumeState{
		Items:   make([]domain.ItemSnapshot, len(q.items)),
		Cursor:  q.cursor,
		Shuffle: q.order != nil,
		Reverse: q.direction == domain.Reverse,
		Wrap:    q.wrap,
	}
	for i, item := range q.items {
		state.Items[i] = item.Snapshot()
	}
	if q.order != nil {
		state.Order = append([]int(nil), q.order...)
	}
	return state
}

// Restore replaces the queue contents with items and the traversal state in
// state. A stored shuffle order that no longer matches the items is redrawn.
func (q *Queue) Restore(items []*domain.MediaItem, state domain.ResumeState) error {
	cursor := state.Cursor
	switch {
	case len(items) == 0:
		cursor = -1
	case cursor < 0 || cursor >= len(items):
		return domain.NewValidationError("cursor", state.Cursor, "out of range")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append([]*domain.MediaItem(nil), items...)
	q.cursor = cursor
	q.wrap = state.Wrap
	q.direction = domain.Forward
	if state.Reverse {
		q.direction = domain.Reverse
	}

	q.order = nil
	if state.Shuffle {
		if isPermutation(state.Order, len(items)) {
			q.order = append([]int(nil), state.Order...)
		} else {
			q.setShuffleLocked(true)
		}
	}
	return nil
}

func isPermutation(order []int, n int) bool {
	if len(order) != n {
		return false
	}
	seen := make([]bool, n)
	for _, idx := range order {
		if idx < 0 || idx >= n || seen[idx] {
			return false
		}
		seen[idx] = true
	}
	return true
}
