package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrEmptyProspectID is returned when Do is called without a prospect id.
var ErrEmptyProspectID = errors.New("queue: prospect id must not be empty")

// laneBuffer is the capacity of each lane's work channel. Tests may override
// it to exercise full-buffer paths.
var laneBuffer = 64

// turnItem is one unit of serialized work, usually a full chat turn.
type turnItem struct {
	ctx  context.Context
	fn   func() error
	done chan error
}

// lane owns a single worker goroutine; everything submitted to the same lane
// runs in FIFO order on that goroutine.
type lane struct {
	work chan turnItem
}

func (l *lane) run() {
	for item := range l.work {
		// The submitter may have given up while this item sat in the queue.
		if item.ctx.Err() != nil {
			item.done <- item.ctx.Err()
			continue
		}
		item.done <- l.safeExec(item.fn)
	}
}

// safeExec converts a panicking turn into an error so the lane's worker
// survives. Lanes live for the process lifetime; a dead worker would silently
// freeze one prospect's chat forever.
func (l *lane) safeExec(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: panic: %v", r)
		}
	}()
	return fn()
}

// TurnQueue serializes chat turns per prospect. Two requests for the same
// prospect never interleave, which keeps conversation.json consistent without
// file locking; requests for different prospects run concurrently.
type TurnQueue struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

// NewTurnQueue returns an empty queue; lanes appear on first use.
func NewTurnQueue() *TurnQueue {
	return &TurnQueue{lanes: make(map[string]*lane)}
}

// Do runs fn on the prospect's lane and blocks until it finishes or ctx is
// done. Returns fn's error, or ctx.Err() when the caller gives up first. Work
// already started is not interrupted by the caller giving up; its result is
// discarded.
func (q *TurnQueue) Do(ctx context.Context, prospectID string, fn func() error) error {
	if prospectID == "" {
		return ErrEmptyProspectID
	}

	l := q.lane(prospectID)
	item := turnItem{
		ctx:  ctx,
		fn:   fn,
		done: make(chan error, 1),
	}

	select {
	case l.work <- item:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-item.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *TurnQueue) lane(prospectID string) *lane {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l, ok := q.lanes[prospectID]; ok {
		return l
	}
	l := &lane{work: make(chan turnItem, laneBuffer)}
	q.lanes[prospectID] = l
	go l.run()
	return l
}

// Lanes returns the number of prospects that have submitted work so far.
func (q *TurnQueue) Lanes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}
