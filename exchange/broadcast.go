package exchange

import (
	"context"
	"sync"

	"github.com/quarrydb/quarry/batch"
	"github.com/quarrydb/quarry/bloom"
	"github.com/quarrydb/quarry/errors"
)

// Broadcast collects the entirety of one operand in memory and makes it
// available identically to every consumer. Collection is bounded by a
// memory ceiling; exceeding it fails the query rather than spilling.
type Broadcast struct {
	stageID int
	ceiling int64

	lock     sync.Mutex
	batches  []*batch.Batch
	size     int64
	err      error
	finished chan struct{}
}

// CreateBroadcast is a factory for Broadcasts
func CreateBroadcast(stageID int, ceiling int64) *Broadcast {
	return &Broadcast{stageID: stageID, ceiling: ceiling, finished: make(chan struct{})}
}

// Add contributes one Batch to the broadcast dataset
func (bc *Broadcast) Add(b *batch.Batch) error {
	return bc.AddAll([]*batch.Batch{b})
}

// AddAll contributes one producing task's complete output to the
// broadcast dataset. The contribution is all-or-nothing: on a ceiling
// violation nothing is retained, so a re-run of the task cannot
// duplicate rows already added by an aborted attempt.
func (bc *Broadcast) AddAll(batches []*batch.Batch) error {
	var add int64
	for _, b := range batches {
		add += b.MemSize()
	}
	bc.lock.Lock()
	defer bc.lock.Unlock()
	if bc.size+add > bc.ceiling {
		return errors.ResourceExceededError{StageID: bc.stageID, Ceiling: bc.ceiling, Size: bc.size + add}
	}
	bc.size += add
	bc.batches = append(bc.batches, batches...)
	return nil
}

// Size returns the estimated bytes collected so far
func (bc *Broadcast) Size() int64 {
	bc.lock.Lock()
	defer bc.lock.Unlock()
	return bc.size
}

// Finish completes collection, releasing all waiting consumers. A
// non-nil error is propagated to them instead of the dataset.
func (bc *Broadcast) Finish(err error) {
	bc.lock.Lock()
	defer bc.lock.Unlock()
	select {
	case <-bc.finished:
		return
	default:
	}
	bc.err = err
	close(bc.finished)
}

// Collect blocks until collection finishes, then returns the complete
// dataset. The returned batches are immutable and shared by every
// consumer, so no copies are made.
func (bc *Broadcast) Collect(ctx context.Context) ([]*batch.Batch, error) {
	select {
	case <-bc.finished:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	bc.lock.Lock()
	defer bc.lock.Unlock()
	if bc.err != nil {
		return nil, bc.err
	}
	return bc.batches, nil
}

// FilterHandoff passes a runtime-built bloom filter from its building
// stage to the scans that consume it. Consumers block until the filter
// is fully built and frozen.
type FilterHandoff struct {
	lock     sync.Mutex
	filter   *bloom.Filter
	err      error
	finished chan struct{}
}

// CreateFilterHandoff is a factory for FilterHandoffs
func CreateFilterHandoff() *FilterHandoff {
	return &FilterHandoff{finished: make(chan struct{})}
}

// Publish hands over the built filter, or a build error, releasing all
// waiting consumers
func (fh *FilterHandoff) Publish(f *bloom.Filter, err error) {
	fh.lock.Lock()
	defer fh.lock.Unlock()
	select {
	case <-fh.finished:
		return
	default:
	}
	if f != nil {
		f.Freeze()
	}
	fh.filter = f
	fh.err = err
	close(fh.finished)
}

// Wait blocks until the filter is published, then returns it
func (fh *FilterHandoff) Wait(ctx context.Context) (*bloom.Filter, error) {
	select {
	case <-fh.finished:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	fh.lock.Lock()
	defer fh.lock.Unlock()
	if fh.err != nil {
		return nil, fh.err
	}
	return fh.filter, nil
}
