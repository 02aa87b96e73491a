package exchange

import (
	"context"
	"sync"

	"github.com/quarrydb/quarry/batch"
	"github.com/quarrydb/quarry/errors"
	"github.com/quarrydb/quarry/schema"
)

// Exchange is one shuffle edge between a producing and a consuming
// stage. Producers write per-destination payloads and close; consumers
// block until every producer has closed. This is a full synchronization
// barrier, with no streaming shuffle.
type Exchange struct {
	schema        *schema.Schema
	codec         Codec
	numPartitions int

	lock          sync.Mutex
	payloads      [][][]byte // per destination partition, in producer completion order
	producersLeft int
	bytesWritten  int64
	barrier       chan struct{}
}

// CreateExchange is a factory for Exchanges
func CreateExchange(s *schema.Schema, codec Codec, numProducers int, numPartitions int) *Exchange {
	return &Exchange{
		schema:        s,
		codec:         codec,
		numPartitions: numPartitions,
		payloads:      make([][][]byte, numPartitions),
		producersLeft: numProducers,
		barrier:       make(chan struct{}),
	}
}

// NumPartitions returns the consumer-side partition count
func (e *Exchange) NumPartitions() int {
	return e.numPartitions
}

// BytesWritten returns the total compressed payload bytes handed to the
// transport so far
func (e *Exchange) BytesWritten() int64 {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.bytesWritten
}

// Write transmits one producer's buffer for a destination partition.
// Zero-row buffers are transmitted too, keeping per-partition accounting
// uniform.
func (e *Exchange) Write(partition int, b *batch.Batch) error {
	data, err := b.ToBytes()
	if err != nil {
		return err
	}
	payload, err := e.codec.Compress(data)
	if err != nil {
		return err
	}
	e.lock.Lock()
	defer e.lock.Unlock()
	e.payloads[partition] = append(e.payloads[partition], payload)
	e.bytesWritten += int64(len(payload))
	return nil
}

// Publish encodes and transmits one producer's complete set of
// per-destination buffers, indexed by destination partition. The
// transmit is all-or-nothing: an encoding failure leaves the exchange
// untouched, so a re-run of the producing task cannot duplicate
// payloads from an aborted attempt.
func (e *Exchange) Publish(buffers []*batch.Batch) error {
	payloads := make([][]byte, len(buffers))
	for dest, b := range buffers {
		data, err := b.ToBytes()
		if err != nil {
			return err
		}
		payload, err := e.codec.Compress(data)
		if err != nil {
			return err
		}
		payloads[dest] = payload
	}
	e.lock.Lock()
	defer e.lock.Unlock()
	for dest, payload := range payloads {
		e.payloads[dest] = append(e.payloads[dest], payload)
		e.bytesWritten += int64(len(payload))
	}
	return nil
}

// CloseProducer marks one producing task finished. When the last
// producer closes, the write barrier lifts and readers may proceed.
func (e *Exchange) CloseProducer() {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.producersLeft--
	if e.producersLeft == 0 {
		close(e.barrier)
	}
}

// Reader returns an iterator over one destination partition's data. The
// first NextBatch call blocks until the write barrier lifts.
type Reader struct {
	exchange  *Exchange
	partition int
	ctx       context.Context
	next      int
	ready     bool
}

// OpenReader prepares a reader for a destination partition
func (e *Exchange) OpenReader(ctx context.Context, partition int) *Reader {
	return &Reader{exchange: e, partition: partition, ctx: ctx}
}

// NextBatch returns the next Batch of this reader's partition, blocking
// for the write barrier first, and NoMoreBatchesError once exhausted
func (r *Reader) NextBatch() (*batch.Batch, error) {
	if !r.ready {
		select {
		case <-r.exchange.barrier:
			r.ready = true
		case <-r.ctx.Done():
			return nil, r.ctx.Err()
		}
	}
	e := r.exchange
	e.lock.Lock()
	payloads := e.payloads[r.partition]
	e.lock.Unlock()
	if r.next >= len(payloads) {
		return nil, errors.NoMoreBatchesError{}
	}
	payload := payloads[r.next]
	r.next++
	data, err := e.codec.Decompress(payload)
	if err != nil {
		return nil, err
	}
	return batch.FromBytes(data, e.schema)
}
