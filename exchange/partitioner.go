// Package exchange implements data movement between stages: key-routed
// shuffles with a full write barrier, broadcast collection under a
// memory ceiling, and the handoff of runtime-built bloom filters.
package exchange

import (
	xxhash "github.com/cespare/xxhash/v2"
	"github.com/quarrydb/quarry/batch"
	"github.com/quarrydb/quarry/schema"
)

// Partitioner routes rows to destination partitions by hashing their
// partition key. Rows with equal keys always route to the same
// destination.
type Partitioner struct {
	keyCols       []int
	numPartitions int
}

// CreatePartitioner is a factory for Partitioners over a given schema
func CreatePartitioner(s *schema.Schema, partitionKeys []string, numPartitions int) (*Partitioner, error) {
	keyCols := make([]int, len(partitionKeys))
	for i, key := range partitionKeys {
		idx, err := s.Offset(key)
		if err != nil {
			return nil, err
		}
		keyCols[i] = idx
	}
	return &Partitioner{keyCols: keyCols, numPartitions: numPartitions}, nil
}

// NumPartitions returns the destination partition count
func (p *Partitioner) NumPartitions() int {
	return p.numPartitions
}

// PartitionForRow returns the destination partition of one row
func (p *Partitioner) PartitionForRow(b *batch.Batch, row int) int {
	key := b.AppendKey(nil, p.keyCols, row)
	return int(xxhash.Sum64(key) % uint64(p.numPartitions))
}

// Splitter accumulates routed rows into one Builder per destination
// partition. The per-destination buffers are exclusively owned by the
// producing task until flushed to the transport.
type Splitter struct {
	partitioner *Partitioner
	builders    []*batch.Builder
}

// CreateSplitter is a factory for Splitters
func CreateSplitter(s *schema.Schema, partitionKeys []string, numPartitions int) (*Splitter, error) {
	partitioner, err := CreatePartitioner(s, partitionKeys, numPartitions)
	if err != nil {
		return nil, err
	}
	builders := make([]*batch.Builder, numPartitions)
	for i := range builders {
		builders[i] = batch.NewBuilder(s)
	}
	return &Splitter{partitioner: partitioner, builders: builders}, nil
}

// Add routes every row of a Batch into its destination buffer,
// preserving the relative order of rows bound for the same destination
func (sp *Splitter) Add(b *batch.Batch) error {
	for row := 0; row < b.Len(); row++ {
		dest := sp.partitioner.PartitionForRow(b, row)
		if err := sp.builders[dest].AppendBatchRow(b, row); err != nil {
			return err
		}
	}
	return nil
}

// Flush produces one Batch per destination partition. Destinations that
// received no rows still get a zero-row Batch for bookkeeping.
func (sp *Splitter) Flush() []*batch.Batch {
	out := make([]*batch.Batch, len(sp.builders))
	for i, bld := range sp.builders {
		out[i] = bld.Build()
	}
	return out
}
