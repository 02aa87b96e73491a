// Package datasource defines the contract between the execution runtime
// and the columnar storage collaborator. The runtime consumes scans as
// finite, restartable batch sequences and never reaches into the storage
// format itself.
package datasource

import (
	"github.com/quarrydb/quarry/batch"
	"github.com/quarrydb/quarry/schema"
)

// BatchIterator iterates over a finite sequence of Batches, returning
// errors.NoMoreBatchesError once exhausted
type BatchIterator interface {
	NextBatch() (*batch.Batch, error)
}

// DataSource is the storage collaborator. Scan is restartable: invoking
// it again with the same arguments yields the same sequence, and
// iterators from separate calls share no state.
type DataSource interface {
	TableSchema(table string) (*schema.Schema, error)
	Scan(table string, columns []string) (BatchIterator, error)
}
