// Package memory provides an in-memory DataSource, used by tests and by
// deployments that stage small tables directly in the coordinator.
package memory

import (
	"fmt"
	"sync"

	"github.com/quarrydb/quarry/batch"
	"github.com/quarrydb/quarry/datasource"
	"github.com/quarrydb/quarry/errors"
	"github.com/quarrydb/quarry/schema"
)

type table struct {
	schema  *schema.Schema
	batches []*batch.Batch
}

// DataSource holds tables as sequences of Batches in memory
type DataSource struct {
	lock   sync.RWMutex
	tables map[string]*table
}

// CreateDataSource is a factory for in-memory DataSources
func CreateDataSource() *DataSource {
	return &DataSource{tables: make(map[string]*table)}
}

// CreateTable registers an empty table with the given Schema
func (ds *DataSource) CreateTable(name string, s *schema.Schema) error {
	ds.lock.Lock()
	defer ds.lock.Unlock()
	if _, exists := ds.tables[name]; exists {
		return fmt.Errorf("Table %s already exists", name)
	}
	ds.tables[name] = &table{schema: s}
	return nil
}

// Append adds a Batch to a table, verifying it matches the table Schema
func (ds *DataSource) Append(name string, b *batch.Batch) error {
	ds.lock.Lock()
	defer ds.lock.Unlock()
	t, exists := ds.tables[name]
	if !exists {
		return fmt.Errorf("Table %s does not exist", name)
	}
	if err := t.schema.Equals(b.Schema()); err != nil {
		return fmt.Errorf("Batch does not match schema of table %s: %v", name, err)
	}
	t.batches = append(t.batches, b)
	return nil
}

// TableSchema returns the Schema of a table
func (ds *DataSource) TableSchema(name string) (*schema.Schema, error) {
	ds.lock.RLock()
	defer ds.lock.RUnlock()
	t, exists := ds.tables[name]
	if !exists {
		return nil, fmt.Errorf("Table %s does not exist", name)
	}
	return t.schema, nil
}

// Scan returns a fresh iterator over a table's Batches, projected to the
// given columns. Each call yields an independent, restartable sequence.
func (ds *DataSource) Scan(name string, columns []string) (datasource.BatchIterator, error) {
	ds.lock.RLock()
	defer ds.lock.RUnlock()
	t, exists := ds.tables[name]
	if !exists {
		return nil, fmt.Errorf("Table %s does not exist", name)
	}
	projected := make([]*batch.Batch, len(t.batches))
	for i, b := range t.batches {
		p, err := b.Project(columns...)
		if err != nil {
			return nil, err
		}
		projected[i] = p
	}
	return &batchIterator{batches: projected}, nil
}

type batchIterator struct {
	batches []*batch.Batch
	next    int
}

// NextBatch returns the next Batch, or NoMoreBatchesError once exhausted
func (it *batchIterator) NextBatch() (*batch.Batch, error) {
	if it.next >= len(it.batches) {
		return nil, errors.NoMoreBatchesError{}
	}
	b := it.batches[it.next]
	it.next++
	return b, nil
}
