package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/quarrydb/quarry/batch"
	"github.com/quarrydb/quarry/bloom"
	"github.com/quarrydb/quarry/errors"
	"github.com/quarrydb/quarry/schema"
	"github.com/stretchr/testify/require"
)

func newTestFilter() *bloom.Filter {
	f := bloom.NewFilter(1, 0.01, 1)
	f.Add([]byte("key"))
	return f
}

func shuffleSchema() *schema.Schema {
	return schema.MustCreateSchema(
		schema.Column{Name: "k", Type: &schema.Int64ColumnType{}},
		schema.Column{Name: "v", Type: &schema.StringColumnType{}},
	)
}

func rowsBatch(t *testing.T, s *schema.Schema, n int, offset int) *batch.Batch {
	bld := batch.NewBuilder(s)
	for i := 0; i < n; i++ {
		require.Nil(t, bld.AppendRow(int64(offset+i), "v"))
	}
	return bld.Build()
}

func TestSplitterRoutesEqualKeysTogether(t *testing.T) {
	s := shuffleSchema()
	sp, err := CreateSplitter(s, []string{"k"}, 4)
	require.Nil(t, err)

	bld := batch.NewBuilder(s)
	for i := 0; i < 100; i++ {
		require.Nil(t, bld.AppendRow(int64(i%10), "v"))
	}
	require.Nil(t, sp.Add(bld.Build()))
	out := sp.Flush()
	require.Equal(t, 4, len(out))

	total := 0
	destOfKey := make(map[int64]int)
	for dest, b := range out {
		total += b.Len()
		for row := 0; row < b.Len(); row++ {
			k := b.Column(0).Int64(row)
			if prev, seen := destOfKey[k]; seen {
				require.Equal(t, prev, dest)
			} else {
				destOfKey[k] = dest
			}
		}
	}
	// the shuffle preserves the input multiset
	require.Equal(t, 100, total)
}

func TestSplitterEmitsZeroRowBuffers(t *testing.T) {
	s := shuffleSchema()
	sp, err := CreateSplitter(s, []string{"k"}, 8)
	require.Nil(t, err)
	bld := batch.NewBuilder(s)
	require.Nil(t, bld.AppendRow(int64(1), "only"))
	require.Nil(t, sp.Add(bld.Build()))
	out := sp.Flush()
	require.Equal(t, 8, len(out))
	total := 0
	for _, b := range out {
		require.NotNil(t, b)
		total += b.Len()
	}
	require.Equal(t, 1, total)
}

func TestPartitionerIsDeterministic(t *testing.T) {
	s := shuffleSchema()
	a, err := CreatePartitioner(s, []string{"k"}, 7)
	require.Nil(t, err)
	b, err := CreatePartitioner(s, []string{"k"}, 7)
	require.Nil(t, err)
	data := rowsBatch(t, s, 50, 0)
	for row := 0; row < data.Len(); row++ {
		require.Equal(t, a.PartitionForRow(data, row), b.PartitionForRow(data, row))
	}
}

func TestExchangeBarrier(t *testing.T) {
	s := shuffleSchema()
	codec, err := CreateCodec("lz4")
	require.Nil(t, err)
	ex := CreateExchange(s, codec, 2, 1)

	require.Nil(t, ex.Write(0, rowsBatch(t, s, 3, 0)))
	ex.CloseProducer()

	// one producer is still open, so the reader must block
	got := make(chan int, 1)
	go func() {
		reader := ex.OpenReader(context.Background(), 0)
		rows := 0
		for {
			b, err := reader.NextBatch()
			if err != nil {
				break
			}
			rows += b.Len()
		}
		got <- rows
	}()
	select {
	case <-got:
		t.Fatal("reader returned before the write barrier lifted")
	case <-time.After(50 * time.Millisecond):
	}

	require.Nil(t, ex.Write(0, rowsBatch(t, s, 2, 10)))
	ex.CloseProducer()
	select {
	case rows := <-got:
		require.Equal(t, 5, rows)
	case <-time.After(time.Second):
		t.Fatal("reader did not observe the lifted barrier")
	}
}

func TestExchangeReaderHonorsCancellation(t *testing.T) {
	s := shuffleSchema()
	codec, err := CreateCodec("none")
	require.Nil(t, err)
	ex := CreateExchange(s, codec, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reader := ex.OpenReader(ctx, 0)
	_, err = reader.NextBatch()
	require.Equal(t, context.Canceled, err)
}

func TestExchangeRoundTripPreservesRows(t *testing.T) {
	s := shuffleSchema()
	for _, name := range []string{"lz4", "snappy", "none"} {
		codec, err := CreateCodec(name)
		require.Nil(t, err)
		ex := CreateExchange(s, codec, 1, 2)
		require.Nil(t, ex.Write(0, rowsBatch(t, s, 4, 0)))
		require.Nil(t, ex.Write(1, rowsBatch(t, s, 0, 0)))
		ex.CloseProducer()

		reader := ex.OpenReader(context.Background(), 0)
		b, err := reader.NextBatch()
		require.Nil(t, err)
		require.Equal(t, 4, b.Len())
		require.Equal(t, int64(2), b.Column(0).Int64(2))
		_, err = reader.NextBatch()
		require.True(t, errors.IsNoMoreBatches(err))

		empty := ex.OpenReader(context.Background(), 1)
		b, err = empty.NextBatch()
		require.Nil(t, err)
		require.Equal(t, 0, b.Len())
	}
}

func TestCreateCodecRejectsUnknownName(t *testing.T) {
	_, err := CreateCodec("zstd")
	require.NotNil(t, err)
}

func TestBroadcastCeiling(t *testing.T) {
	s := shuffleSchema()
	bc := CreateBroadcast(1, 64)
	err := bc.Add(rowsBatch(t, s, 100, 0))
	var exceeded errors.ResourceExceededError
	require.ErrorAs(t, err, &exceeded)
	require.Equal(t, 1, exceeded.StageID)
}

func TestBroadcastAddAllIsAtomic(t *testing.T) {
	s := shuffleSchema()
	bc := CreateBroadcast(1, 256)
	require.Nil(t, bc.Add(rowsBatch(t, s, 2, 0)))

	// the oversized contribution is rejected without retaining anything
	err := bc.AddAll([]*batch.Batch{rowsBatch(t, s, 3, 10), rowsBatch(t, s, 100, 20)})
	var exceeded errors.ResourceExceededError
	require.ErrorAs(t, err, &exceeded)

	bc.Finish(nil)
	batches, err := bc.Collect(context.Background())
	require.Nil(t, err)
	rows := 0
	for _, b := range batches {
		rows += b.Len()
	}
	require.Equal(t, 2, rows)
}

func TestExchangePublishDeliversAllDestinations(t *testing.T) {
	s := shuffleSchema()
	codec, err := CreateCodec("snappy")
	require.Nil(t, err)
	ex := CreateExchange(s, codec, 1, 2)
	require.Nil(t, ex.Publish([]*batch.Batch{rowsBatch(t, s, 3, 0), rowsBatch(t, s, 0, 0)}))
	ex.CloseProducer()

	b, err := ex.OpenReader(context.Background(), 0).NextBatch()
	require.Nil(t, err)
	require.Equal(t, 3, b.Len())
	b, err = ex.OpenReader(context.Background(), 1).NextBatch()
	require.Nil(t, err)
	require.Equal(t, 0, b.Len())
}

func TestBroadcastCollect(t *testing.T) {
	s := shuffleSchema()
	bc := CreateBroadcast(1, 1<<20)
	require.Nil(t, bc.Add(rowsBatch(t, s, 2, 0)))
	require.Nil(t, bc.Add(rowsBatch(t, s, 3, 10)))
	bc.Finish(nil)
	// Finish is idempotent
	bc.Finish(nil)

	batches, err := bc.Collect(context.Background())
	require.Nil(t, err)
	rows := 0
	for _, b := range batches {
		rows += b.Len()
	}
	require.Equal(t, 5, rows)
}

func TestBroadcastPropagatesFailure(t *testing.T) {
	bc := CreateBroadcast(2, 1<<20)
	bc.Finish(errors.TaskExecutionError{StageID: 2, Attempts: 1})
	_, err := bc.Collect(context.Background())
	var taskErr errors.TaskExecutionError
	require.ErrorAs(t, err, &taskErr)
}

func TestFilterHandoff(t *testing.T) {
	fh := CreateFilterHandoff()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f, err := fh.Wait(context.Background())
		require.Nil(t, err)
		require.NotNil(t, f)
	}()
	fh.Publish(newTestFilter(), nil)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer never observed the published filter")
	}
}

func TestFilterHandoffError(t *testing.T) {
	fh := CreateFilterHandoff()
	fh.Publish(nil, errors.TaskExecutionError{StageID: 3, Attempts: 2})
	_, err := fh.Wait(context.Background())
	require.NotNil(t, err)
}
