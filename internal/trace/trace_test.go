package trace

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsMonotonicSequence(t *testing.T) {
	log := NewLog()
	log.Append(Record{NodeID: "a"})
	log.Append(Record{NodeID: "b"})
	log.Append(Record{NodeID: "c"})

	recs := log.Records()
	require.Len(t, recs, 3)
	for i, rec := range recs {
		assert.Equal(t, int64(i+1), rec.Sequence)
		assert.False(t, rec.Timestamp.IsZero())
	}
}

func TestClearKeepsSequence(t *testing.T) {
	log := NewLog()
	log.Append(Record{NodeID: "a"})
	log.Clear()
	assert.Equal(t, 0, log.Len())

	log.Append(Record{NodeID: "b"})
	recs := log.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, int64(2), recs[0].Sequence)
}

func TestRecordsReturnsCopy(t *testing.T) {
	log := NewLog()
	log.Append(Record{NodeID: "a"})

	recs := log.Records()
	recs[0].NodeID = "mutated"
	assert.Equal(t, "a", log.Records()[0].NodeID)
}

func TestConcurrentAppend(t *testing.T) {
	log := NewLog()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Append(Record{NodeID: "n"})
		}()
	}
	wg.Wait()

	recs := log.Records()
	require.Len(t, recs, 50)
	seen := make(map[int64]bool, len(recs))
	for _, rec := range recs {
		assert.False(t, seen[rec.Sequence], "duplicate sequence %d", rec.Sequence)
		seen[rec.Sequence] = true
	}
}
