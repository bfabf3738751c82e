// Package trace records per-node execution evidence for a flow run. The
// log is append-only and in-memory; callers that want durable traces copy
// Records out to their own storage.
package trace

import (
	"sync"
	"time"

	"github.com/rmead777/agentflow/pkg/schema"
)

// Record is one appended trace entry. Sequence is assigned by the log and
// increases monotonically without gaps across a log's lifetime (Clear
// does not reset it, so records from successive runs stay ordered).
type Record struct {
	Sequence      int64             `json:"sequence"`
	Timestamp     time.Time         `json:"timestamp"`
	NodeID        string            `json:"nodeId"`
	NodeName      string            `json:"nodeName"`
	NodeType      string            `json:"nodeType"`
	ModelID       string            `json:"modelId,omitempty"`
	Input         any               `json:"input,omitempty"`
	Output        any               `json:"output,omitempty"`
	ExecutionTime int64             `json:"executionTime"`
	Config        schema.NodeConfig `json:"config"`
}

// Sink receives trace records as nodes finish. The flow engine takes a
// Sink rather than a concrete log so tests and embedders can intercept.
type Sink interface {
	Append(rec Record)
}

// Log is the default Sink: a mutex-guarded append-only slice.
type Log struct {
	mu   sync.Mutex
	seq  int64
	recs []Record
}

// NewLog returns an empty trace log.
func NewLog() *Log {
	return &Log{}
}

// Append stamps the record with the next sequence number and the current
// time (when unset) and stores it. Safe for concurrent use.
func (l *Log) Append(rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	rec.Sequence = l.seq
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	l.recs = append(l.recs, rec)
}

// Records returns a copy of all appended records in sequence order.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, len(l.recs))
	copy(out, l.recs)
	return out
}

// Len reports the number of appended records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.recs)
}

// Clear drops all records. The sequence counter keeps counting.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = nil
}

// Discard is a Sink that drops every record. Used when tracing is off.
type Discard struct{}

func (Discard) Append(Record) {}
