package agent

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/agentforge/core/pkg/models"
)

// TraceEventKind tags which variant of TraceEvent is populated.
type TraceEventKind string

const (
	TraceAgentStep              TraceEventKind = "AgentStep"
	TraceProviderCall           TraceEventKind = "ProviderCall"
	TraceToolCall               TraceEventKind = "ToolCall"
	TraceToolResult             TraceEventKind = "ToolResult"
	TraceCacheHit               TraceEventKind = "CacheHit"
	TraceCacheMiss              TraceEventKind = "CacheMiss"
	TraceContextPipelineApplied TraceEventKind = "ContextPipelineApplied"
	TraceError                  TraceEventKind = "Error"
)

// TraceEvent is one record in a run's trace stream. Only the field(s)
// matching Kind are populated; the rest are zero.
type TraceEvent struct {
	Kind      TraceEventKind `json:"kind"`
	Sequence  uint64         `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	Iteration int            `json:"iteration"`

	AgentStep              *AgentStepEvent        `json:"agent_step,omitempty"`
	ProviderCall           *ProviderCallEvent     `json:"provider_call,omitempty"`
	ToolCall               *ToolCallEvent         `json:"tool_call,omitempty"`
	ToolResult             *ToolResultEvent       `json:"tool_result,omitempty"`
	CacheHit               *CacheHitEvent         `json:"cache_hit,omitempty"`
	CacheMiss              *CacheMissEvent        `json:"cache_miss,omitempty"`
	ContextPipelineApplied *ContextPipelineEvent  `json:"context_pipeline_applied,omitempty"`
	Error                  *ErrorEvent            `json:"error,omitempty"`
}

// AgentStepEvent records a controller-state transition.
type AgentStepEvent struct {
	FromState AgentState `json:"from_state"`
	ToState   AgentState `json:"to_state"`
}

// ProviderCallEvent records one provider request/response.
type ProviderCallEvent struct {
	Model      string       `json:"model"`
	LatencyMs  int64        `json:"latency_ms"`
	Usage      *models.Usage `json:"usage,omitempty"`
	Streamed   bool         `json:"streamed"`
	RetryCount int          `json:"retry_count"`
}

// ToolCallEvent records a dispatched tool call's request.
type ToolCallEvent struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
}

// ToolResultEvent records a dispatched tool call's outcome.
type ToolResultEvent struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	IsError    bool   `json:"is_error"`
	LatencyMs  int64  `json:"latency_ms"`
	Attempts   int    `json:"attempts"`
}

// CacheHitEvent records a semantic cache hit.
type CacheHitEvent struct {
	Similarity float64 `json:"similarity"`
}

// CacheMissEvent records a semantic cache miss with its reason.
type CacheMissEvent struct {
	Reason string `json:"reason"`
}

// ContextPipelineEvent records the context pipeline's effect on one step.
type ContextPipelineEvent struct {
	Steps            []string `json:"steps"`
	OriginalTokens   int      `json:"original_tokens"`
	FinalTokens      int      `json:"final_tokens"`
	CompressionRatio float64  `json:"compression_ratio"`
}

// ErrorEvent records a run-terminating or step-level error.
type ErrorEvent struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// TraceHeader is the first line written to a trace file, for versioning
// and run identification.
type TraceHeader struct {
	Version   int       `json:"version"`
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
}

// TraceSink receives trace events as a run progresses. Implementations
// must be safe for sequential, single-producer use (the controller never
// emits concurrently).
type TraceSink interface {
	Emit(event TraceEvent)
	Close() error
}

// TraceWriter writes TraceEvents to a JSONL stream: one header line
// followed by one JSON object per event, flushed immediately.
type TraceWriter struct {
	mu      sync.Mutex
	writer  io.Writer
	file    *os.File
	header  TraceHeader
	started bool
	seq     uint64
}

// NewTraceWriter wraps an io.Writer as a TraceSink.
func NewTraceWriter(w io.Writer, runID string) *TraceWriter {
	return &TraceWriter{
		writer: w,
		header: TraceHeader{Version: 1, RunID: runID, StartedAt: time.Now()},
	}
}

// NewTraceWriterFile creates (or truncates) a file at path and returns a
// TraceWriter writing to it. The caller must Close when done.
func NewTraceWriterFile(path string, runID string) (*TraceWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("agent: create trace file: %w", err)
	}
	tw := NewTraceWriter(f, runID)
	tw.file = f
	return tw, nil
}

// Emit writes event as one JSONL line, writing the header first if this is
// the first call. Marshal/write failures are swallowed: a broken trace
// sink must never abort the run it is observing.
func (t *TraceWriter) Emit(event TraceEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		t.started = true
		t.writeLine(t.header)
	}

	t.seq++
	event.Sequence = t.seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	t.writeLine(event)
}

func (t *TraceWriter) writeLine(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if _, err := t.writer.Write(append(data, '\n')); err != nil {
		return
	}
	if t.file != nil {
		_ = t.file.Sync()
	}
}

// Close closes the underlying file, if this writer opened one.
func (t *TraceWriter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		return t.file.Close()
	}
	return nil
}

// TraceReader replays a JSONL trace file produced by TraceWriter, so a
// recorded run can be inspected without re-running the agent.
type TraceReader struct {
	decoder *json.Decoder
	header  TraceHeader
}

// NewTraceReader reads and validates the header from r.
func NewTraceReader(r io.Reader) (*TraceReader, error) {
	decoder := json.NewDecoder(r)
	var header TraceHeader
	if err := decoder.Decode(&header); err != nil {
		return nil, fmt.Errorf("agent: read trace header: %w", err)
	}
	if header.Version != 1 {
		return nil, fmt.Errorf("agent: unsupported trace version %d", header.Version)
	}
	return &TraceReader{decoder: decoder, header: header}, nil
}

// Header returns the trace's run metadata.
func (r *TraceReader) Header() TraceHeader { return r.header }

// ReadEvent returns the next event, or io.EOF once exhausted.
func (r *TraceReader) ReadEvent() (*TraceEvent, error) {
	var event TraceEvent
	if err := r.decoder.Decode(&event); err != nil {
		return nil, err
	}
	return &event, nil
}

// ReadAll reads every remaining event into a slice.
func (r *TraceReader) ReadAll() ([]TraceEvent, error) {
	var events []TraceEvent
	for {
		event, err := r.ReadEvent()
		if err == io.EOF {
			break
		}
		if err != nil {
			return events, err
		}
		events = append(events, *event)
	}
	return events, nil
}

// NopTraceSink discards every event; used when a run has no trace_path.
type NopTraceSink struct{}

func (NopTraceSink) Emit(TraceEvent) {}
func (NopTraceSink) Close() error    { return nil }
