package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter implements Emitter by writing structured log output to a
// writer, in text or one-JSON-object-per-line mode.
//
// Example text output:
//
//	[node_start] jobID=job-001 step=0 nodeID=nodeA operator=blur
//
// Example JSON output:
//
//	{"jobID":"job-001","step":0,"nodeID":"nodeA","operator":"blur","msg":"node_start","meta":null}
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to writer (os.Stdout if nil) in
// jsonMode (JSONL) or text mode.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit writes a single event.
func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		JobID    string                 `json:"jobID"`
		Step     int                    `json:"step"`
		NodeID   string                 `json:"nodeID"`
		Operator string                 `json:"operator,omitempty"`
		Status   Status                 `json:"status,omitempty"`
		Msg      string                 `json:"msg"`
		Meta     map[string]interface{} `json:"meta"`
	}{
		JobID:    event.JobID,
		Step:     event.Step,
		NodeID:   event.NodeID,
		Operator: event.Operator,
		Status:   event.NodeStatus,
		Msg:      event.Msg,
		Meta:     event.Meta,
	})
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	_, _ = fmt.Fprintf(l.writer, "[%s] jobID=%s step=%d nodeID=%s",
		event.Msg, event.JobID, event.Step, event.NodeID)
	if event.Operator != "" {
		_, _ = fmt.Fprintf(l.writer, " operator=%s", event.Operator)
	}
	if event.NodeStatus != "" {
		_, _ = fmt.Fprintf(l.writer, " status=%s", event.NodeStatus)
	}
	if len(event.Meta) > 0 {
		if metaJSON, err := json.Marshal(event.Meta); err == nil {
			_, _ = fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			_, _ = fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}
	_, _ = fmt.Fprint(l.writer, "\n")
}

// EmitBatch writes events in order, minimizing nothing beyond what Emit
// already does per-call — kept as a distinct method so a future buffering
// implementation can batch writes without changing the Emitter contract.
func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, event := range events {
		l.Emit(event)
	}
	return nil
}

// Flush is a no-op: LogEmitter writes synchronously with no internal
// buffer. Present to satisfy Emitter for polymorphic use alongside emitters
// that do buffer (e.g. the OTel-backed one).
func (l *LogEmitter) Flush(_ context.Context) error {
	return nil
}
