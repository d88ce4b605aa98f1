package llm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/opsbench/pkg/models"
)

// callBuffer accumulates the fragments of one streamed tool call.
type callBuffer struct {
	id   string
	name strings.Builder
	args strings.Builder
}

// ToolCallAssembler buffers raw tool-call deltas keyed by call index and
// emits finished ToolCalls. A call whose accumulated arguments fail to parse
// as a JSON object is dropped and the failure recorded; callers inspect
// Errors after the stream ends and must discard the turn's calls if any are
// present.
//
// Not safe for concurrent use. The router creates one assembler per stream.
type ToolCallAssembler struct {
	buffers   map[int]*callBuffer
	finalized map[int]bool
	errors    []string
}

// NewToolCallAssembler returns an empty assembler.
func NewToolCallAssembler() *ToolCallAssembler {
	return &ToolCallAssembler{
		buffers:   make(map[int]*callBuffer),
		finalized: make(map[int]bool),
	}
}

// Feed folds a single delta into the assembler and returns any calls it
// completed. A call is finalized when its delta has Done set; deltas that
// arrive for an already-finalized index are ignored.
func (a *ToolCallAssembler) Feed(delta models.RawToolDelta) []models.ToolCall {
	if a.finalized[delta.CallIndex] {
		return nil
	}
	buf, ok := a.buffers[delta.CallIndex]
	if !ok {
		buf = &callBuffer{}
		a.buffers[delta.CallIndex] = buf
	}

	if delta.ID != "" && buf.id == "" {
		buf.id = delta.ID
	}
	if delta.NameDelta != "" {
		buf.name.WriteString(delta.NameDelta)
	}
	if delta.ArgsDelta != "" {
		buf.args.WriteString(delta.ArgsDelta)
	}

	if delta.Done {
		return a.finalize(delta.CallIndex)
	}
	return nil
}

// Flush finalizes all remaining buffers in ascending index order, whether or
// not a done delta arrived. Called at stream end.
func (a *ToolCallAssembler) Flush() []models.ToolCall {
	indexes := make([]int, 0, len(a.buffers))
	for idx := range a.buffers {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var calls []models.ToolCall
	for _, idx := range indexes {
		calls = append(calls, a.finalize(idx)...)
	}
	return calls
}

// Reset discards all accumulated state, including recorded errors.
func (a *ToolCallAssembler) Reset() {
	a.buffers = make(map[int]*callBuffer)
	a.finalized = make(map[int]bool)
	a.errors = nil
}

// Errors returns the parse failures recorded so far.
func (a *ToolCallAssembler) Errors() []string {
	return a.errors
}

func (a *ToolCallAssembler) finalize(idx int) []models.ToolCall {
	buf, ok := a.buffers[idx]
	if !ok {
		return nil
	}
	// The buffer is consumed either way; a failed parse must not be
	// retried by a later Flush.
	delete(a.buffers, idx)
	a.finalized[idx] = true

	raw := buf.args.String()
	if raw == "" {
		raw = "{}"
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		a.errors = append(a.errors,
			fmt.Sprintf("tool_call_json_parse_failed idx=%d err=%v", idx, err))
		return nil
	}

	id := buf.id
	if id == "" {
		id = fmt.Sprintf("call_%d", idx)
	}

	return []models.ToolCall{{
		ID:        id,
		Name:      strings.TrimSpace(buf.name.String()),
		Arguments: args,
	}}
}
