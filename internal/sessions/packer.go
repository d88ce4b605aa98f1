package sessions

import (
	"encoding/json"

	"github.com/haasonsaas/opsbench/pkg/models"
)

// DefaultReserveTokens is held back from the context budget for framing the
// provider adds around the conversation.
const DefaultReserveTokens = 200

// TokenEstimator is the slice of the token counter the packer needs.
type TokenEstimator interface {
	CountText(text string) int
	CountMessage(msg models.Message) int
}

// ContextPacker selects the messages that fit a model's context window.
// System messages are always kept; the rest are admitted newest first until
// the budget runs out, then emitted in their original order.
type ContextPacker struct {
	counter TokenEstimator
}

// NewContextPacker returns a packer backed by the given counter.
func NewContextPacker(counter TokenEstimator) *ContextPacker {
	return &ContextPacker{counter: counter}
}

// Pack trims messages to fit within maxContext after setting aside room for
// the model's output, a reserve, the tool schemas and the system prompt. The
// returned report records every budget input and what survived the cut.
func (p *ContextPacker) Pack(
	messages []models.Message,
	tools []models.ToolDefinition,
	systemPrompt string,
	maxContext, maxOutput, reserve int,
) ([]models.Message, models.ContextPackReport) {
	toolSchemaTokens := 0
	if len(tools) > 0 {
		if data, err := json.Marshal(tools); err == nil {
			toolSchemaTokens = p.counter.CountText(string(data))
		}
	}
	systemPromptTokens := p.counter.CountText(systemPrompt)

	budget := maxContext - maxOutput - reserve - toolSchemaTokens - systemPromptTokens
	if budget < 0 {
		budget = 0
	}

	keep := make([]bool, len(messages))
	messageTokens := 0

	// System messages are kept unconditionally; their cost comes off the
	// budget before any history is admitted.
	for i, msg := range messages {
		if msg.Role != models.RoleSystem {
			continue
		}
		keep[i] = true
		cost := p.counter.CountMessage(msg)
		messageTokens += cost
		budget -= cost
	}
	if budget < 0 {
		budget = 0
	}

	// Walk the remaining history newest first and stop at the first message
	// that does not fit, so the kept window is a contiguous recent suffix.
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleSystem {
			continue
		}
		cost := p.counter.CountMessage(messages[i])
		if cost > budget {
			break
		}
		keep[i] = true
		budget -= cost
		messageTokens += cost
	}

	packed := make([]models.Message, 0, len(messages))
	for i, msg := range messages {
		if keep[i] {
			packed = append(packed, msg)
		}
	}

	report := models.ContextPackReport{
		MaxContextTokens:   maxContext,
		MaxOutputTokens:    maxOutput,
		ReserveTokens:      reserve,
		ToolSchemaTokens:   toolSchemaTokens,
		SystemPromptTokens: systemPromptTokens,
		MessageTokens:      messageTokens,
		KeptMessages:       len(packed),
		DroppedMessages:    len(messages) - len(packed),
	}
	return packed, report
}
