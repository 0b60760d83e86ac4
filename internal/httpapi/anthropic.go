package httpapi

import (
	"encoding/json"
	"fmt"

	"github.com/luthien-control/luthien-gateway/internal/ir"
)

// Anthropic wire types — the JSON shape /v1/messages speaks (spec
// §6: content blocks, a top-level "system" param, tool schemas under
// "input_schema").

type anthropicRequestBody struct {
	Model     string                  `json:"model"`
	MaxTokens int                     `json:"max_tokens"`
	System    string                  `json:"system,omitempty"`
	Messages  []anthropicMessageBody  `json:"messages"`
	Tools     []anthropicToolBody     `json:"tools,omitempty"`
	Stream    bool                    `json:"stream,omitempty"`
}

type anthropicMessageBody struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type anthropicContentBlockBody struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type anthropicToolBody struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// decodeAnthropicRequest turns an Anthropic-shaped messages request
// body into the gateway's internal representation.
func decodeAnthropicRequest(body []byte) (*ir.Request, error) {
	var raw anthropicRequestBody
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding Anthropic request: %w", err)
	}

	req := &ir.Request{
		Model:     raw.Model,
		Stream:    raw.Stream,
		MaxTokens: raw.MaxTokens,
		System:    raw.System,
	}

	for _, m := range raw.Messages {
		msg, err := anthropicToIRMessage(m)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, msg)
	}

	for _, t := range raw.Tools {
		req.Tools = append(req.Tools, ir.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	return req, nil
}

func anthropicToIRMessage(m anthropicMessageBody) (ir.Message, error) {
	if len(m.Content) == 0 {
		return ir.Message{Role: m.Role}, nil
	}

	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		return ir.Message{Role: m.Role, Text: text}, nil
	}

	var blocks []anthropicContentBlockBody
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return ir.Message{}, fmt.Errorf("decoding message content: %w", err)
	}

	msg := ir.Message{Role: m.Role}
	for _, b := range blocks {
		switch b.Type {
		case "tool_use":
			msg.Parts = append(msg.Parts, ir.ContentPart{
				Type: "tool_use", ToolUseID: b.ID, ToolName: b.Name, ToolInput: b.Input,
			})
		case "tool_result":
			msg.Parts = append(msg.Parts, ir.ContentPart{
				Type: "tool_result", ToolUseID: b.ToolUseID, ToolResult: b.Content, IsError: b.IsError,
			})
		default:
			msg.Parts = append(msg.Parts, ir.ContentPart{Type: "text", Text: b.Text})
		}
	}
	return msg, nil
}

// --- Non-streaming response encoding ---

type anthropicResponseBody struct {
	ID         string                      `json:"id"`
	Type       string                      `json:"type"`
	Role       string                      `json:"role"`
	Content    []anthropicRespContentBlock `json:"content"`
	Model      string                      `json:"model"`
	StopReason string                      `json:"stop_reason"`
	Usage      anthropicRespUsage          `json:"usage"`
}

type anthropicRespContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type anthropicRespUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// anthropicStopReason maps an IR finish reason to Anthropic's stop
// reason vocabulary, same mapping the streaming formatter uses (spec
// GLOSSARY "Finish reason").
func anthropicStopReason(r ir.FinishReason) string {
	switch r {
	case ir.FinishStop:
		return "end_turn"
	case ir.FinishToolCalls:
		return "tool_use"
	case ir.FinishLength:
		return "max_tokens"
	default:
		return "end_turn"
	}
}

func encodeAnthropicResponse(resp *ir.Response, transactionID string) anthropicResponseBody {
	id := resp.ID
	if id == "" {
		id = "msg_" + transactionID
	}

	var blocks []anthropicRespContentBlock
	if resp.Content != "" {
		blocks = append(blocks, anthropicRespContentBlock{Type: "text", Text: resp.Content})
	}
	for _, tc := range resp.ToolCalls {
		var input map[string]any
		if tc.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Arguments), &input)
		}
		blocks = append(blocks, anthropicRespContentBlock{
			Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input,
		})
	}

	return anthropicResponseBody{
		ID:         id,
		Type:       "message",
		Role:       "assistant",
		Content:    blocks,
		Model:      resp.Model,
		StopReason: anthropicStopReason(resp.FinishReason),
		Usage: anthropicRespUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
}
