package httpapi

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/luthien-control/luthien-gateway/internal/ir"
)

// OpenAI wire types — the JSON shape /v1/chat/completions speaks on
// both sides of the gateway (spec §6). Decoding and encoding live next
// to each other here rather than in package ir, so ir stays free of
// any one wire format's naming conventions.

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Stream      bool            `json:"stream,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Tools       []openAITool    `json:"tools,omitempty"`
}

type openAIMessage struct {
	Role       string              `json:"role"`
	Content    json.RawMessage     `json:"content"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
	ToolCalls  []openAIToolCallRef `json:"tool_calls,omitempty"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIToolCallRef struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIToolFunc `json:"function"`
}

type openAIToolFunc struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// decodeOpenAIRequest turns an OpenAI-shaped chat-completion request
// body into the gateway's internal representation. A leading system
// message is pulled out of Messages into Request.System, mirroring
// how Anthropic's schema carries system separately, so both wire
// formats feed the same ir.Request shape regardless of which upstream
// provider actually serves the model.
func decodeOpenAIRequest(body []byte) (*ir.Request, error) {
	var raw openAIRequest
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding OpenAI request: %w", err)
	}

	req := &ir.Request{
		Model:       raw.Model,
		Stream:      raw.Stream,
		MaxTokens:   raw.MaxTokens,
		Temperature: raw.Temperature,
		TopP:        raw.TopP,
	}

	var systemParts []string
	for _, m := range raw.Messages {
		if m.Role == "system" {
			text, err := openAIMessageText(m.Content)
			if err != nil {
				return nil, err
			}
			systemParts = append(systemParts, text)
			continue
		}

		msg, err := openAIToIRMessage(m)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, msg)
	}
	req.System = joinNonEmpty(systemParts)

	for _, t := range raw.Tools {
		req.Tools = append(req.Tools, ir.ToolSchema{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	return req, nil
}

func openAIToIRMessage(m openAIMessage) (ir.Message, error) {
	if m.Role == "tool" {
		text, err := openAIMessageText(m.Content)
		if err != nil {
			return ir.Message{}, err
		}
		return ir.Message{
			Role: m.Role,
			Parts: []ir.ContentPart{
				{Type: "tool_result", ToolUseID: m.ToolCallID, ToolResult: text},
			},
		}, nil
	}

	if len(m.ToolCalls) > 0 {
		msg := ir.Message{Role: m.Role}
		for _, tc := range m.ToolCalls {
			var args map[string]any
			if tc.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					return ir.Message{}, fmt.Errorf("decoding tool_call arguments: %w", err)
				}
			}
			msg.Parts = append(msg.Parts, ir.ContentPart{
				Type: "tool_use", ToolUseID: tc.ID, ToolName: tc.Function.Name, ToolInput: args,
			})
		}
		return msg, nil
	}

	if len(m.Content) == 0 {
		return ir.Message{Role: m.Role}, nil
	}

	// Content is either a plain string or an array of typed parts
	// (text / image_url); try the string shape first since it's the
	// common case.
	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		return ir.Message{Role: m.Role, Text: text}, nil
	}

	var parts []openAIContentPart
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return ir.Message{}, fmt.Errorf("decoding message content: %w", err)
	}
	msg := ir.Message{Role: m.Role}
	for _, p := range parts {
		switch p.Type {
		case "image_url":
			url := ""
			if p.ImageURL != nil {
				url = p.ImageURL.URL
			}
			msg.Parts = append(msg.Parts, ir.ContentPart{Type: "image", Text: url})
		default:
			msg.Parts = append(msg.Parts, ir.ContentPart{Type: "text", Text: p.Text})
		}
	}
	return msg, nil
}

func openAIMessageText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}
	var parts []openAIContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("decoding message content: %w", err)
	}
	var out []string
	for _, p := range parts {
		out = append(out, p.Text)
	}
	return joinNonEmpty(out), nil
}

func joinNonEmpty(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n"
		}
		out += p
	}
	return out
}

// --- Non-streaming response encoding ---

type openAIResponseBody struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []openAIRespChoice `json:"choices"`
	Usage   openAIRespUsage    `json:"usage"`
}

type openAIRespChoice struct {
	Index        int               `json:"index"`
	Message      openAIRespMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type openAIRespMessage struct {
	Role      string              `json:"role"`
	Content   *string             `json:"content"`
	ToolCalls []openAIToolCallRef `json:"tool_calls,omitempty"`
}

type openAIRespUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func encodeOpenAIResponse(resp *ir.Response) openAIResponseBody {
	msg := openAIRespMessage{Role: "assistant"}
	if resp.Content != "" || len(resp.ToolCalls) == 0 {
		content := resp.Content
		msg.Content = &content
	}
	for _, tc := range resp.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, openAIToolCallRef{
			ID: tc.ID, Type: "function",
			Function: openAIFunctionCall{Name: tc.Name, Arguments: tc.Arguments},
		})
	}

	finish := string(resp.FinishReason)
	if finish == "" {
		finish = "stop"
	}

	return openAIResponseBody{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []openAIRespChoice{{Index: 0, Message: msg, FinishReason: finish}},
		Usage: openAIRespUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
}
