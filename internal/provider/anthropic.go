package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/luthien-control/luthien-gateway/internal/ir"
)

// ---------------------------------------------------------------------------
// AnthropicProvider struct + constructor
// ---------------------------------------------------------------------------

// AnthropicProvider implements the Provider interface for Anthropic's
// Messages API. Same pattern as GoogleProvider: translate an ir.Request
// into Anthropic's format, make the HTTP call, translate the response
// back into ir.Chunk/ir.Response.
type AnthropicProvider struct {
	apiKey  string
	baseURL string // e.g. "https://api.anthropic.com/v1"
	client  *http.Client
}

// NewAnthropicProvider creates an AnthropicProvider ready to make API calls.
func NewAnthropicProvider(apiKey, baseURL string, client *http.Client) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  client,
	}
}

// Name returns the provider identifier.
func (a *AnthropicProvider) Name() string {
	return "anthropic"
}

// ---------------------------------------------------------------------------
// Anthropic API types (unexported)
// ---------------------------------------------------------------------------

// --- Request types ---

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	Stream    bool               `json:"stream,omitempty"`
}

// anthropicMessage carries either a plain string or an array of content
// blocks — Content is json.RawMessage so both shapes marshal correctly
// without a second message type.
type anthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// --- Response types (non-streaming) ---

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- Streaming event types ---
//
// Anthropic sends NAMED SSE events, each with a different JSON payload
// shape:
//
//	message_start        → response ID, model, input token count
//	content_block_start  → opens a text or tool_use block at an index
//	content_block_delta  → text_delta or input_json_delta fragment
//	content_block_stop   → closes the block at an index
//	message_delta        → stop_reason and output token count
//	message_stop         → end of stream
//
// We decode into one wrapper struct per event and switch on Type, the
// same shape-tagging approach the non-streaming response avoids needing
// because it gets the whole body in one shot.
type anthropicStreamEvent struct {
	Type         string                 `json:"type"`
	Index        int                    `json:"index"`
	Message      *anthropicEventMessage `json:"message,omitempty"`
	ContentBlock *anthropicContentBlock `json:"content_block,omitempty"`
	Delta        *anthropicEventDelta   `json:"delta,omitempty"`
	Usage        *anthropicUsage        `json:"usage,omitempty"`
}

type anthropicEventMessage struct {
	ID    string         `json:"id"`
	Model string         `json:"model"`
	Usage anthropicUsage `json:"usage"`
}

// anthropicEventDelta carries different fields depending on the event:
//   - content_block_delta / text_delta:        Text
//   - content_block_delta / input_json_delta:   PartialJSON
//   - message_delta:                            StopReason
type anthropicEventDelta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// anthropicAPIVersion pins the Anthropic API behavior. Anthropic requires
// this header on every request, versioned by date rather than URL path.
const anthropicAPIVersion = "2023-06-01"

// defaultMaxTokens is used when the caller doesn't specify max_tokens.
// Anthropic requires this field, so we need a fallback.
const defaultMaxTokens = 1024

func anthropicFinishReason(stopReason string) ir.FinishReason {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return ir.FinishStop
	case "max_tokens":
		return ir.FinishLength
	case "tool_use":
		return ir.FinishToolCalls
	case "":
		return ir.FinishNone
	default:
		return ir.FinishOther
	}
}

// ---------------------------------------------------------------------------
// Request translation
// ---------------------------------------------------------------------------

// toAnthropicRequest translates an ir.Request into Anthropic's format: the
// system prompt is pulled into the top-level "system" string, tool_use /
// tool_result parts map onto Anthropic's block shapes, and tool schemas
// move from Tools[].InputSchema to Anthropic's "input_schema" field name.
func toAnthropicRequest(req *ir.Request) (*anthropicRequest, error) {
	ar := &anthropicRequest{
		Model:  req.Model,
		System: req.System,
	}

	for _, msg := range req.Messages {
		content, err := anthropicContentFor(msg)
		if err != nil {
			return nil, err
		}
		ar.Messages = append(ar.Messages, anthropicMessage{Role: msg.Role, Content: content})
	}

	for _, tool := range req.Tools {
		ar.Tools = append(ar.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}

	if req.MaxTokens > 0 {
		ar.MaxTokens = req.MaxTokens
	} else {
		ar.MaxTokens = defaultMaxTokens
	}

	return ar, nil
}

// anthropicContentFor marshals one ir.Message into Anthropic's content
// shape: a plain JSON string for pure text, or an array of typed blocks
// when the message carries tool_use/tool_result/multimodal parts.
func anthropicContentFor(msg ir.Message) (json.RawMessage, error) {
	if len(msg.Parts) == 0 {
		b, err := json.Marshal(msg.Text)
		if err != nil {
			return nil, fmt.Errorf("marshaling message text: %w", err)
		}
		return b, nil
	}

	type block struct {
		Type      string         `json:"type"`
		Text      string         `json:"text,omitempty"`
		ToolUseID string         `json:"tool_use_id,omitempty"`
		ID        string         `json:"id,omitempty"`
		Name      string         `json:"name,omitempty"`
		Input     map[string]any `json:"input,omitempty"`
		Content   string         `json:"content,omitempty"`
		IsError   bool           `json:"is_error,omitempty"`
	}

	var blocks []block
	for _, p := range msg.Parts {
		switch p.Type {
		case "tool_use":
			blocks = append(blocks, block{Type: "tool_use", ID: p.ToolUseID, Name: p.ToolName, Input: p.ToolInput})
		case "tool_result":
			blocks = append(blocks, block{Type: "tool_result", ToolUseID: p.ToolUseID, Content: p.ToolResult, IsError: p.IsError})
		default:
			blocks = append(blocks, block{Type: "text", Text: p.Text})
		}
	}

	b, err := json.Marshal(blocks)
	if err != nil {
		return nil, fmt.Errorf("marshaling message parts: %w", err)
	}
	return b, nil
}

// ---------------------------------------------------------------------------
// Non-streaming: ChatCompletion
// ---------------------------------------------------------------------------

func (a *AnthropicProvider) ChatCompletion(ctx context.Context, req *ir.Request) (*ir.Response, error) {
	anthropicReq, err := toAnthropicRequest(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/messages", a.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, upstreamConnectionError("anthropic", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		var errBody map[string]any
		json.NewDecoder(httpResp.Body).Decode(&errBody)
		return nil, upstreamHTTPError("anthropic", httpResp.StatusCode, errBody)
	}

	var anthropicResp anthropicResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&anthropicResp); err != nil {
		return nil, fmt.Errorf("decoding anthropic response: %w", err)
	}

	resp := &ir.Response{
		ID:           anthropicResp.ID,
		Model:        anthropicResp.Model,
		FinishReason: anthropicFinishReason(anthropicResp.StopReason),
		Usage: ir.Usage{
			PromptTokens:     anthropicResp.Usage.InputTokens,
			CompletionTokens: anthropicResp.Usage.OutputTokens,
			TotalTokens:      anthropicResp.Usage.InputTokens + anthropicResp.Usage.OutputTokens,
		},
	}

	var textParts []string
	for i, block := range anthropicResp.Content {
		switch block.Type {
		case "text":
			textParts = append(textParts, block.Text)
		case "tool_use":
			argsJSON, _ := json.Marshal(block.Input)
			resp.ToolCalls = append(resp.ToolCalls, ir.ToolCallFragment{
				Index: i, ID: block.ID, Name: block.Name, Arguments: string(argsJSON),
				HasID: true, HasName: true, HasArguments: true,
			})
		}
	}
	resp.Content = strings.Join(textParts, "")

	return resp, nil
}

// ---------------------------------------------------------------------------
// Streaming: ChatCompletionStream
// ---------------------------------------------------------------------------

// ChatCompletionStream sends a streaming request to Anthropic's
// /v1/messages endpoint and translates the named SSE event sequence into
// ir.Chunk values as they arrive.
func (a *AnthropicProvider) ChatCompletionStream(ctx context.Context, req *ir.Request) (<-chan ir.Chunk, error) {
	anthropicReq, err := toAnthropicRequest(req)
	if err != nil {
		return nil, err
	}
	anthropicReq.Stream = true

	body, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/messages", a.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, upstreamConnectionError("anthropic", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		var errBody map[string]any
		json.NewDecoder(httpResp.Body).Decode(&errBody)
		return nil, upstreamHTTPError("anthropic", httpResp.StatusCode, errBody)
	}

	ch := make(chan ir.Chunk)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		var (
			respID string
			model  string
			// blockKindAt remembers whether the open block at an index is
			// text or tool_use, since content_block_delta events carry
			// only the index, not the kind.
			blockKindAt = map[int]string{}
		)

		send := func(c ir.Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			jsonData := strings.TrimPrefix(line, "data: ")

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(jsonData), &event); err != nil {
				send(errChunk(respID, model, fmt.Errorf("decoding anthropic stream event: %w", err)))
				return
			}

			switch event.Type {
			case "message_start":
				if event.Message != nil {
					respID = event.Message.ID
					model = event.Message.Model
				}

			case "content_block_start":
				if event.ContentBlock == nil {
					continue
				}
				blockKindAt[event.Index] = event.ContentBlock.Type
				if event.ContentBlock.Type == "tool_use" {
					if !send(toolCallChunk(respID, model, event.Index, event.ContentBlock.ID, event.ContentBlock.Name, "", true, true, false)) {
						return
					}
				}

			case "content_block_delta":
				if event.Delta == nil {
					continue
				}
				switch event.Delta.Type {
				case "text_delta":
					if !send(textChunk(respID, model, event.Delta.Text)) {
						return
					}
				case "input_json_delta":
					if !send(toolCallChunk(respID, model, event.Index, "", "", event.Delta.PartialJSON, false, false, true)) {
						return
					}
				}

			case "content_block_stop":
				delete(blockKindAt, event.Index)

			case "message_delta":
				if event.Delta != nil && event.Delta.StopReason != "" {
					if !send(finishChunk(respID, model, anthropicFinishReason(event.Delta.StopReason))) {
						return
					}
				}

			case "message_stop":
				return
			}
		}

		if err := scanner.Err(); err != nil {
			send(errChunk(respID, model, fmt.Errorf("reading anthropic stream: %w", err)))
		}
	}()

	return ch, nil
}

func textChunk(id, model, text string) ir.Chunk {
	return ir.Chunk{ID: id, Model: model, Choices: []ir.Choice{{
		Delta: ir.Delta{Kind: ir.DeltaContent, Content: text},
	}}}
}

func toolCallChunk(id, model string, index int, toolID, name, args string, hasID, hasName, hasArgs bool) ir.Chunk {
	return ir.Chunk{ID: id, Model: model, Choices: []ir.Choice{{
		Delta: ir.Delta{Kind: ir.DeltaToolCall, ToolCall: ir.ToolCallFragment{
			Index: index, ID: toolID, Name: name, Arguments: args,
			HasID: hasID, HasName: hasName, HasArguments: hasArgs,
		}},
	}}}
}

func finishChunk(id, model string, reason ir.FinishReason) ir.Chunk {
	return ir.Chunk{ID: id, Model: model, Choices: []ir.Choice{{FinishReason: reason}}}
}

// errChunk carries a terminal decode/read failure as a FinishOther chunk;
// ChatCompletionStream reports transport failures as *errs.UpstreamError
// through its error return, not through ir.Chunk, but the ingestion
// goroutine has no other channel to report on before closing.
func errChunk(id, model string, err error) ir.Chunk {
	return ir.Chunk{ID: id, Model: model, Choices: []ir.Choice{{
		Delta:        ir.Delta{Kind: ir.DeltaContent, Content: fmt.Sprintf("[upstream error: %v]", err)},
		FinishReason: ir.FinishOther,
	}}}
}
