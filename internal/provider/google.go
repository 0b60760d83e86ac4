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
// GoogleProvider struct + constructor
// ---------------------------------------------------------------------------

// GoogleProvider implements the Provider interface for Google's Gemini API.
// It translates an ir.Request into Gemini's format, makes the HTTP call,
// and translates the response back into the common intermediate
// representation.
type GoogleProvider struct {
	apiKey  string       // Gemini API key (sent as a query parameter, not a header)
	baseURL string       // e.g. "https://generativelanguage.googleapis.com/v1beta"
	client  *http.Client // reusable HTTP client (manages connection pooling)
}

// NewGoogleProvider creates a GoogleProvider ready to make API calls.
func NewGoogleProvider(apiKey, baseURL string, client *http.Client) *GoogleProvider {
	return &GoogleProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  client,
	}
}

// Name returns the provider identifier.
func (g *GoogleProvider) Name() string {
	return "google"
}

// ---------------------------------------------------------------------------
// Gemini API types (unexported — only this file uses them)
// ---------------------------------------------------------------------------

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Tools             []geminiToolDecl        `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// geminiPart is one piece of content within a message. Exactly one of
// Text, FunctionCall or FunctionResponse should be set per part —
// Gemini's JSON is a genuine union, Go just leaves the unused fields at
// their zero value (omitempty keeps them out of the marshaled request).
type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiToolDecl struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

// --- Response types ---

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

func geminiFinishReason(r string) ir.FinishReason {
	switch r {
	case "":
		return ir.FinishNone
	case "STOP":
		return ir.FinishStop
	case "MAX_TOKENS":
		return ir.FinishLength
	default:
		return ir.FinishOther
	}
}

// ---------------------------------------------------------------------------
// Request translation
// ---------------------------------------------------------------------------

// toGeminiRequest translates an ir.Request into Gemini's format: System
// becomes systemInstruction, tool_use/tool_result parts become
// functionCall/functionResponse parts, "assistant" maps to Gemini's
// "model" role, and Tools move into one functionDeclarations block.
func toGeminiRequest(req *ir.Request) *geminiRequest {
	gr := &geminiRequest{}

	if req.System != "" {
		gr.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}

	for _, msg := range req.Messages {
		role := msg.Role
		if role == "assistant" {
			role = "model"
		}
		gr.Contents = append(gr.Contents, geminiContent{Role: role, Parts: geminiPartsFor(msg)})
	}

	if len(req.Tools) > 0 {
		decls := make([]geminiFunctionDecl, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, geminiFunctionDecl{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
		}
		gr.Tools = []geminiToolDecl{{FunctionDeclarations: decls}}
	}

	if req.MaxTokens > 0 {
		gr.GenerationConfig = &geminiGenerationConfig{MaxOutputTokens: req.MaxTokens}
	}

	return gr
}

func geminiPartsFor(msg ir.Message) []geminiPart {
	if len(msg.Parts) == 0 {
		return []geminiPart{{Text: msg.Text}}
	}

	parts := make([]geminiPart, 0, len(msg.Parts))
	for _, p := range msg.Parts {
		switch p.Type {
		case "tool_use":
			parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{Name: p.ToolName, Args: p.ToolInput}})
		case "tool_result":
			parts = append(parts, geminiPart{FunctionResponse: &geminiFunctionResponse{
				Name:     p.ToolName,
				Response: map[string]any{"result": p.ToolResult},
			}})
		default:
			parts = append(parts, geminiPart{Text: p.Text})
		}
	}
	return parts
}

// ---------------------------------------------------------------------------
// Non-streaming: ChatCompletion
// ---------------------------------------------------------------------------

func (g *GoogleProvider) ChatCompletion(ctx context.Context, req *ir.Request) (*ir.Response, error) {
	geminiReq := toGeminiRequest(req)

	body, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, req.Model, g.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, upstreamConnectionError("google", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		var errBody map[string]any
		json.NewDecoder(httpResp.Body).Decode(&errBody)
		return nil, upstreamHTTPError("google", httpResp.StatusCode, errBody)
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&geminiResp); err != nil {
		return nil, fmt.Errorf("decoding gemini response: %w", err)
	}

	if len(geminiResp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini returned no candidates")
	}
	candidate := geminiResp.Candidates[0]

	resp := &ir.Response{
		Model:        req.Model,
		FinishReason: geminiFinishReason(candidate.FinishReason),
	}

	var textParts []string
	for i, part := range candidate.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			argsJSON, _ := json.Marshal(part.FunctionCall.Args)
			resp.ToolCalls = append(resp.ToolCalls, ir.ToolCallFragment{
				Index: i, Name: part.FunctionCall.Name, Arguments: string(argsJSON),
				HasID: false, HasName: true, HasArguments: true,
			})
		case part.Text != "":
			textParts = append(textParts, part.Text)
		}
	}
	resp.Content = strings.Join(textParts, "")

	if geminiResp.UsageMetadata != nil {
		resp.Usage = ir.Usage{
			PromptTokens:     geminiResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      geminiResp.UsageMetadata.TotalTokenCount,
		}
	}

	return resp, nil
}

// ---------------------------------------------------------------------------
// Streaming: ChatCompletionStream
// ---------------------------------------------------------------------------

func (g *GoogleProvider) ChatCompletionStream(ctx context.Context, req *ir.Request) (<-chan ir.Chunk, error) {
	geminiReq := toGeminiRequest(req)

	body, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", g.baseURL, req.Model, g.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, upstreamConnectionError("google", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		var errBody map[string]any
		json.NewDecoder(httpResp.Body).Decode(&errBody)
		return nil, upstreamHTTPError("google", httpResp.StatusCode, errBody)
	}

	ch := make(chan ir.Chunk)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

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

		toolIndex := 0

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			jsonData := strings.TrimPrefix(line, "data: ")

			var geminiResp geminiResponse
			if err := json.Unmarshal([]byte(jsonData), &geminiResp); err != nil {
				send(errChunk("", req.Model, fmt.Errorf("decoding gemini stream event: %w", err)))
				return
			}

			if len(geminiResp.Candidates) == 0 {
				continue
			}
			candidate := geminiResp.Candidates[0]

			for _, part := range candidate.Content.Parts {
				switch {
				case part.FunctionCall != nil:
					argsJSON, _ := json.Marshal(part.FunctionCall.Args)
					c := toolCallChunk("", req.Model, toolIndex, "", part.FunctionCall.Name, string(argsJSON), false, true, true)
					toolIndex++
					if !send(c) {
						return
					}
				case part.Text != "":
					if !send(textChunk("", req.Model, part.Text)) {
						return
					}
				}
			}

			if candidate.FinishReason != "" {
				if !send(finishChunk("", req.Model, geminiFinishReason(candidate.FinishReason))) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			send(errChunk("", req.Model, fmt.Errorf("reading gemini stream: %w", err)))
		}
	}()

	return ch, nil
}
