package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Model is the language-model endpoint contract.
type Model interface {
	Analyze(ctx context.Context, req Request) (Response, error)
}

// Image is an inline page image sent alongside the prompt.
type Image struct {
	MimeType string
	Data     []byte
}

// Message is one chat message with optional images.
type Message struct {
	Role   string
	Text   string
	Images []Image
}

// Request is a single analysis call. Temperature and ReasoningEffort are
// mutually exclusive; reasoning models ignore temperature.
type Request struct {
	Model           string
	Messages        []Message
	MaxOutputTokens int
	Temperature     *float64
	ReasoningEffort string
}

// Usage is the token accounting reported by the endpoint.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Response is the model's text answer plus usage.
type Response struct {
	Model string
	Text  string
	Usage Usage
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	stats      *LLMStats
}

func NewClient(apiKey, baseURL string, stats *LLMStats) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		stats: stats,
	}
}

type chatImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model               string            `json:"model"`
	Messages            []chatMessage     `json:"messages"`
	MaxCompletionTokens int               `json:"max_completion_tokens,omitempty"`
	Temperature         *float64          `json:"temperature,omitempty"`
	ReasoningEffort     string            `json:"reasoning_effort,omitempty"`
	ResponseFormat      map[string]string `json:"response_format,omitempty"`
}

func encodeMessages(msgs []Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		if len(m.Images) == 0 {
			out = append(out, chatMessage{Role: m.Role, Content: m.Text})
			continue
		}
		parts := []chatPart{{Type: "text", Text: m.Text}}
		for _, img := range m.Images {
			mt := img.MimeType
			if mt == "" {
				mt = "image/png"
			}
			parts = append(parts, chatPart{
				Type: "image_url",
				ImageURL: &chatImageURL{
					URL:    "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
					Detail: "high",
				},
			})
		}
		out = append(out, chatMessage{Role: m.Role, Content: parts})
	}
	return out
}

// Analyze sends one request. Status 429 and 5xx and transport failures are
// returned as *TransientError, other non-2xx as *PermanentError. A
// cancelled context is returned as the context's error.
func (c *Client) Analyze(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(chatRequest{
		Model:               req.Model,
		Messages:            encodeMessages(req.Messages),
		MaxCompletionTokens: req.MaxOutputTokens,
		Temperature:         req.Temperature,
		ReasoningEffort:     req.ReasoningEffort,
		ResponseFormat:      map[string]string{"type": "json_object"},
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		c.observe(start, Usage{}, err)
		return Response{}, &TransientError{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, &TransientError{StatusCode: resp.StatusCode, Message: "read response: " + err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(respBody, "error.message").String()
		if msg == "" {
			msg = string(respBody)
		}
		err := StatusError(resp.StatusCode, msg)
		c.observe(start, Usage{}, err)
		return Response{}, err
	}

	parsed := gjson.ParseBytes(respBody)
	out := Response{
		Model: parsed.Get("model").String(),
		Text:  parsed.Get("choices.0.message.content").String(),
		Usage: Usage{
			PromptTokens:     int(parsed.Get("usage.prompt_tokens").Int()),
			CompletionTokens: int(parsed.Get("usage.completion_tokens").Int()),
		},
	}
	c.observe(start, out.Usage, nil)
	if strings.TrimSpace(out.Text) == "" {
		return out, &ParseError{Reason: "empty completion", Raw: string(respBody)}
	}
	return out, nil
}

func (c *Client) observe(start time.Time, u Usage, err error) {
	if c.stats != nil {
		c.stats.Observe(time.Since(start), u, err)
	}
}

// Close releases resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
