// Package sidecar talks to the document-mutation side-car: a small HTTP
// service that burns highlight annotations into a PDF and extracts
// positioned text tokens from scanned pages.
package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dgallion1/docaudit/internal/doctree"
	"github.com/dgallion1/docaudit/internal/parser"
)

// TitleSuffix is appended to the document title by the side-car.
const TitleSuffix = "(AI Analyzed)"

// Client communicates with the side-car HTTP API.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)
	c.AddRetryCondition(retryCondition)
	return &Client{http: c}
}

// retryCondition retries network failures and 5xx responses.
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if r == nil {
		return false
	}
	return r.StatusCode() >= http.StatusInternalServerError
}

// StatusError is a non-2xx side-car response.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sidecar %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Coordinate is one rectangle of an issue in page points, top-left origin.
type Coordinate struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Issue is one highlight request. Type is the severity class; the side-car
// picks the fill color from it unless Color is set.
type Issue struct {
	ID          string       `json:"id"`
	Type        string       `json:"type"`
	Category    string       `json:"category,omitempty"`
	Description string       `json:"description"`
	PageNumber  int          `json:"pageNumber"`
	Color       string       `json:"color,omitempty"`
	Opacity     float64      `json:"opacity,omitempty"`
	Tooltip     string       `json:"tooltip,omitempty"`
	Coordinates []Coordinate `json:"coordinates"`
}

// HighlightOptions tunes a Highlight call.
type HighlightOptions struct {
	Filename    string
	TitleSuffix string
}

// Highlight uploads pdf with its issues and returns the mutated document.
func (c *Client) Highlight(ctx context.Context, pdf []byte, issues []Issue, opts HighlightOptions) ([]byte, error) {
	if len(pdf) == 0 {
		return nil, errors.New("sidecar highlight: empty document")
	}
	payload, err := json.Marshal(issues)
	if err != nil {
		return nil, fmt.Errorf("marshal issues: %w", err)
	}
	name := opts.Filename
	if name == "" {
		name = "document.pdf"
	}
	suffix := opts.TitleSuffix
	if suffix == "" {
		suffix = TitleSuffix
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/pdf").
		SetFileReader("pdf", name, bytes.NewReader(pdf)).
		SetMultipartField("issues", "issues.json", "application/json", bytes.NewReader(payload)).
		SetFormData(map[string]string{"titleSuffix": suffix}).
		Post("/highlight-pdf")
	if err != nil {
		return nil, fmt.Errorf("sidecar highlight: %w", err)
	}
	if resp.IsError() {
		return nil, &StatusError{Op: "highlight", StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 512)}
	}
	out := resp.Body()
	if len(out) == 0 {
		return nil, errors.New("sidecar highlight: empty response body")
	}
	return out, nil
}

// TokenResponse is the body of POST /extract-text-coordinates.
type TokenResponse struct {
	Success     bool                `json:"success"`
	TextTokens  []doctree.PageToken `json:"textTokens"`
	TotalTokens int                 `json:"totalTokens"`
	Message     string              `json:"message,omitempty"`
}

// ExtractTokens asks the side-car for positioned text tokens of pdf.
func (c *Client) ExtractTokens(ctx context.Context, pdf []byte, filename string) (*TokenResponse, error) {
	if filename == "" {
		filename = "document.pdf"
	}
	var out TokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("pdf", filename, bytes.NewReader(pdf)).
		SetResult(&out).
		Post("/extract-text-coordinates")
	if err != nil {
		return nil, fmt.Errorf("sidecar extract tokens: %w", err)
	}
	if resp.IsError() {
		return nil, &StatusError{Op: "extract tokens", StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 512)}
	}
	if !out.Success {
		return nil, fmt.Errorf("sidecar extract tokens: %s", out.Message)
	}
	return &out, nil
}

// Document builds pages from the side-car tokens.
func (r *TokenResponse) Document(title string) *doctree.Document {
	return parser.PagesFromTokens(parser.TokenPayload{
		Title:       title,
		TextTokens:  r.TextTokens,
		TotalTokens: r.TotalTokens,
	})
}

// Health returns nil when the side-car answers GET /health with 2xx.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("sidecar health: %w", err)
	}
	if resp.IsError() {
		return &StatusError{Op: "health", StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 256)}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
