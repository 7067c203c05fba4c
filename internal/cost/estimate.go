package cost

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// CharsPerToken is the segmentation approximation. It sizes units only and
// never participates in anchor matching.
const CharsPerToken = 4

// ImageTokens is the flat token charge for one high-detail page image.
const ImageTokens = 1200

// EstimateTokens approximates the token count of text at 4 chars/token.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + CharsPerToken - 1) / CharsPerToken
}

// CharsForTokens returns the character budget that corresponds to t tokens.
func CharsForTokens(t int) int {
	if t <= 0 {
		return 0
	}
	return t * CharsPerToken
}

// Counter counts tokens for cost accounting.
type Counter interface {
	Count(text string) int
}

// ApproxCounter uses EstimateTokens.
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int { return EstimateTokens(text) }

// TiktokenCounter counts tokens with a BPE encoding.
type TiktokenCounter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter resolves the encoding for model, falling back to cl100k_base.
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("load tiktoken encoding: %w", err)
		}
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(text, nil, nil))
}
