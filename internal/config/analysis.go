package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Pooling strategies for combining unit and document embeddings.
const (
	PoolingAverage   = "average"
	PoolingWeighted  = "weighted"
	PoolingAttention = "attention"
)

// Analysis is the per-run configuration for RunAnalysis.
type Analysis struct {
	// Segmentation
	TokenBudget       int `json:"tokenBudget" validate:"gt=0"`
	HardCeiling       int `json:"hardCeiling" validate:"gtefield=TokenBudget"`
	Overlap           int `json:"overlap" validate:"gte=0,ltfield=TokenBudget"`
	ComplexPageTables int `json:"complexPageTables" validate:"gte=1"`
	ComplexPageTokens int `json:"complexPageTokens" validate:"gt=0"`

	// Dispatch
	Concurrency        int           `json:"concurrency" validate:"gte=0,lte=64"`
	MaxAttempts        int           `json:"maxAttempts" validate:"gte=1,lte=10"`
	BackoffBase        time.Duration `json:"backoffBase" validate:"gt=0"`
	BackoffMax         time.Duration `json:"backoffMax" validate:"gtefield=BackoffBase"`
	ContextUnits       int           `json:"contextUnits" validate:"gte=0,lte=5"`
	ProgressiveContext bool          `json:"progressiveContext"`
	PatternDetection   bool          `json:"patternDetection"`
	IncludeImages      bool          `json:"includeImages"`

	// Model
	Model           string   `json:"model" validate:"required"`
	MaxOutputTokens int      `json:"maxOutputTokens" validate:"gt=0"`
	Temperature     *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	ReasoningEffort string   `json:"reasoningEffort,omitempty" validate:"omitempty,oneof=minimal low medium high"`

	// Context pooling
	PoolingStrategy     string  `json:"poolingStrategy" validate:"oneof=average weighted attention"`
	SimilarityThreshold float64 `json:"similarityThreshold" validate:"gt=0,lte=1"`
	AttentionFloor      float64 `json:"attentionFloor" validate:"gte=0,lte=1"`
	RelationPageWindow  int     `json:"relationPageWindow" validate:"gte=0"`
	SummaryPages        int     `json:"summaryPages" validate:"gte=1"`
	SummaryMaxChars     int     `json:"summaryMaxChars" validate:"gt=0"`
	// Overrides for the weighted pooling strategy, keyed by priority or
	// semantic type name.
	PriorityWeights map[string]float64 `json:"priorityWeights,omitempty" validate:"omitempty,dive,gte=0,lte=1"`
	TypeWeights     map[string]float64 `json:"typeWeights,omitempty" validate:"omitempty,dive,gte=0,lte=1"`

	// Cost
	CostBudgetUSD float64 `json:"costBudgetUsd" validate:"gte=0"`

	// Mapping
	LineTolerance  float64 `json:"lineTolerance" validate:"gt=0"`
	MergeTolerance float64 `json:"mergeTolerance" validate:"gte=0"`
}

// DefaultAnalysis returns the defaults used when a caller supplies nothing.
func DefaultAnalysis() Analysis {
	return Analysis{
		TokenBudget:       8000,
		HardCeiling:       12000,
		Overlap:           200,
		ComplexPageTables: 2,
		ComplexPageTokens: 1500,

		Concurrency:        5,
		MaxAttempts:        3,
		BackoffBase:        1 * time.Second,
		BackoffMax:         30 * time.Second,
		ContextUnits:       1,
		ProgressiveContext: true,
		PatternDetection:   true,

		Model:           "gpt-5",
		MaxOutputTokens: 4000,
		ReasoningEffort: "medium",

		PoolingStrategy:     PoolingAttention,
		SimilarityThreshold: 0.8,
		AttentionFloor:      0.3,
		RelationPageWindow:  2,
		SummaryPages:        3,
		SummaryMaxChars:     4000,

		LineTolerance:  3,
		MergeTolerance: 10,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and cross-field rules. Every failure is a
// *ConfigurationError.
func (a Analysis) Validate() error {
	if err := validate.Struct(a); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ConfigurationError{
				Field:  fe.Field(),
				Reason: describe(fe),
			}
		}
		return &ConfigurationError{Field: "analysis", Reason: err.Error()}
	}
	if a.Temperature != nil && a.ReasoningEffort != "" {
		return &ConfigurationError{Field: "Temperature", Reason: "cannot be combined with ReasoningEffort"}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %v", fe.Param(), fe.Value())
	case "gtefield":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "ltfield":
		return fmt.Sprintf("must be < %s", fe.Param())
	default:
		return strings.TrimSpace(fmt.Sprintf("failed %s %s (got %v)", fe.Tag(), fe.Param(), fe.Value()))
	}
}
