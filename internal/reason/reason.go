// Package reason asks a language model to summarize a text, rate its impact on
// a category and explain why.
package reason

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/TruthMesh/models"
)

// ErrMalformedResponse marks a model answer that does not carry a usable result
var ErrMalformedResponse = errors.New("malformed reasoning response")

// MissingReasoning replaces an absent or empty reasoning field
const MissingReasoning = "No reasoning provided by AI model."

const promptTemplate = `
You are an AI signal extraction model for a prediction market agent.
Input text:
"%s"

Detected category: %s

Your job:
1. Provide a one-sentence summary.
2. Rate how confidently this text impacts the category (0 to 1).
3. Explain your reasoning step-by-step for how this text relates to the category.
4. Output JSON only.

JSON format:
{
  "summary": "...",
  "confidence": 0.0,
  "reasoning": "Step-by-step explanation of how this text relates to the category..."
}
`

// Result is the structured outcome of one reasoning call
type Result struct {
	Summary    string
	Confidence float64
	Reasoning  string
}

// Reasoner turns text and a category into a Result
type Reasoner struct {
	completer models.Completer
	logger    zerolog.Logger
}

// New creates a reasoner backed by completer
func New(completer models.Completer) *Reasoner {
	return &Reasoner{
		completer: completer,
		logger:    log.With().Str("component", "reasoner").Logger(),
	}
}

// BuildPrompt fills the instruction template
func BuildPrompt(text, category string) string {
	return fmt.Sprintf(promptTemplate, text, category)
}

// Reason sends the prompt once and parses the answer. Malformed answers are
// returned as errors wrapping ErrMalformedResponse and are not retried here.
func (r *Reasoner) Reason(ctx context.Context, text, category string) (Result, error) {
	raw, err := r.completer.Complete(ctx, BuildPrompt(text, category))
	if err != nil {
		return Result{}, fmt.Errorf("requesting reasoning: %w", err)
	}

	res, err := ParseResponse(raw)
	if err != nil {
		r.logger.Warn().Err(err).Str("category", category).Msg("Model returned an unusable answer")
		return Result{}, err
	}
	return res, nil
}

type response struct {
	Summary    *string  `json:"summary"`
	Confidence *float64 `json:"confidence"`
	Reasoning  *string  `json:"reasoning"`
}

// ParseResponse validates a raw model answer
func ParseResponse(raw string) (Result, error) {
	body := stripFences(raw)
	if body == "" {
		return Result{}, fmt.Errorf("%w: empty answer", ErrMalformedResponse)
	}

	var resp response
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp.Summary == nil || strings.TrimSpace(*resp.Summary) == "" {
		return Result{}, fmt.Errorf("%w: missing summary", ErrMalformedResponse)
	}
	if resp.Confidence == nil {
		return Result{}, fmt.Errorf("%w: missing confidence", ErrMalformedResponse)
	}
	if *resp.Confidence < 0 || *resp.Confidence > 1 {
		return Result{}, fmt.Errorf("%w: confidence %v outside [0,1]", ErrMalformedResponse, *resp.Confidence)
	}

	res := Result{
		Summary:    strings.TrimSpace(*resp.Summary),
		Confidence: *resp.Confidence,
		Reasoning:  MissingReasoning,
	}
	if resp.Reasoning != nil && strings.TrimSpace(*resp.Reasoning) != "" {
		res.Reasoning = *resp.Reasoning
	}
	return res, nil
}

// stripFences removes a surrounding markdown code block
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
