// Package tokenizer counts tokens for a given model name, selecting the
// closest-matching real tokenizer and reporting how exact that count is.
package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/agentforge/core/pkg/models"
)

// Encoding names the tiktoken BPE vocabulary backing a Counter.
type Encoding string

const (
	EncodingO200K  Encoding = "o200k_base"
	EncodingCL100K Encoding = "cl100k_base"
	EncodingR50K   Encoding = "r50k_base"
)

// Accuracy classifies how faithfully a Counter's result matches the
// target provider's own token accounting.
type Accuracy string

const (
	// Exact means the counter uses the same BPE vocabulary the provider
	// itself tokenizes with.
	Exact Accuracy = "exact"

	// Approximate means the counter uses a stand-in vocabulary (no public
	// tokenizer exists for the provider); counts are off by a bounded,
	// roughly-known fraction.
	Approximate Accuracy = "approximate"

	// Unknown means no pattern matched and a generic fallback was used;
	// no accuracy claim is made.
	Unknown Accuracy = "unknown"
)

// rule is one row of the model-name → tokenizer table. Rules are tried in
// order; the first match wins.
type rule struct {
	match    func(model string) bool
	encoding Encoding
	accuracy Accuracy
	// approxFraction documents the expected relative error for Approximate
	// rules, surfaced so callers (the context pipeline) can widen headroom.
	approxFraction float64
}

func contains(sub string) func(string) bool {
	return func(model string) bool { return strings.Contains(model, sub) }
}

func hasPrefix(prefix string) func(string) bool {
	return func(model string) bool { return strings.HasPrefix(model, prefix) }
}

var rules = []rule{
	{
		match:    func(m string) bool { return contains("gpt-4o")(m) || hasPrefix("o1-")(m) },
		encoding: EncodingO200K,
		accuracy: Exact,
	},
	{
		match: func(m string) bool {
			return (contains("gpt-4")(m) && !contains("gpt-4o")(m)) || contains("gpt-3.5")(m)
		},
		encoding: EncodingCL100K,
		accuracy: Exact,
	},
	{
		match:    func(m string) bool { return contains("gpt-3")(m) && !contains("gpt-3.5")(m) },
		encoding: EncodingR50K,
		accuracy: Exact,
	},
	{
		// azure/<model> inherits its embedded model's rule; handled in
		// Select before falling into this table (see stripAzurePrefix).
		match:    hasPrefix("anthropic/"),
		encoding: EncodingCL100K,
		accuracy: Approximate,
		approxFraction: 0.75,
	},
	{
		match:    contains("claude"),
		encoding: EncodingCL100K,
		accuracy: Approximate,
		approxFraction: 0.75,
	},
	{
		match:          hasPrefix("ollama/"),
		encoding:       EncodingCL100K,
		accuracy:       Approximate,
		approxFraction: 0.80,
	},
}

const defaultTolerance = 0.20

// Select resolves the tokenizer encoding and accuracy for a model name,
// applying the table in spec order (first match wins, case-insensitive).
// An `azure/<embedded-model>` name is resolved against its embedded model.
func Select(modelName string) (Encoding, Accuracy, float64) {
	m := strings.ToLower(modelName)
	if embedded, ok := stripAzurePrefix(m); ok {
		m = embedded
	}
	for _, r := range rules {
		if r.match(m) {
			return r.encoding, r.accuracy, r.approxFraction
		}
	}
	return EncodingCL100K, Unknown, 0
}

func stripAzurePrefix(model string) (string, bool) {
	const prefix = "azure/"
	if !strings.HasPrefix(model, prefix) {
		return "", false
	}
	return strings.TrimPrefix(model, prefix), true
}

// Counter counts tokens in strings, messages, or whole conversations for a
// specific resolved encoding.
type Counter struct {
	modelName      string
	encoding       Encoding
	accuracy       Accuracy
	approxFraction float64
	enc            *tiktoken.Tiktoken
}

var encoderCache sync.Map // Encoding -> *tiktoken.Tiktoken

func getEncoder(encoding Encoding) (*tiktoken.Tiktoken, error) {
	if cached, ok := encoderCache.Load(encoding); ok {
		return cached.(*tiktoken.Tiktoken), nil
	}
	enc, err := tiktoken.GetEncoding(string(encoding))
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load encoding %s: %w", encoding, err)
	}
	encoderCache.Store(encoding, enc)
	return enc, nil
}

// NewCounter builds a Counter for modelName, selecting its tokenizer per
// the model→tokenizer table.
func NewCounter(modelName string) (*Counter, error) {
	encoding, accuracy, approxFraction := Select(modelName)
	enc, err := getEncoder(encoding)
	if err != nil {
		return nil, err
	}
	return &Counter{
		modelName:      modelName,
		encoding:       encoding,
		accuracy:       accuracy,
		approxFraction: approxFraction,
		enc:            enc,
	}, nil
}

// Accuracy reports how this counter's counts relate to the provider's own
// accounting.
func (c *Counter) Accuracy() Accuracy { return c.accuracy }

// Tolerance returns the documented relative error band for Approximate
// counters (±20% for every Approximate rule; the table's approxFraction
// does not change it), and 0 for Exact/Unknown counters.
func (c *Counter) Tolerance() float64 {
	if c.accuracy != Approximate {
		return 0
	}
	if c.approxFraction > 0 {
		return defaultTolerance
	}
	return defaultTolerance
}

// CountString returns the token count of a raw string.
func (c *Counter) CountString(s string) int {
	return len(c.enc.Encode(s, nil, nil))
}

// perMessageOverhead is the fixed per-message structural token cost
// (role tag, delimiters) applied identically to the provider's own
// accounting for chat-formatted prompts.
const perMessageOverhead = 4

// CountMessage returns the token count of a single message, including
// per-message protocol overhead for its role and structure.
func (c *Counter) CountMessage(msg models.Message) int {
	total := perMessageOverhead
	total += c.CountString(string(msg.Role))
	total += c.CountString(msg.Content)
	for _, tc := range msg.ToolCalls {
		total += c.CountString(tc.Name)
		total += c.CountString(string(tc.Arguments))
		total += perMessageOverhead
	}
	if msg.ToolCallID != "" {
		total += c.CountString(msg.ToolCallID)
	}
	return total
}

// CountConversation returns the total token count across all messages.
func (c *Counter) CountConversation(messages []models.Message) int {
	total := 0
	for _, m := range messages {
		total += c.CountMessage(m)
	}
	return total
}

// EncodingName exposes the selected tiktoken vocabulary name, useful for
// logging/trace context.
func (c *Counter) EncodingName() string { return string(c.encoding) }
