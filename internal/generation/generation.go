// Package generation produces natural-language answers from a classified
// query and its retrieved candidates.
package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/querypipe/pkg/types"
)

// FallbackMessage is returned when the generator fails or times out.
const FallbackMessage = "I'm having trouble putting together a full answer right now. Please try again in a moment."

// ErrorMessage is returned when a run is aborted before generation.
const ErrorMessage = "Sorry, something went wrong while handling your request. Please try again."

// Turn is one prior message in the conversation.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Prompt is everything a generator needs to answer a query.
type Prompt struct {
	System     string
	Query      string
	Intent     string
	Candidates []types.RankedCandidate
	History    []Turn
}

// Generator produces an answer for a prompt.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
	Model() string
}

// MaxHistoryTurns bounds how much conversation history reaches the model.
const MaxHistoryTurns = 10

const baseInstruction = `You are a friendly barista helping customers of a coffee shop.
Answer briefly and warmly. Only recommend products listed in the context, with their prices.
If the context has no suitable product, say so instead of inventing one.`

var intentGuidance = map[string]string{
	"PRODUCT_SEARCH":       "The customer is looking for products. Recommend the best matches.",
	"PRICE_INQUIRY":        "The customer is asking about prices. Quote exact prices from the context.",
	"BREWING_HELP":         "The customer wants brewing advice. Give practical step-by-step tips.",
	"STORE_INFO":           "The customer is asking about the store. Answer from general store information.",
	"GENERAL_CONVERSATION": "Keep the conversation friendly and offer help with coffee.",
}

// BuildPrompt assembles a prompt. Only the most recent MaxHistoryTurns turns
// of history are kept.
func BuildPrompt(query, intent string, candidates []types.RankedCandidate, history []Turn) Prompt {
	system := baseInstruction
	if g, ok := intentGuidance[intent]; ok {
		system += "\n" + g
	}
	if len(history) > MaxHistoryTurns {
		history = history[len(history)-MaxHistoryTurns:]
	}
	return Prompt{
		System:     system,
		Query:      query,
		Intent:     intent,
		Candidates: candidates,
		History:    history,
	}
}

// UserMessage renders the query and product context as a single message.
func (p Prompt) UserMessage() string {
	var b strings.Builder
	if len(p.Candidates) > 0 {
		b.WriteString("Products:\n")
		seen := make(map[int64]bool)
		for _, c := range p.Candidates {
			if seen[c.Product.ID] {
				continue
			}
			seen[c.Product.ID] = true
			fmt.Fprintf(&b, "- %s ($%.2f)", c.Product.Name, c.Product.Price)
			if c.Product.Description != "" {
				fmt.Fprintf(&b, ": %s", c.Product.Description)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Customer: ")
	b.WriteString(p.Query)
	return b.String()
}
