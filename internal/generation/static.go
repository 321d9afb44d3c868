package generation

import (
	"context"
	"fmt"
	"strings"
)

// StaticGenerator renders template answers without calling a model. It is
// used offline and in tests.
type StaticGenerator struct{}

// NewStaticGenerator creates a StaticGenerator.
func NewStaticGenerator() *StaticGenerator {
	return &StaticGenerator{}
}

func (s *StaticGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(p.Candidates) == 0 {
		switch p.Intent {
		case "PRODUCT_SEARCH", "PRICE_INQUIRY":
			return "I couldn't find a product matching that. Could you tell me a bit more about what you're looking for?", nil
		case "BREWING_HELP":
			return "Happy to help with brewing! Start with fresh beans, a consistent grind, and water just off the boil.", nil
		case "STORE_INFO":
			return "We're open every day. Drop by or ask me about anything on the menu.", nil
		default:
			return "Hi! I can help you find coffee, check prices, or share brewing tips.", nil
		}
	}

	var b strings.Builder
	b.WriteString("Here's what I found:\n")
	seen := make(map[int64]bool)
	for _, c := range p.Candidates {
		if seen[c.Product.ID] {
			continue
		}
		seen[c.Product.ID] = true
		fmt.Fprintf(&b, "- %s: $%.2f\n", c.Product.Name, c.Product.Price)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (s *StaticGenerator) Model() string {
	return "static"
}
