// Package intent classifies queries by nearest-neighbour search over a
// corpus of labelled exemplar phrases.
package intent

import (
	"fmt"
	"strings"

	"github.com/dshills/querypipe/pkg/types"
)

// Intent is one of a closed set of query categories.
type Intent string

const (
	ProductSearch       Intent = "PRODUCT_SEARCH"
	PriceInquiry        Intent = "PRICE_INQUIRY"
	BrewingHelp         Intent = "BREWING_HELP"
	GeneralConversation Intent = "GENERAL_CONVERSATION"
	StoreInfo           Intent = "STORE_INFO"
)

// Fallback is reported when no exemplar clears its confidence threshold.
const Fallback = GeneralConversation

// All lists every known intent.
var All = []Intent{ProductSearch, PriceInquiry, BrewingHelp, GeneralConversation, StoreInfo}

// Parse returns the Intent named by s, ignoring case and surrounding space.
func Parse(s string) (Intent, error) {
	want := Intent(strings.ToUpper(strings.TrimSpace(s)))
	for _, i := range All {
		if i == want {
			return i, nil
		}
	}
	return "", fmt.Errorf("%w: unknown intent %q", types.ErrInvalidInput, s)
}

// NeedsRetrieval reports whether queries of this intent are answered from
// product search results.
func (i Intent) NeedsRetrieval() bool {
	return i == ProductSearch || i == PriceInquiry
}

func (i Intent) String() string {
	return string(i)
}
