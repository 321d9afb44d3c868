package intent

import (
	"errors"
	"testing"

	"github.com/dshills/querypipe/pkg/types"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Intent
		wantErr bool
	}{
		{in: "PRODUCT_SEARCH", want: ProductSearch},
		{in: " price_inquiry ", want: PriceInquiry},
		{in: "Store_Info", want: StoreInfo},
		{in: "ORDER_STATUS", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				if !errors.Is(err, types.ErrInvalidInput) {
					t.Errorf("Parse(%q) error = %v, want ErrInvalidInput", tt.in, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("Parse(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestNeedsRetrieval(t *testing.T) {
	want := map[Intent]bool{
		ProductSearch:       true,
		PriceInquiry:        true,
		BrewingHelp:         false,
		GeneralConversation: false,
		StoreInfo:           false,
	}
	for in, w := range want {
		if got := in.NeedsRetrieval(); got != w {
			t.Errorf("%s.NeedsRetrieval() = %v, want %v", in, got, w)
		}
	}
}

func TestDefaultCorpus(t *testing.T) {
	seeds := DefaultCorpus()
	if len(seeds) == 0 {
		t.Fatal("DefaultCorpus() is empty")
	}

	seen := make(map[string]bool)
	perIntent := make(map[Intent]int)
	for _, s := range seeds {
		if _, err := Parse(string(s.Intent)); err != nil {
			t.Errorf("seed %q has unknown intent %q", s.Phrase, s.Intent)
		}
		if s.ConfidenceThreshold <= 0 || s.ConfidenceThreshold > 1 {
			t.Errorf("seed %q threshold %v out of range", s.Phrase, s.ConfidenceThreshold)
		}
		key := string(s.Intent) + "|" + s.Phrase
		if seen[key] {
			t.Errorf("duplicate seed %s", key)
		}
		seen[key] = true
		perIntent[s.Intent]++
	}
	for _, in := range All {
		if perIntent[in] == 0 {
			t.Errorf("no seeds for %s", in)
		}
	}
}
