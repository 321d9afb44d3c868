package intent

// ExemplarSeed is a phrase to be embedded and stored as an exemplar.
type ExemplarSeed struct {
	Intent              Intent  `yaml:"intent"`
	Phrase              string  `yaml:"phrase"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold,omitempty"` // 0 takes the intent default
}

// DefaultThresholds are the per-intent acceptance thresholds of the default corpus.
var DefaultThresholds = map[Intent]float64{
	ProductSearch:       0.75,
	PriceInquiry:        0.70,
	BrewingHelp:         0.72,
	GeneralConversation: 0.65,
	StoreInfo:           0.73,
}

var defaultPhrases = map[Intent][]string{
	ProductSearch: {
		"show me dark roast coffee",
		"which coffees do you carry",
		"I want something with a lot of caffeine",
		"do you sell decaf beans",
		"recommend a light roast",
		"what cold brew options are there",
		"list your espresso blends",
		"I'm looking for a smooth medium roast",
		"do you have oat milk lattes",
		"what single origin beans are in stock",
	},
	PriceInquiry: {
		"how much is a bag of espresso beans",
		"what does a cappuccino cost",
		"what is your cheapest coffee",
		"anything under ten dollars",
		"are there any discounts today",
		"how expensive is the cold brew",
		"show me your price list",
		"is there a budget option",
	},
	BrewingHelp: {
		"how do I brew pour over",
		"what grind size for a french press",
		"what water temperature should I use",
		"how long should espresso extract",
		"what is a good coffee to water ratio",
		"how do I steam milk for a latte",
		"how do I make cold brew at home",
		"why does my coffee taste bitter",
	},
	GeneralConversation: {
		"hello",
		"hi there",
		"good morning",
		"thanks a lot",
		"goodbye",
		"how are you today",
		"tell me a joke",
		"that's great",
	},
	StoreInfo: {
		"what time do you open",
		"where is the nearest store",
		"are you open on sunday",
		"do you have wifi in the shop",
		"what are your store hours",
		"is there parking near the cafe",
		"can I order ahead for pickup",
		"do you deliver",
	},
}

// DefaultCorpus returns the built-in exemplar seeds in a stable order.
func DefaultCorpus() []ExemplarSeed {
	var seeds []ExemplarSeed
	for _, in := range All {
		for _, phrase := range defaultPhrases[in] {
			seeds = append(seeds, ExemplarSeed{
				Intent:              in,
				Phrase:              phrase,
				ConfidenceThreshold: DefaultThresholds[in],
			})
		}
	}
	return seeds
}
