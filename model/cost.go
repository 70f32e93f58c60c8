package model

import "math"

// Usage tracks token usage.
type Usage struct {
	InputTokens  int `json:"inputTokens" yaml:"input_tokens"`
	OutputTokens int `json:"outputTokens" yaml:"output_tokens"`
}

// Add adds the given usage to this usage.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// TotalTokens returns the total tokens used.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// ModelPricing holds per-million-token pricing for a model family.
type ModelPricing struct {
	InputPerMillion  float64 `json:"input_per_million" yaml:"input_per_million" toml:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million" yaml:"output_per_million" toml:"output_per_million"`
}

// PriceTable maps model families to their rates. Keys are normalized with
// NormalizeModelName on lookup, so "sonnet" and full identifiers both work.
type PriceTable map[ModelName]ModelPricing

// DefaultPrices returns the built-in rates used when no table is configured.
func DefaultPrices() PriceTable {
	return PriceTable{
		ModelOpus:   {InputPerMillion: 15.0, OutputPerMillion: 75.0},
		ModelSonnet: {InputPerMillion: 3.0, OutputPerMillion: 15.0},
		ModelHaiku:  {InputPerMillion: 0.25, OutputPerMillion: 1.25},
	}
}

// Lookup returns the rates for the model's family. Unknown families get the
// cheapest entry in the table; an empty table prices everything at zero.
func (p PriceTable) Lookup(model string) ModelPricing {
	family := NormalizeModelName(model)
	if price, ok := p[family]; ok {
		return price
	}
	for name, price := range p {
		if NormalizeModelName(string(name)) == family {
			return price
		}
	}
	return p.cheapest()
}

func (p PriceTable) cheapest() ModelPricing {
	var (
		best  ModelPricing
		found bool
	)
	for _, price := range p {
		if !found || price.InputPerMillion+price.OutputPerMillion < best.InputPerMillion+best.OutputPerMillion {
			best = price
			found = true
		}
	}
	return best
}

// Cost prices a single usage record, rounded to 4 decimal places.
func (p PriceTable) Cost(model string, inputTokens, outputTokens int) float64 {
	price := p.Lookup(model)
	raw := (float64(inputTokens)*price.InputPerMillion + float64(outputTokens)*price.OutputPerMillion) / 1_000_000
	return Round4(raw)
}

// Round4 rounds to 4 decimal places.
func Round4(v float64) float64 {
	return math.Round(v*10_000) / 10_000
}
