package providers

// Pricing holds per-1k-token USD prices for a provider's default model tier.
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// priceTable is the fixed price table used for running cost accounting and
// pre-flight estimates. Prices are per 1 000 tokens in USD. The table is
// deliberately coarse (one row per provider, not per model): budget
// enforcement needs a stable upper-bound signal, not an invoice.
var priceTable = map[Provider]Pricing{
	Claude:   {InputPer1K: 0.003, OutputPer1K: 0.015},
	Gemini:   {InputPer1K: 0.00010, OutputPer1K: 0.0004},
	ChatGPT:  {InputPer1K: 0.0025, OutputPer1K: 0.010},
	Grok:     {InputPer1K: 0.003, OutputPer1K: 0.015},
	DeepSeek: {InputPer1K: 0.00027, OutputPer1K: 0.0011},
	Llama:    {InputPer1K: 0.0002, OutputPer1K: 0.0002},
}

// PriceFor returns the pricing row for a provider. Unknown providers get the
// most expensive row in the table so estimates stay conservative.
func PriceFor(p Provider) Pricing {
	if pr, ok := priceTable[p]; ok {
		return pr
	}
	max := Pricing{}
	for _, pr := range priceTable {
		if pr.InputPer1K+pr.OutputPer1K > max.InputPer1K+max.OutputPer1K {
			max = pr
		}
	}
	return max
}

// Cost computes the USD cost of a token count split at this pricing.
func (pr Pricing) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*pr.InputPer1K + float64(outputTokens)/1000*pr.OutputPer1K
}
