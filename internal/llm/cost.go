package llm

// embeddingPrice is USD per 1K input tokens.
var embeddingPrice = map[string]float64{
	"text-embedding-ada-002": 0.0001,
	"text-embedding-3-small": 0.00002,
	"text-embedding-3-large": 0.00013,
	"text-embedding-004":     0.00001,
	"gemini-embedding-001":   0.00015,
}

// CalculateCost returns the price of embedding tokens with model. Unknown and
// local models cost nothing.
func CalculateCost(model string, tokens int) float64 {
	price, ok := embeddingPrice[model]
	if !ok {
		return 0
	}
	return float64(tokens) / 1000.0 * price
}
