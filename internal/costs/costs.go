// Package costs holds the pure pricing and aggregation functions for
// per-document extraction spend.
package costs

import "github.com/mgebhardt/docintake/constants"

// USD per 1M tokens, by tier.
var rateTable = map[constants.ModelTier]struct {
	input  float64
	output float64
}{
	constants.TierHigh: {input: 1.25, output: 10.00},
	constants.TierLow:  {input: 0.30, output: 2.50},
}

// BatchDiscount is the multiplier applied when the batch accounting mode is
// active.
const BatchDiscount = 0.5

// Price computes the cost of one call in currency units. No rounding happens
// here; display layers round.
func Price(inputTokens, outputTokens int, tier constants.ModelTier, useBatchAPI bool) float64 {
	rates, ok := rateTable[tier]
	if !ok {
		rates = rateTable[constants.TierHigh]
	}
	cost := float64(inputTokens)/1e6*rates.input + float64(outputTokens)/1e6*rates.output
	if useBatchAPI {
		cost *= BatchDiscount
	}
	return cost
}

// Record is one persisted per-document cost row.
type Record struct {
	DocumentID    string
	InputTokens   int
	OutputTokens  int
	Model         constants.ModelTier
	EstimatedCost float64
	UsedBatchAPI  bool
}

// Summary aggregates stored cost records.
type Summary struct {
	TotalCost   float64
	CostByModel map[constants.ModelTier]float64
	// BatchSavings is the amount saved versus standard pricing. At the fixed
	// 50% discount this equals the amount actually paid for discounted
	// records, so it is computed as the sum of their estimated costs.
	BatchSavings           float64
	AverageCostPerDocument float64
	DocumentCount          int
}

// Summarize folds cost records into a Summary.
func Summarize(records []Record) Summary {
	s := Summary{CostByModel: make(map[constants.ModelTier]float64)}
	for _, r := range records {
		s.TotalCost += r.EstimatedCost
		s.CostByModel[r.Model] += r.EstimatedCost
		if r.UsedBatchAPI {
			s.BatchSavings += r.EstimatedCost
		}
	}
	s.DocumentCount = len(records)
	if s.DocumentCount > 0 {
		s.AverageCostPerDocument = s.TotalCost / float64(s.DocumentCount)
	}
	return s
}

// Estimate is a pre-submission cost preview for a batch.
type Estimate struct {
	DocumentCount  int
	StandardCost   float64
	DiscountedCost float64
	Savings        float64
	// ProjectedCost is the cost under the accounting mode the submission
	// would actually use.
	ProjectedCost float64
}

// EstimateBatch previews the cost of extracting documentCount documents at
// avgTokensPerDoc each. Tokens are split 80/20 between input and output.
func EstimateBatch(documentCount, avgTokensPerDoc int, tier constants.ModelTier, useBatchAPI bool) Estimate {
	inTokens := avgTokensPerDoc * 8 / 10
	outTokens := avgTokensPerDoc - inTokens

	standard := Price(inTokens, outTokens, tier, false) * float64(documentCount)
	discounted := Price(inTokens, outTokens, tier, true) * float64(documentCount)

	e := Estimate{
		DocumentCount:  documentCount,
		StandardCost:   standard,
		DiscountedCost: discounted,
		Savings:        standard - discounted,
		ProjectedCost:  standard,
	}
	if useBatchAPI {
		e.ProjectedCost = discounted
	}
	return e
}
