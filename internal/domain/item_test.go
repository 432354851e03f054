package domain

import "testing"

func TestBatchResultAdd(t *testing.T) {
	t.Parallel()

	var b BatchResult
	b.Add(ItemResult{Outcome: OutcomeArchived, CostUSD: 0.1, TokensIn: 100, TokensOut: 40})
	b.Add(ItemResult{Outcome: OutcomeDuplicate})
	b.Add(ItemResult{Outcome: OutcomeFailed, Cause: "sink down"})
	b.Add(ItemResult{Outcome: OutcomeFiltered, Cause: "quality score 0.21 below minimum"})
	b.Add(ItemResult{Outcome: OutcomeArchived, CostUSD: 0.2, TokensIn: 50, TokensOut: 20})

	if b.Archived != 2 || b.Duplicates != 1 || b.Filtered != 1 || b.Failed != 1 {
		t.Fatalf("counts = %d/%d/%d/%d", b.Archived, b.Duplicates, b.Filtered, b.Failed)
	}
	if b.CostUSD < 0.299 || b.CostUSD > 0.301 {
		t.Fatalf("cost = %v, want 0.3", b.CostUSD)
	}
	if b.TokensIn != 150 || b.TokensOut != 60 {
		t.Fatalf("tokens = %d/%d", b.TokensIn, b.TokensOut)
	}
	if len(b.Items) != 5 {
		t.Fatalf("items = %d", len(b.Items))
	}
}
