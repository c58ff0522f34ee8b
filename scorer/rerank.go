package scorer

import "sort"

// Reranker reorders or drops scored opportunities. It runs after Scan and
// never replaces the profit and cost checks.
type Reranker interface {
	Rerank(opps []Opportunity) []Opportunity
}

// RerankerFunc adapts a function to Reranker.
type RerankerFunc func([]Opportunity) []Opportunity

func (f RerankerFunc) Rerank(opps []Opportunity) []Opportunity {
	return f(opps)
}

// ApplyReranker runs r over a copy of opps. Output that adds or alters an
// opportunity is discarded and the input order is kept.
func ApplyReranker(opps []Opportunity, r Reranker) []Opportunity {
	if r == nil || len(opps) == 0 {
		return opps
	}
	in := append([]Opportunity(nil), opps...)
	out := r.Rerank(in)

	byKey := make(map[string]Opportunity, len(opps))
	for _, o := range opps {
		byKey[o.Key()] = o
	}
	seen := make(map[string]struct{}, len(out))
	for _, o := range out {
		orig, ok := byKey[o.Key()]
		if !ok || !sameOpportunity(orig, o) {
			return opps
		}
		if _, dup := seen[o.Key()]; dup {
			return opps
		}
		seen[o.Key()] = struct{}{}
	}
	return out
}

func sameOpportunity(a, b Opportunity) bool {
	return a.TradeSize == b.TradeSize &&
		a.FinalAmount == b.FinalAmount &&
		a.NetProfit == b.NetProfit &&
		a.GrossProfit == b.GrossProfit &&
		a.Cost == b.Cost &&
		a.ProfitBps == b.ProfitBps &&
		a.Confidence == b.Confidence
}

// TopN keeps the first n opportunities.
func TopN(n int) Reranker {
	return RerankerFunc(func(opps []Opportunity) []Opportunity {
		if n >= 0 && len(opps) > n {
			return opps[:n]
		}
		return opps
	})
}

// PreferShortRoutes moves 2-leg routes ahead of 3-leg ones, keeping the score
// order within each group.
func PreferShortRoutes() Reranker {
	return RerankerFunc(func(opps []Opportunity) []Opportunity {
		sort.SliceStable(opps, func(i, j int) bool {
			return opps[i].Route.Len() < opps[j].Route.Len()
		})
		return opps
	})
}

// Chain applies rerankers in order.
func Chain(rs ...Reranker) Reranker {
	return RerankerFunc(func(opps []Opportunity) []Opportunity {
		for _, r := range rs {
			opps = ApplyReranker(opps, r)
		}
		return opps
	})
}
