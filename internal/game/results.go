package game

import "sort"

// Standing is one row of a round's final ranking.
type Standing struct {
	PlayerID string
	TapCount int
}

// ResultAggregator produces the final ranking for a finished round.
type ResultAggregator struct{}

// Finalize ranks players by accepted tap count descending, ties broken by
// join order. The result is computed once per round and cached on the
// round, so calling it again after the round finished returns the same
// standings even if player state mutated in the meantime.
func (a *ResultAggregator) Finalize(round *Round, players []*Player) []Standing {
	if round.standings != nil {
		return round.standings
	}

	ranked := make([]*Player, len(players))
	copy(ranked, players)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].TapCount != ranked[j].TapCount {
			return ranked[i].TapCount > ranked[j].TapCount
		}
		return ranked[i].joinSeq < ranked[j].joinSeq
	})

	standings := make([]Standing, len(ranked))
	for i, p := range ranked {
		standings[i] = Standing{PlayerID: p.ID, TapCount: p.TapCount}
	}
	round.standings = standings
	return standings
}
