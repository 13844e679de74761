package usecase

import (
	"context"
	"log/slog"

	"legalguide-agent/internal/domain"
)

// maxRecommendations caps how many search results are enriched with details.
const maxRecommendations = 3

// findRecommendations runs the two-stage places lookup. It never fails the
// request: an unconfigured client, a failed search, or a non-OK status all
// degrade to an empty list, and an individual detail-fetch failure drops that
// entry only. Result order is search-rank order.
func (s *AdviseService) findRecommendations(ctx context.Context, query string) []domain.Recommendation {
	if s.places == nil {
		return nil
	}

	ids, err := s.places.TextSearch(ctx, query)
	if err != nil {
		slog.Warn("places search failed", "query", query, "err", err)
		return nil
	}
	if len(ids) > maxRecommendations {
		ids = ids[:maxRecommendations]
	}

	recs := make([]domain.Recommendation, 0, len(ids))
	for _, id := range ids {
		rec, err := s.places.Details(ctx, id)
		if err != nil {
			slog.Warn("places detail fetch failed", "placeId", id, "err", err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs
}
