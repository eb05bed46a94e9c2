package rating

import (
	"context"
	"strings"
	"time"
)

// Repository abstracts rate-table access.
//
// FindByPrefixes returns entries whose destination_prefix exactly equals one
// of the candidate prefixes. Validity-window filtering and selection happen
// in the service so every backend behaves identically.
type Repository interface {
	FindByPrefixes(ctx context.Context, prefixes []string, asOf time.Time) ([]RateEntry, error)
}

// Service resolves destination numbers to tariffs via longest-prefix match.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Rate looks up the tariff for destinationNumber effective at asOf.
//
// Selection among entries valid at asOf: longest prefix wins; equal lengths
// are broken by highest priority, then lowest id for determinism.
func (s *Service) Rate(ctx context.Context, destinationNumber string, asOf time.Time) (RatedResult, error) {
	if asOf.IsZero() {
		asOf = s.clock().UTC()
	}

	cleaned := stripNonDigits(destinationNumber)
	if cleaned == "" {
		return RatedResult{
			NumberValid:     false,
			DestinationName: DestinationEmpty,
		}, nil
	}

	prefixes := make([]string, 0, len(cleaned))
	for i := 1; i <= len(cleaned); i++ {
		prefixes = append(prefixes, cleaned[:i])
	}

	entries, err := s.repo.FindByPrefixes(ctx, prefixes, asOf)
	if err != nil {
		return RatedResult{}, err
	}

	var best RateEntry
	found := false
	for _, e := range entries {
		if !e.currentAt(asOf) {
			continue
		}
		if !found || betterMatch(e, best) {
			best = e
			found = true
		}
	}

	if !found {
		return RatedResult{
			NumberValid:     true,
			DestinationName: DestinationUnknown,
		}, nil
	}

	return RatedResult{
		NumberValid:       true,
		Matched:           true,
		RateID:            best.ID,
		DestinationPrefix: best.DestinationPrefix,
		DestinationName:   best.DestinationName,
		RatePerMinute:     best.RatePerMinute,
		BillingIncrement:  best.BillingIncrement,
		ConnectionFee:     best.ConnectionFee,
	}, nil
}

func betterMatch(candidate, current RateEntry) bool {
	cl, bl := len(candidate.DestinationPrefix), len(current.DestinationPrefix)
	if cl != bl {
		return cl > bl
	}
	if candidate.Priority != current.Priority {
		return candidate.Priority > current.Priority
	}
	return candidate.ID < current.ID
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
