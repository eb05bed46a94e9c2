package rating

import (
	"context"
	"database/sql"
	"time"
)

// PostgresRepo reads the rate_cards table maintained by the administrative
// backend. The IN + window filter keeps the candidate set small; final
// selection stays in the service.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) FindByPrefixes(ctx context.Context, prefixes []string, asOf time.Time) ([]RateEntry, error) {
	const q = `
SELECT id, destination_prefix, destination_name, rate_per_minute,
       billing_increment, connection_fee, effective_start, effective_end, priority
FROM rate_cards
WHERE destination_prefix = ANY($1)
  AND effective_start <= $2
  AND (effective_end IS NULL OR effective_end > $2)
`
	rows, err := r.db.QueryContext(ctx, q, prefixes, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RateEntry
	for rows.Next() {
		var e RateEntry
		var end sql.NullTime
		if err := rows.Scan(
			&e.ID,
			&e.DestinationPrefix,
			&e.DestinationName,
			&e.RatePerMinute,
			&e.BillingIncrement,
			&e.ConnectionFee,
			&e.EffectiveStart,
			&end,
			&e.Priority,
		); err != nil {
			return nil, err
		}
		if end.Valid {
			t := end.Time
			e.EffectiveEnd = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
