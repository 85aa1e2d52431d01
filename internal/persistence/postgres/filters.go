package postgres

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/sawpanic/fundsync/internal/persistence"
)

// buildRateFilter renders a RateFilter into an SQL condition string with
// positional arguments starting at $1. A nil filter matches everything.
func buildRateFilter(filter *persistence.RateFilter) (string, []interface{}) {
	conditions := []string{"1=1"}
	args := []interface{}{}

	if filter == nil {
		return strings.Join(conditions, " AND "), args
	}

	if len(filter.VenueIDs) > 0 {
		ids := make([]string, len(filter.VenueIDs))
		for i, id := range filter.VenueIDs {
			ids[i] = id.String()
		}
		args = append(args, pq.Array(ids))
		conditions = append(conditions, fmt.Sprintf("venue_id = ANY($%d)", len(args)))
	}

	if len(filter.Symbols) > 0 {
		args = append(args, pq.Array(filter.Symbols))
		conditions = append(conditions, fmt.Sprintf("symbol = ANY($%d)", len(args)))
	}

	if filter.Name != "" {
		args = append(args, filter.Name)
		conditions = append(conditions, fmt.Sprintf("LOWER(name) = LOWER($%d)", len(args)))
	}

	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("ts_rate >= $%d", len(args)))
	}

	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("ts_rate <= $%d", len(args)))
	}

	return strings.Join(conditions, " AND "), args
}

// appendPage adds LIMIT/OFFSET for a 1-based page. A nil page or non-positive
// size leaves the query unbounded.
func appendPage(query string, args []interface{}, page *persistence.Page) (string, []interface{}) {
	if page == nil || page.Size <= 0 {
		return query, args
	}

	limit, offset := page.Bounds()

	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	return query, args
}
