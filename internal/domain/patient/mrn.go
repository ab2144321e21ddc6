package patient

import (
	"context"
	"fmt"
)

// mrnRetries bounds how many times a create retries MRN allocation after a
// unique-constraint collision before surfacing ErrConflict.
const mrnRetries = 3

// yearPrefix builds the per-year MRN prefix, e.g. "HOS-2026".
func yearPrefix(prefix string, year int) string {
	return fmt.Sprintf("%s-%d", prefix, year)
}

// nextMRN scans the persisted MRNs for the given year prefix and returns the
// next identifier: prefix plus the numeric max of the existing suffixes plus
// one, zero-padded to at least four digits. The max is taken numerically, not
// lexicographically, so suffixes past 9999 widen instead of wrapping.
//
// Two concurrent creates can compute the same value here; the unique index on
// mrn rejects the second insert and the store retries the allocation.
func nextMRN(ctx context.Context, q queryable, prefix string) (string, error) {
	var max int
	err := q.QueryRow(ctx, `
		SELECT COALESCE(MAX(CAST(SUBSTRING(mrn FROM $2::int) AS INTEGER)), 0)
		FROM patient
		WHERE mrn LIKE $1`,
		prefix+"%", len(prefix)+1,
	).Scan(&max)
	if err != nil {
		return "", fmt.Errorf("scan max mrn for %s: %w", prefix, err)
	}

	return fmt.Sprintf("%s%04d", prefix, max+1), nil
}
