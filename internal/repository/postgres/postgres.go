// Package postgres implements the repository interfaces on PostgreSQL.
package postgres

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/campaign-engine/pkg/pagination"
)

const (
	uniqueViolation = "23505"
	checkViolation  = "23514"
)

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == uniqueViolation
}

func isCheckViolation(err error) bool {
	return pgErrorCode(err) == checkViolation
}

func unmarshalDoc(data []byte, dst any, column string) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal %s: %w", column, err)
	}
	return nil
}

func limitOffset(p pagination.Params) (int, int) {
	limit := p.PerPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if p.Page > 1 {
		offset = (p.Page - 1) * limit
	}
	return limit, offset
}
