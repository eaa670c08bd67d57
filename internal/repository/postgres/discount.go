package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/campaign-engine/internal/domain"
	"github.com/utafrali/campaign-engine/pkg/database"
	apperrors "github.com/utafrali/campaign-engine/pkg/errors"
	"github.com/utafrali/campaign-engine/pkg/pagination"
)

const discountColumns = `id, tenancy_id, name, priority, rules, is_active, start_date, end_date,
	usage_limit, used_count, can_stack_with_other_discounts, total_savings, total_orders,
	created_at, updated_at`

// DiscountRepository implements repository.DiscountRepository using PostgreSQL.
type DiscountRepository struct {
	db database.DBTX
}

// NewDiscountRepository creates a new PostgreSQL-backed discount repository.
func NewDiscountRepository(db database.DBTX) *DiscountRepository {
	return &DiscountRepository{db: db}
}

// Create inserts a new discount into the database.
func (r *DiscountRepository) Create(ctx context.Context, d *domain.Discount) error {
	rules, err := json.Marshal(d.Rules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}

	query := `
		INSERT INTO discounts (
			id, tenancy_id, name, priority, rules, is_active, start_date, end_date,
			usage_limit, used_count, can_stack_with_other_discounts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = r.db.Exec(ctx, query,
		d.ID,
		d.TenancyID,
		d.Name,
		d.Priority,
		rules,
		d.IsActive,
		d.StartDate,
		d.EndDate,
		d.UsageLimit,
		d.UsedCount,
		d.CanStackWithOtherDiscounts,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("discount", "id", d.ID)
		}
		return fmt.Errorf("insert discount: %w", err)
	}
	return nil
}

// GetByID retrieves a discount by its ID.
func (r *DiscountRepository) GetByID(ctx context.Context, id string) (*domain.Discount, error) {
	query := `SELECT ` + discountColumns + ` FROM discounts WHERE id = $1`

	d, err := scanDiscount(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("discount", id)
		}
		return nil, fmt.Errorf("get discount: %w", err)
	}
	return d, nil
}

// List returns discounts matching the filter, highest priority first.
func (r *DiscountRepository) List(ctx context.Context, filter domain.DiscountFilter, page pagination.Params) ([]domain.Discount, int, error) {
	var (
		conditions []string
		args       []any
		argIndex   = 1
	)

	if filter.TenancyID != nil {
		conditions = append(conditions, fmt.Sprintf("(tenancy_id = $%d OR tenancy_id IS NULL)", argIndex))
		args = append(args, *filter.TenancyID)
		argIndex++
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "is_active")
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s, count(*) OVER() AS total_count
		FROM discounts
		%s
		ORDER BY priority DESC, created_at DESC
		LIMIT $%d OFFSET $%d`,
		discountColumns, whereClause, argIndex, argIndex+1,
	)
	limit, offset := limitOffset(page)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list discounts: %w", err)
	}
	defer rows.Close()

	var (
		discounts  []domain.Discount
		totalCount int
	)
	for rows.Next() {
		d, err := scanDiscount(rows, &totalCount)
		if err != nil {
			return nil, 0, fmt.Errorf("scan discount row: %w", err)
		}
		discounts = append(discounts, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate discount rows: %w", err)
	}

	if discounts == nil {
		discounts = []domain.Discount{}
	}
	return discounts, totalCount, nil
}

// SetActive switches a discount on or off.
func (r *DiscountRepository) SetActive(ctx context.Context, id string, active bool) error {
	ct, err := r.db.Exec(ctx, `UPDATE discounts SET is_active = $1, updated_at = NOW() WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("set discount active: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("discount", id)
	}
	return nil
}

func scanDiscount(row pgx.Row, extra ...any) (*domain.Discount, error) {
	var (
		d     domain.Discount
		rules []byte
	)
	dest := []any{
		&d.ID,
		&d.TenancyID,
		&d.Name,
		&d.Priority,
		&rules,
		&d.IsActive,
		&d.StartDate,
		&d.EndDate,
		&d.UsageLimit,
		&d.UsedCount,
		&d.CanStackWithOtherDiscounts,
		&d.TotalSavings,
		&d.TotalOrders,
		&d.CreatedAt,
		&d.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if err := unmarshalDoc(rules, &d.Rules, "rules"); err != nil {
		return nil, err
	}
	if d.Rules == nil {
		d.Rules = []domain.Rule{}
	}
	return &d, nil
}
