package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/campaign-engine/internal/domain"
	"github.com/utafrali/campaign-engine/pkg/database"
	apperrors "github.com/utafrali/campaign-engine/pkg/errors"
)

const couponColumns = `id, code, tenancy_id, type, value, min_order_value, max_discount,
	usage_limit, used_count, is_active, start_date, end_date, total_savings, total_orders,
	created_at, updated_at`

// CouponRepository implements repository.CouponRepository using PostgreSQL.
type CouponRepository struct {
	db database.DBTX
}

// NewCouponRepository creates a new PostgreSQL-backed coupon repository.
func NewCouponRepository(db database.DBTX) *CouponRepository {
	return &CouponRepository{db: db}
}

// Create inserts a new coupon. Codes are unique across tenancies.
func (r *CouponRepository) Create(ctx context.Context, c *domain.Coupon) error {
	query := `
		INSERT INTO coupons (
			id, code, tenancy_id, type, value, min_order_value, max_discount,
			usage_limit, used_count, is_active, start_date, end_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.db.Exec(ctx, query,
		c.ID,
		c.Code,
		c.TenancyID,
		c.Type,
		c.Value,
		c.MinOrderValue,
		c.MaxDiscount,
		c.UsageLimit,
		c.UsedCount,
		c.IsActive,
		c.StartDate,
		c.EndDate,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("coupon", "code", c.Code)
		}
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

// GetByID retrieves a coupon by its ID.
func (r *CouponRepository) GetByID(ctx context.Context, id string) (*domain.Coupon, error) {
	return r.get(ctx, "id", id)
}

// GetByCode retrieves a coupon by its code.
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	return r.get(ctx, "code", domain.NormalizeCode(code))
}

func (r *CouponRepository) get(ctx context.Context, column, value string) (*domain.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE ` + column + ` = $1`

	var c domain.Coupon
	err := r.db.QueryRow(ctx, query, value).Scan(
		&c.ID,
		&c.Code,
		&c.TenancyID,
		&c.Type,
		&c.Value,
		&c.MinOrderValue,
		&c.MaxDiscount,
		&c.UsageLimit,
		&c.UsedCount,
		&c.IsActive,
		&c.StartDate,
		&c.EndDate,
		&c.TotalSavings,
		&c.TotalOrders,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("coupon", value)
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	return &c, nil
}

// SetActive switches a coupon on or off by code.
func (r *CouponRepository) SetActive(ctx context.Context, code string, active bool) error {
	code = domain.NormalizeCode(code)
	ct, err := r.db.Exec(ctx, `UPDATE coupons SET is_active = $1, updated_at = NOW() WHERE code = $2`, active, code)
	if err != nil {
		return fmt.Errorf("set coupon active: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("coupon", code)
	}
	return nil
}
