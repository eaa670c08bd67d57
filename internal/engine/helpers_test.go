package engine

import (
	"bytes"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utafrali/campaign-engine/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }

func order(total string) domain.OrderSnapshot {
	return domain.OrderSnapshot{
		Total: dec(total),
		Items: []domain.OrderItem{{SKU: "sku-1", Quantity: 1, Price: dec(total)}},
	}
}

var (
	// Wednesday 2026-03-04 12:00 UTC.
	now       = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	startDate = now.Add(-24 * time.Hour)
	endDate   = now.Add(24 * time.Hour)
)

func activeCampaign(id string, scope domain.Scope, priority int) *domain.Campaign {
	c := &domain.Campaign{
		ID:        id,
		Name:      "campaign " + id,
		Scope:     scope,
		StartDate: startDate,
		EndDate:   endDate,
		Priority:  priority,
		Status:    domain.StatusActive,
		Triggers:  []domain.Trigger{{Type: domain.TriggerOrderCheckout}},
		Audience:  domain.Audience{Type: domain.AudienceAllUsers},
		Budget:    domain.Budget{Type: domain.BudgetUnlimited},
		CreatedAt: startDate,
	}
	switch scope {
	case domain.ScopeTenant:
		c.TenancyID = strPtr("tenant-1")
	case domain.ScopeGlobal:
		c.AllTenancies = true
	}
	return c
}

func discount(id string, stack bool, rules ...domain.Rule) domain.Discount {
	return domain.Discount{
		ID:                         id,
		Name:                       "discount " + id,
		Rules:                      rules,
		IsActive:                   true,
		StartDate:                  startDate,
		EndDate:                    endDate,
		CanStackWithOtherDiscounts: stack,
	}
}

func pct(v string) domain.Rule {
	return domain.Rule{Type: domain.RulePercentage, Value: dec(v)}
}

func fixed(v string) domain.Rule {
	return domain.Rule{Type: domain.RuleFixedAmount, Value: dec(v)}
}
