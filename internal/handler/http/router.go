package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/campaign-engine/internal/config"
	"github.com/utafrali/campaign-engine/pkg/health"
	"github.com/utafrali/campaign-engine/pkg/middleware"
)

// Services are the collaborators the HTTP layer serves.
type Services struct {
	Campaigns CampaignService
	Ledger    LedgerReader
	Checkout  CheckoutService
	Discounts DiscountService
	Coupons   CouponService
}

// NewRouter creates a chi router with all campaign engine routes registered.
func NewRouter(svc Services, healthHandler *health.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Tracing())
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.PrometheusMetrics(config.ServiceName))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	campaignHandler := NewCampaignHandler(svc.Campaigns, svc.Ledger, logger)
	checkoutHandler := NewCheckoutHandler(svc.Checkout, logger)
	promotionHandler := NewPromotionHandler(svc.Discounts, svc.Coupons, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/checkout", func(r chi.Router) {
			r.Post("/preview", checkoutHandler.Preview)
			r.Post("/apply", checkoutHandler.Apply)
			r.Post("/commit", checkoutHandler.Commit)
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", campaignHandler.CreateCampaign)
			r.Get("/", campaignHandler.ListCampaigns)

			r.Get("/{id}", campaignHandler.GetCampaign)
			r.Put("/{id}", campaignHandler.UpdateCampaign)
			r.Get("/{id}/summary", campaignHandler.GetSummary)
			r.Get("/{id}/ledger", campaignHandler.ListLedger)
			r.Get("/{id}/ledger/summary", campaignHandler.LedgerSummary)
			// Static segments win over {action} in chi.
			r.Post("/{id}/instantiate", campaignHandler.Instantiate)
			r.Post("/{id}/{action}", campaignHandler.Transition)
		})

		r.Route("/discounts", func(r chi.Router) {
			r.Post("/", promotionHandler.CreateDiscount)
			r.Get("/", promotionHandler.ListDiscounts)
			r.Get("/{id}", promotionHandler.GetDiscount)
			r.Post("/{id}/deactivate", promotionHandler.DeactivateDiscount)
		})

		r.Route("/coupons", func(r chi.Router) {
			r.Post("/", promotionHandler.CreateCoupon)
			r.Get("/{code}", promotionHandler.GetCoupon)
			r.Post("/{code}/deactivate", promotionHandler.DeactivateCoupon)
		})
	})

	return r
}
