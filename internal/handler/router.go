// Package handler exposes the switch over HTTP.
package handler

import (
	"net/http"
	"time"

	"github.com/nkhatri/upi-switch/internal/infra/observability"
	"github.com/nkhatri/upi-switch/internal/port"
	"github.com/nkhatri/upi-switch/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(
	switchSvc *service.SwitchService,
	settlementSvc *service.SettlementService,
	registrySvc *service.RegistryService,
	dir port.Directory,
	metrics *observability.Metrics,
	signingSecret string,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(switchSvc, registrySvc, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// Accounts (proxied to the owning bank adapter)
		r.Post("/accounts", createAccountHandler(switchSvc, logger))
		r.Get("/accounts/{accountNumber}", getAccountHandler(switchSvc, logger))
		r.Get("/accounts/{accountNumber}/balance", getBalanceHandler(switchSvc, logger))

		// VPA directory
		r.Post("/vpa/link", linkVPAHandler(dir, switchSvc, logger))
		r.Post("/vpa/unlink", unlinkVPAHandler(dir, logger))
		r.Get("/vpa/resolve", resolveVPAHandler(dir, logger))

		// Transactions
		r.Post("/transactions", processTransactionHandler(switchSvc, signingSecret, logger))
		r.Get("/transactions", listTransactionsHandler(switchSvc, logger))
		r.Get("/transactions/{transactionId}", getTransactionHandler(switchSvc, logger))
		r.Post("/transactions/{transactionId}/cancel", cancelTransactionHandler(switchSvc, logger))
		r.Post("/transactions/{transactionId}/reverse", reverseTransactionHandler(switchSvc, logger))

		// Participant registry
		r.Post("/banks", registerBankHandler(registrySvc, logger))
		r.Get("/banks", listBanksHandler(registrySvc, logger))
		r.Get("/banks/{bankCode}", getBankHandler(registrySvc, logger))
		r.Put("/banks/{bankCode}/status", updateBankStatusHandler(registrySvc, logger))
		r.Post("/banks/{bankCode}/heartbeat", heartbeatHandler(registrySvc, logger))
		r.Get("/banks/{bankCode}/health", bankHealthHandler(switchSvc, logger))

		// Settlement
		r.Post("/settlements", initiateSettlementHandler(settlementSvc, logger))
		r.Get("/settlements/report", settlementReportHandler(settlementSvc, logger))
		r.Get("/settlements/{batchId}", getSettlementHandler(settlementSvc, logger))

		// Switch metrics snapshot
		r.Get("/metrics/switch", switchMetricsHandler(metrics))
	})

	return r
}

// ============================================================
// Operational
// ============================================================

func healthzHandler(switchSvc *service.SwitchService, registrySvc *service.RegistryService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		type serviceHealth struct {
			Name    string `json:"name"`
			Status  string `json:"status"`
			Details string `json:"details,omitempty"`
		}
		services := []serviceHealth{
			{Name: "upi-switch", Status: "healthy"},
		}

		overall := "healthy"
		banks, err := registrySvc.List(ctx)
		if err != nil {
			overall = "degraded"
			services = append(services, serviceHealth{Name: "registry", Status: "unhealthy", Details: err.Error()})
		}
		for _, bank := range banks {
			adapter, ok := switchSvc.Adapter(bank.BankCode)
			if !ok {
				continue
			}
			health, err := adapter.Health(ctx)
			status := "healthy"
			details := ""
			switch {
			case err != nil:
				status = "unhealthy"
				details = err.Error()
				overall = "degraded"
			case health.HealthStatus != "HEALTHY":
				status = "degraded"
				if overall == "healthy" {
					overall = "degraded"
				}
			}
			services = append(services, serviceHealth{Name: "bank-" + bank.BankCode, Status: status, Details: details})
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status":    overall,
			"services":  services,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func switchMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}
