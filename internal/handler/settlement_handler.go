package handler

import (
	"encoding/json"
	"net/http"

	"github.com/nkhatri/upi-switch/internal/domain"
	"github.com/nkhatri/upi-switch/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Settlement
// ============================================================

func initiateSettlementHandler(settlementSvc *service.SettlementService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/settlements")
		defer span.End()

		var req domain.InitiateSettlementRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		span.SetAttributes(attribute.String("batch.id", req.BatchID))

		batch, err := settlementSvc.Initiate(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, batch)
	}
}

func getSettlementHandler(settlementSvc *service.SettlementService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/settlements/{batchId}")
		defer span.End()

		batch, err := settlementSvc.GetStatus(ctx, chi.URLParam(r, "batchId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, batch)
	}
}

func settlementReportHandler(settlementSvc *service.SettlementService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/settlements/report")
		defer span.End()

		q := r.URL.Query()
		report, err := settlementSvc.Report(ctx, q.Get("bankCode"), q.Get("from"), q.Get("to"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}
