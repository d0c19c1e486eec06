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
// Transactions
// ============================================================

// processTransactionHandler runs the payment saga. Business declines
// come back as 200 with a terminal status in the body; only requests
// the switch refused to start map to error codes.
func processTransactionHandler(switchSvc *service.SwitchService, signingSecret string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/transactions")
		defer span.End()

		var req domain.TransactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		span.SetAttributes(
			attribute.String("transaction.id", req.TransactionID),
			attribute.Int64("amount.paisa", req.AmountPaisa),
		)

		if err := verifySignature(signingSecret, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		resp, err := switchSvc.ProcessTransaction(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getTransactionHandler(switchSvc *service.SwitchService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/transactions/{transactionId}")
		defer span.End()

		id := chi.URLParam(r, "transactionId")
		byRRN := r.URL.Query().Get("by") == "rrn"

		txn, err := switchSvc.GetTransactionStatus(ctx, id, byRRN)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, txn)
	}
}

func listTransactionsHandler(switchSvc *service.SwitchService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/transactions")
		defer span.End()

		vpa := r.URL.Query().Get("vpa")
		if vpa == "" {
			writeError(w, http.StatusBadRequest, "vpa query parameter is required")
			return
		}

		txns, err := switchSvc.ListTransactionsByVPA(ctx, vpa, parseLimit(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transactions": txns})
	}
}

func cancelTransactionHandler(switchSvc *service.SwitchService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/transactions/{transactionId}/cancel")
		defer span.End()

		id := chi.URLParam(r, "transactionId")
		txn, err := switchSvc.CancelTransaction(ctx, id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, txn)
	}
}

func reverseTransactionHandler(switchSvc *service.SwitchService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/transactions/{transactionId}/reverse")
		defer span.End()

		id := chi.URLParam(r, "transactionId")

		var body struct {
			Reason string `json:"reason,omitempty"`
		}
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}

		resp, err := switchSvc.ReverseTransaction(ctx, id, body.Reason)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
