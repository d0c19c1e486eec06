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
// Accounts — proxied to the owning bank adapter
// ============================================================

func createAccountHandler(switchSvc *service.SwitchService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/accounts")
		defer span.End()

		var req domain.CreateAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.BankCode == "" {
			writeError(w, http.StatusBadRequest, "bankCode is required")
			return
		}
		span.SetAttributes(attribute.String("bank.code", req.BankCode))

		adapter, ok := switchSvc.Adapter(req.BankCode)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown bank code: "+req.BankCode)
			return
		}

		resp, err := adapter.CreateAccount(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func getAccountHandler(switchSvc *service.SwitchService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountNumber}")
		defer span.End()

		accountNumber := chi.URLParam(r, "accountNumber")
		adapter, ok := switchSvc.AdapterForAccount(accountNumber)
		if !ok {
			writeError(w, http.StatusNotFound, "no bank owns account: "+accountNumber)
			return
		}

		account, err := adapter.GetAccountDetails(ctx, accountNumber)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, account)
	}
}

func getBalanceHandler(switchSvc *service.SwitchService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountNumber}/balance")
		defer span.End()

		accountNumber := chi.URLParam(r, "accountNumber")
		adapter, ok := switchSvc.AdapterForAccount(accountNumber)
		if !ok {
			writeError(w, http.StatusNotFound, "no bank owns account: "+accountNumber)
			return
		}

		balance, err := adapter.GetAccountBalance(ctx, accountNumber)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, balance)
	}
}
