package handler

import (
	"encoding/json"
	"net/http"

	"github.com/nkhatri/upi-switch/internal/domain"
	"github.com/nkhatri/upi-switch/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Participant registry
// ============================================================

func registerBankHandler(registrySvc *service.RegistryService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/banks")
		defer span.End()

		var req domain.RegisterBankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		bank, err := registrySvc.Register(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, bank)
	}
}

func listBanksHandler(registrySvc *service.RegistryService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/banks")
		defer span.End()

		banks, err := registrySvc.List(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"banks": banks})
	}
}

func getBankHandler(registrySvc *service.RegistryService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/banks/{bankCode}")
		defer span.End()

		bank, err := registrySvc.Get(ctx, chi.URLParam(r, "bankCode"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, bank)
	}
}

func updateBankStatusHandler(registrySvc *service.RegistryService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/banks/{bankCode}/status")
		defer span.End()

		var body struct {
			Status domain.BankStatus `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		bankCode := chi.URLParam(r, "bankCode")
		if err := registrySvc.UpdateStatus(ctx, bankCode, body.Status); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"bankCode": bankCode, "status": body.Status})
	}
}

func heartbeatHandler(registrySvc *service.RegistryService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/banks/{bankCode}/heartbeat")
		defer span.End()

		var hb domain.Heartbeat
		if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := registrySvc.Heartbeat(ctx, chi.URLParam(r, "bankCode"), &hb); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// bankHealthHandler asks the hosted adapter for its own health view,
// as opposed to the registry's heartbeat-fed rolling figures.
func bankHealthHandler(switchSvc *service.SwitchService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/banks/{bankCode}/health")
		defer span.End()

		bankCode := chi.URLParam(r, "bankCode")
		adapter, ok := switchSvc.Adapter(bankCode)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown bank code: "+bankCode)
			return
		}

		health, err := adapter.Health(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, health)
	}
}
