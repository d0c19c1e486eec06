package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/nkhatri/upi-switch/internal/domain"
	"github.com/nkhatri/upi-switch/internal/port"
	"github.com/nkhatri/upi-switch/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// VPA directory
// ============================================================

func linkVPAHandler(dir port.Directory, switchSvc *service.SwitchService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/vpa/link")
		defer span.End()

		var req domain.LinkVPARequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		span.SetAttributes(attribute.String("vpa", req.VPA))

		// The account must exist at the named bank before the handle can
		// point at it.
		var holderName string
		if adapter, ok := switchSvc.Adapter(req.BankCode); ok {
			account, err := adapter.GetAccountDetails(ctx, req.AccountNumber)
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
			holderName = account.HolderName
		}

		if err := dir.Link(ctx, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		// Payee confirmation screens show the holder's display name.
		if named, ok := dir.(interface {
			SetHolderName(ctx context.Context, vpa, holderName string) error
		}); ok && holderName != "" {
			if err := named.SetHolderName(ctx, req.VPA, holderName); err != nil {
				logger.Warn("could not attach holder name", zap.String("vpa", req.VPA), zap.Error(err))
			}
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"vpa":           req.VPA,
			"bankCode":      req.BankCode,
			"accountNumber": req.AccountNumber,
			"linked":        true,
		})
	}
}

func unlinkVPAHandler(dir port.Directory, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/vpa/unlink")
		defer span.End()

		var req domain.UnlinkVPARequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := dir.Unlink(ctx, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"vpa": req.VPA, "linked": false})
	}
}

func resolveVPAHandler(dir port.Directory, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/vpa/resolve")
		defer span.End()

		vpa := r.URL.Query().Get("vpa")
		if vpa == "" {
			writeError(w, http.StatusBadRequest, "vpa query parameter is required")
			return
		}
		span.SetAttributes(attribute.String("vpa", vpa))

		res, err := dir.Resolve(ctx, vpa)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
