// Package service contains the switch's business logic: transaction
// routing, settlement aggregation, and the participant registry. All
// services depend on ports only, never on concrete infrastructure.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/nkhatri/upi-switch/internal/domain"
	"github.com/nkhatri/upi-switch/internal/infra/observability"
	"github.com/nkhatri/upi-switch/internal/port"

	"go.uber.org/zap"
)

// RegistryService maintains the participant registry and answers the
// router's "is this bank routable" question.
type RegistryService struct {
	banks     port.BankStore
	threshold float64 // min rolling success rate (%) to stay routable
	metrics   *observability.Metrics
	logger    *zap.Logger

	now func() time.Time
}

// NewRegistryService creates the registry service.
func NewRegistryService(banks port.BankStore, threshold float64, metrics *observability.Metrics, logger *zap.Logger) *RegistryService {
	return &RegistryService{
		banks:     banks,
		threshold: threshold,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Register adds a participant or updates an existing one's metadata.
// A new bank starts ACTIVE with a clean health slate; re-registering
// keeps the current status and rolling figures.
func (s *RegistryService) Register(ctx context.Context, req *domain.RegisterBankRequest) (*domain.Bank, error) {
	if req.BankCode == "" {
		return nil, &domain.ErrValidation{Field: "bankCode", Message: "required"}
	}
	if req.Name == "" {
		return nil, &domain.ErrValidation{Field: "bankName", Message: "required"}
	}

	bank := &domain.Bank{
		BankCode:           req.BankCode,
		Name:               req.Name,
		EndpointURL:        req.EndpointURL,
		Features:           req.Features,
		Status:             domain.BankActive,
		SuccessRatePercent: 100,
		RegisteredAt:       s.now(),
	}
	if existing, err := s.banks.Get(ctx, req.BankCode); err == nil {
		bank.Status = existing.Status
		bank.LastHeartbeat = existing.LastHeartbeat
		bank.SuccessRatePercent = existing.SuccessRatePercent
		bank.AvgResponseTimeMs = existing.AvgResponseTimeMs
		bank.RegisteredAt = existing.RegisteredAt
	}

	if err := s.banks.Upsert(ctx, bank); err != nil {
		return nil, fmt.Errorf("registering bank %s: %w", req.BankCode, err)
	}
	s.logger.Info("bank registered",
		zap.String("bank_code", bank.BankCode),
		zap.String("status", string(bank.Status)),
	)
	return bank, nil
}

// UpdateStatus moves a bank between registry states (e.g. into
// MAINTENANCE before a planned window).
func (s *RegistryService) UpdateStatus(ctx context.Context, bankCode string, status domain.BankStatus) error {
	switch status {
	case domain.BankActive, domain.BankInactive, domain.BankMaintenance, domain.BankSuspended:
	default:
		return &domain.ErrValidation{Field: "status", Message: "unknown bank status: " + string(status)}
	}

	if err := s.banks.UpdateStatus(ctx, bankCode, status); err != nil {
		return err
	}
	s.logger.Info("bank status updated",
		zap.String("bank_code", bankCode),
		zap.String("status", string(status)),
	)
	return nil
}

// Get returns one participant's registry record.
func (s *RegistryService) Get(ctx context.Context, bankCode string) (*domain.Bank, error) {
	return s.banks.Get(ctx, bankCode)
}

// List returns all registered participants.
func (s *RegistryService) List(ctx context.Context) ([]domain.Bank, error) {
	return s.banks.List(ctx)
}

// Heartbeat folds one health observation window into the bank's
// rolling figures.
func (s *RegistryService) Heartbeat(ctx context.Context, bankCode string, hb *domain.Heartbeat) error {
	if hb.SuccessRatePercent < 0 || hb.SuccessRatePercent > 100 {
		return &domain.ErrValidation{Field: "successRatePercent", Message: "must be between 0 and 100"}
	}
	return s.banks.UpdateHealth(ctx, bankCode, hb, s.now())
}

// Routable reports whether the router may send legs to bankCode. A bank
// must be registered, ACTIVE, and at or above the health threshold.
// The returned error says which check failed.
func (s *RegistryService) Routable(ctx context.Context, bankCode string) error {
	bank, err := s.banks.Get(ctx, bankCode)
	if err != nil {
		return &domain.ErrBankUnavailable{BankCode: bankCode, Reason: "not registered"}
	}
	if bank.Status != domain.BankActive {
		s.metrics.IncrRoutingRejection("status_" + string(bank.Status))
		return &domain.ErrBankUnavailable{BankCode: bankCode, Reason: "status " + string(bank.Status)}
	}
	if bank.SuccessRatePercent < s.threshold {
		s.metrics.IncrRoutingRejection("unhealthy")
		return &domain.ErrBankUnavailable{
			BankCode: bankCode,
			Reason:   fmt.Sprintf("success rate %.1f%% below threshold %.1f%%", bank.SuccessRatePercent, s.threshold),
		}
	}
	return nil
}
