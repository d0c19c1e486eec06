package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nkhatri/upi-switch/internal/domain"
	"github.com/nkhatri/upi-switch/internal/infra/observability"
	"github.com/nkhatri/upi-switch/internal/port"

	"go.uber.org/zap"
)

// SettlementService nets settled transactions into inter-bank
// positions. A transaction is claimed by at most one batch; re-running
// a batch id reuses its claims instead of double-counting.
type SettlementService struct {
	txns    port.TransactionStore
	batches port.SettlementStore
	metrics *observability.Metrics
	logger  *zap.Logger

	now func() time.Time
}

// processingGrace is how long a PROCESSING batch may sit before it is
// treated as interrupted and may be re-initiated. Claims are idempotent
// per batch id, so a retake picks up exactly the rows the dead run had
// claimed.
const processingGrace = 10 * time.Minute

// NewSettlementService creates the settlement service.
func NewSettlementService(txns port.TransactionStore, batches port.SettlementStore, metrics *observability.Metrics, logger *zap.Logger) *SettlementService {
	return &SettlementService{
		txns:    txns,
		batches: batches,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Initiate runs one settlement batch: claim eligible transactions,
// net them per bank pair, and complete the batch. A COMPLETED batch id
// cannot be re-initiated; a FAILED or interrupted one can, and picks up
// exactly the rows it had claimed.
func (s *SettlementService) Initiate(ctx context.Context, req *domain.InitiateSettlementRequest) (*domain.Settlement, error) {
	if req.BatchID == "" {
		return nil, &domain.ErrValidation{Field: "batchId", Message: "required"}
	}
	if len(req.BankCodes) == 0 {
		return nil, &domain.ErrValidation{Field: "bankCodes", Message: "at least one bank code required"}
	}
	date := req.SettlementDate
	if date == "" {
		date = s.now().Format("2006-01-02")
	}

	batch, err := s.batches.GetBatch(ctx, req.BatchID)
	switch {
	case err == nil:
		switch batch.Status {
		case domain.SettlementCompleted:
			return nil, &domain.ErrAlreadyBatched{BatchID: req.BatchID}
		case domain.SettlementProcessing:
			// A fresh PROCESSING batch has a live runner; one past the
			// grace window was interrupted and may be retaken.
			if batch.StartedAt == nil || s.now().Sub(*batch.StartedAt) < processingGrace {
				return nil, &domain.ErrInvalidState{
					Entity:   "settlement",
					ID:       req.BatchID,
					Current:  string(domain.SettlementProcessing),
					Expected: string(domain.SettlementPending),
				}
			}
			s.logger.Warn("retaking stale settlement batch",
				zap.String("batch_id", batch.BatchID),
				zap.Time("started_at", *batch.StartedAt),
			)
		}
	default:
		batch = &domain.Settlement{
			BatchID:   req.BatchID,
			BankCodes: req.BankCodes,
			Date:      date,
			Status:    domain.SettlementPending,
			CreatedAt: s.now(),
		}
		if err := s.batches.CreateBatch(ctx, batch); err != nil {
			return nil, fmt.Errorf("creating settlement batch: %w", err)
		}
	}

	started := s.now()
	batch.Status = domain.SettlementProcessing
	batch.StartedAt = &started
	if err := s.batches.UpdateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("marking batch processing: %w", err)
	}

	claimed, err := s.txns.ClaimForSettlement(ctx, batch.BatchID, batch.BankCodes)
	if err != nil {
		batch.Status = domain.SettlementFailed
		if uerr := s.batches.UpdateBatch(ctx, batch); uerr != nil {
			s.logger.Error("failed to mark batch failed", zap.String("batch_id", batch.BatchID), zap.Error(uerr))
		}
		s.metrics.IncrSettlementBatch("failed")
		return nil, fmt.Errorf("claiming transactions for batch %s: %w", batch.BatchID, err)
	}

	batch.Entries = netByBankPair(claimed)

	now := s.now()
	batch.Status = domain.SettlementCompleted
	batch.CompletedAt = &now
	if err := s.batches.UpdateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("completing batch: %w", err)
	}

	s.metrics.IncrSettlementBatch("completed")
	for _, txn := range claimed {
		s.metrics.AddSettledAmount(txn.PayeeBankCode, txn.AmountPaisa)
	}

	s.logger.Info("settlement batch completed",
		zap.String("batch_id", batch.BatchID),
		zap.String("date", batch.Date),
		zap.Int("transactions", len(claimed)),
		zap.Int("bank_pairs", len(batch.Entries)),
	)
	return batch, nil
}

// netByBankPair folds claimed transactions into one netted entry per
// bank pair. The pair is ordered lexicographically; flow from the first
// bank to the second accrues as credit, the opposite direction as
// debit, so NetPaisa is what the first bank owes the second.
func netByBankPair(txns []domain.Transaction) []domain.BankSettlement {
	type pair struct{ first, second string }
	entries := make(map[pair]*domain.BankSettlement)

	for _, txn := range txns {
		p := pair{first: txn.PayerBankCode, second: txn.PayeeBankCode}
		forward := true
		if p.second < p.first {
			p.first, p.second = p.second, p.first
			forward = false
		}

		entry, ok := entries[p]
		if !ok {
			entry = &domain.BankSettlement{
				PayerBankCode: p.first,
				PayeeBankCode: p.second,
				Status:        domain.SettlementCompleted,
			}
			entries[p] = entry
		}
		if forward {
			entry.CreditPaisa += txn.AmountPaisa
		} else {
			entry.DebitPaisa += txn.AmountPaisa
		}
		entry.TransactionCount++
	}

	out := make([]domain.BankSettlement, 0, len(entries))
	for _, entry := range entries {
		entry.NetPaisa = entry.CreditPaisa - entry.DebitPaisa
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PayerBankCode != out[j].PayerBankCode {
			return out[i].PayerBankCode < out[j].PayerBankCode
		}
		return out[i].PayeeBankCode < out[j].PayeeBankCode
	})
	return out
}

// GetStatus returns one settlement batch.
func (s *SettlementService) GetStatus(ctx context.Context, batchID string) (*domain.Settlement, error) {
	return s.batches.GetBatch(ctx, batchID)
}

// Report aggregates one bank's completed settlements over an inclusive
// date range. NetPositionPaisa is positive when the bank is owed money.
func (s *SettlementService) Report(ctx context.Context, bankCode, fromDate, toDate string) (*domain.SettlementReport, error) {
	if bankCode == "" {
		return nil, &domain.ErrValidation{Field: "bankCode", Message: "required"}
	}
	for _, d := range []string{fromDate, toDate} {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return nil, &domain.ErrValidation{Field: "date", Message: "expected YYYY-MM-DD: " + d}
		}
	}

	batches, err := s.batches.ListCompleted(ctx, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("listing settlements: %w", err)
	}

	report := &domain.SettlementReport{
		BankCode: bankCode,
		FromDate: fromDate,
		ToDate:   toDate,
		Entries:  []domain.BankSettlement{},
	}
	for _, batch := range batches {
		touched := false
		for _, entry := range batch.Entries {
			switch bankCode {
			case entry.PayeeBankCode:
				report.NetPositionPaisa += entry.NetPaisa
			case entry.PayerBankCode:
				report.NetPositionPaisa -= entry.NetPaisa
			default:
				continue
			}
			report.Entries = append(report.Entries, entry)
			report.TransactionCount += entry.TransactionCount
			touched = true
		}
		if touched {
			report.BatchCount++
		}
	}
	return report, nil
}

// RunScheduler runs settlement on a fixed interval until ctx is
// cancelled, batching across all registered banks. Batch ids are
// derived from the tick time, so a restart within the same second
// resumes rather than duplicates.
func (s *SettlementService) RunScheduler(ctx context.Context, interval time.Duration, registry *RegistryService) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("settlement scheduler started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("settlement scheduler stopped")
			return
		case tick := <-ticker.C:
			banks, err := registry.List(ctx)
			if err != nil || len(banks) == 0 {
				continue
			}
			codes := make([]string, 0, len(banks))
			for _, b := range banks {
				codes = append(codes, b.BankCode)
			}
			req := &domain.InitiateSettlementRequest{
				BatchID:        "AUTO-" + tick.UTC().Format("20060102-150405"),
				BankCodes:      codes,
				SettlementDate: tick.UTC().Format("2006-01-02"),
			}
			if _, err := s.Initiate(ctx, req); err != nil {
				s.logger.Warn("scheduled settlement failed", zap.String("batch_id", req.BatchID), zap.Error(err))
			}
		}
	}
}
