// Package store provides the in-memory persistence backends used when
// no Postgres/Redis is configured. All implementations are safe for
// concurrent use.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nkhatri/upi-switch/internal/domain"
)

// ============================================================
// Transactions
// ============================================================

// MemoryTransactionStore keeps transactions in a map keyed by id.
type MemoryTransactionStore struct {
	mu    sync.RWMutex
	byID  map[string]*domain.Transaction
	byRRN map[string]string
	order []string
}

// NewMemoryTransactionStore creates an empty transaction store.
func NewMemoryTransactionStore() *MemoryTransactionStore {
	return &MemoryTransactionStore{
		byID:  make(map[string]*domain.Transaction),
		byRRN: make(map[string]string),
	}
}

func (s *MemoryTransactionStore) Create(ctx context.Context, txn *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[txn.TransactionID]; exists {
		return &domain.ErrDuplicate{Key: txn.TransactionID}
	}
	cp := cloneTxn(txn)
	s.byID[txn.TransactionID] = cp
	if txn.RRN != "" {
		s.byRRN[txn.RRN] = txn.TransactionID
	}
	s.order = append(s.order, txn.TransactionID)
	return nil
}

func (s *MemoryTransactionStore) Get(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn, ok := s.byID[transactionID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: transactionID}
	}
	return cloneTxn(txn), nil
}

func (s *MemoryTransactionStore) GetByRRN(ctx context.Context, rrn string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byRRN[rrn]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: rrn}
	}
	return cloneTxn(s.byID[id]), nil
}

func (s *MemoryTransactionStore) Update(ctx context.Context, txn *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[txn.TransactionID]; !ok {
		return &domain.ErrNotFound{Resource: "transaction", ID: txn.TransactionID}
	}
	s.byID[txn.TransactionID] = cloneTxn(txn)
	if txn.RRN != "" {
		s.byRRN[txn.RRN] = txn.TransactionID
	}
	return nil
}

func (s *MemoryTransactionStore) ListByVPA(ctx context.Context, vpa string, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Transaction, 0, limit)
	// Newest first.
	for i := len(s.order) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		txn := s.byID[s.order[i]]
		if txn.PayerVPA == vpa || txn.PayeeVPA == vpa {
			out = append(out, *cloneTxn(txn))
		}
	}
	return out, nil
}

func (s *MemoryTransactionStore) ClaimForSettlement(ctx context.Context, batchID string, bankCodes []string) ([]domain.Transaction, error) {
	codes := make(map[string]bool, len(bankCodes))
	for _, c := range bankCodes {
		codes[c] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []domain.Transaction
	for _, id := range s.order {
		txn := s.byID[id]
		if txn.Status != domain.StatusSuccess {
			continue
		}
		switch txn.SettlementID {
		case "":
			if !codes[txn.PayerBankCode] && !codes[txn.PayeeBankCode] {
				continue
			}
			txn.SettlementID = batchID
			claimed = append(claimed, *cloneTxn(txn))
		case batchID:
			// Retry of the same batch: keep previously claimed rows.
			claimed = append(claimed, *cloneTxn(txn))
		}
	}
	return claimed, nil
}

func cloneTxn(txn *domain.Transaction) *domain.Transaction {
	cp := *txn
	cp.Events = append([]domain.TransactionEvent(nil), txn.Events...)
	return &cp
}

// ============================================================
// Settlements
// ============================================================

// MemorySettlementStore keeps settlement batches in a map.
type MemorySettlementStore struct {
	mu      sync.RWMutex
	batches map[string]*domain.Settlement
}

// NewMemorySettlementStore creates an empty settlement store.
func NewMemorySettlementStore() *MemorySettlementStore {
	return &MemorySettlementStore{batches: make(map[string]*domain.Settlement)}
}

func (s *MemorySettlementStore) CreateBatch(ctx context.Context, batch *domain.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.batches[batch.BatchID]; exists {
		return &domain.ErrDuplicate{Key: batch.BatchID}
	}
	cp := *batch
	s.batches[batch.BatchID] = &cp
	return nil
}

func (s *MemorySettlementStore) GetBatch(ctx context.Context, batchID string) (*domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, ok := s.batches[batchID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "settlement", ID: batchID}
	}
	cp := *batch
	cp.Entries = append([]domain.BankSettlement(nil), batch.Entries...)
	return &cp, nil
}

func (s *MemorySettlementStore) UpdateBatch(ctx context.Context, batch *domain.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.batches[batch.BatchID]; !ok {
		return &domain.ErrNotFound{Resource: "settlement", ID: batch.BatchID}
	}
	cp := *batch
	cp.Entries = append([]domain.BankSettlement(nil), batch.Entries...)
	s.batches[batch.BatchID] = &cp
	return nil
}

func (s *MemorySettlementStore) ListCompleted(ctx context.Context, fromDate, toDate string) ([]domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Settlement
	for _, batch := range s.batches {
		if batch.Status != domain.SettlementCompleted {
			continue
		}
		if (fromDate != "" && batch.Date < fromDate) || (toDate != "" && batch.Date > toDate) {
			continue
		}
		cp := *batch
		cp.Entries = append([]domain.BankSettlement(nil), batch.Entries...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// ============================================================
// Bank registry
// ============================================================

// MemoryBankStore keeps the participant registry in a map.
type MemoryBankStore struct {
	mu    sync.RWMutex
	banks map[string]*domain.Bank
}

// NewMemoryBankStore creates an empty bank store.
func NewMemoryBankStore() *MemoryBankStore {
	return &MemoryBankStore{banks: make(map[string]*domain.Bank)}
}

func (s *MemoryBankStore) Upsert(ctx context.Context, bank *domain.Bank) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *bank
	s.banks[bank.BankCode] = &cp
	return nil
}

func (s *MemoryBankStore) Get(ctx context.Context, bankCode string) (*domain.Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bank, ok := s.banks[bankCode]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "bank", ID: bankCode}
	}
	cp := *bank
	return &cp, nil
}

func (s *MemoryBankStore) List(ctx context.Context) ([]domain.Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Bank, 0, len(s.banks))
	for _, bank := range s.banks {
		out = append(out, *bank)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BankCode < out[j].BankCode })
	return out, nil
}

func (s *MemoryBankStore) UpdateStatus(ctx context.Context, bankCode string, status domain.BankStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bank, ok := s.banks[bankCode]
	if !ok {
		return &domain.ErrNotFound{Resource: "bank", ID: bankCode}
	}
	bank.Status = status
	return nil
}

func (s *MemoryBankStore) UpdateHealth(ctx context.Context, bankCode string, hb *domain.Heartbeat, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bank, ok := s.banks[bankCode]
	if !ok {
		return &domain.ErrNotFound{Resource: "bank", ID: bankCode}
	}

	// Exponentially weighted fold so one bad window doesn't flap the
	// routing decision.
	const alpha = 0.3
	if bank.LastHeartbeat == nil {
		bank.SuccessRatePercent = hb.SuccessRatePercent
		bank.AvgResponseTimeMs = hb.AvgResponseTimeMs
	} else {
		bank.SuccessRatePercent = alpha*hb.SuccessRatePercent + (1-alpha)*bank.SuccessRatePercent
		bank.AvgResponseTimeMs = alpha*hb.AvgResponseTimeMs + (1-alpha)*bank.AvgResponseTimeMs
	}
	t := at
	bank.LastHeartbeat = &t
	return nil
}
