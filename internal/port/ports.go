// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/nkhatri/upi-switch/internal/domain"
)

// BankAdapter is the switch-facing surface of one participant bank.
// Each adapter is the single writer for its own accounts.
type BankAdapter interface {
	BankCode() string

	// Account lifecycle
	CreateAccount(ctx context.Context, req *domain.CreateAccountRequest) (*domain.CreateAccountResponse, error)
	GetAccountBalance(ctx context.Context, accountNumber string) (*domain.BalanceResponse, error)
	GetAccountDetails(ctx context.Context, accountNumber string) (*domain.Account, error)

	// ProcessLeg applies one ledger leg (debit, credit, or reversal
	// credit). Idempotent on (transactionId, leg): a repeat call replays
	// the recorded result without re-applying the balance change.
	ProcessLeg(ctx context.Context, req *domain.LegRequest) (*domain.LegResult, error)

	// LegResult returns the recorded outcome of a leg, if any. The
	// router uses it to resolve failed-unknown outcomes after a
	// deadline expiry instead of blindly retrying.
	LegResult(ctx context.Context, transactionID string, leg domain.LegType) (*domain.LegResult, bool)

	// Health reports the adapter's own view of its health.
	Health(ctx context.Context) (*domain.BankHealth, error)
}

// Directory resolves payment handles to (bank, account) pairs.
type Directory interface {
	Link(ctx context.Context, req *domain.LinkVPARequest) error
	Unlink(ctx context.Context, req *domain.UnlinkVPARequest) error
	Deactivate(ctx context.Context, vpa string) error

	// Resolve is a pure read. A missing VPA yields Exists=false with a
	// nil error: absence is a normal outcome, not a failure.
	Resolve(ctx context.Context, vpa string) (*domain.Resolution, error)
}

// TransactionStore persists the switch's transaction records.
type TransactionStore interface {
	Create(ctx context.Context, txn *domain.Transaction) error
	Get(ctx context.Context, transactionID string) (*domain.Transaction, error)
	GetByRRN(ctx context.Context, rrn string) (*domain.Transaction, error)
	Update(ctx context.Context, txn *domain.Transaction) error
	ListByVPA(ctx context.Context, vpa string, limit int) ([]domain.Transaction, error)

	// ClaimForSettlement atomically stamps batchID onto every SUCCESS
	// transaction without a settlement id whose payer or payee bank is
	// in bankCodes, and returns those plus any transaction already
	// claimed by the same batchID. Re-running a batch therefore never
	// double-counts.
	ClaimForSettlement(ctx context.Context, batchID string, bankCodes []string) ([]domain.Transaction, error)
}

// SettlementStore persists settlement batches.
type SettlementStore interface {
	CreateBatch(ctx context.Context, s *domain.Settlement) error
	GetBatch(ctx context.Context, batchID string) (*domain.Settlement, error)
	UpdateBatch(ctx context.Context, s *domain.Settlement) error

	// ListCompleted returns COMPLETED batches whose date falls in
	// [fromDate, toDate], inclusive.
	ListCompleted(ctx context.Context, fromDate, toDate string) ([]domain.Settlement, error)
}

// BankStore persists the participant registry.
type BankStore interface {
	Upsert(ctx context.Context, bank *domain.Bank) error
	Get(ctx context.Context, bankCode string) (*domain.Bank, error)
	List(ctx context.Context) ([]domain.Bank, error)
	UpdateStatus(ctx context.Context, bankCode string, status domain.BankStatus) error
	UpdateHealth(ctx context.Context, bankCode string, hb *domain.Heartbeat, at time.Time) error
}

// ResolutionCache caches VPA resolutions in front of the directory.
type ResolutionCache interface {
	Get(ctx context.Context, vpa string) (*domain.Resolution, bool)
	Set(ctx context.Context, vpa string, res *domain.Resolution)
	Invalidate(ctx context.Context, vpa string)
}

// IdempotencyCache stores serialized responses keyed by request hash,
// plus an in-flight claim so concurrent duplicates are rejected rather
// than processed twice.
type IdempotencyCache interface {
	GetResponse(ctx context.Context, key string) ([]byte, bool)
	SetResponse(ctx context.Context, key string, data []byte, ttl time.Duration)
	Claim(ctx context.Context, key string, ttl time.Duration) bool
	Release(ctx context.Context, key string)
}

// EventPublisher emits transaction lifecycle events for downstream
// consumers (settlement triggers, analytics, notifications). The bus
// itself is an external collaborator.
type EventPublisher interface {
	PublishTransactionEvent(ctx context.Context, transactionID string, event []byte) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
