// Package adapter implements a participant bank: the single writer for
// that bank's accounts. Balance checks and mutations run under a
// per-account lock, and every ledger leg is idempotent on
// (transactionId, leg) so the switch can retry safely.
package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nkhatri/upi-switch/internal/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("adapter")

// accountSlot pairs an account with its own mutex. Two concurrent
// debits against the same account serialize here, so a balance check
// and the debit it guards are atomic.
type accountSlot struct {
	mu   sync.Mutex
	acct domain.Account
}

// Adapter owns one bank's ledger.
type Adapter struct {
	bankCode          string
	defaultDailyLimit int64
	logger            *zap.Logger
	now               func() time.Time

	mu       sync.RWMutex // guards accounts map and seq, not balances
	accounts map[string]*accountSlot
	byCust   map[string]map[domain.AccountType]string // customerID -> type -> account number
	seq      int64

	legMu sync.Mutex
	legs  map[string]*domain.LegResult

	statMu     sync.Mutex
	totalLegs  int64
	failedLegs int64
	latencySum time.Duration
}

// New creates a bank adapter for bankCode.
func New(bankCode string, defaultDailyLimitPaisa int64, logger *zap.Logger) *Adapter {
	return &Adapter{
		bankCode:          bankCode,
		defaultDailyLimit: defaultDailyLimitPaisa,
		logger:            logger.With(zap.String("bank_code", bankCode)),
		now:               time.Now,
		accounts:          make(map[string]*accountSlot),
		byCust:            make(map[string]map[domain.AccountType]string),
		legs:              make(map[string]*domain.LegResult),
	}
}

// BankCode returns the code of the bank this adapter owns.
func (a *Adapter) BankCode() string { return a.bankCode }

// CreateAccount opens an account. Incomplete KYC opens it KYC_PENDING;
// a repeat open for the same (customer, type) is rejected as duplicate.
func (a *Adapter) CreateAccount(ctx context.Context, req *domain.CreateAccountRequest) (*domain.CreateAccountResponse, error) {
	_, span := tracer.Start(ctx, "Adapter.CreateAccount")
	defer span.End()
	span.SetAttributes(attribute.String("customer.id", req.CustomerID))

	if req.CustomerID == "" {
		return nil, &domain.ErrValidation{Field: "customerId", Message: "required"}
	}
	accountType := req.AccountType
	if accountType == "" {
		accountType = domain.AccountSavings
	}
	if !accountType.Valid() {
		return nil, &domain.ErrValidation{Field: "accountType", Message: fmt.Sprintf("unknown type %q", req.AccountType)}
	}
	if req.InitialDepositPaisa < 0 {
		return nil, &domain.ErrValidation{Field: "initialDepositPaisa", Message: "must not be negative"}
	}

	status := domain.AccountActive
	if !req.KYC.Complete() {
		status = domain.AccountKYCPending
	}

	dailyLimit := req.DailyLimitPaisa
	if dailyLimit <= 0 {
		dailyLimit = a.defaultDailyLimit
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if byType, ok := a.byCust[req.CustomerID]; ok {
		if _, dup := byType[accountType]; dup {
			return nil, &domain.ErrDuplicate{Key: req.CustomerID + "/" + string(accountType)}
		}
	}

	a.seq++
	number := fmt.Sprintf("%s%010d", a.bankCode, a.seq)
	routing := fmt.Sprintf("%s0%06d", a.bankCode, a.seq%1_000_000)

	acct := domain.Account{
		Number:          number,
		BankCode:        a.bankCode,
		RoutingCode:     routing,
		HolderName:      req.KYC.FullName,
		CustomerID:      req.CustomerID,
		Type:            accountType,
		Status:          status,
		BalancePaisa:    req.InitialDepositPaisa,
		DailyLimitPaisa: dailyLimit,
		CreatedAt:       a.now(),
	}
	a.accounts[number] = &accountSlot{acct: acct}
	if a.byCust[req.CustomerID] == nil {
		a.byCust[req.CustomerID] = make(map[domain.AccountType]string)
	}
	a.byCust[req.CustomerID][accountType] = number

	a.logger.Info("account created",
		zap.String("account_number", number),
		zap.String("customer_id", req.CustomerID),
		zap.String("status", string(status)),
	)

	return &domain.CreateAccountResponse{
		AccountNumber: number,
		RoutingCode:   routing,
		Status:        status,
	}, nil
}

// GetAccountBalance returns the current balance and daily headroom.
func (a *Adapter) GetAccountBalance(ctx context.Context, accountNumber string) (*domain.BalanceResponse, error) {
	slot, err := a.slot(accountNumber)
	if err != nil {
		return nil, err
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	return &domain.BalanceResponse{
		AccountNumber:  accountNumber,
		BalancePaisa:   slot.acct.BalancePaisa,
		DailyRemaining: slot.acct.DailyRemainingPaisa(a.today()),
		Currency:       "INR",
	}, nil
}

// GetAccountDetails returns a copy of the account record.
func (a *Adapter) GetAccountDetails(ctx context.Context, accountNumber string) (*domain.Account, error) {
	slot, err := a.slot(accountNumber)
	if err != nil {
		return nil, err
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	acct := slot.acct
	return &acct, nil
}

// SetAccountStatus moves an account to a new lifecycle state
// (freeze, close, KYC approval).
func (a *Adapter) SetAccountStatus(ctx context.Context, accountNumber string, status domain.AccountStatus) error {
	slot, err := a.slot(accountNumber)
	if err != nil {
		return err
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	slot.acct.Status = status
	return nil
}

// ProcessLeg applies one ledger leg. Business declines come back as a
// LegResult with a non-SUCCESS status and a nil error; both outcomes
// are recorded so a repeated call with the same (transactionId, leg)
// replays the original result without touching the balance again.
func (a *Adapter) ProcessLeg(ctx context.Context, req *domain.LegRequest) (*domain.LegResult, error) {
	ctx, span := tracer.Start(ctx, "Adapter.ProcessLeg")
	defer span.End()
	span.SetAttributes(
		attribute.String("transaction.id", req.TransactionID),
		attribute.String("leg", string(req.Leg)),
	)

	start := a.now()
	res, err := a.processLeg(ctx, req)
	a.recordStats(a.now().Sub(start), err != nil || (res != nil && res.Status != domain.StatusSuccess))
	return res, err
}

func (a *Adapter) processLeg(ctx context.Context, req *domain.LegRequest) (*domain.LegResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.TransactionID == "" {
		return nil, &domain.ErrValidation{Field: "transactionId", Message: "required"}
	}
	if req.AmountPaisa <= 0 {
		return nil, &domain.ErrValidation{Field: "amountPaisa", Message: "must be positive"}
	}

	key := legKey(req.TransactionID, req.Leg)

	// Fast replay path.
	a.legMu.Lock()
	if prior, ok := a.legs[key]; ok {
		a.legMu.Unlock()
		return prior, nil
	}
	a.legMu.Unlock()

	slot, err := a.slot(req.AccountNumber)
	if err != nil {
		// Unknown account is a decline, not an infrastructure failure.
		return a.record(key, a.decline(req, domain.StatusInvalidAccount, "INVALID_ACCOUNT", err.Error())), nil
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	// Re-check under the account lock: a concurrent duplicate may have
	// won the race between the fast path and here.
	a.legMu.Lock()
	if prior, ok := a.legs[key]; ok {
		a.legMu.Unlock()
		return prior, nil
	}
	a.legMu.Unlock()

	acct := &slot.acct
	switch acct.Status {
	case domain.AccountActive:
	case domain.AccountFrozen:
		return a.record(key, a.decline(req, domain.StatusAccountFrozen, "ACCOUNT_FROZEN", "account is frozen")), nil
	default:
		return a.record(key, a.decline(req, domain.StatusInvalidAccount, "INVALID_ACCOUNT",
			fmt.Sprintf("account status %s", acct.Status))), nil
	}

	day := a.today()
	switch req.Leg {
	case domain.LegDebit:
		if req.AmountPaisa > acct.BalancePaisa {
			return a.record(key, a.decline(req, domain.StatusInsufficientFunds, "INSUFFICIENT_FUNDS",
				fmt.Sprintf("available=%d required=%d", acct.BalancePaisa, req.AmountPaisa))), nil
		}
		if remaining := acct.DailyRemainingPaisa(day); req.AmountPaisa > remaining {
			return a.record(key, a.decline(req, domain.StatusLimitExceeded, "DAILY_LIMIT_EXCEEDED",
				fmt.Sprintf("remaining=%d required=%d", remaining, req.AmountPaisa))), nil
		}
		if acct.LimitDay != day {
			acct.LimitDay = day
			acct.DailyUsedPaisa = 0
		}
		acct.BalancePaisa -= req.AmountPaisa
		acct.DailyUsedPaisa += req.AmountPaisa

	case domain.LegCredit:
		acct.BalancePaisa += req.AmountPaisa

	case domain.LegReversal:
		// Compensation credit: restores both the balance and the daily
		// headroom consumed by the reversed debit.
		acct.BalancePaisa += req.AmountPaisa
		if acct.LimitDay == day && acct.DailyUsedPaisa >= req.AmountPaisa {
			acct.DailyUsedPaisa -= req.AmountPaisa
		}

	default:
		return nil, &domain.ErrValidation{Field: "leg", Message: fmt.Sprintf("unknown leg %q", req.Leg)}
	}

	res := &domain.LegResult{
		TransactionID: req.TransactionID,
		Leg:           req.Leg,
		Status:        domain.StatusSuccess,
		BankReference: a.bankCode + "-" + uuid.NewString(),
		BalancePaisa:  acct.BalancePaisa,
		ProcessedAt:   a.now(),
	}

	a.logger.Debug("leg applied",
		zap.String("transaction_id", req.TransactionID),
		zap.String("leg", string(req.Leg)),
		zap.String("account_number", req.AccountNumber),
		zap.Int64("amount_paisa", req.AmountPaisa),
		zap.Int64("new_balance_paisa", acct.BalancePaisa),
	)

	return a.record(key, res), nil
}

// LegResult returns the recorded outcome of a leg, if any.
func (a *Adapter) LegResult(ctx context.Context, transactionID string, leg domain.LegType) (*domain.LegResult, bool) {
	a.legMu.Lock()
	defer a.legMu.Unlock()
	res, ok := a.legs[legKey(transactionID, leg)]
	return res, ok
}

// Health reports the adapter's rolling view of itself.
func (a *Adapter) Health(ctx context.Context) (*domain.BankHealth, error) {
	a.mu.RLock()
	total := len(a.accounts)
	active := 0
	for _, slot := range a.accounts {
		// Status is written under the slot lock, not the map lock.
		slot.mu.Lock()
		if slot.acct.Status == domain.AccountActive {
			active++
		}
		slot.mu.Unlock()
	}
	a.mu.RUnlock()

	a.statMu.Lock()
	defer a.statMu.Unlock()

	successRate := float64(100)
	avgLatency := float64(0)
	if a.totalLegs > 0 {
		successRate = float64(a.totalLegs-a.failedLegs) / float64(a.totalLegs) * 100
		avgLatency = float64(a.latencySum.Milliseconds()) / float64(a.totalLegs)
	}

	healthStatus := "HEALTHY"
	if successRate < 90 {
		healthStatus = "DEGRADED"
	}

	return &domain.BankHealth{
		BankCode:           a.bankCode,
		HealthStatus:       healthStatus,
		SuccessRatePercent: successRate,
		AvgResponseTimeMs:  avgLatency,
		ActiveAccounts:     active,
		TotalAccounts:      total,
	}, nil
}

func (a *Adapter) slot(accountNumber string) (*accountSlot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	slot, ok := a.accounts[accountNumber]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "account", ID: accountNumber}
	}
	return slot, nil
}

func (a *Adapter) decline(req *domain.LegRequest, status domain.TransactionStatus, code, msg string) *domain.LegResult {
	return &domain.LegResult{
		TransactionID: req.TransactionID,
		Leg:           req.Leg,
		Status:        status,
		ErrorCode:     code,
		ErrorMessage:  msg,
		ProcessedAt:   a.now(),
	}
}

func (a *Adapter) record(key string, res *domain.LegResult) *domain.LegResult {
	a.legMu.Lock()
	defer a.legMu.Unlock()
	a.legs[key] = res
	return res
}

func (a *Adapter) recordStats(d time.Duration, failed bool) {
	a.statMu.Lock()
	defer a.statMu.Unlock()
	a.totalLegs++
	if failed {
		a.failedLegs++
	}
	a.latencySum += d
}

func (a *Adapter) today() string {
	return a.now().Format("2006-01-02")
}

func legKey(transactionID string, leg domain.LegType) string {
	return transactionID + "|" + string(leg)
}
