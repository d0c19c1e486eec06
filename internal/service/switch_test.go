package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nkhatri/upi-switch/internal/adapter"
	"github.com/nkhatri/upi-switch/internal/directory"
	"github.com/nkhatri/upi-switch/internal/domain"
	"github.com/nkhatri/upi-switch/internal/infra/observability"
	"github.com/nkhatri/upi-switch/internal/infra/store"
	"github.com/nkhatri/upi-switch/internal/port"

	"go.uber.org/zap"
)

// ============================================================
// Test fixture
// ============================================================

type switchFixture struct {
	svc      *SwitchService
	registry *RegistryService
	dir      *directory.Directory
	txns     *store.MemoryTransactionStore
	payerAcct string
	payeeAcct string
}

// newSwitchFixture wires a switch with two hosted banks, one funded
// account each, and both VPAs linked.
func newSwitchFixture(t *testing.T) *switchFixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()

	txns := store.NewMemoryTransactionStore()
	banks := store.NewMemoryBankStore()
	dir := directory.New(store.NewMemoryResolutionCache(time.Minute), metrics, logger)

	registry := NewRegistryService(banks, 80, metrics, logger)
	svc := NewSwitchService(
		txns, dir, registry,
		store.NewMemoryIdempotencyCache(time.Hour),
		store.NewLogEventPublisher(logger),
		metrics, logger,
		SwitchOptions{
			AdapterTimeout:      time.Second,
			CompensationRetries: 2,
			CompensationBackoff: time.Millisecond,
		},
	)

	f := &switchFixture{svc: svc, registry: registry, dir: dir, txns: txns}

	for _, code := range []string{"HDFC", "ICIC"} {
		a := adapter.New(code, 10_000_000, logger)
		svc.RegisterAdapter(a)
		if _, err := registry.Register(ctx, &domain.RegisterBankRequest{BankCode: code, Name: code}); err != nil {
			t.Fatalf("register %s: %v", code, err)
		}
	}

	f.payerAcct = f.openAccount(t, "HDFC", "payer-cust", 100_000)
	f.payeeAcct = f.openAccount(t, "ICIC", "payee-cust", 50_000)
	f.link(t, "asha@hdfc", "HDFC", f.payerAcct)
	f.link(t, "ravi@icic", "ICIC", f.payeeAcct)
	return f
}

func (f *switchFixture) openAccount(t *testing.T, bankCode, customerID string, balance int64) string {
	t.Helper()
	a, _ := f.svc.Adapter(bankCode)
	resp, err := a.CreateAccount(context.Background(), &domain.CreateAccountRequest{
		CustomerID: customerID,
		KYC: domain.KYC{
			FullName:     "Holder " + customerID,
			Document:     "ABCDE1234F",
			MobileNumber: "+919876543210",
		},
		InitialDepositPaisa: balance,
	})
	if err != nil {
		t.Fatalf("CreateAccount(%s): %v", bankCode, err)
	}
	return resp.AccountNumber
}

func (f *switchFixture) link(t *testing.T, vpa, bankCode, accountNumber string) {
	t.Helper()
	err := f.dir.Link(context.Background(), &domain.LinkVPARequest{
		VPA: vpa, BankCode: bankCode, AccountNumber: accountNumber,
	})
	if err != nil {
		t.Fatalf("Link(%s): %v", vpa, err)
	}
}

func (f *switchFixture) balance(t *testing.T, bankCode, accountNumber string) int64 {
	t.Helper()
	a, _ := f.svc.Adapter(bankCode)
	bal, err := a.GetAccountBalance(context.Background(), accountNumber)
	if err != nil {
		t.Fatalf("GetAccountBalance: %v", err)
	}
	return bal.BalancePaisa
}

func paymentRequest(id string, amount int64) *domain.TransactionRequest {
	return &domain.TransactionRequest{
		TransactionID: id,
		PayerVPA:      "asha@hdfc",
		PayeeVPA:      "ravi@icic",
		AmountPaisa:   amount,
		Currency:      "INR",
		Signature:     "test-signature",
	}
}

// ============================================================
// Saga happy path and declines
// ============================================================

func TestProcessTransactionSuccess(t *testing.T) {
	f := newSwitchFixture(t)

	resp, err := f.svc.ProcessTransaction(context.Background(), paymentRequest("txn-ok", 25_000))
	if err != nil {
		t.Fatalf("ProcessTransaction: %v", err)
	}
	if resp.Status != domain.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS (%s)", resp.Status, resp.ErrorMessage)
	}
	if resp.RRN == "" {
		t.Error("expected an RRN")
	}
	if resp.PayerBankRef == "" || resp.PayeeBankRef == "" {
		t.Error("expected bank references from both legs")
	}
	if want := int64(25) + int64(12); resp.TotalFeePaisa != want {
		t.Errorf("total fee = %d, want %d", resp.TotalFeePaisa, want)
	}

	if got := f.balance(t, "HDFC", f.payerAcct); got != 75_000 {
		t.Errorf("payer balance = %d, want 75000", got)
	}
	if got := f.balance(t, "ICIC", f.payeeAcct); got != 75_000 {
		t.Errorf("payee balance = %d, want 75000", got)
	}

	txn, err := f.svc.GetTransactionStatus(context.Background(), "txn-ok", false)
	if err != nil {
		t.Fatalf("GetTransactionStatus: %v", err)
	}
	wantEvents := []string{
		domain.EventDebitInitiated, domain.EventDebitSuccess,
		domain.EventCreditInitiated, domain.EventCreditSuccess,
		domain.EventTransactionSuccess,
	}
	if len(txn.Events) != len(wantEvents) {
		t.Fatalf("got %d events, want %d: %+v", len(txn.Events), len(wantEvents), txn.Events)
	}
	for i, want := range wantEvents {
		if txn.Events[i].Type != want {
			t.Errorf("event[%d] = %s, want %s", i, txn.Events[i].Type, want)
		}
	}
}

func TestProcessTransactionMinimumFee(t *testing.T) {
	f := newSwitchFixture(t)

	resp, err := f.svc.ProcessTransaction(context.Background(), paymentRequest("txn-tiny", 100))
	if err != nil {
		t.Fatalf("ProcessTransaction: %v", err)
	}
	// Both fee components floor at one paisa.
	if resp.TotalFeePaisa != 2 {
		t.Errorf("total fee = %d, want 2", resp.TotalFeePaisa)
	}
}

func TestProcessTransactionInsufficientFunds(t *testing.T) {
	f := newSwitchFixture(t)

	resp, err := f.svc.ProcessTransaction(context.Background(), paymentRequest("txn-broke", 500_000))
	if err != nil {
		t.Fatalf("declines must not be errors: %v", err)
	}
	if resp.Status != domain.StatusInsufficientFunds {
		t.Fatalf("status = %s, want INSUFFICIENT_FUNDS", resp.Status)
	}

	if got := f.balance(t, "HDFC", f.payerAcct); got != 100_000 {
		t.Errorf("payer balance = %d, want unchanged 100000", got)
	}
	if got := f.balance(t, "ICIC", f.payeeAcct); got != 50_000 {
		t.Errorf("payee balance = %d, want unchanged 50000", got)
	}
}

func TestProcessTransactionUnknownPayee(t *testing.T) {
	f := newSwitchFixture(t)

	req := paymentRequest("txn-ghost", 1_000)
	req.PayeeVPA = "ghost@icic"
	resp, err := f.svc.ProcessTransaction(context.Background(), req)
	if err != nil {
		t.Fatalf("ProcessTransaction: %v", err)
	}
	if resp.Status != domain.StatusInvalidAccount {
		t.Fatalf("status = %s, want INVALID_ACCOUNT", resp.Status)
	}
	if got := f.balance(t, "HDFC", f.payerAcct); got != 100_000 {
		t.Errorf("payer balance = %d, money moved for unknown payee", got)
	}
}

func TestProcessTransactionValidation(t *testing.T) {
	f := newSwitchFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*domain.TransactionRequest)
	}{
		{"missing id", func(r *domain.TransactionRequest) { r.TransactionID = "" }},
		{"zero amount", func(r *domain.TransactionRequest) { r.AmountPaisa = 0 }},
		{"negative amount", func(r *domain.TransactionRequest) { r.AmountPaisa = -5 }},
		{"self payment", func(r *domain.TransactionRequest) { r.PayeeVPA = r.PayerVPA }},
		{"bad currency", func(r *domain.TransactionRequest) { r.Currency = "USD" }},
		{"missing signature", func(r *domain.TransactionRequest) { r.Signature = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := paymentRequest("txn-val", 1_000)
			tc.mutate(req)
			if _, err := f.svc.ProcessTransaction(ctx, req); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestRoutingRefusesNonActiveBank(t *testing.T) {
	f := newSwitchFixture(t)
	ctx := context.Background()

	if err := f.registry.UpdateStatus(ctx, "ICIC", domain.BankMaintenance); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	_, err := f.svc.ProcessTransaction(ctx, paymentRequest("txn-maint", 1_000))
	var unavailable *domain.ErrBankUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ErrBankUnavailable, got %v", err)
	}
	if got := f.balance(t, "HDFC", f.payerAcct); got != 100_000 {
		t.Errorf("payer balance = %d, money moved despite routing refusal", got)
	}
}

func TestRoutingRefusesUnhealthyBank(t *testing.T) {
	f := newSwitchFixture(t)
	ctx := context.Background()

	// Repeated bad heartbeats drag the rolling success rate below the
	// 80% threshold.
	for i := 0; i < 10; i++ {
		if err := f.registry.Heartbeat(ctx, "ICIC", &domain.Heartbeat{SuccessRatePercent: 10, AvgResponseTimeMs: 900}); err != nil {
			t.Fatalf("Heartbeat: %v", err)
		}
	}

	_, err := f.svc.ProcessTransaction(ctx, paymentRequest("txn-sick", 1_000))
	var unavailable *domain.ErrBankUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ErrBankUnavailable, got %v", err)
	}
}

// ============================================================
// Idempotency
// ============================================================

func TestProcessTransactionIdempotentReplay(t *testing.T) {
	f := newSwitchFixture(t)
	ctx := context.Background()

	first, err := f.svc.ProcessTransaction(ctx, paymentRequest("txn-idem", 10_000))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := f.svc.ProcessTransaction(ctx, paymentRequest("txn-idem", 10_000))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.RRN != first.RRN {
		t.Error("replay produced a different transaction")
	}
	if got := f.balance(t, "HDFC", f.payerAcct); got != 90_000 {
		t.Errorf("payer balance = %d, debit applied twice", got)
	}
}

func TestProcessTransactionIdempotencyConflict(t *testing.T) {
	f := newSwitchFixture(t)
	ctx := context.Background()

	if _, err := f.svc.ProcessTransaction(ctx, paymentRequest("txn-conflict", 10_000)); err != nil {
		t.Fatalf("first: %v", err)
	}

	// Same id, different amount.
	_, err := f.svc.ProcessTransaction(ctx, paymentRequest("txn-conflict", 99_000))
	var dup *domain.ErrDuplicate
	if !errors.As(err, &dup) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

// ============================================================
// Compensation
// ============================================================

// stubAdapter fakes a bank adapter with per-leg scripted outcomes.
type stubAdapter struct {
	code string

	mu       sync.Mutex
	fail     map[domain.LegType]error
	recorded map[string]*domain.LegResult
	calls    map[domain.LegType]int
}

func newStubAdapter(code string) *stubAdapter {
	return &stubAdapter{
		code:     code,
		fail:     make(map[domain.LegType]error),
		recorded: make(map[string]*domain.LegResult),
		calls:    make(map[domain.LegType]int),
	}
}

func (s *stubAdapter) BankCode() string { return s.code }

func (s *stubAdapter) CreateAccount(ctx context.Context, req *domain.CreateAccountRequest) (*domain.CreateAccountResponse, error) {
	return nil, fmt.Errorf("not supported")
}

func (s *stubAdapter) GetAccountBalance(ctx context.Context, accountNumber string) (*domain.BalanceResponse, error) {
	return nil, &domain.ErrNotFound{Resource: "account", ID: accountNumber}
}

func (s *stubAdapter) GetAccountDetails(ctx context.Context, accountNumber string) (*domain.Account, error) {
	return nil, &domain.ErrNotFound{Resource: "account", ID: accountNumber}
}

func (s *stubAdapter) ProcessLeg(ctx context.Context, req *domain.LegRequest) (*domain.LegResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[req.Leg]++
	if err := s.fail[req.Leg]; err != nil {
		return nil, err
	}
	res := &domain.LegResult{
		TransactionID: req.TransactionID,
		Leg:           req.Leg,
		Status:        domain.StatusSuccess,
		BankReference: s.code + "-stub",
		ProcessedAt:   time.Now(),
	}
	s.recorded[req.TransactionID+"|"+string(req.Leg)] = res
	return res, nil
}

func (s *stubAdapter) LegResult(ctx context.Context, transactionID string, leg domain.LegType) (*domain.LegResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.recorded[transactionID+"|"+string(leg)]
	return res, ok
}

func (s *stubAdapter) Health(ctx context.Context) (*domain.BankHealth, error) {
	return &domain.BankHealth{BankCode: s.code, HealthStatus: "HEALTHY"}, nil
}

var _ port.BankAdapter = (*stubAdapter)(nil)

func TestCompensationReversesDebitOnCreditFailure(t *testing.T) {
	f := newSwitchFixture(t)
	ctx := context.Background()

	// Replace the payee bank with one whose credit leg is down.
	broken := newStubAdapter("ICIC")
	broken.fail[domain.LegCredit] = fmt.Errorf("core banking down")
	f.svc.RegisterAdapter(broken)

	resp, err := f.svc.ProcessTransaction(ctx, paymentRequest("txn-comp", 20_000))
	if err != nil {
		t.Fatalf("ProcessTransaction: %v", err)
	}
	if resp.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want FAILED", resp.Status)
	}

	// The debit was rolled back.
	if got := f.balance(t, "HDFC", f.payerAcct); got != 100_000 {
		t.Errorf("payer balance = %d, want restored 100000", got)
	}

	txn, _ := f.svc.GetTransactionStatus(ctx, "txn-comp", false)
	var sawReversal bool
	for _, ev := range txn.Events {
		if ev.Type == domain.EventReversalSuccess {
			sawReversal = true
		}
		if ev.Type == domain.EventReconciliationRequired {
			t.Error("reconciliation flagged although reversal succeeded")
		}
	}
	if !sawReversal {
		t.Errorf("no REVERSAL_SUCCESS event: %+v", txn.Events)
	}
}

func TestCompensationExhaustionFlagsReconciliation(t *testing.T) {
	f := newSwitchFixture(t)
	ctx := context.Background()

	payer := newStubAdapter("HDFC")
	payer.fail[domain.LegReversal] = fmt.Errorf("reversal endpoint down")
	f.svc.RegisterAdapter(payer)

	payee := newStubAdapter("ICIC")
	payee.fail[domain.LegCredit] = fmt.Errorf("core banking down")
	f.svc.RegisterAdapter(payee)

	resp, err := f.svc.ProcessTransaction(ctx, paymentRequest("txn-recon", 20_000))
	if err != nil {
		t.Fatalf("ProcessTransaction: %v", err)
	}
	if resp.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want FAILED", resp.Status)
	}
	if resp.ErrorCode != "RECONCILIATION_REQUIRED" {
		t.Errorf("error code = %s, want RECONCILIATION_REQUIRED", resp.ErrorCode)
	}

	// Budget: initial attempt plus two retries.
	if got := payer.calls[domain.LegReversal]; got != 3 {
		t.Errorf("reversal attempts = %d, want 3", got)
	}

	txn, _ := f.svc.GetTransactionStatus(ctx, "txn-recon", false)
	var flagged bool
	for _, ev := range txn.Events {
		if ev.Type == domain.EventReconciliationRequired {
			flagged = true
		}
	}
	if !flagged {
		t.Errorf("no RECONCILIATION_REQUIRED event: %+v", txn.Events)
	}
}

// ============================================================
// Status, cancel, reverse
// ============================================================

func TestGetTransactionStatusByRRN(t *testing.T) {
	f := newSwitchFixture(t)
	ctx := context.Background()

	resp, err := f.svc.ProcessTransaction(ctx, paymentRequest("txn-rrn", 5_000))
	if err != nil {
		t.Fatalf("ProcessTransaction: %v", err)
	}

	txn, err := f.svc.GetTransactionStatus(ctx, resp.RRN, true)
	if err != nil {
		t.Fatalf("GetTransactionStatus by rrn: %v", err)
	}
	if txn.TransactionID != "txn-rrn" {
		t.Errorf("rrn lookup returned %s", txn.TransactionID)
	}
}

func TestExpiredPendingReadsAsTimeout(t *testing.T) {
	f := newSwitchFixture(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	stale := &domain.Transaction{
		TransactionID: "txn-stale",
		Status:        domain.StatusPending,
		PayerVPA:      "asha@hdfc",
		PayeeVPA:      "ravi@icic",
		AmountPaisa:   1_000,
		InitiatedAt:   past.Add(-5 * time.Minute),
		ExpiresAt:     &past,
	}
	if err := f.txns.Create(ctx, stale); err != nil {
		t.Fatalf("Create: %v", err)
	}

	txn, err := f.svc.GetTransactionStatus(ctx, "txn-stale", false)
	if err != nil {
		t.Fatalf("GetTransactionStatus: %v", err)
	}
	if txn.Status != domain.StatusTimeout {
		t.Errorf("status = %s, want TIMEOUT projection", txn.Status)
	}

	// The stored record is untouched.
	stored, _ := f.txns.Get(ctx, "txn-stale")
	if stored.Status != domain.StatusPending {
		t.Errorf("stored status = %s, read path mutated state", stored.Status)
	}
}

func TestCancelTransaction(t *testing.T) {
	f := newSwitchFixture(t)
	ctx := context.Background()

	future := time.Now().Add(5 * time.Minute)
	pending := &domain.Transaction{
		TransactionID: "txn-cancel",
		Status:        domain.StatusPending,
		PayerVPA:      "asha@hdfc",
		PayeeVPA:      "ravi@icic",
		AmountPaisa:   1_000,
		InitiatedAt:   time.Now(),
		ExpiresAt:     &future,
	}
	if err := f.txns.Create(ctx, pending); err != nil {
		t.Fatalf("Create: %v", err)
	}

	txn, err := f.svc.CancelTransaction(ctx, "txn-cancel")
	if err != nil {
		t.Fatalf("CancelTransaction: %v", err)
	}
	if txn.Status != domain.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", txn.Status)
	}

	// A settled transaction cannot be cancelled.
	if _, err := f.svc.ProcessTransaction(ctx, paymentRequest("txn-done", 1_000)); err != nil {
		t.Fatalf("ProcessTransaction: %v", err)
	}
	_, err = f.svc.CancelTransaction(ctx, "txn-done")
	var invalid *domain.ErrInvalidState
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestReverseTransaction(t *testing.T) {
	f := newSwitchFixture(t)
	ctx := context.Background()

	if _, err := f.svc.ProcessTransaction(ctx, paymentRequest("txn-rev", 30_000)); err != nil {
		t.Fatalf("ProcessTransaction: %v", err)
	}

	resp, err := f.svc.ReverseTransaction(ctx, "txn-rev", "customer dispute")
	if err != nil {
		t.Fatalf("ReverseTransaction: %v", err)
	}
	if resp.Status != domain.StatusSuccess {
		t.Fatalf("reversal status = %s (%s)", resp.Status, resp.ErrorMessage)
	}

	// Money is back where it started.
	if got := f.balance(t, "HDFC", f.payerAcct); got != 100_000 {
		t.Errorf("payer balance = %d, want 100000", got)
	}
	if got := f.balance(t, "ICIC", f.payeeAcct); got != 50_000 {
		t.Errorf("payee balance = %d, want 50000", got)
	}

	orig, _ := f.svc.GetTransactionStatus(ctx, "txn-rev", false)
	if orig.Status != domain.StatusReversed {
		t.Errorf("original status = %s, want REVERSED", orig.Status)
	}
	if orig.ReversedBy != resp.TransactionID {
		t.Errorf("original.ReversedBy = %s, want %s", orig.ReversedBy, resp.TransactionID)
	}

	// Reversing again replays the recorded reversal.
	again, err := f.svc.ReverseTransaction(ctx, "txn-rev", "")
	if err != nil {
		t.Fatalf("repeat reversal: %v", err)
	}
	if again.TransactionID != resp.TransactionID {
		t.Error("repeat reversal created a second transaction")
	}
	if got := f.balance(t, "HDFC", f.payerAcct); got != 100_000 {
		t.Errorf("payer balance = %d after repeat reversal", got)
	}
}

func TestReverseRequiresSuccess(t *testing.T) {
	f := newSwitchFixture(t)
	ctx := context.Background()

	resp, err := f.svc.ProcessTransaction(ctx, paymentRequest("txn-declined", 500_000))
	if err != nil {
		t.Fatalf("ProcessTransaction: %v", err)
	}
	if resp.Status != domain.StatusInsufficientFunds {
		t.Fatalf("setup: status = %s", resp.Status)
	}

	_, err = f.svc.ReverseTransaction(ctx, "txn-declined", "")
	var invalid *domain.ErrInvalidState
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestReverseRetriesAfterTransientFailure(t *testing.T) {
	f := newSwitchFixture(t)
	ctx := context.Background()

	if _, err := f.svc.ProcessTransaction(ctx, paymentRequest("txn-retry", 30_000)); err != nil {
		t.Fatalf("ProcessTransaction: %v", err)
	}

	// Take the payee's bank down so the reversal's debit leg fails.
	real, _ := f.svc.Adapter("ICIC")
	broken := newStubAdapter("ICIC")
	broken.fail[domain.LegDebit] = fmt.Errorf("core banking down")
	f.svc.RegisterAdapter(broken)

	resp, err := f.svc.ReverseTransaction(ctx, "txn-retry", "customer dispute")
	if err != nil {
		t.Fatalf("ReverseTransaction: %v", err)
	}
	if resp.Status != domain.StatusFailed {
		t.Fatalf("reversal status = %s, want FAILED", resp.Status)
	}
	orig, _ := f.svc.GetTransactionStatus(ctx, "txn-retry", false)
	if orig.Status != domain.StatusSuccess {
		t.Fatalf("original status = %s, want SUCCESS after failed reversal", orig.Status)
	}

	// Bank comes back; the same call now runs the reversal again
	// instead of replaying the failure.
	f.svc.RegisterAdapter(real)

	resp, err = f.svc.ReverseTransaction(ctx, "txn-retry", "customer dispute")
	if err != nil {
		t.Fatalf("retry ReverseTransaction: %v", err)
	}
	if resp.Status != domain.StatusSuccess {
		t.Fatalf("retried reversal status = %s (%s)", resp.Status, resp.ErrorMessage)
	}
	if resp.TransactionID != "REV-txn-retry" {
		t.Errorf("retry created a second reversal: %s", resp.TransactionID)
	}

	if got := f.balance(t, "HDFC", f.payerAcct); got != 100_000 {
		t.Errorf("payer balance = %d, want restored 100000", got)
	}
	if got := f.balance(t, "ICIC", f.payeeAcct); got != 50_000 {
		t.Errorf("payee balance = %d, want restored 50000", got)
	}
	orig, _ = f.svc.GetTransactionStatus(ctx, "txn-retry", false)
	if orig.Status != domain.StatusReversed {
		t.Errorf("original status = %s, want REVERSED", orig.Status)
	}
}

func TestReverseDoesNotRetryReconciliation(t *testing.T) {
	f := newSwitchFixture(t)
	ctx := context.Background()

	if _, err := f.svc.ProcessTransaction(ctx, paymentRequest("txn-stuck", 30_000)); err != nil {
		t.Fatalf("ProcessTransaction: %v", err)
	}

	// The reversal debits ICIC and credits HDFC. Let the debit commit,
	// then fail both the credit and its compensating reversal so the
	// saga exhausts into reconciliation.
	icic := newStubAdapter("ICIC")
	icic.fail[domain.LegReversal] = fmt.Errorf("reversal endpoint down")
	f.svc.RegisterAdapter(icic)
	hdfc := newStubAdapter("HDFC")
	hdfc.fail[domain.LegCredit] = fmt.Errorf("core banking down")
	f.svc.RegisterAdapter(hdfc)

	resp, err := f.svc.ReverseTransaction(ctx, "txn-stuck", "")
	if err != nil {
		t.Fatalf("ReverseTransaction: %v", err)
	}
	if resp.ErrorCode != "RECONCILIATION_REQUIRED" {
		t.Fatalf("error code = %s, want RECONCILIATION_REQUIRED", resp.ErrorCode)
	}
	debitsBefore := icic.calls[domain.LegDebit]

	// A repeat call replays the flagged outcome without moving money.
	again, err := f.svc.ReverseTransaction(ctx, "txn-stuck", "")
	if err != nil {
		t.Fatalf("repeat ReverseTransaction: %v", err)
	}
	if again.ErrorCode != "RECONCILIATION_REQUIRED" {
		t.Errorf("replayed error code = %s", again.ErrorCode)
	}
	if got := icic.calls[domain.LegDebit]; got != debitsBefore {
		t.Errorf("debit attempts went %d -> %d, want no new attempts", debitsBefore, got)
	}
}

func TestListTransactionsByVPA(t *testing.T) {
	f := newSwitchFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("txn-list-%d", i)
		if _, err := f.svc.ProcessTransaction(ctx, paymentRequest(id, 1_000)); err != nil {
			t.Fatalf("ProcessTransaction(%s): %v", id, err)
		}
	}

	txns, err := f.svc.ListTransactionsByVPA(ctx, "ASHA@HDFC", 10)
	if err != nil {
		t.Fatalf("ListTransactionsByVPA: %v", err)
	}
	if len(txns) != 3 {
		t.Fatalf("got %d transactions, want 3", len(txns))
	}
	// Newest first.
	if txns[0].TransactionID != "txn-list-2" {
		t.Errorf("first = %s, want txn-list-2", txns[0].TransactionID)
	}
}
