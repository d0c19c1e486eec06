package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nkhatri/upi-switch/internal/adapter"
	"github.com/nkhatri/upi-switch/internal/directory"
	"github.com/nkhatri/upi-switch/internal/domain"
	"github.com/nkhatri/upi-switch/internal/handler"
	"github.com/nkhatri/upi-switch/internal/infra/observability"
	"github.com/nkhatri/upi-switch/internal/infra/store"
	"github.com/nkhatri/upi-switch/internal/port"
	"github.com/nkhatri/upi-switch/internal/service"

	"go.uber.org/zap"
)

const signingSecret = "integration-secret"

// stack is a fully wired switch over in-memory backends.
type stack struct {
	router      http.Handler
	switchSvc   *service.SwitchService
	registrySvc *service.RegistryService
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()

	txns := store.NewMemoryTransactionStore()
	dir := directory.New(store.NewMemoryResolutionCache(time.Minute), metrics, logger)
	registrySvc := service.NewRegistryService(store.NewMemoryBankStore(), 80, metrics, logger)
	switchSvc := service.NewSwitchService(
		txns, dir, registrySvc,
		store.NewMemoryIdempotencyCache(time.Hour),
		store.NewLogEventPublisher(logger),
		metrics, logger,
		service.SwitchOptions{AdapterTimeout: time.Second, CompensationRetries: 2, CompensationBackoff: time.Millisecond},
	)
	settlementSvc := service.NewSettlementService(txns, store.NewMemorySettlementStore(), metrics, logger)

	for _, code := range []string{"HDFC", "ICIC"} {
		switchSvc.RegisterAdapter(adapter.New(code, 10_000_000, logger))
		if _, err := registrySvc.Register(context.Background(), &domain.RegisterBankRequest{BankCode: code, Name: code}); err != nil {
			t.Fatalf("register %s: %v", code, err)
		}
	}

	return &stack{
		router:      handler.NewRouter(switchSvc, settlementSvc, registrySvc, dir, metrics, signingSecret, logger),
		switchSvc:   switchSvc,
		registrySvc: registrySvc,
	}
}

func (s *stack) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *stack) createAccount(t *testing.T, bankCode, customerID string, balance int64) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/accounts", domain.CreateAccountRequest{
		BankCode:   bankCode,
		CustomerID: customerID,
		KYC: domain.KYC{
			FullName:     "Holder " + customerID,
			Document:     "ABCDE1234F",
			MobileNumber: "+919876543210",
		},
		InitialDepositPaisa: balance,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create account: %d %s", rec.Code, rec.Body.String())
	}
	var resp domain.CreateAccountResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.AccountNumber
}

func (s *stack) linkVPA(t *testing.T, vpa, bankCode, accountNumber string, relink bool) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, "/v1/vpa/link", domain.LinkVPARequest{
		VPA: vpa, BankCode: bankCode, AccountNumber: accountNumber, Relink: relink,
	})
}

func (s *stack) balance(t *testing.T, accountNumber string) int64 {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/v1/accounts/"+accountNumber+"/balance", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance: %d %s", rec.Code, rec.Body.String())
	}
	var resp domain.BalanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.BalancePaisa
}

func (s *stack) pay(t *testing.T, id, payer, payee string, amount int64) (*httptest.ResponseRecorder, *domain.TransactionResponse) {
	t.Helper()
	req := domain.TransactionRequest{
		TransactionID: id,
		PayerVPA:      payer,
		PayeeVPA:      payee,
		AmountPaisa:   amount,
		Currency:      "INR",
	}
	sig, err := handler.SignTransactionRequest(signingSecret, &req)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req.Signature = sig

	rec := s.do(t, http.MethodPost, "/v1/transactions", req)
	if rec.Code != http.StatusOK {
		return rec, nil
	}
	var resp domain.TransactionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec, &resp
}

// TestIntegration_DebitFlow covers account creation and a successful debit.
func TestIntegration_DebitFlow(t *testing.T) {
	s := newStack(t)

	payerAcct := s.createAccount(t, "HDFC", "cust-debit", 100_000)
	payeeAcct := s.createAccount(t, "ICIC", "cust-sink", 0)
	s.linkVPA(t, "payer@hdfc", "HDFC", payerAcct, false)
	s.linkVPA(t, "sink@icic", "ICIC", payeeAcct, false)

	_, resp := s.pay(t, "int-debit-1", "payer@hdfc", "sink@icic", 50_000)
	if resp == nil || resp.Status != domain.StatusSuccess {
		t.Fatalf("transfer failed: %+v", resp)
	}
	if got := s.balance(t, payerAcct); got != 50_000 {
		t.Errorf("payer balance = %d, want 50000", got)
	}
}

// TestIntegration_InsufficientFunds covers a declined over-balance debit.
func TestIntegration_InsufficientFunds(t *testing.T) {
	s := newStack(t)

	payerAcct := s.createAccount(t, "HDFC", "cust-broke", 100_000)
	payeeAcct := s.createAccount(t, "ICIC", "cust-sink", 0)
	s.linkVPA(t, "broke@hdfc", "HDFC", payerAcct, false)
	s.linkVPA(t, "sink@icic", "ICIC", payeeAcct, false)

	rec, resp := s.pay(t, "int-nsf-1", "broke@hdfc", "sink@icic", 150_000)
	if rec.Code != http.StatusOK {
		t.Fatalf("decline must be 200, got %d %s", rec.Code, rec.Body.String())
	}
	if resp.Status != domain.StatusInsufficientFunds {
		t.Fatalf("status = %s, want INSUFFICIENT_FUNDS", resp.Status)
	}
	if got := s.balance(t, payerAcct); got != 100_000 {
		t.Errorf("balance = %d, want unchanged 100000", got)
	}
}

// TestIntegration_RelinkVPA covers rebinding a handle to a new account.
func TestIntegration_RelinkVPA(t *testing.T) {
	s := newStack(t)

	acctX := s.createAccount(t, "HDFC", "cust-x", 0)
	acctY := s.createAccount(t, "HDFC", "cust-y", 0)

	if rec := s.linkVPA(t, "a@hdfc", "HDFC", acctX, false); rec.Code != http.StatusCreated {
		t.Fatalf("first link: %d %s", rec.Code, rec.Body.String())
	}
	// A second link without the relink flag conflicts.
	if rec := s.linkVPA(t, "a@hdfc", "HDFC", acctY, false); rec.Code != http.StatusConflict {
		t.Fatalf("conflicting link = %d, want 409", rec.Code)
	}
	// An explicit relink rebinds.
	if rec := s.linkVPA(t, "a@hdfc", "HDFC", acctY, true); rec.Code != http.StatusCreated {
		t.Fatalf("relink: %d %s", rec.Code, rec.Body.String())
	}

	rec := s.do(t, http.MethodGet, "/v1/vpa/resolve?vpa=a@hdfc", nil)
	var res domain.Resolution
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.AccountNumber != acctY {
		t.Errorf("resolved to %s, want %s", res.AccountNumber, acctY)
	}
}

// TestIntegration_P2PAndSettlement covers a cross-bank transfer and the
// settlement batch it feeds.
func TestIntegration_P2PAndSettlement(t *testing.T) {
	s := newStack(t)

	payerAcct := s.createAccount(t, "HDFC", "cust-p2p-payer", 100_000)
	payeeAcct := s.createAccount(t, "ICIC", "cust-p2p-payee", 100_000)
	s.linkVPA(t, "payer@hdfc", "HDFC", payerAcct, false)
	s.linkVPA(t, "payee@icic", "ICIC", payeeAcct, false)

	_, resp := s.pay(t, "int-p2p-1", "payer@hdfc", "payee@icic", 50_000)
	if resp == nil || resp.Status != domain.StatusSuccess {
		t.Fatalf("transfer failed: %+v", resp)
	}
	if got := s.balance(t, payerAcct); got != 50_000 {
		t.Errorf("payer balance = %d, want 50000", got)
	}
	if got := s.balance(t, payeeAcct); got != 150_000 {
		t.Errorf("payee balance = %d, want 150000", got)
	}

	rec := s.do(t, http.MethodPost, "/v1/settlements", domain.InitiateSettlementRequest{
		BatchID: "INT-BATCH", BankCodes: []string{"HDFC", "ICIC"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("settlement: %d %s", rec.Code, rec.Body.String())
	}
	var batch domain.Settlement
	if err := json.Unmarshal(rec.Body.Bytes(), &batch); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(batch.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(batch.Entries))
	}
	if batch.Entries[0].NetPaisa != 50_000 {
		t.Errorf("net = %d, want 50000", batch.Entries[0].NetPaisa)
	}
}

// creditlessAdapter declines nothing but fails every credit leg, to force
// the compensation path.
type creditlessAdapter struct {
	port.BankAdapter
}

func (a *creditlessAdapter) ProcessLeg(ctx context.Context, req *domain.LegRequest) (*domain.LegResult, error) {
	if req.Leg == domain.LegCredit {
		return nil, fmt.Errorf("credit endpoint unavailable")
	}
	return a.BankAdapter.ProcessLeg(ctx, req)
}

// TestIntegration_Compensation covers debit rollback when the credit leg
// cannot be completed.
func TestIntegration_Compensation(t *testing.T) {
	s := newStack(t)

	payerAcct := s.createAccount(t, "HDFC", "cust-comp-payer", 100_000)
	payeeAcct := s.createAccount(t, "ICIC", "cust-comp-payee", 0)
	s.linkVPA(t, "payer@hdfc", "HDFC", payerAcct, false)
	s.linkVPA(t, "payee@icic", "ICIC", payeeAcct, false)

	// Break the payee bank's credit leg.
	payeeBank, _ := s.switchSvc.Adapter("ICIC")
	s.switchSvc.RegisterAdapter(&creditlessAdapter{BankAdapter: payeeBank})

	_, resp := s.pay(t, "int-comp-1", "payer@hdfc", "payee@icic", 40_000)
	if resp == nil {
		t.Fatal("expected a response")
	}
	if resp.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want FAILED", resp.Status)
	}
	if got := s.balance(t, payerAcct); got != 100_000 {
		t.Errorf("payer balance = %d, compensation did not restore it", got)
	}
}

// TestIntegration_Reversal covers reversing a settled transaction.
func TestIntegration_Reversal(t *testing.T) {
	s := newStack(t)

	payerAcct := s.createAccount(t, "HDFC", "cust-rev-payer", 100_000)
	payeeAcct := s.createAccount(t, "ICIC", "cust-rev-payee", 100_000)
	s.linkVPA(t, "payer@hdfc", "HDFC", payerAcct, false)
	s.linkVPA(t, "payee@icic", "ICIC", payeeAcct, false)

	_, resp := s.pay(t, "int-rev-1", "payer@hdfc", "payee@icic", 25_000)
	if resp == nil || resp.Status != domain.StatusSuccess {
		t.Fatalf("transfer failed: %+v", resp)
	}

	rec := s.do(t, http.MethodPost, "/v1/transactions/int-rev-1/reverse", map[string]string{"reason": "dispute"})
	if rec.Code != http.StatusOK {
		t.Fatalf("reverse: %d %s", rec.Code, rec.Body.String())
	}
	var rev domain.TransactionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &rev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rev.Status != domain.StatusSuccess {
		t.Fatalf("reversal status = %s", rev.Status)
	}

	// Original is REVERSED only because the reversal itself succeeded.
	rec = s.do(t, http.MethodGet, "/v1/transactions/int-rev-1", nil)
	var orig domain.Transaction
	if err := json.Unmarshal(rec.Body.Bytes(), &orig); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if orig.Status != domain.StatusReversed {
		t.Errorf("original status = %s, want REVERSED", orig.Status)
	}

	// Balances are back to their pre-transaction values.
	if got := s.balance(t, payerAcct); got != 100_000 {
		t.Errorf("payer balance = %d, want 100000", got)
	}
	if got := s.balance(t, payeeAcct); got != 100_000 {
		t.Errorf("payee balance = %d, want 100000", got)
	}
}
