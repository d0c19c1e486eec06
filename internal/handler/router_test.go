package handler

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
	"github.com/nkhatri/upi-switch/internal/infra/observability"
	"github.com/nkhatri/upi-switch/internal/infra/store"
	"github.com/nkhatri/upi-switch/internal/service"

	"go.uber.org/zap"
)

const testSigningSecret = "test-secret"

// newTestRouter wires a full memory-backed stack with two hosted banks.
func newTestRouter(t *testing.T) http.Handler {
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
		service.SwitchOptions{AdapterTimeout: time.Second, CompensationRetries: 1, CompensationBackoff: time.Millisecond},
	)
	settlementSvc := service.NewSettlementService(txns, store.NewMemorySettlementStore(), metrics, logger)

	for _, code := range []string{"HDFC", "ICIC"} {
		switchSvc.RegisterAdapter(adapter.New(code, 10_000_000, logger))
		if _, err := registrySvc.Register(context.Background(), &domain.RegisterBankRequest{BankCode: code, Name: code}); err != nil {
			t.Fatalf("register %s: %v", code, err)
		}
	}

	return NewRouter(switchSvc, settlementSvc, registrySvc, dir, metrics, testSigningSecret, logger)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
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
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

// openAccountAndLink provisions an account over the API and links vpa to it.
func openAccountAndLink(t *testing.T, h http.Handler, bankCode, customerID, vpa string, balance int64) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/v1/accounts", domain.CreateAccountRequest{
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
	created := decodeBody[domain.CreateAccountResponse](t, rec)

	rec = doJSON(t, h, http.MethodPost, "/v1/vpa/link", domain.LinkVPARequest{
		VPA: vpa, BankCode: bankCode, AccountNumber: created.AccountNumber,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("link vpa: %d %s", rec.Code, rec.Body.String())
	}
	return created.AccountNumber
}

func signedPayment(t *testing.T, id, payer, payee string, amount int64) domain.TransactionRequest {
	t.Helper()
	req := domain.TransactionRequest{
		TransactionID: id,
		PayerVPA:      payer,
		PayeeVPA:      payee,
		AmountPaisa:   amount,
		Currency:      "INR",
	}
	sig, err := SignTransactionRequest(testSigningSecret, &req)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req.Signature = sig
	return req
}

func TestOperationalEndpoints(t *testing.T) {
	h := newTestRouter(t)

	for _, path := range []string{"/healthz", "/readyz", "/ping", "/metrics", "/v1/metrics/switch"} {
		rec := doJSON(t, h, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d", path, rec.Code)
		}
	}
}

func TestAccountAndVPAEndpoints(t *testing.T) {
	h := newTestRouter(t)
	num := openAccountAndLink(t, h, "HDFC", "cust-api", "asha@hdfc", 75_000)

	rec := doJSON(t, h, http.MethodGet, "/v1/accounts/"+num+"/balance", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance: %d %s", rec.Code, rec.Body.String())
	}
	bal := decodeBody[domain.BalanceResponse](t, rec)
	if bal.BalancePaisa != 75_000 {
		t.Errorf("balance = %d, want 75000", bal.BalancePaisa)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/vpa/resolve?vpa=asha@hdfc", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: %d %s", rec.Code, rec.Body.String())
	}
	res := decodeBody[domain.Resolution](t, rec)
	if !res.Exists || res.BankCode != "HDFC" {
		t.Errorf("resolution = %+v", res)
	}

	// Resolve needs the query parameter.
	if rec := doJSON(t, h, http.MethodGet, "/v1/vpa/resolve", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("resolve without vpa = %d, want 400", rec.Code)
	}

	// Linking to a nonexistent account is refused.
	rec = doJSON(t, h, http.MethodPost, "/v1/vpa/link", domain.LinkVPARequest{
		VPA: "ghost@hdfc", BankCode: "HDFC", AccountNumber: "HDFC9999999999",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("link to unknown account = %d, want 404", rec.Code)
	}

	if rec := doJSON(t, h, http.MethodGet, "/v1/accounts/NOPE0000000001", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown account = %d, want 404", rec.Code)
	}
}

func TestTransactionEndToEnd(t *testing.T) {
	h := newTestRouter(t)
	openAccountAndLink(t, h, "HDFC", "payer-api", "asha@hdfc", 100_000)
	openAccountAndLink(t, h, "ICIC", "payee-api", "ravi@icic", 0)

	rec := doJSON(t, h, http.MethodPost, "/v1/transactions", signedPayment(t, "api-txn-1", "asha@hdfc", "ravi@icic", 40_000))
	if rec.Code != http.StatusOK {
		t.Fatalf("process: %d %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[domain.TransactionResponse](t, rec)
	if resp.Status != domain.StatusSuccess {
		t.Fatalf("status = %s (%s)", resp.Status, resp.ErrorMessage)
	}

	// Lookup by id and by RRN.
	rec = doJSON(t, h, http.MethodGet, "/v1/transactions/api-txn-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get by id: %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, fmt.Sprintf("/v1/transactions/%s?by=rrn", resp.RRN), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get by rrn: %d %s", rec.Code, rec.Body.String())
	}
	byRRN := decodeBody[domain.Transaction](t, rec)
	if byRRN.TransactionID != "api-txn-1" {
		t.Errorf("rrn lookup returned %s", byRRN.TransactionID)
	}

	// History for the payer.
	rec = doJSON(t, h, http.MethodGet, "/v1/transactions?vpa=asha@hdfc", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}

	// A business decline still comes back 200 with a terminal status.
	rec = doJSON(t, h, http.MethodPost, "/v1/transactions", signedPayment(t, "api-txn-2", "asha@hdfc", "ravi@icic", 900_000))
	if rec.Code != http.StatusOK {
		t.Fatalf("decline: %d %s", rec.Code, rec.Body.String())
	}
	decline := decodeBody[domain.TransactionResponse](t, rec)
	if decline.Status != domain.StatusInsufficientFunds {
		t.Errorf("decline status = %s, want INSUFFICIENT_FUNDS", decline.Status)
	}

	// Reverse the settled transaction.
	rec = doJSON(t, h, http.MethodPost, "/v1/transactions/api-txn-1/reverse", map[string]string{"reason": "dispute"})
	if rec.Code != http.StatusOK {
		t.Fatalf("reverse: %d %s", rec.Code, rec.Body.String())
	}
	rev := decodeBody[domain.TransactionResponse](t, rec)
	if rev.Status != domain.StatusSuccess {
		t.Errorf("reversal status = %s", rev.Status)
	}
}

func TestTransactionSignatureRejections(t *testing.T) {
	h := newTestRouter(t)
	openAccountAndLink(t, h, "HDFC", "payer-sig", "asha@hdfc", 100_000)
	openAccountAndLink(t, h, "ICIC", "payee-sig", "ravi@icic", 0)

	// Signed with the wrong secret.
	req := domain.TransactionRequest{
		TransactionID: "sig-txn-1",
		PayerVPA:      "asha@hdfc",
		PayeeVPA:      "ravi@icic",
		AmountPaisa:   1_000,
		Currency:      "INR",
	}
	sig, err := SignTransactionRequest("wrong-secret", &req)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req.Signature = sig
	if rec := doJSON(t, h, http.MethodPost, "/v1/transactions", req); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret = %d, want 401", rec.Code)
	}

	// Valid token, tampered amount.
	tampered := signedPayment(t, "sig-txn-2", "asha@hdfc", "ravi@icic", 1_000)
	tampered.AmountPaisa = 99_000
	if rec := doJSON(t, h, http.MethodPost, "/v1/transactions", tampered); rec.Code != http.StatusUnauthorized {
		t.Errorf("tampered amount = %d, want 401", rec.Code)
	}

	// No signature at all.
	unsigned := domain.TransactionRequest{
		TransactionID: "sig-txn-3",
		PayerVPA:      "asha@hdfc",
		PayeeVPA:      "ravi@icic",
		AmountPaisa:   1_000,
	}
	if rec := doJSON(t, h, http.MethodPost, "/v1/transactions", unsigned); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing signature = %d, want 401", rec.Code)
	}
}

func TestTransactionNotFound(t *testing.T) {
	h := newTestRouter(t)
	if rec := doJSON(t, h, http.MethodGet, "/v1/transactions/no-such-txn", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestBankEndpoints(t *testing.T) {
	h := newTestRouter(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/banks", domain.RegisterBankRequest{
		BankCode: "SBIN", Name: "State Bank", Features: []string{"UPI"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/banks/SBIN", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get bank: %d", rec.Code)
	}
	bank := decodeBody[domain.Bank](t, rec)
	if bank.Status != domain.BankActive {
		t.Errorf("status = %s, want ACTIVE", bank.Status)
	}

	if rec := doJSON(t, h, http.MethodPost, "/v1/banks/SBIN/heartbeat", domain.Heartbeat{SuccessRatePercent: 97, AvgResponseTimeMs: 30}); rec.Code != http.StatusNoContent {
		t.Errorf("heartbeat = %d, want 204", rec.Code)
	}

	if rec := doJSON(t, h, http.MethodPut, "/v1/banks/SBIN/status", map[string]string{"status": "MAINTENANCE"}); rec.Code != http.StatusOK {
		t.Errorf("update status = %d, want 200", rec.Code)
	}

	if rec := doJSON(t, h, http.MethodGet, "/v1/banks/GHOST", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown bank = %d, want 404", rec.Code)
	}
}

func TestSettlementEndpoints(t *testing.T) {
	h := newTestRouter(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/settlements", domain.InitiateSettlementRequest{
		BatchID: "API-BATCH", BankCodes: []string{"HDFC", "ICIC"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("initiate: %d %s", rec.Code, rec.Body.String())
	}

	if rec := doJSON(t, h, http.MethodGet, "/v1/settlements/API-BATCH", nil); rec.Code != http.StatusOK {
		t.Errorf("get batch = %d", rec.Code)
	}

	// Report requires a bank code.
	if rec := doJSON(t, h, http.MethodGet, "/v1/settlements/report", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("report without bankCode = %d, want 400", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/v1/settlements/report?bankCode=HDFC", nil); rec.Code != http.StatusOK {
		t.Errorf("report = %d, want 200", rec.Code)
	}

	// Re-running a completed batch conflicts.
	rec = doJSON(t, h, http.MethodPost, "/v1/settlements", domain.InitiateSettlementRequest{
		BatchID: "API-BATCH", BankCodes: []string{"HDFC", "ICIC"},
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("rerun = %d, want 409", rec.Code)
	}
}
