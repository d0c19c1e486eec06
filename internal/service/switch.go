package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nkhatri/upi-switch/internal/domain"
	"github.com/nkhatri/upi-switch/internal/infra/observability"
	"github.com/nkhatri/upi-switch/internal/infra/resilience"
	"github.com/nkhatri/upi-switch/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var switchTracer = otel.Tracer("switch")

// transactionExpiry bounds how long a transaction may sit PENDING
// before status reads project it as TIMEOUT.
const transactionExpiry = 5 * time.Minute

// errCodeReconciliationRequired marks a transaction whose ledger
// effects need manual repair. It is never retried automatically.
const errCodeReconciliationRequired = "RECONCILIATION_REQUIRED"

// SwitchOptions carries the router's tunables.
type SwitchOptions struct {
	AdapterTimeout      time.Duration
	CompensationRetries int
	CompensationBackoff time.Duration
	IdempotencyTTL      time.Duration
	MaxConcurrency      int
}

// SwitchService is the transaction router: it resolves both VPAs,
// checks routability, and drives the debit-then-credit saga with
// compensation on credit failure.
type SwitchService struct {
	txns      port.TransactionStore
	directory port.Directory
	registry  *RegistryService
	idem      port.IdempotencyCache
	events    port.EventPublisher
	metrics   *observability.Metrics
	logger    *zap.Logger

	adapters map[string]port.BankAdapter
	breakers map[string]*gobreaker.CircuitBreaker
	bulkhead *resilience.Bulkhead

	opts SwitchOptions
	now  func() time.Time
}

// NewSwitchService creates the router. Adapters are attached with
// RegisterAdapter.
func NewSwitchService(
	txns port.TransactionStore,
	directory port.Directory,
	registry *RegistryService,
	idem port.IdempotencyCache,
	events port.EventPublisher,
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts SwitchOptions,
) *SwitchService {
	if opts.AdapterTimeout <= 0 {
		opts.AdapterTimeout = 5 * time.Second
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 50
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	return &SwitchService{
		txns:      txns,
		directory: directory,
		registry:  registry,
		idem:      idem,
		events:    events,
		metrics:   metrics,
		logger:    logger,
		adapters:  make(map[string]port.BankAdapter),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		bulkhead:  resilience.NewBulkhead(opts.MaxConcurrency),
		opts:      opts,
		now:       time.Now,
	}
}

// RegisterAdapter attaches a participant bank adapter and gives it a
// dedicated circuit breaker.
func (s *SwitchService) RegisterAdapter(a port.BankAdapter) {
	s.adapters[a.BankCode()] = a
	s.breakers[a.BankCode()] = resilience.NewBankBreaker(a.BankCode())
}

// Adapter returns the adapter for bankCode, if hosted by this process.
func (s *SwitchService) Adapter(bankCode string) (port.BankAdapter, bool) {
	a, ok := s.adapters[bankCode]
	return a, ok
}

// AdapterForAccount finds the adapter owning accountNumber by its bank
// code prefix.
func (s *SwitchService) AdapterForAccount(accountNumber string) (port.BankAdapter, bool) {
	for code, a := range s.adapters {
		if strings.HasPrefix(accountNumber, code) {
			return a, true
		}
	}
	return nil, false
}

// cachedResponse is the idempotency envelope: the request hash guards
// against the same transaction id being reused with different
// parameters.
type cachedResponse struct {
	RequestHash string                     `json:"requestHash"`
	Response    domain.TransactionResponse `json:"response"`
}

// ProcessTransaction runs the payment saga for one request. Business
// declines (insufficient funds, frozen account, unknown VPA) come back
// as a response with a terminal status and a nil error; errors are
// reserved for requests the switch refused to start.
func (s *SwitchService) ProcessTransaction(ctx context.Context, req *domain.TransactionRequest) (*domain.TransactionResponse, error) {
	ctx, span := switchTracer.Start(ctx, "SwitchService.ProcessTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", req.TransactionID))

	start := s.now()
	defer func() {
		s.metrics.RecordRequestDuration("process_transaction", s.now().Sub(start))
	}()

	if err := validateTransactionRequest(req); err != nil {
		return nil, err
	}

	hash := requestHash(req)

	// Replay a finished duplicate verbatim; reject the same id reused
	// with different parameters.
	if data, ok := s.idem.GetResponse(ctx, req.TransactionID); ok {
		var cached cachedResponse
		if err := json.Unmarshal(data, &cached); err == nil {
			if cached.RequestHash != hash {
				return nil, &domain.ErrDuplicate{Key: req.TransactionID}
			}
			s.logger.Info("idempotent replay", zap.String("transaction_id", req.TransactionID))
			return &cached.Response, nil
		}
	}

	// Claim the id so a concurrent duplicate is rejected instead of
	// racing us to the bank adapters.
	if !s.idem.Claim(ctx, req.TransactionID, s.opts.AdapterTimeout*3) {
		return nil, &domain.ErrDuplicate{Key: req.TransactionID}
	}
	defer s.idem.Release(ctx, req.TransactionID)

	if err := s.bulkhead.Acquire(ctx); err != nil {
		return nil, &domain.ErrTimeout{Operation: "acquire capacity"}
	}
	defer s.bulkhead.Release()

	// Resolve both sides in parallel.
	var payer, payee *domain.Resolution
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		payer, err = s.directory.Resolve(gctx, req.PayerVPA)
		return err
	})
	g.Go(func() error {
		var err error
		payee, err = s.directory.Resolve(gctx, req.PayeeVPA)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("resolving vpas: %w", err)
	}

	txn := s.newTransaction(req)

	if !payer.Exists || !payer.Active {
		return s.rejectUnrouted(ctx, txn, hash, "INVALID_PAYER_VPA", "payer vpa not linked to an active account: "+req.PayerVPA)
	}
	if !payee.Exists || !payee.Active {
		return s.rejectUnrouted(ctx, txn, hash, "INVALID_PAYEE_VPA", "payee vpa not linked to an active account: "+req.PayeeVPA)
	}

	txn.PayerBankCode = payer.BankCode
	txn.PayerAccountNumber = payer.AccountNumber
	txn.PayeeBankCode = payee.BankCode
	txn.PayeeAccountNumber = payee.AccountNumber

	// Routability gates run before any money moves.
	for _, code := range []string{payer.BankCode, payee.BankCode} {
		if err := s.registry.Routable(ctx, code); err != nil {
			return nil, err
		}
		if br, ok := s.breakers[code]; ok && br.State() == gobreaker.StateOpen {
			s.metrics.IncrRoutingRejection("circuit_open")
			return nil, &domain.ErrCircuitOpen{BankCode: code}
		}
		if _, ok := s.adapters[code]; !ok {
			return nil, &domain.ErrBankUnavailable{BankCode: code, Reason: "no adapter registered"}
		}
	}

	if err := s.txns.Create(ctx, txn); err != nil {
		var dup *domain.ErrDuplicate
		if errors.As(err, &dup) {
			return s.replayStored(ctx, req.TransactionID)
		}
		return nil, fmt.Errorf("persisting transaction: %w", err)
	}

	resp := s.execute(ctx, txn)
	s.cacheResponse(ctx, txn.TransactionID, hash, resp)
	return resp, nil
}

// execute drives the debit and credit legs of a persisted PENDING
// transaction and always leaves it in a terminal state.
func (s *SwitchService) execute(ctx context.Context, txn *domain.Transaction) *domain.TransactionResponse {
	payerAdapter := s.adapters[txn.PayerBankCode]
	payeeAdapter := s.adapters[txn.PayeeBankCode]

	// Debit the payer.
	txn.AddEvent(domain.EventDebitInitiated, "debiting "+txn.PayerAccountNumber, s.now())
	debit, err := s.leg(ctx, payerAdapter, &domain.LegRequest{
		TransactionID: txn.TransactionID,
		AccountNumber: txn.PayerAccountNumber,
		AmountPaisa:   txn.AmountPaisa,
		Leg:           domain.LegDebit,
		Reference:     txn.Reference,
	})
	if err != nil {
		// Failed-unknown: consult the recorded result before deciding.
		if recorded, ok := payerAdapter.LegResult(ctx, txn.TransactionID, domain.LegDebit); ok {
			debit = recorded
		} else {
			status := domain.StatusFailed
			if isDeadline(err) {
				status = domain.StatusTimeout
			}
			txn.AddEvent(domain.EventDebitFailed, err.Error(), s.now())
			return s.finalize(ctx, txn, status, "DEBIT_UNCONFIRMED", err.Error())
		}
	}
	if debit.Status != domain.StatusSuccess {
		txn.AddEvent(domain.EventDebitFailed, debit.ErrorMessage, s.now())
		return s.finalize(ctx, txn, debit.Status, debit.ErrorCode, debit.ErrorMessage)
	}
	txn.PayerBankRef = debit.BankReference
	txn.AddEvent(domain.EventDebitSuccess, "debited "+txn.PayerAccountNumber, s.now())

	// Credit the payee.
	txn.AddEvent(domain.EventCreditInitiated, "crediting "+txn.PayeeAccountNumber, s.now())
	credit, err := s.leg(ctx, payeeAdapter, &domain.LegRequest{
		TransactionID: txn.TransactionID,
		AccountNumber: txn.PayeeAccountNumber,
		AmountPaisa:   txn.AmountPaisa,
		Leg:           domain.LegCredit,
		Reference:     txn.Reference,
	})
	if err != nil {
		if recorded, ok := payeeAdapter.LegResult(ctx, txn.TransactionID, domain.LegCredit); ok {
			credit = recorded
		} else {
			// Credit outcome unknown and debit stands: compensate.
			txn.AddEvent(domain.EventCreditFailed, err.Error(), s.now())
			return s.compensate(ctx, txn, payerAdapter, "CREDIT_UNCONFIRMED", err.Error())
		}
	}
	if credit.Status != domain.StatusSuccess {
		txn.AddEvent(domain.EventCreditFailed, credit.ErrorMessage, s.now())
		return s.compensate(ctx, txn, payerAdapter, credit.ErrorCode, credit.ErrorMessage)
	}
	txn.PayeeBankRef = credit.BankReference
	txn.AddEvent(domain.EventCreditSuccess, "credited "+txn.PayeeAccountNumber, s.now())

	txn.AddEvent(domain.EventTransactionSuccess, "transaction completed", s.now())
	return s.finalize(ctx, txn, domain.StatusSuccess, "", "")
}

// compensate reverses a committed debit after the credit leg failed.
// The retry budget is bounded; on exhaustion the transaction is flagged
// for manual reconciliation rather than left half-applied silently.
func (s *SwitchService) compensate(ctx context.Context, txn *domain.Transaction, payerAdapter port.BankAdapter, causeCode, causeMsg string) *domain.TransactionResponse {
	txn.AddEvent(domain.EventReversalInitiated, "reversing debit on "+txn.PayerAccountNumber, s.now())

	// Compensation must not die with the request deadline.
	cctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.opts.CompensationRetries+1)*s.opts.AdapterTimeout*2)
	defer cancel()

	err := resilience.RetryWithBackoff(cctx, resilience.Config{
		MaxRetries:     s.opts.CompensationRetries,
		InitialBackoff: s.opts.CompensationBackoff,
	}, func() error {
		res, legErr := s.leg(cctx, payerAdapter, &domain.LegRequest{
			TransactionID: txn.TransactionID,
			AccountNumber: txn.PayerAccountNumber,
			AmountPaisa:   txn.AmountPaisa,
			Leg:           domain.LegReversal,
			Reference:     txn.Reference,
		})
		if legErr != nil {
			if recorded, ok := payerAdapter.LegResult(cctx, txn.TransactionID, domain.LegReversal); ok {
				res = recorded
			} else {
				return legErr
			}
		}
		if res.Status != domain.StatusSuccess {
			return fmt.Errorf("reversal declined: %s", res.ErrorCode)
		}
		return nil
	})
	if err != nil {
		s.metrics.IncrCompensation("exhausted")
		txn.AddEvent(domain.EventReversalFailed, err.Error(), s.now())
		txn.AddEvent(domain.EventReconciliationRequired, "debit applied, credit failed, reversal exhausted", s.now())
		s.logger.Error("compensation exhausted, manual reconciliation required",
			zap.String("transaction_id", txn.TransactionID),
			zap.String("payer_bank", txn.PayerBankCode),
			zap.Error(err),
		)
		return s.finalize(ctx, txn, domain.StatusFailed, errCodeReconciliationRequired, causeMsg)
	}

	s.metrics.IncrCompensation("success")
	txn.AddEvent(domain.EventReversalSuccess, "debit reversed on "+txn.PayerAccountNumber, s.now())
	return s.finalize(ctx, txn, domain.StatusFailed, causeCode, causeMsg)
}

// leg calls one adapter leg through the bank's circuit breaker with a
// per-call deadline. Business declines pass through as results; only
// infrastructure failures count against the breaker.
func (s *SwitchService) leg(ctx context.Context, a port.BankAdapter, req *domain.LegRequest) (*domain.LegResult, error) {
	br := s.breakers[a.BankCode()]

	lctx, cancel := context.WithTimeout(ctx, s.opts.AdapterTimeout)
	defer cancel()

	start := s.now()
	out, err := br.Execute(func() (interface{}, error) {
		return a.ProcessLeg(lctx, req)
	})
	s.metrics.RecordLegDuration(a.BankCode(), req.Leg, s.now().Sub(start))

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			s.metrics.IncrRoutingRejection("circuit_open")
			return nil, &domain.ErrCircuitOpen{BankCode: a.BankCode()}
		}
		return nil, err
	}
	return out.(*domain.LegResult), nil
}

// finalize stamps the terminal status, persists, publishes the
// lifecycle event, and builds the response.
func (s *SwitchService) finalize(ctx context.Context, txn *domain.Transaction, status domain.TransactionStatus, errorCode, errorMessage string) *domain.TransactionResponse {
	now := s.now()
	txn.Status = status
	txn.ErrorCode = errorCode
	txn.ErrorMessage = errorMessage
	txn.ProcessedAt = &now

	if err := s.txns.Update(ctx, txn); err != nil {
		s.logger.Error("failed to persist terminal transaction",
			zap.String("transaction_id", txn.TransactionID),
			zap.Error(err),
		)
	}
	s.metrics.IncrTransaction(status)
	s.publish(txn)

	s.logger.Info("transaction finalized",
		zap.String("transaction_id", txn.TransactionID),
		zap.String("rrn", txn.RRN),
		zap.String("status", string(status)),
		zap.Int64("amount_paisa", txn.AmountPaisa),
		zap.String("error_code", errorCode),
	)
	return responseFromTransaction(txn)
}

// publish emits the transaction's terminal event off the request path.
func (s *SwitchService) publish(txn *domain.Transaction) {
	payload, err := json.Marshal(map[string]interface{}{
		"transactionId": txn.TransactionID,
		"rrn":           txn.RRN,
		"status":        txn.Status,
		"amountPaisa":   txn.AmountPaisa,
		"payerBankCode": txn.PayerBankCode,
		"payeeBankCode": txn.PayeeBankCode,
		"errorCode":     txn.ErrorCode,
	})
	if err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.events.PublishTransactionEvent(ctx, txn.TransactionID, payload); err != nil {
			s.logger.Warn("event publish failed", zap.String("transaction_id", txn.TransactionID), zap.Error(err))
		}
	}()
}

// rejectUnrouted records a terminal decline reached before any bank
// call (unknown or inactive VPA).
func (s *SwitchService) rejectUnrouted(ctx context.Context, txn *domain.Transaction, hash, errorCode, errorMessage string) (*domain.TransactionResponse, error) {
	if err := s.txns.Create(ctx, txn); err != nil {
		var dup *domain.ErrDuplicate
		if errors.As(err, &dup) {
			return s.replayStored(ctx, txn.TransactionID)
		}
		return nil, fmt.Errorf("persisting transaction: %w", err)
	}
	resp := s.finalize(ctx, txn, domain.StatusInvalidAccount, errorCode, errorMessage)
	s.cacheResponse(ctx, txn.TransactionID, hash, resp)
	return resp, nil
}

// replayStored serves a duplicate whose cached response has expired but
// whose transaction record survived.
func (s *SwitchService) replayStored(ctx context.Context, transactionID string) (*domain.TransactionResponse, error) {
	txn, err := s.txns.Get(ctx, transactionID)
	if err != nil {
		return nil, &domain.ErrDuplicate{Key: transactionID}
	}
	if !txn.Status.Terminal() {
		return nil, &domain.ErrDuplicate{Key: transactionID}
	}
	return responseFromTransaction(txn), nil
}

func (s *SwitchService) cacheResponse(ctx context.Context, transactionID, hash string, resp *domain.TransactionResponse) {
	data, err := json.Marshal(cachedResponse{RequestHash: hash, Response: *resp})
	if err != nil {
		return
	}
	s.idem.SetResponse(ctx, transactionID, data, s.opts.IdempotencyTTL)
}

// GetTransactionStatus looks up a transaction by id, or by RRN when
// byRRN is set. A PENDING record past its expiry reads as TIMEOUT; the
// lookup itself never mutates state.
func (s *SwitchService) GetTransactionStatus(ctx context.Context, id string, byRRN bool) (*domain.Transaction, error) {
	var (
		txn *domain.Transaction
		err error
	)
	if byRRN {
		txn, err = s.txns.GetByRRN(ctx, id)
	} else {
		txn, err = s.txns.Get(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	if txn.Status == domain.StatusPending && txn.ExpiresAt != nil && s.now().After(*txn.ExpiresAt) {
		txn.Status = domain.StatusTimeout
	}
	return txn, nil
}

// ListTransactionsByVPA returns the newest transactions touching vpa.
func (s *SwitchService) ListTransactionsByVPA(ctx context.Context, vpa string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.txns.ListByVPA(ctx, strings.ToLower(strings.TrimSpace(vpa)), limit)
}

// CancelTransaction cancels a transaction that has not started moving
// money. Anything past PENDING is refused.
func (s *SwitchService) CancelTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	txn, err := s.txns.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status != domain.StatusPending {
		return nil, &domain.ErrInvalidState{
			Entity:   "transaction",
			ID:       transactionID,
			Current:  string(txn.Status),
			Expected: string(domain.StatusPending),
		}
	}

	now := s.now()
	txn.Status = domain.StatusCancelled
	txn.ProcessedAt = &now
	txn.AddEvent(domain.EventTransactionCancelled, "cancelled by caller", now)
	if err := s.txns.Update(ctx, txn); err != nil {
		return nil, err
	}
	s.metrics.IncrTransaction(domain.StatusCancelled)
	s.publish(txn)
	return txn, nil
}

// ReverseTransaction returns the money of a SUCCESS transaction: a new
// transaction debits the original payee and credits the original payer,
// and the original is marked REVERSED once it succeeds. Repeating the
// call replays the recorded reversal, except that a reversal which
// FAILED short of reconciliation is run again so a transient bank
// outage does not pin the failure forever.
func (s *SwitchService) ReverseTransaction(ctx context.Context, originalID, reason string) (*domain.TransactionResponse, error) {
	ctx, span := switchTracer.Start(ctx, "SwitchService.ReverseTransaction")
	defer span.End()

	orig, err := s.txns.Get(ctx, originalID)
	if err != nil {
		return nil, err
	}

	if orig.Status == domain.StatusReversed && orig.ReversedBy != "" {
		return s.replayStored(ctx, orig.ReversedBy)
	}
	if orig.Status != domain.StatusSuccess {
		return nil, &domain.ErrInvalidState{
			Entity:   "transaction",
			ID:       originalID,
			Current:  string(orig.Status),
			Expected: string(domain.StatusSuccess),
		}
	}

	for _, code := range []string{orig.PayeeBankCode, orig.PayerBankCode} {
		if err := s.registry.Routable(ctx, code); err != nil {
			return nil, err
		}
		if _, ok := s.adapters[code]; !ok {
			return nil, &domain.ErrBankUnavailable{BankCode: code, Reason: "no adapter registered"}
		}
	}

	now := s.now()
	expires := now.Add(transactionExpiry)
	if reason == "" {
		reason = "reversal of " + originalID
	}
	rev := &domain.Transaction{
		TransactionID:      "REV-" + originalID,
		RRN:                newRRN(now),
		PayerVPA:           orig.PayeeVPA,
		PayeeVPA:           orig.PayerVPA,
		PayerBankCode:      orig.PayeeBankCode,
		PayeeBankCode:      orig.PayerBankCode,
		PayerAccountNumber: orig.PayeeAccountNumber,
		PayeeAccountNumber: orig.PayerAccountNumber,
		AmountPaisa:        orig.AmountPaisa,
		Currency:           orig.Currency,
		Type:               domain.TypeP2P,
		Status:             domain.StatusPending,
		Reference:          orig.Reference,
		Description:        reason,
		ReversalOf:         originalID,
		InitiatedAt:        now,
		ExpiresAt:          &expires,
	}

	if err := s.txns.Create(ctx, rev); err != nil {
		var dup *domain.ErrDuplicate
		if !errors.As(err, &dup) {
			return nil, fmt.Errorf("persisting reversal: %w", err)
		}
		stored, gerr := s.txns.Get(ctx, rev.TransactionID)
		if gerr != nil {
			return nil, &domain.ErrDuplicate{Key: rev.TransactionID}
		}
		// A reversal that failed short of reconciliation is safe to run
		// again; anything else replays the stored outcome.
		if stored.Status == domain.StatusFailed && stored.ErrorCode != errCodeReconciliationRequired {
			return s.retryReversal(ctx, orig, stored)
		}
		return s.replayStored(ctx, rev.TransactionID)
	}

	resp := s.execute(ctx, rev)

	if resp.Status == domain.StatusSuccess {
		s.markReversed(ctx, orig, rev.TransactionID)
	}
	return resp, nil
}

// retryReversal reruns a reversal that previously failed without
// reaching reconciliation. The stored record is reset to PENDING so the
// saga runs again from the debit leg; adapters replay any leg they
// already committed from their recorded results.
func (s *SwitchService) retryReversal(ctx context.Context, orig, stored *domain.Transaction) (*domain.TransactionResponse, error) {
	s.logger.Info("retrying failed reversal",
		zap.String("transaction_id", stored.TransactionID),
		zap.String("previous_error", stored.ErrorCode),
	)

	expires := s.now().Add(transactionExpiry)
	stored.Status = domain.StatusPending
	stored.ErrorCode = ""
	stored.ErrorMessage = ""
	stored.ProcessedAt = nil
	stored.ExpiresAt = &expires
	if err := s.txns.Update(ctx, stored); err != nil {
		return nil, fmt.Errorf("resetting reversal: %w", err)
	}

	resp := s.execute(ctx, stored)
	if resp.Status == domain.StatusSuccess {
		s.markReversed(ctx, orig, stored.TransactionID)
	}
	return resp, nil
}

// markReversed stamps the original transaction once its reversal
// succeeded.
func (s *SwitchService) markReversed(ctx context.Context, orig *domain.Transaction, revID string) {
	orig.Status = domain.StatusReversed
	orig.ReversedBy = revID
	orig.AddEvent(domain.EventTransactionReversed, "reversed by "+revID, s.now())
	if err := s.txns.Update(ctx, orig); err != nil {
		s.logger.Error("failed to mark original reversed",
			zap.String("transaction_id", orig.TransactionID),
			zap.Error(err),
		)
	}
	s.metrics.IncrTransaction(domain.StatusReversed)
}

func (s *SwitchService) newTransaction(req *domain.TransactionRequest) *domain.Transaction {
	now := s.now()
	expires := now.Add(transactionExpiry)

	txnType := req.Type
	if txnType == "" {
		txnType = domain.TypeP2P
	}
	currency := req.Currency
	if currency == "" {
		currency = "INR"
	}

	switchFee := feePaisa(req.AmountPaisa, 1000) // 0.1%
	bankFee := feePaisa(req.AmountPaisa, 2000)   // 0.05%

	return &domain.Transaction{
		TransactionID:  req.TransactionID,
		RRN:            newRRN(now),
		PayerVPA:       strings.ToLower(strings.TrimSpace(req.PayerVPA)),
		PayeeVPA:       strings.ToLower(strings.TrimSpace(req.PayeeVPA)),
		AmountPaisa:    req.AmountPaisa,
		Currency:       currency,
		Type:           txnType,
		Status:         domain.StatusPending,
		Reference:      req.Reference,
		Description:    req.Description,
		SwitchFeePaisa: switchFee,
		BankFeePaisa:   bankFee,
		TotalFeePaisa:  switchFee + bankFee,
		InitiatedAt:    now,
		ExpiresAt:      &expires,
	}
}

func validateTransactionRequest(req *domain.TransactionRequest) error {
	if req.TransactionID == "" {
		return &domain.ErrValidation{Field: "transactionId", Message: "required"}
	}
	if req.PayerVPA == "" {
		return &domain.ErrValidation{Field: "payerVpa", Message: "required"}
	}
	if req.PayeeVPA == "" {
		return &domain.ErrValidation{Field: "payeeVpa", Message: "required"}
	}
	if strings.EqualFold(req.PayerVPA, req.PayeeVPA) {
		return &domain.ErrValidation{Field: "payeeVpa", Message: "payer and payee must differ"}
	}
	if req.AmountPaisa <= 0 {
		return &domain.ErrValidation{Field: "amountPaisa", Message: "must be positive"}
	}
	if req.Currency != "" && req.Currency != "INR" {
		return &domain.ErrValidation{Field: "currency", Message: "only INR is supported"}
	}
	switch req.Type {
	case "", domain.TypeP2P, domain.TypeDebit, domain.TypeCredit:
	default:
		return &domain.ErrValidation{Field: "type", Message: fmt.Sprintf("unknown type %q", req.Type)}
	}
	if req.Signature == "" {
		return &domain.ErrUnauthorized{Message: "missing request signature"}
	}
	return nil
}

// requestHash fingerprints the business parameters of a request so a
// reused transaction id with different parameters is caught.
func requestHash(req *domain.TransactionRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d|%s|%s",
		req.TransactionID,
		strings.ToLower(strings.TrimSpace(req.PayerVPA)),
		strings.ToLower(strings.TrimSpace(req.PayeeVPA)),
		req.AmountPaisa,
		req.Currency,
		req.Type,
	)
	return hex.EncodeToString(h.Sum(nil))
}

func responseFromTransaction(txn *domain.Transaction) *domain.TransactionResponse {
	return &domain.TransactionResponse{
		TransactionID: txn.TransactionID,
		RRN:           txn.RRN,
		Status:        txn.Status,
		PayerBankCode: txn.PayerBankCode,
		PayeeBankCode: txn.PayeeBankCode,
		PayerBankRef:  txn.PayerBankRef,
		PayeeBankRef:  txn.PayeeBankRef,
		TotalFeePaisa: txn.TotalFeePaisa,
		SettlementID:  txn.SettlementID,
		ErrorCode:     txn.ErrorCode,
		ErrorMessage:  txn.ErrorMessage,
		ProcessedAt:   txn.ProcessedAt,
	}
}

// feePaisa computes amount/divisor with a one paisa floor.
func feePaisa(amount, divisor int64) int64 {
	fee := amount / divisor
	if fee < 1 {
		fee = 1
	}
	return fee
}

func newRRN(at time.Time) string {
	return fmt.Sprintf("RRN%d", at.UnixNano())
}

func isDeadline(err error) bool {
	var timeout *domain.ErrTimeout
	return errors.Is(err, context.DeadlineExceeded) || errors.As(err, &timeout)
}
