package domain

import "time"

// ============================================================
// Transactions
// ============================================================

// TransactionStatus is the closed set of states a transaction moves
// through. PENDING is initial; everything else is terminal except that
// SUCCESS may still move to REVERSED via an explicit reversal.
type TransactionStatus string

const (
	StatusPending           TransactionStatus = "PENDING"
	StatusSuccess           TransactionStatus = "SUCCESS"
	StatusFailed            TransactionStatus = "FAILED"
	StatusTimeout           TransactionStatus = "TIMEOUT"
	StatusInsufficientFunds TransactionStatus = "INSUFFICIENT_FUNDS"
	StatusLimitExceeded     TransactionStatus = "LIMIT_EXCEEDED"
	StatusAccountFrozen     TransactionStatus = "ACCOUNT_FROZEN"
	StatusInvalidAccount    TransactionStatus = "INVALID_ACCOUNT"
	StatusCancelled         TransactionStatus = "CANCELLED"
	StatusReversed          TransactionStatus = "REVERSED"
)

// Terminal reports whether no further processing can change the status,
// reversal of a SUCCESS excepted.
func (s TransactionStatus) Terminal() bool {
	return s != StatusPending
}

// TransactionType classifies the direction of a transaction.
type TransactionType string

const (
	TypeDebit  TransactionType = "DEBIT"
	TypeCredit TransactionType = "CREDIT"
	TypeP2P    TransactionType = "P2P"
)

// TransactionEvent is one entry in a transaction's audit trail.
type TransactionEvent struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// Audit event vocabulary appended by the switch while a transaction
// moves through the saga.
const (
	EventDebitInitiated         = "DEBIT_INITIATED"
	EventDebitSuccess           = "DEBIT_SUCCESS"
	EventDebitFailed            = "DEBIT_FAILED"
	EventCreditInitiated        = "CREDIT_INITIATED"
	EventCreditSuccess          = "CREDIT_SUCCESS"
	EventCreditFailed           = "CREDIT_FAILED"
	EventReversalInitiated      = "REVERSAL_INITIATED"
	EventReversalSuccess        = "REVERSAL_SUCCESS"
	EventReversalFailed         = "REVERSAL_FAILED"
	EventTransactionSuccess     = "TRANSACTION_SUCCESS"
	EventTransactionCancelled   = "TRANSACTION_CANCELLED"
	EventTransactionReversed    = "TRANSACTION_REVERSED"
	EventReconciliationRequired = "RECONCILIATION_REQUIRED"
)

// Transaction is the switch's record of a payment. Amounts in paisa.
type Transaction struct {
	TransactionID      string             `json:"transactionId"`
	RRN                string             `json:"rrn"`
	PayerVPA           string             `json:"payerVpa"`
	PayeeVPA           string             `json:"payeeVpa"`
	PayerBankCode      string             `json:"payerBankCode,omitempty"`
	PayeeBankCode      string             `json:"payeeBankCode,omitempty"`
	PayerAccountNumber string             `json:"-"`
	PayeeAccountNumber string             `json:"-"`
	AmountPaisa        int64              `json:"amountPaisa"`
	Currency           string             `json:"currency"`
	Type               TransactionType    `json:"type"`
	Status             TransactionStatus  `json:"status"`
	Reference          string             `json:"reference"`
	Description        string             `json:"description,omitempty"`
	PayerBankRef       string             `json:"payerBankReferenceId,omitempty"`
	PayeeBankRef       string             `json:"payeeBankReferenceId,omitempty"`
	SwitchFeePaisa     int64              `json:"switchFeePaisa"`
	BankFeePaisa       int64              `json:"bankFeePaisa"`
	TotalFeePaisa      int64              `json:"totalFeePaisa"`
	SettlementID       string             `json:"settlementId,omitempty"`
	ErrorCode          string             `json:"errorCode,omitempty"`
	ErrorMessage       string             `json:"errorMessage,omitempty"`
	ReversalOf         string             `json:"reversalOf,omitempty"`
	ReversedBy         string             `json:"reversedBy,omitempty"`
	Events             []TransactionEvent `json:"events,omitempty"`
	InitiatedAt        time.Time          `json:"initiatedAt"`
	ProcessedAt        *time.Time         `json:"processedAt,omitempty"`
	ExpiresAt          *time.Time         `json:"expiresAt,omitempty"`
}

// AddEvent appends one audit trail entry.
func (t *Transaction) AddEvent(eventType, description string, at time.Time) {
	t.Events = append(t.Events, TransactionEvent{
		Type:        eventType,
		Description: description,
		Timestamp:   at,
	})
}

// TransactionRequest is the payload for ProcessTransaction.
// TransactionID doubles as the idempotency key; Reference is the
// caller-issued RRN-style reconciliation id.
type TransactionRequest struct {
	TransactionID string          `json:"transactionId"`
	Reference     string          `json:"reference"`
	PayerVPA      string          `json:"payerVpa"`
	PayeeVPA      string          `json:"payeeVpa"`
	AmountPaisa   int64           `json:"amountPaisa"`
	Currency      string          `json:"currency"`
	Type          TransactionType `json:"type,omitempty"` // defaults to P2P
	Description   string          `json:"description,omitempty"`
	Signature     string          `json:"signature"`
}

// TransactionResponse is returned by ProcessTransaction.
type TransactionResponse struct {
	TransactionID string            `json:"transactionId"`
	RRN           string            `json:"rrn,omitempty"`
	Status        TransactionStatus `json:"status"`
	PayerBankCode string            `json:"payerBankCode,omitempty"`
	PayeeBankCode string            `json:"payeeBankCode,omitempty"`
	PayerBankRef  string            `json:"payerBankReferenceId,omitempty"`
	PayeeBankRef  string            `json:"payeeBankReferenceId,omitempty"`
	TotalFeePaisa int64             `json:"totalFeePaisa,omitempty"`
	SettlementID  string            `json:"settlementId,omitempty"`
	ErrorCode     string            `json:"errorCode,omitempty"`
	ErrorMessage  string            `json:"errorMessage,omitempty"`
	ProcessedAt   *time.Time        `json:"processedAt,omitempty"`
}

// LegType identifies one side of the two-ledger movement at a bank
// adapter. The reversal leg keeps its own idempotency scope so a
// compensation retry can never be confused with the original debit.
type LegType string

const (
	LegDebit    LegType = "DEBIT"
	LegCredit   LegType = "CREDIT"
	LegReversal LegType = "REVERSAL"
)

// LegRequest is the switch-to-bank request for a single ledger leg.
type LegRequest struct {
	TransactionID string  `json:"transactionId"`
	AccountNumber string  `json:"accountNumber"`
	AmountPaisa   int64   `json:"amountPaisa"`
	Leg           LegType `json:"leg"`
	Reference     string  `json:"reference"`
}

// LegResult is the bank adapter's answer for a leg, replayed verbatim
// for idempotent retries.
type LegResult struct {
	TransactionID string            `json:"transactionId"`
	Leg           LegType           `json:"leg"`
	Status        TransactionStatus `json:"status"`
	BankReference string            `json:"bankReferenceId"`
	BalancePaisa  int64             `json:"newBalancePaisa"`
	ErrorCode     string            `json:"errorCode,omitempty"`
	ErrorMessage  string            `json:"errorMessage,omitempty"`
	ProcessedAt   time.Time         `json:"processedAt"`
}
