package domain

import "time"

// ============================================================
// Settlement
// ============================================================

// SettlementStatus enumerates the lifecycle of a settlement batch.
type SettlementStatus string

const (
	SettlementPending    SettlementStatus = "PENDING"
	SettlementProcessing SettlementStatus = "PROCESSING"
	SettlementCompleted  SettlementStatus = "COMPLETED"
	SettlementFailed     SettlementStatus = "FAILED"
)

// BankSettlement is the netted position for one ordered bank pair
// within a batch. NetPaisa = CreditPaisa - DebitPaisa seen from the
// payee bank's side.
type BankSettlement struct {
	PayerBankCode    string           `json:"payerBankCode"`
	PayeeBankCode    string           `json:"payeeBankCode"`
	CreditPaisa      int64            `json:"creditPaisa"`
	DebitPaisa       int64            `json:"debitPaisa"`
	NetPaisa         int64            `json:"netPaisa"`
	TransactionCount int              `json:"transactionCount"`
	Status           SettlementStatus `json:"status"`
}

// Settlement is one aggregation batch. A transaction belongs to at
// most one batch, claimed atomically during aggregation.
type Settlement struct {
	BatchID     string           `json:"batchId"`
	BankCodes   []string         `json:"bankCodes"`
	Date        string           `json:"settlementDate"` // YYYY-MM-DD
	Status      SettlementStatus `json:"status"`
	Entries     []BankSettlement `json:"entries,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	StartedAt   *time.Time       `json:"startedAt,omitempty"` // last transition to PROCESSING
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

// InitiateSettlementRequest is the payload for InitiateSettlement.
type InitiateSettlementRequest struct {
	BatchID        string   `json:"batchId"`
	BankCodes      []string `json:"bankCodes"`
	SettlementDate string   `json:"settlementDate"`
}

// SettlementReport is the read-only aggregate returned by
// GetSettlementReport for one bank over a date range.
type SettlementReport struct {
	BankCode         string           `json:"bankCode"`
	FromDate         string           `json:"fromDate"`
	ToDate           string           `json:"toDate"`
	Entries          []BankSettlement `json:"entries"`
	NetPositionPaisa int64            `json:"netPositionPaisa"`
	TransactionCount int              `json:"transactionCount"`
	BatchCount       int              `json:"batchCount"`
}
