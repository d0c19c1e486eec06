package domain

import "time"

// ============================================================
// Accounts
// ============================================================

// AccountType enumerates the supported account products.
type AccountType string

const (
	AccountSavings   AccountType = "SAVINGS"
	AccountCurrent   AccountType = "CURRENT"
	AccountOverdraft AccountType = "OVERDRAFT"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountSavings, AccountCurrent, AccountOverdraft:
		return true
	}
	return false
}

// AccountStatus enumerates the account lifecycle states.
type AccountStatus string

const (
	AccountActive     AccountStatus = "ACTIVE"
	AccountInactive   AccountStatus = "INACTIVE"
	AccountFrozen     AccountStatus = "FROZEN"
	AccountClosed     AccountStatus = "CLOSED"
	AccountKYCPending AccountStatus = "KYC_PENDING"
)

// Account is a bank-scoped ledger account. All amounts are in paisa.
// Mutations only happen inside the owning bank adapter, under the
// account's lock.
type Account struct {
	Number          string        `json:"accountNumber"`
	BankCode        string        `json:"bankCode"`
	RoutingCode     string        `json:"routingCode"`
	HolderName      string        `json:"holderName"`
	CustomerID      string        `json:"customerId"`
	Type            AccountType   `json:"accountType"`
	Status          AccountStatus `json:"status"`
	BalancePaisa    int64         `json:"balancePaisa"`
	DailyLimitPaisa int64         `json:"dailyLimitPaisa"`
	DailyUsedPaisa  int64         `json:"dailyUsedPaisa"`
	LimitDay        string        `json:"-"` // YYYY-MM-DD the daily counters belong to
	CreatedAt       time.Time     `json:"createdAt"`
}

// DailyRemainingPaisa returns the debit headroom left for day.
// Counters from a previous day have rolled over and count as unused.
func (a *Account) DailyRemainingPaisa(day string) int64 {
	if a.LimitDay != day {
		return a.DailyLimitPaisa
	}
	return a.DailyLimitPaisa - a.DailyUsedPaisa
}

// KYC holds the know-your-customer fields required to open an account.
type KYC struct {
	FullName     string `json:"fullName"`
	Document     string `json:"document"` // PAN / national id
	MobileNumber string `json:"mobileNumber"`
	DateOfBirth  string `json:"dateOfBirth,omitempty"`
	AddressLine  string `json:"addressLine,omitempty"`
}

// Complete reports whether the mandatory KYC fields are present.
// Incomplete KYC opens the account in KYC_PENDING.
func (k *KYC) Complete() bool {
	return k.FullName != "" && k.Document != "" && k.MobileNumber != ""
}

// CreateAccountRequest is the payload to open an account at a bank adapter.
type CreateAccountRequest struct {
	BankCode            string      `json:"bankCode"`
	CustomerID          string      `json:"customerId"`
	AccountType         AccountType `json:"accountType"`
	KYC                 KYC         `json:"kyc"`
	InitialDepositPaisa int64       `json:"initialDepositPaisa"`
	DailyLimitPaisa     int64       `json:"dailyLimitPaisa,omitempty"`
}

// CreateAccountResponse is returned by CreateAccount.
type CreateAccountResponse struct {
	AccountNumber string        `json:"accountNumber"`
	RoutingCode   string        `json:"routingCode"`
	Status        AccountStatus `json:"status"`
}

// BalanceResponse is returned by GetAccountBalance.
type BalanceResponse struct {
	AccountNumber  string `json:"accountNumber"`
	BalancePaisa   int64  `json:"balancePaisa"`
	DailyRemaining int64  `json:"dailyRemainingPaisa"`
	Currency       string `json:"currency"`
}
