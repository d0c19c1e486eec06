package domain

import "time"

// ============================================================
// VPA — virtual payment addresses
// ============================================================

// VPABinding maps a payment handle to a (bank, account) pair.
// At most one active binding exists per VPA at any time.
type VPABinding struct {
	VPA           string    `json:"vpa"`
	BankCode      string    `json:"bankCode"`
	AccountNumber string    `json:"accountNumber"`
	HolderName    string    `json:"accountHolderName"`
	Primary       bool      `json:"isPrimary"`
	Active        bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// LinkVPARequest is the payload for LinkVPA.
type LinkVPARequest struct {
	VPA           string `json:"vpa"`
	BankCode      string `json:"bankCode"`
	AccountNumber string `json:"accountNumber"`
	Primary       bool   `json:"isPrimary"`
	Relink        bool   `json:"relink,omitempty"` // rebind even if linked elsewhere
}

// UnlinkVPARequest is the payload for UnlinkVPA.
type UnlinkVPARequest struct {
	VPA      string `json:"vpa"`
	BankCode string `json:"bankCode"`
}

// Resolution is the result of ResolveVPA. Exists=false is a normal
// outcome, not an error: callers must branch on it, never on err.
type Resolution struct {
	Exists        bool   `json:"exists"`
	VPA           string `json:"vpa"`
	BankCode      string `json:"bankCode,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
	HolderName    string `json:"accountHolderName,omitempty"`
	Active        bool   `json:"isActive"`
}
