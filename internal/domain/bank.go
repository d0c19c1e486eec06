package domain

import "time"

// ============================================================
// Participant banks
// ============================================================

// BankStatus enumerates the registry states of a participant.
// Only ACTIVE banks are eligible for routing.
type BankStatus string

const (
	BankActive      BankStatus = "ACTIVE"
	BankInactive    BankStatus = "INACTIVE"
	BankMaintenance BankStatus = "MAINTENANCE"
	BankSuspended   BankStatus = "SUSPENDED"
)

// Bank is a registered participant with its rolling health figures.
type Bank struct {
	BankCode           string     `json:"bankCode"`
	Name               string     `json:"bankName"`
	EndpointURL        string     `json:"endpointUrl,omitempty"`
	Features           []string   `json:"features,omitempty"`
	Status             BankStatus `json:"status"`
	LastHeartbeat      *time.Time `json:"lastHeartbeat,omitempty"`
	SuccessRatePercent float64    `json:"successRatePercent"`
	AvgResponseTimeMs  float64    `json:"avgResponseTimeMs"`
	RegisteredAt       time.Time  `json:"registeredAt"`
}

// RegisterBankRequest is the payload for RegisterBank. Registering an
// existing bank code updates its metadata in place.
type RegisterBankRequest struct {
	BankCode    string   `json:"bankCode"`
	Name        string   `json:"bankName"`
	EndpointURL string   `json:"endpointUrl,omitempty"`
	Features    []string `json:"features,omitempty"`
}

// Heartbeat carries one observation window of a bank's health,
// folded into the rolling figures by the registry.
type Heartbeat struct {
	SuccessRatePercent float64 `json:"successRatePercent"`
	AvgResponseTimeMs  float64 `json:"avgResponseTimeMs"`
}

// BankHealth is returned by CheckBankHealth.
type BankHealth struct {
	BankCode           string  `json:"bankCode"`
	HealthStatus       string  `json:"healthStatus"` // HEALTHY or DEGRADED
	SuccessRatePercent float64 `json:"successRatePercent"`
	AvgResponseTimeMs  float64 `json:"avgResponseTimeMs"`
	ActiveAccounts     int     `json:"activeAccounts"`
	TotalAccounts      int     `json:"totalAccounts"`
}
