package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SensorPeaks captures peak sensor values at confirmation time.
type SensorPeaks struct {
	Flame       float64 `json:"flame"`
	Smoke       float64 `json:"smoke"`
	Temperature float64 `json:"temperature"`
	Gas         float64 `json:"gas"`
}

// VerifiedIncident is an operator-confirmed incident. Never mutated after creation.
type VerifiedIncident struct {
	ID             string      `json:"id"`
	DeviceID       string      `json:"device_id"`
	EventAt        time.Time   `json:"timestamp"`
	AlertLevel     AlertLevel  `json:"alert_level"`
	Peaks          SensorPeaks `json:"peaks"`
	Notes          string      `json:"notes,omitempty"`
	AlertWindowID  string      `json:"alert_window_id,omitempty"`
	VerifiedBy     string      `json:"verified_by"`
	VerifiedByName string      `json:"verified_by_name,omitempty"`
	VerifiedAt     time.Time   `json:"verified_at"`
}

// CaseDetails is the operator-supplied part of an official incident.
type CaseDetails struct {
	IncidentType      string          `json:"incident_type"`
	EstablishmentType string          `json:"establishment_type,omitempty"`
	ProbableCause     string          `json:"probable_cause,omitempty"`
	Barangay          string          `json:"barangay,omitempty"`
	City              string          `json:"city,omitempty"`
	EstimatedDamage   decimal.Decimal `json:"estimated_damage"`
	Injuries          int             `json:"injuries"`
	Fatalities        int             `json:"fatalities"`
	Remarks           string          `json:"remarks,omitempty"`
}

// OfficialIncident is a filed case record derived from one verified incident.
type OfficialIncident struct {
	ID                 string     `json:"id"`
	VerifiedIncidentID string     `json:"verified_incident_id"`
	DeviceID           string     `json:"device_id"`
	EventAt            time.Time  `json:"incident_datetime"`
	AlertLevel         AlertLevel `json:"alert_level"`
	CaseDetails
	VerifiedBy      string    `json:"verified_by"`
	VerifiedByName  string    `json:"verified_by_name,omitempty"`
	VerifiedAt      time.Time `json:"verified_at"`
	GeneratedBy     string    `json:"generated_by"`
	GeneratedByName string    `json:"generated_by_name,omitempty"`
	GeneratedAt     time.Time `json:"generated_at"`
}
