// Package models defines domain models for the fire-alarm monitor.
package models

import "time"

// AlertLevel is the severity tier computed by the upstream aggregation.
type AlertLevel int

const (
	AlertLevelNormal   AlertLevel = 0
	AlertLevelWarning  AlertLevel = 2
	AlertLevelCritical AlertLevel = 3
)

// IsIncident reports whether the level surfaces as an incident.
func (l AlertLevel) IsIncident() bool {
	return l >= AlertLevelWarning
}

func (l AlertLevel) String() string {
	switch {
	case l >= AlertLevelCritical:
		return "critical"
	case l == AlertLevelWarning:
		return "warning"
	default:
		return "normal"
	}
}

// SensorReadings holds per-sensor peak and average values for one window.
type SensorReadings struct {
	FlamePeak float64 `json:"flame_peak"`
	FlameAvg  float64 `json:"flame_avg"`
	SmokePeak float64 `json:"smoke_peak"`
	SmokeAvg  float64 `json:"smoke_avg"`
	TempPeak  float64 `json:"temperature_peak"`
	TempAvg   float64 `json:"temperature_avg"`
	GasPeak   float64 `json:"gas_peak"`
	GasAvg    float64 `json:"gas_avg"`
}

// Peaks extracts the peak values.
func (r SensorReadings) Peaks() SensorPeaks {
	return SensorPeaks{
		Flame:       r.FlamePeak,
		Smoke:       r.SmokePeak,
		Temperature: r.TempPeak,
		Gas:         r.GasPeak,
	}
}

// AlertWindow is a time-bucketed aggregate of one device's readings.
// Rows are written by the upstream aggregation and never modified here.
type AlertWindow struct {
	ID          string         `json:"id"`
	DeviceID    string         `json:"device_id"`
	WindowStart time.Time      `json:"window_start"`
	LastSeen    time.Time      `json:"last_seen"`
	Readings    SensorReadings `json:"readings"`
	AlertLevel  AlertLevel     `json:"alert_level"`
}

// PendingIncident is an alert window that no verification covers yet.
// It is computed at query time and never stored.
type PendingIncident struct {
	AlertWindow
	Severity string `json:"severity"`
}

// NewPendingIncident wraps a window as a pending incident.
func NewPendingIncident(w AlertWindow) *PendingIncident {
	return &PendingIncident{AlertWindow: w, Severity: w.AlertLevel.String()}
}
