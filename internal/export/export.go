// Package export writes filed incidents as delimited text.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
	_ "time/tzdata" // embedded zone data for the export location

	"github.com/firealarmweb/firealarm/internal/models"
)

// DefaultTimezone is the location export timestamps are rendered in.
const DefaultTimezone = "Asia/Manila"

// TimeLayout is the timestamp layout used in exported rows.
const TimeLayout = "2006-01-02 15:04:05"

// utf8BOM lets spreadsheet applications detect the encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Format defines the output format for exports.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatExcel Format = "excel"
)

// ParseFormat parses a string to Format. An empty string means csv.
func ParseFormat(s string) (Format, bool) {
	switch s {
	case "", "csv":
		return FormatCSV, true
	case "excel", "xls":
		return FormatExcel, true
	default:
		return "", false
	}
}

// ContentType returns the HTTP content type for the format.
func (f Format) ContentType() string {
	if f == FormatExcel {
		return "application/vnd.ms-excel"
	}
	return "text/csv; charset=utf-8"
}

// Extension returns the file extension including the dot.
func (f Format) Extension() string {
	if f == FormatExcel {
		return ".xls"
	}
	return ".csv"
}

// Header is the fixed column order of an official incident export.
var Header = []string{
	"id", "verified_incident_id", "device_id", "incident_datetime", "alert_level",
	"incident_type", "establishment_type", "probable_cause", "barangay", "city",
	"estimated_damage", "injuries", "fatalities", "remarks",
	"verified_by", "verified_at", "generated_by", "generated_at",
}

// LoadLocation resolves an IANA zone name, defaulting to DefaultTimezone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load export timezone %q: %w", name, err)
	}
	return loc, nil
}

// Filename returns official_incidents_YYYYMMDD_HHMMSS with the format's extension.
func Filename(format Format, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return "official_incidents_" + now.In(loc).Format("20060102_150405") + format.Extension()
}

// Writer encodes official incidents in one format.
type Writer struct {
	format Format
	loc    *time.Location
	writer io.Writer
}

// NewWriter creates a writer for the given format. A nil location means UTC.
func NewWriter(format Format, loc *time.Location, w io.Writer) *Writer {
	if loc == nil {
		loc = time.UTC
	}
	return &Writer{
		format: format,
		loc:    loc,
		writer: w,
	}
}

// WriteOfficial writes the header row and one row per incident.
func (e *Writer) WriteOfficial(incidents []*models.OfficialIncident) error {
	if e.format == FormatExcel {
		if _, err := e.writer.Write(utf8BOM); err != nil {
			return fmt.Errorf("write bom: %w", err)
		}
	}

	w := csv.NewWriter(e.writer)
	if err := w.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, o := range incidents {
		if err := w.Write(e.row(o)); err != nil {
			return fmt.Errorf("write row %s: %w", o.ID, err)
		}
	}
	w.Flush()
	return w.Error()
}

func (e *Writer) row(o *models.OfficialIncident) []string {
	return []string{
		o.ID,
		o.VerifiedIncidentID,
		o.DeviceID,
		e.formatTime(o.EventAt),
		strconv.Itoa(int(o.AlertLevel)),
		o.IncidentType,
		o.EstablishmentType,
		o.ProbableCause,
		o.Barangay,
		o.City,
		o.EstimatedDamage.StringFixed(2),
		strconv.Itoa(o.Injuries),
		strconv.Itoa(o.Fatalities),
		o.Remarks,
		nameOr(o.VerifiedByName, o.VerifiedBy),
		e.formatTime(o.VerifiedAt),
		nameOr(o.GeneratedByName, o.GeneratedBy),
		e.formatTime(o.GeneratedAt),
	}
}

func (e *Writer) formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(e.loc).Format(TimeLayout)
}

func nameOr(name, id string) string {
	if name != "" {
		return name
	}
	return id
}
