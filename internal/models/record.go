package models

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
)

var validate = validator.New()

// InputRecord is one old administrative-division entry to convert.
// Immutable once loaded.
type InputRecord struct {
	CityName  string `json:"city_name" validate:"required"`
	PrefOldID int    `json:"pref_old_id"` // unique, used as the resume cursor
	PrefName  string `json:"pref_name" validate:"required"`
}

// ConversionResult is one converted entry. Failure is carried as an internal
// tagged state and only encoded as the external "ERROR: <message>" marker
// when the record is serialized.
type ConversionResult struct {
	CityName        string `json:"city_name"`
	PrefOldID       int    `json:"pref_old_id"`
	PrefOldName     string `json:"pref_old_name"`
	PrefNewName     string `json:"pref_new_name"`
	PrefNewFallback string `json:"pref_new_fallback,omitempty"`

	failure error
}

const errorMarker = "ERROR: "

// NewResult builds a successful conversion result. fallback is empty unless
// the prefecture was matched through a substituted label.
func NewResult(rec InputRecord, newName, fallback string) ConversionResult {
	return ConversionResult{
		CityName:        rec.CityName,
		PrefOldID:       rec.PrefOldID,
		PrefOldName:     rec.PrefName,
		PrefNewName:     newName,
		PrefNewFallback: fallback,
	}
}

// NewFailedResult builds a poison result for a record whose retries were
// exhausted. The batch continues; the failure surfaces only in the
// serialized pref_new_name.
func NewFailedResult(rec InputRecord, err error) ConversionResult {
	return ConversionResult{
		CityName:    rec.CityName,
		PrefOldID:   rec.PrefOldID,
		PrefOldName: rec.PrefName,
		failure:     err,
	}
}

// Failed reports whether this result carries a failure, whether attached at
// construction or round-tripped through the serialized marker.
func (r ConversionResult) Failed() bool {
	return r.failure != nil || strings.HasPrefix(r.PrefNewName, errorMarker)
}

// FailureError returns the attached failure, or nil
func (r ConversionResult) FailureError() error {
	return r.failure
}

// MarshalJSON encodes the failure state as the external poison marker while
// keeping the output artifact shape unchanged.
func (r ConversionResult) MarshalJSON() ([]byte, error) {
	type alias ConversionResult
	a := alias(r)
	if r.failure != nil {
		a.PrefNewName = errorMarker + r.failure.Error()
	}
	return json.Marshal(a)
}

// LoadRecords reads and validates the input artifact. Malformed or
// incomplete elements are dropped with a warning; a decreasing pref_old_id
// sequence is a fatal precondition violation since the resume cursor relies
// on file order.
func LoadRecords(path string, logger arbor.ILogger) ([]InputRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file %s: %w", path, err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("input file %s is not a JSON array: %w", path, err)
	}

	records := make([]InputRecord, 0, len(raw))
	for i, elem := range raw {
		var rec InputRecord
		if err := json.Unmarshal(elem, &rec); err != nil {
			logger.Warn().
				Int("index", i).
				Err(err).
				Msg("Dropping malformed input record")
			continue
		}
		if err := validate.Struct(rec); err != nil {
			logger.Warn().
				Int("index", i).
				Int("pref_old_id", rec.PrefOldID).
				Err(err).
				Msg("Dropping incomplete input record")
			continue
		}
		records = append(records, rec)
	}

	for i := 1; i < len(records); i++ {
		if records[i].PrefOldID < records[i-1].PrefOldID {
			return nil, fmt.Errorf(
				"input records must be non-decreasing in pref_old_id (record %d has id %d after id %d); resume relies on file order",
				i, records[i].PrefOldID, records[i-1].PrefOldID)
		}
	}

	logger.Info().
		Int("total", len(raw)).
		Int("valid", len(records)).
		Int("dropped", len(raw)-len(records)).
		Msg("Input records loaded")

	return records, nil
}
