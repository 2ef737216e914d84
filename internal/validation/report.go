package validation

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"sort"
	"strconv"

	"github.com/GeoRegistry/GR-Backend/internal/boundaries"
)

// FeatureError is one row of the per-feature error report: a feature that
// failed at least one check, with the detail of every check it failed.
type FeatureError struct {
	Level  int                  `json:"level"`
	Code   string               `json:"code"`
	Label  string               `json:"label"`
	Errors map[ErrorType]string `json:"errors"`
}

// LevelReport accumulates check failures for one admin level.
type LevelReport struct {
	Level  int               `json:"level"`
	Counts map[ErrorType]int `json:"counts"`
	Rows   []*FeatureError   `json:"rows"`
}

// Report is the full validation error report for one upload run. It is built
// incrementally during validation and immutable once the run completes.
type Report struct {
	Levels []*LevelReport `json:"levels"`
}

func NewReport() *Report {
	return &Report{}
}

func (r *Report) level(level int) *LevelReport {
	for _, lr := range r.Levels {
		if lr.Level == level {
			return lr
		}
	}
	lr := &LevelReport{Level: level, Counts: map[ErrorType]int{}}
	r.Levels = append(r.Levels, lr)
	sort.Slice(r.Levels, func(i, j int) bool { return r.Levels[i].Level < r.Levels[j].Level })
	return lr
}

func (r *Report) row(level int, code, label string) *FeatureError {
	lr := r.level(level)
	for _, row := range lr.Rows {
		if row.Code == code {
			return row
		}
	}
	row := &FeatureError{Level: level, Code: code, Label: label, Errors: map[ErrorType]string{}}
	lr.Rows = append(lr.Rows, row)
	return row
}

// Record adds one check failure for a feature, bumping the level counter and
// the feature's error row.
func (r *Report) Record(level int, code, label string, t ErrorType, detail string) {
	lr := r.level(level)
	lr.Counts[t]++
	row := r.row(level, code, label)
	if existing, ok := row.Errors[t]; ok && existing != "" {
		// Keep the first detail; later duplicates only bump the count.
		return
	}
	row.Errors[t] = detail
}

// Totals partitions the accumulated error counts into allowable notices and
// blocking errors, and reports which blocking types occurred.
func (r *Report) Totals(cfg *Config) (allowable, blocking int, blockingTypes []ErrorType) {
	seen := map[ErrorType]bool{}
	for _, lr := range r.Levels {
		for t, n := range lr.Counts {
			if cfg.IsAllowable(t) {
				allowable += n
				continue
			}
			blocking += n
			if !seen[t] {
				seen[t] = true
				blockingTypes = append(blockingTypes, t)
			}
		}
	}
	return allowable, blocking, blockingTypes
}

// Status collapses the report to the overall upload status: valid when clean,
// warning when only allowable notices occurred, error otherwise.
func (r *Report) Status(cfg *Config) string {
	allowable, blocking, _ := r.Totals(cfg)
	switch {
	case blocking > 0:
		return boundaries.StatusError
	case allowable > 0:
		return boundaries.StatusWarning
	default:
		return boundaries.StatusValid
	}
}

// MarshalForStorage renders the report as JSON for the entity_uploads row.
func (r *Report) MarshalForStorage() (json.RawMessage, error) {
	return json.Marshal(r)
}

// ReportFromStorage rebuilds a report from its stored JSON form.
func ReportFromStorage(data json.RawMessage) (*Report, error) {
	if len(data) == 0 {
		return NewReport(), nil
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// WriteCSV renders the downloadable per-feature error report: one row per
// failing feature, one column per error type in canonical order.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	header := []string{"Level", "Code", "Label"}
	for _, t := range AllErrorTypes {
		header = append(header, string(t))
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, lr := range r.Levels {
		for _, row := range lr.Rows {
			rec := []string{strconv.Itoa(row.Level), row.Code, row.Label}
			for _, t := range AllErrorTypes {
				if detail, ok := row.Errors[t]; ok {
					if detail == "" {
						detail = "1"
					}
					rec = append(rec, detail)
				} else {
					rec = append(rec, "")
				}
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}
