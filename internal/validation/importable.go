package validation

import (
	"github.com/GeoRegistry/GR-Backend/internal/boundaries"
)

// ActingUser is the minimal identity importability decisions depend on.
type ActingUser struct {
	ID           string
	IsSuperadmin bool
}

// IsImportable decides whether a validated upload may proceed to import. The
// first return is the decision; the second says the import needs the user's
// confirmation — the upload carries warnings, or an errored upload is going
// through on the superadmin bypass. Valid and warning uploads import for
// anyone; an errored upload imports only when every blocking error type in
// its report is bypassable and the acting user is a superadmin.
func IsImportable(upload *boundaries.EntityUpload, cfg *Config, user ActingUser) (bool, bool) {
	switch upload.Status {
	case boundaries.StatusValid:
		return true, false
	case boundaries.StatusWarning:
		return true, true
	case boundaries.StatusError:
	default:
		return false, false
	}

	if !user.IsSuperadmin || len(upload.ErrorReport) == 0 {
		return false, false
	}
	report, err := ReportFromStorage(upload.ErrorReport)
	if err != nil {
		return false, false
	}

	_, blocking, blockingTypes := report.Totals(cfg)
	if blocking == 0 {
		return true, false
	}
	for _, t := range blockingTypes {
		if !cfg.IsBypassable(t) {
			return false, false
		}
	}
	return true, true
}
