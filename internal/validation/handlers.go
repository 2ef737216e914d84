package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/GeoRegistry/GR-Backend/internal/boundaries"
	"github.com/GeoRegistry/GR-Backend/internal/db"
	"github.com/GeoRegistry/GR-Backend/internal/utils"
	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

// ValidateUploadHandler claims the upload and runs validation in the
// background; callers poll the upload row for progress and outcome. A 409
// means another worker already holds the claim.
func ValidateUploadHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := boundaries.ClaimUpload(db.DB, id); err != nil {
		if errors.Is(err, boundaries.ErrNoWork) {
			http.Error(w, "Upload is not claimable", http.StatusConflict)
			return
		}
		http.Error(w, "DB error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	go func() {
		ctx, err := LoadUploadContext(db.DB, id)
		if err != nil {
			log.Printf("[validation] upload %s: %v", id, err)
			return
		}
		ctx.Progress = boundaries.NewUploadProgress(db.DB, id)
		if _, _, err := ValidateUpload(ctx); err != nil {
			log.Printf("[validation] upload %s: %v", id, err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintln(w, "Validation started")
}

// ErrorReportCSVHandler serves the validation error report as a downloadable
// CSV, one row per failing feature.
func ErrorReportCSVHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var upload boundaries.EntityUpload
	if err := db.DB.First(&upload, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "Upload not found", http.StatusNotFound)
			return
		}
		http.Error(w, "DB error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if len(upload.ErrorReport) == 0 {
		http.Error(w, "Upload has no error report", http.StatusNotFound)
		return
	}

	report, err := ReportFromStorage(upload.ErrorReport)
	if err != nil {
		http.Error(w, "Stored error report is unreadable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "error_report_"+id+".csv"))
	if err := report.WriteCSV(w); err != nil {
		log.Printf("[validation] error report download for %s: %v", id, err)
	}
}

// ResetUploadHandler returns a finished or stuck upload to the claimable
// state, discarding its unapproved entities.
func ResetUploadHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := ResetValidation(db.DB, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "Upload not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to reset upload: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Upload reset")
}

// ImportableHandler answers whether the acting user may move the upload
// forward, and whether doing so needs confirmation first.
func ImportableHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var upload boundaries.EntityUpload
	if err := db.DB.First(&upload, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "Upload not found", http.StatusNotFound)
			return
		}
		http.Error(w, "DB error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	ctxUser, _ := utils.GetActingUserFromContext(r.Context())
	importable, warn := IsImportable(&upload, LoadConfig(), ActingUser{
		ID:           ctxUser.ID,
		IsSuperadmin: ctxUser.IsSuperadmin,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"importable": importable,
		"is_warning": warn,
		"status":     upload.Status,
	})
}
