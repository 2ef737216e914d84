package boundaries

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/GeoRegistry/GR-Backend/internal/db"
	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

func CreateDatasetHandler(w http.ResponseWriter, r *http.Request) {
	var input Dataset
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if input.Label == "" || input.ShortCode == "" {
		http.Error(w, "label and short_code are required", http.StatusBadRequest)
		return
	}

	var existing Dataset
	err := db.DB.Where("short_code = ?", input.ShortCode).First(&existing).Error
	if err == nil {
		http.Error(w, "short_code already in use", http.StatusConflict)
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		http.Error(w, "DB error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if err := db.DB.Create(&input).Error; err != nil {
		http.Error(w, "Failed to create dataset", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(input)
}

func GetDatasetHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var dataset Dataset
	if err := db.DB.First(&dataset, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "Dataset not found", http.StatusNotFound)
			return
		}
		http.Error(w, "DB error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dataset)
}

// GetUploadHandler serves the upload row itself: status, progress text and the
// raw error report, which is what the review UI polls.
func GetUploadHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var upload EntityUpload
	if err := db.DB.First(&upload, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "Upload not found", http.StatusNotFound)
			return
		}
		http.Error(w, "DB error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(upload)
}

func SessionSummariesHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var summaries []LevelSummary
	err := db.DB.Where("upload_session_id = ?", id).
		Order("level asc").Find(&summaries).Error
	if err != nil {
		http.Error(w, "DB error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summaries)
}

// UpsertRematchHandler records a manual parent override for one child code.
// The override is consumed by the next validation run of the session.
func UpsertRematchHandler(w http.ResponseWriter, r *http.Request) {
	var input ParentRematch
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if input.UploadSessionID == "" || input.ChildInternalCode == "" || input.NewParentInternalCode == "" {
		http.Error(w, "upload_session_id, child_internal_code and new_parent_internal_code are required",
			http.StatusBadRequest)
		return
	}

	var existing ParentRematch
	err := db.DB.Where("upload_session_id = ? AND level = ? AND child_internal_code = ?",
		input.UploadSessionID, input.Level, input.ChildInternalCode).First(&existing).Error
	switch {
	case err == nil:
		existing.NewParentInternalCode = input.NewParentInternalCode
		if err := db.DB.Save(&existing).Error; err != nil {
			http.Error(w, "Failed to update rematch", http.StatusInternalServerError)
			return
		}
		input = existing
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := db.DB.Create(&input).Error; err != nil {
			http.Error(w, "Failed to create rematch", http.StatusInternalServerError)
			return
		}
	default:
		http.Error(w, "DB error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(input)
}
