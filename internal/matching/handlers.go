package matching

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/GeoRegistry/GR-Backend/internal/boundaries"
	"github.com/GeoRegistry/GR-Backend/internal/db"
	"github.com/GeoRegistry/GR-Backend/internal/utils"
	"github.com/GeoRegistry/GR-Backend/internal/validation"
	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

// MatchUploadHandler starts a boundary-matching run for a validated upload in
// the background. Errored uploads are matchable only through the superadmin
// bypass, same gate as import.
func MatchUploadHandler(w http.ResponseWriter, r *http.Request) {
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
	importable, _ := validation.IsImportable(&upload, validation.LoadConfig(), validation.ActingUser{
		ID:           ctxUser.ID,
		IsSuperadmin: ctxUser.IsSuperadmin,
	})
	if !importable {
		http.Error(w, "Upload is not importable in its current state", http.StatusConflict)
		return
	}

	go func() {
		ctx, err := LoadRunContext(db.DB, id)
		if err != nil {
			log.Printf("[matching] upload %s: %v", id, err)
			return
		}
		ctx.Progress = boundaries.NewUploadProgress(db.DB, id)
		if _, err := RunBoundaryMatching(ctx); err != nil {
			log.Printf("[matching] upload %s: %v", id, err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintln(w, "Matching started")
}

// ComparisonsHandler lists the comparison rows for an upload's entity tree,
// the raw material of the review screen.
func ComparisonsHandler(w http.ResponseWriter, r *http.Request) {
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
	if upload.RevisedEntityID == nil {
		http.Error(w, "Upload has no validated entities", http.StatusConflict)
		return
	}

	var comparisons []boundaries.BoundaryComparison
	err := db.DB.
		Where(`main_boundary_id IN (
			SELECT id FROM georegistry.geographical_entities
			WHERE id = ? OR ancestor_id = ?)`,
			*upload.RevisedEntityID, *upload.RevisedEntityID).
		Find(&comparisons).Error
	if err != nil {
		http.Error(w, "DB error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(comparisons)
}
