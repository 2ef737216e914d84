package validation

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func SetupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Post("/uploads/{id}/validate", ValidateUploadHandler)
	r.Post("/uploads/{id}/reset", ResetUploadHandler)
	r.Get("/uploads/{id}/error-report", ErrorReportCSVHandler)
	r.Get("/uploads/{id}/importable", ImportableHandler)

	return r
}
