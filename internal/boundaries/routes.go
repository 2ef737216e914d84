package boundaries

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func SetupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Post("/datasets", CreateDatasetHandler)
	r.Get("/datasets/{id}", GetDatasetHandler)
	r.Get("/uploads/{id}", GetUploadHandler)
	r.Get("/sessions/{id}/summaries", SessionSummariesHandler)
	r.Post("/rematches", UpsertRematchHandler)

	return r
}
