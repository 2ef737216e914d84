package matching

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func SetupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Post("/uploads/{id}/match", MatchUploadHandler)
	r.Get("/uploads/{id}/comparisons", ComparisonsHandler)

	return r
}
