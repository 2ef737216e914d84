package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/GeoRegistry/GR-Backend/internal/boundaries"
	"github.com/GeoRegistry/GR-Backend/internal/db"
	"github.com/GeoRegistry/GR-Backend/internal/matching"
	"github.com/GeoRegistry/GR-Backend/internal/middleware"
	"github.com/GeoRegistry/GR-Backend/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
)

func RootHandler(w http.ResponseWriter, r *http.Request) {
	response := "Server is up!"
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, response)
}

func main() {
	_ = godotenv.Load(".env.local")
	db.Connect()

	port := os.Getenv("PORT")
	if port == "" {
		port = "5050"
	}

	boundaries.Init()

	r := chi.NewRouter()
	r.Use(middleware.CORSMiddleware)
	r.Use(middleware.ActingUserMiddleware)
	r.Get("/", RootHandler)

	r.Mount("/boundaries", boundaries.SetupRoutes())
	r.Mount("/validation", validation.SetupRoutes())
	r.Mount("/matching", matching.SetupRoutes())

	fmt.Println("Server listening on port :" + port + "...")

	http.ListenAndServe("0.0.0.0:"+port, r)
}
