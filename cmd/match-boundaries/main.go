package main

import (
	"flag"
	"log"
	"os"

	"github.com/GeoRegistry/GR-Backend/internal/boundaries"
	"github.com/GeoRegistry/GR-Backend/internal/db"
	"github.com/GeoRegistry/GR-Backend/internal/matching"
	"github.com/joho/godotenv"
)

func main() {
	var (
		uploadID = flag.String("upload", "", "validated entity upload ID to match")
		dbURL    = flag.String("db", "", "DATABASE_URL (falls back to env)")
	)
	flag.Parse()

	if *uploadID == "" {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load(".env.local")
	if *dbURL != "" {
		os.Setenv("DATABASE_URL", *dbURL)
	}
	db.Connect()
	boundaries.Init()

	ctx, err := matching.LoadRunContext(db.DB, *uploadID)
	if err != nil {
		log.Fatal(err)
	}
	ctx.Progress = boundaries.NewUploadProgress(db.DB, *uploadID)

	summaries, err := matching.RunBoundaryMatching(ctx)
	if err != nil {
		log.Fatal(err)
	}

	for _, s := range summaries {
		log.Printf("level %d: %d new (%d matched) vs %d prior, avg overlap new/old %.3f/%.3f",
			s.Level, s.NewCount, s.MatchingCount, s.OldCount,
			s.AvgSimilarityNew, s.AvgSimilarityOld)
	}
}
