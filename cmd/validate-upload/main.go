package main

import (
	"flag"
	"log"
	"os"

	"github.com/GeoRegistry/GR-Backend/internal/boundaries"
	"github.com/GeoRegistry/GR-Backend/internal/db"
	"github.com/GeoRegistry/GR-Backend/internal/validation"
	"github.com/joho/godotenv"
)

func main() {
	var (
		uploadID = flag.String("upload", "", "entity upload ID to validate")
		dbURL    = flag.String("db", "", "DATABASE_URL (falls back to env)")
		reset    = flag.Bool("reset", false, "reset the upload to claimable before validating")
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

	if *reset {
		if err := validation.ResetValidation(db.DB, *uploadID); err != nil {
			log.Fatal(err)
		}
	}

	if _, err := boundaries.ClaimUpload(db.DB, *uploadID); err != nil {
		log.Fatal(err)
	}

	ctx, err := validation.LoadUploadContext(db.DB, *uploadID)
	if err != nil {
		log.Fatal(err)
	}
	ctx.Progress = boundaries.NewUploadProgress(db.DB, *uploadID)

	ok, report, err := validation.ValidateUpload(ctx)
	if err != nil {
		log.Fatal(err)
	}

	if !ok {
		log.Printf("upload %s failed validation; writing error report to stdout", *uploadID)
		if err := report.WriteCSV(os.Stdout); err != nil {
			log.Fatal(err)
		}
		os.Exit(1)
	}
	log.Printf("upload %s validated", *uploadID)
}
