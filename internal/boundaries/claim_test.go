package boundaries_test

import (
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/GeoRegistry/GR-Backend/internal/boundaries"
	"github.com/GeoRegistry/GR-Backend/internal/db"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// dbAvailable tracks whether the database connection was established.
var dbAvailable bool

func TestMain(m *testing.M) {
	// Load .env.local relative to the repo root (two directories up from internal/boundaries/).
	_ = godotenv.Load("../../.env.local")

	if os.Getenv("DATABASE_URL") == "" {
		// No database available — skip all integration tests gracefully.
		os.Exit(m.Run())
	}

	db.Connect()
	dbAvailable = true
	boundaries.Init()

	os.Exit(m.Run())
}

// createTestUpload inserts a claimable upload with its session and dataset,
// registering cleanup for all three rows.
func createTestUpload(t *testing.T) *boundaries.EntityUpload {
	t.Helper()
	if !dbAvailable {
		t.Skip("skipping integration test (requires DATABASE_URL)")
	}

	dataset := boundaries.Dataset{Label: "claim test", ShortCode: "CLM_" + uuid.New().String()[:8]}
	if err := db.DB.Create(&dataset).Error; err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}
	session := boundaries.UploadSession{DatasetID: dataset.ID, Source: "test"}
	if err := db.DB.Create(&session).Error; err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	upload := boundaries.EntityUpload{
		UploadSessionID:   session.ID,
		RevisedEntityCode: "PAK",
		Status:            boundaries.StatusStarted,
	}
	if err := db.DB.Create(&upload).Error; err != nil {
		t.Fatalf("failed to create upload: %v", err)
	}

	t.Cleanup(func() {
		db.DB.Where("id = ?", upload.ID).Delete(&boundaries.EntityUpload{})
		db.DB.Where("id = ?", session.ID).Delete(&boundaries.UploadSession{})
		db.DB.Where("id = ?", dataset.ID).Delete(&boundaries.Dataset{})
	})
	return &upload
}

// TestClaimUpload_ExactlyOneWinner races two claims for the same upload and
// verifies that exactly one succeeds and the loser sees ErrNoWork.
func TestClaimUpload_ExactlyOneWinner(t *testing.T) {
	upload := createTestUpload(t)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = boundaries.ClaimUpload(db.DB, upload.ID)
		}(i)
	}
	wg.Wait()

	winners, losers := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, boundaries.ErrNoWork):
			losers++
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if winners != 1 || losers != 1 {
		t.Fatalf("expected exactly one winner and one loser, got %d/%d", winners, losers)
	}

	var after boundaries.EntityUpload
	if err := db.DB.First(&after, "id = ?", upload.ID).Error; err != nil {
		t.Fatalf("reload upload: %v", err)
	}
	if after.Status != boundaries.StatusProcessing {
		t.Errorf("expected status %q, got %q", boundaries.StatusProcessing, after.Status)
	}
	if after.StartedAt == nil {
		t.Error("expected started_at to be set")
	}
}

// TestClaimUpload_AlreadyClaimed verifies that a second sequential claim sees
// ErrNoWork once the status has left "started".
func TestClaimUpload_AlreadyClaimed(t *testing.T) {
	upload := createTestUpload(t)

	if _, err := boundaries.ClaimUpload(db.DB, upload.ID); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if _, err := boundaries.ClaimUpload(db.DB, upload.ID); !errors.Is(err, boundaries.ErrNoWork) {
		t.Fatalf("expected ErrNoWork on second claim, got %v", err)
	}
}

// TestClaimUpload_UnknownID verifies the not-found path maps to ErrNoWork.
func TestClaimUpload_UnknownID(t *testing.T) {
	if !dbAvailable {
		t.Skip("skipping integration test (requires DATABASE_URL)")
	}
	if _, err := boundaries.ClaimUpload(db.DB, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, boundaries.ErrNoWork) {
		t.Fatalf("expected ErrNoWork, got %v", err)
	}
}
