package boundaries

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoWork means the upload is already claimed (or finished) — the caller
// should walk away, not retry.
var ErrNoWork = errors.New("no claimable upload")

// ClaimUpload atomically claims an EntityUpload for processing using
// SELECT ... FOR UPDATE SKIP LOCKED. Of two near-simultaneous claims on the
// same row exactly one wins; the loser sees ErrNoWork immediately instead of
// blocking, and still sees ErrNoWork after the winner commits because the
// status has left "started".
func ClaimUpload(d *gorm.DB, uploadID string) (*EntityUpload, error) {
	var claimed *EntityUpload

	err := d.Transaction(func(tx *gorm.DB) error {
		var up EntityUpload
		res := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("id = ? AND status = ?", uploadID, StatusStarted).
			First(&up)
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrRecordNotFound) {
				return ErrNoWork
			}
			return res.Error
		}

		now := time.Now()
		up.Status = StatusProcessing
		up.StartedAt = &now
		up.Progress = "claimed"
		if err := tx.Save(&up).Error; err != nil {
			return err
		}

		claimed = &up
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
