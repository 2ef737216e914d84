package boundaries

import (
	"context"
	"log"

	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// ProgressSink accepts periodic human-readable progress strings.
type ProgressSink interface {
	Update(message string)
}

// UploadProgress persists progress text onto the EntityUpload row for UI
// polling. Writes are rate-limited so a tight per-feature loop does not turn
// into a database write per feature; the final message can be flushed
// unconditionally with Flush.
type UploadProgress struct {
	db       *gorm.DB
	uploadID string
	limiter  *rate.Limiter
}

func NewUploadProgress(d *gorm.DB, uploadID string) *UploadProgress {
	return &UploadProgress{
		db:       d,
		uploadID: uploadID,
		limiter:  rate.NewLimiter(rate.Limit(2), 1), // at most 2 writes/sec
	}
}

func (p *UploadProgress) Update(message string) {
	if !p.limiter.Allow() {
		return
	}
	p.write(message)
}

// Flush writes unconditionally, waiting out the limiter if needed.
func (p *UploadProgress) Flush(message string) {
	_ = p.limiter.Wait(context.Background())
	p.write(message)
}

func (p *UploadProgress) write(message string) {
	if err := p.db.Model(&EntityUpload{}).
		Where("id = ?", p.uploadID).
		Update("progress", message).Error; err != nil {
		log.Printf("[boundaries] progress update failed for %s: %v", p.uploadID, err)
		return
	}
	log.Printf("[boundaries] %s: %s", p.uploadID, message)
}
