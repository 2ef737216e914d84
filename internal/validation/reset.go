package validation

import (
	"fmt"

	"github.com/GeoRegistry/GR-Backend/internal/boundaries"
	"gorm.io/gorm"
)

// ResetValidation returns an upload to its pre-validation state so it can be
// claimed and validated again: comparisons for its entities are removed, the
// unapproved entity rows it created are deleted, and the upload row is reset.
// Approved entities are never touched.
func ResetValidation(d *gorm.DB, uploadID string) error {
	return d.Transaction(func(tx *gorm.DB) error {
		var upload boundaries.EntityUpload
		if err := tx.First(&upload, "id = ?", uploadID).Error; err != nil {
			return fmt.Errorf("load upload %s: %w", uploadID, err)
		}

		var layerFileIDs []string
		err := tx.Model(&boundaries.LayerFile{}).
			Where("upload_session_id = ?", upload.UploadSessionID).
			Pluck("id", &layerFileIDs).Error
		if err != nil {
			return fmt.Errorf("load layer file ids: %w", err)
		}

		if len(layerFileIDs) > 0 {
			entityIDs := tx.Model(&boundaries.GeographicalEntity{}).
				Select("id").
				Where("layer_file_id IN ? AND is_approved IS NULL", layerFileIDs)

			err = tx.Where("main_boundary_id IN (?)", entityIDs).
				Delete(&boundaries.BoundaryComparison{}).Error
			if err != nil {
				return fmt.Errorf("delete comparisons: %w", err)
			}

			err = tx.Where("layer_file_id IN ? AND is_approved IS NULL", layerFileIDs).
				Delete(&boundaries.GeographicalEntity{}).Error
			if err != nil {
				return fmt.Errorf("delete unapproved entities: %w", err)
			}
		}

		return tx.Model(&upload).Updates(map[string]interface{}{
			"status":            boundaries.StatusStarted,
			"progress":          "",
			"error_report":      nil,
			"revised_entity_id": nil,
			"started_at":        nil,
		}).Error
	})
}
