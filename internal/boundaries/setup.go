package boundaries

import (
	"log"

	"github.com/GeoRegistry/GR-Backend/internal/db"
)

func Init() {
	// Ensure the georegistry schema exists
	if err := db.EnsureSchema(db.DB, "georegistry"); err != nil {
		log.Fatal("Failed to ensure schema georegistry: ", err)
	}

	if err := db.DB.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error; err != nil {
		log.Fatal("Failed to enable uuid-ossp extension:", err)
	}

	if err := db.DB.AutoMigrate(
		&Dataset{},
		&UploadSession{},
		&LayerFile{},
		&EntityUpload{},
		&GeographicalEntity{},
		&BoundaryComparison{},
		&ParentRematch{},
		&LevelSummary{},
	); err != nil {
		log.Fatal("Failed to auto-migrate tables", err)
	}

	// Composite index backing the bbox pre-filter in candidate pools.
	if err := db.DB.Exec(`
        CREATE INDEX IF NOT EXISTS entities_bbox_idx
        ON georegistry.geographical_entities (dataset_id, min_x, max_x, min_y, max_y);
    `).Error; err != nil {
		log.Fatal("Failed to create entities_bbox_idx", err)
	}

	// One unique code per (dataset, level, version) once assigned.
	if err := db.DB.Exec(`
        CREATE UNIQUE INDEX IF NOT EXISTS entities_unique_code_version_idx
        ON georegistry.geographical_entities (dataset_id, level, unique_code, unique_code_version)
        WHERE unique_code <> '';
    `).Error; err != nil {
		log.Fatal("Failed to create entities_unique_code_version_idx", err)
	}
}
