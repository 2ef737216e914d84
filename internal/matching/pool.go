package matching

import (
	"fmt"
	"log"

	"github.com/GeoRegistry/GR-Backend/internal/boundaries"
	"github.com/GeoRegistry/GR-Backend/internal/geometry"
	"gorm.io/gorm"
)

// CandidatePool describes one tier of the candidate search as explicit
// filter parameters, keeping the matcher free of storage-layer coupling.
// Candidates are always restricted to the same dataset, approved rows with
// geometry, the same root-ancestor lineage, and a bounding-box overlap with
// the target before any intersection math runs.
type CandidatePool struct {
	Dataset *boundaries.Dataset
	Target  *boundaries.GeographicalEntity

	// AncestorCode is the unique_code of the prior-revision tree root the
	// target belongs to; matching never crosses top-level units.
	AncestorCode string

	// BatchVersion is the unique_code_version minted for this run;
	// PrevVersion restricts candidates to the most recent version below it.
	BatchVersion int

	SameLevel   bool
	PrevVersion bool

	// AboveThresholds is applied during ranking, not here; carried so one
	// struct describes a full search tier.
	AboveThresholds bool
}

// Fetch loads the candidate entities and decodes their geometries. Rows
// whose stored geometry fails to decode are logged and skipped rather than
// failing the whole tier.
func (p *CandidatePool) Fetch(d *gorm.DB) ([]Candidate, error) {
	q := d.Model(&boundaries.GeographicalEntity{}).
		Where("dataset_id = ?", p.Dataset.ID).
		Where("is_approved = ?", true).
		Where("geometry IS NOT NULL").
		Where(`(level = 0 AND unique_code = ?) OR ancestor_id IN (
			SELECT id FROM georegistry.geographical_entities
			WHERE dataset_id = ? AND level = 0 AND unique_code = ?)`,
			p.AncestorCode, p.Dataset.ID, p.AncestorCode).
		Where("max_x >= ? AND min_x <= ? AND max_y >= ? AND min_y <= ?",
			p.Target.MinX, p.Target.MaxX, p.Target.MinY, p.Target.MaxY)

	if p.SameLevel {
		q = q.Where("level = ?", p.Target.Level)
	}
	if p.PrevVersion {
		q = q.Where(`unique_code_version = (
			SELECT MAX(unique_code_version) FROM georegistry.geographical_entities
			WHERE dataset_id = ? AND is_approved = true AND unique_code_version < ?)`,
			p.Dataset.ID, p.BatchVersion)
	}

	var rows []boundaries.GeographicalEntity
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("fetch candidate pool: %w", err)
	}

	cands := make([]Candidate, 0, len(rows))
	for i := range rows {
		shape, err := geometry.ShapeFromWKB(rows[i].Geometry)
		if err != nil {
			log.Printf("[matching] skipping candidate %s: bad stored geometry: %v",
				rows[i].ID, err)
			continue
		}
		cands = append(cands, Candidate{Entity: &rows[i], Shape: shape})
	}
	return cands, nil
}
