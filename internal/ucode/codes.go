// Package ucode generates the stable hierarchical identifiers stamped onto
// boundary entities: unique_code (parent-prefixed, zero-padded sequence),
// unique_code_version (one integer per upload batch) and concept_ucode (one
// per real-world boundary, never regenerated).
package ucode

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/GeoRegistry/GR-Backend/internal/boundaries"
	"gorm.io/gorm"
)

// SequenceDigits is the zero-padding width of the per-parent sequence.
const SequenceDigits = 4

// Format builds a unique code from a parent code and sequence number,
// e.g. ("PAK", 1) -> "PAK_0001". Level-0 codes have no parent prefix and
// come straight from the entity's own identity.
func Format(parentCode string, sequence int) string {
	return fmt.Sprintf("%s_%0*d", parentCode, SequenceDigits, sequence)
}

// Ucode is the externally exposed composite of code and version,
// e.g. "PAK_0001_V2".
func Ucode(code string, version int) string {
	return fmt.Sprintf("%s_V%d", code, version)
}

// SplitSequence extracts the numeric sequence suffix of a unique code under
// the given parent prefix. Returns ok=false for codes of other parents or
// with non-numeric suffixes.
func SplitSequence(code, parentCode string) (int, bool) {
	prefix := parentCode + "_"
	if !strings.HasPrefix(code, prefix) {
		return 0, false
	}
	suffix := code[len(prefix):]
	if strings.Contains(suffix, "_") {
		// A deeper descendant, e.g. PAK_0001_0002 under parent PAK.
		return 0, false
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return n, true
}

// NextVersion mints the unique_code_version for a new batch: one greater
// than the highest version ever used in the dataset.
func NextVersion(d *gorm.DB, datasetID string) (int, error) {
	var max *int
	err := d.Model(&boundaries.GeographicalEntity{}).
		Where("dataset_id = ?", datasetID).
		Select("MAX(unique_code_version)").
		Scan(&max).Error
	if err != nil {
		return 0, fmt.Errorf("query max version: %w", err)
	}
	if max == nil {
		return 1, nil
	}
	return *max + 1, nil
}

// MaxSequence finds the highest sequence number already used under one
// (dataset, level, parent) group, across all versions.
func MaxSequence(d *gorm.DB, datasetID string, level int, parentCode string) (int, error) {
	var codes []string
	err := d.Model(&boundaries.GeographicalEntity{}).
		Where("dataset_id = ? AND level = ? AND unique_code LIKE ?",
			datasetID, level, parentCode+"\\_%").
		Pluck("unique_code", &codes).Error
	if err != nil {
		return 0, fmt.Errorf("query sequences under %s: %w", parentCode, err)
	}

	max := 0
	for _, c := range codes {
		if n, ok := SplitSequence(c, parentCode); ok && n > max {
			max = n
		}
	}
	return max, nil
}

// codeTaken re-checks availability of a candidate code in its
// (dataset, level, version) scope — matched entities may already have
// claimed numbers in this same batch.
func codeTaken(d *gorm.DB, datasetID string, level, version int, code string) (bool, error) {
	var n int64
	err := d.Model(&boundaries.GeographicalEntity{}).
		Where("dataset_id = ? AND level = ? AND unique_code_version = ? AND unique_code = ?",
			datasetID, level, version, code).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GenerateForNewEntities fills in unique_code for every entity of the given
// layer files still lacking one. Entities are processed level-ascending and
// grouped by parent; each group's sequence starts one past the highest
// number already used under that parent and every candidate is re-checked
// against the database before assignment.
func GenerateForNewEntities(d *gorm.DB, dataset *boundaries.Dataset, layerFileIDs []string, version int) error {
	var pending []boundaries.GeographicalEntity
	err := d.Where("layer_file_id IN ? AND unique_code = ''", layerFileIDs).
		Order("level asc, internal_code asc").
		Find(&pending).Error
	if err != nil {
		return fmt.Errorf("load pending entities: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	// Parent unique codes resolve against both previously assigned rows and
	// codes assigned earlier in this pass (levels ascend, so parents of any
	// pending entity are already done by the time we reach it).
	assigned := map[string]string{} // entity id -> unique code

	parentCode := func(e *boundaries.GeographicalEntity) (string, error) {
		if e.ParentID == nil {
			return "", nil
		}
		if c, ok := assigned[*e.ParentID]; ok {
			return c, nil
		}
		var parent boundaries.GeographicalEntity
		if err := d.Select("id", "unique_code").First(&parent, "id = ?", *e.ParentID).Error; err != nil {
			return "", fmt.Errorf("load parent %s: %w", *e.ParentID, err)
		}
		assigned[parent.ID] = parent.UniqueCode
		return parent.UniqueCode, nil
	}

	type group struct {
		level  int
		parent string
	}
	groups := map[group][]*boundaries.GeographicalEntity{}
	var order []group
	for i := range pending {
		e := &pending[i]
		pc, err := parentCode(e)
		if err != nil {
			return err
		}
		g := group{level: e.Level, parent: pc}
		if _, ok := groups[g]; !ok {
			order = append(order, g)
		}
		groups[g] = append(groups[g], e)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].level != order[j].level {
			return order[i].level < order[j].level
		}
		return order[i].parent < order[j].parent
	})

	conceptSeq, err := maxConceptSequence(d, dataset)
	if err != nil {
		return err
	}

	for _, g := range order {
		entities := groups[g]
		sort.Slice(entities, func(i, j int) bool {
			return entities[i].InternalCode < entities[j].InternalCode
		})

		seq := 0
		if g.parent != "" {
			max, err := MaxSequence(d, dataset.ID, g.level, g.parent)
			if err != nil {
				return err
			}
			seq = max
		}

		for _, e := range entities {
			var code string
			if g.parent == "" {
				// Level 0: the entity's own identity is the code.
				code = strings.ToUpper(e.InternalCode)
			} else {
				for {
					seq++
					code = Format(g.parent, seq)
					taken, err := codeTaken(d, dataset.ID, g.level, version, code)
					if err != nil {
						return err
					}
					if !taken {
						break
					}
				}
			}

			e.UniqueCode = code
			e.UniqueCodeVersion = version
			if e.ConceptUCode == "" {
				conceptSeq++
				e.ConceptUCode = ConceptCode(dataset.ShortCode, conceptSeq)
			}
			if err := d.Model(e).Updates(map[string]interface{}{
				"unique_code":         e.UniqueCode,
				"unique_code_version": e.UniqueCodeVersion,
				"concept_ucode":       e.ConceptUCode,
			}).Error; err != nil {
				return fmt.Errorf("assign code %s to %s: %w", code, e.ID, err)
			}
			assigned[e.ID] = code
		}
	}

	return nil
}
