package ucode

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/GeoRegistry/GR-Backend/internal/boundaries"
	"gorm.io/gorm"
)

// ConceptCode renders a concept ucode, e.g. ("PAK", 3) -> "#PAK_3".
// A concept ucode is minted once the first time a concept is created and is
// inherited unchanged by every later revision, even when unique_code moves.
func ConceptCode(datasetShortCode string, sequence int) string {
	return fmt.Sprintf("#%s_%d", datasetShortCode, sequence)
}

// maxConceptSequence finds the highest concept sequence minted so far for a
// dataset so new concepts continue from there.
func maxConceptSequence(d *gorm.DB, dataset *boundaries.Dataset) (int, error) {
	prefix := "#" + dataset.ShortCode + "_"

	var codes []string
	err := d.Model(&boundaries.GeographicalEntity{}).
		Where("dataset_id = ? AND concept_ucode LIKE ?", dataset.ID,
			"#"+dataset.ShortCode+"\\_%").
		Pluck("concept_ucode", &codes).Error
	if err != nil {
		return 0, fmt.Errorf("query concept codes: %w", err)
	}

	max := 0
	for _, c := range codes {
		if !strings.HasPrefix(c, prefix) {
			continue
		}
		if n, err := strconv.Atoi(c[len(prefix):]); err == nil && n > max {
			max = n
		}
	}
	return max, nil
}
