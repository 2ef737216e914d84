package boundaries

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Upload statuses for EntityUpload. A row is claimable only while Started.
const (
	StatusStarted    = "started"
	StatusProcessing = "processing"
	StatusValid      = "valid"
	StatusWarning    = "warning"
	StatusError      = "error"
	StatusMatched    = "matched"
)

// Dataset is one managed boundary collection (typically a country program).
// Threshold fields are the tunables consumed by validation and matching.
type Dataset struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	Label     string `json:"label"`
	ShortCode string `gorm:"uniqueIndex" json:"short_code"`

	// Geometry QC tunables. OverlapsThreshold is a normalized fraction of
	// the smaller geometry's area; GapsThreshold is map units squared.
	Tolerance         float64 `json:"tolerance"`
	OverlapsThreshold float64 `json:"overlaps_threshold"`
	GapsThreshold     float64 `json:"gaps_threshold"`

	// Boundary-matching similarity thresholds (fractions, 0..1).
	SimilarityThresholdNew float64 `json:"geometry_similarity_threshold_new"`
	SimilarityThresholdOld float64 `json:"geometry_similarity_threshold_old"`

	MinPrivacyLevel int `json:"min_privacy_level"`
	MaxPrivacyLevel int `json:"max_privacy_level"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UploadSession groups the layer files of one upload batch for a dataset.
type UploadSession struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	DatasetID   string    `gorm:"type:uuid;index" json:"dataset_id"`
	Dataset     Dataset   `gorm:"foreignKey:DatasetID" json:"-"`
	Source      string    `json:"source"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FieldMapping describes how a feature property maps onto an entity field.
// Exactly one mapping per kind should be flagged Default.
type FieldMapping struct {
	Field   string `json:"field"`
	Label   string `json:"label,omitempty"`
	Default bool   `json:"default"`
}

// FieldMappings is stored as a JSONB column.
type FieldMappings []FieldMapping

func (m *FieldMappings) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("field mappings: unsupported column type")
	}
	return json.Unmarshal(data, m)
}

func (m FieldMappings) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Default returns the mapping flagged as default, or the first one.
func (m FieldMappings) DefaultField() string {
	for _, f := range m {
		if f.Default {
			return f.Field
		}
	}
	if len(m) > 0 {
		return m[0].Field
	}
	return ""
}

// LayerFile is one uploaded file holding all features of a single admin level.
type LayerFile struct {
	ID              string        `gorm:"primaryKey;type:uuid" json:"id"`
	UploadSessionID string        `gorm:"type:uuid;index" json:"upload_session_id"`
	UploadSession   UploadSession `gorm:"foreignKey:UploadSessionID" json:"-"`

	Level    int    `gorm:"index" json:"level"`
	Location string `json:"location"` // path to the GeoJSON file on disk

	IDFields      FieldMappings `gorm:"type:jsonb" json:"id_fields"`
	NameFields    FieldMappings `gorm:"type:jsonb" json:"name_fields"`
	ParentIDField string        `json:"parent_id_field"`
	PrivacyField  string        `json:"privacy_field"`

	AdminLevelName string    `json:"admin_level_name"`
	FeatureCount   int       `json:"feature_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// EntityUpload is the claimable unit of work: one level-0 entity tree to
// validate and match within an upload session. OriginalEntity points at the
// prior-revision ancestor (nil on a first upload); RevisedEntity is filled in
// once level-0 validation creates the new tree root.
type EntityUpload struct {
	ID              string        `gorm:"primaryKey;type:uuid" json:"id"`
	UploadSessionID string        `gorm:"type:uuid;index" json:"upload_session_id"`
	UploadSession   UploadSession `gorm:"foreignKey:UploadSessionID" json:"-"`

	OriginalEntityID *string `gorm:"type:uuid" json:"original_entity_id,omitempty"`
	RevisedEntityID  *string `gorm:"type:uuid" json:"revised_entity_id,omitempty"`

	// Expected level-0 feature identity, from the upload form.
	RevisedEntityCode  string `json:"revised_entity_code"`
	RevisedEntityLabel string `json:"revised_entity_label"`

	Status      string          `gorm:"size:20;default:'started';index" json:"status"`
	Progress    string          `json:"progress"`
	ErrorReport json.RawMessage `gorm:"type:jsonb" json:"error_report,omitempty"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// GeographicalEntity is one administrative boundary at one level and revision.
// ID doubles as the revision identity; ConceptUUID is shared by every revision
// of the same real-world boundary.
type GeographicalEntity struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	DatasetID   string `gorm:"type:uuid;index" json:"dataset_id"`
	LayerFileID string `gorm:"type:uuid;index" json:"layer_file_id"`

	Level          int    `gorm:"index" json:"level"`
	InternalCode   string `gorm:"index" json:"internal_code"`
	Label          string `json:"label"`
	AdminLevelName string `json:"admin_level_name"`

	UniqueCode        string `gorm:"index" json:"unique_code"`
	UniqueCodeVersion int    `gorm:"index" json:"unique_code_version"`
	ConceptUCode      string `gorm:"index" json:"concept_ucode"`
	ConceptUUID       string `gorm:"type:uuid;index" json:"uuid"`

	// Geometry as WKB plus denormalized measures for cheap filtering.
	Geometry    []byte  `gorm:"type:bytea" json:"-"`
	Area        float64 `json:"area"`
	CentroidLng float64 `json:"centroid_lng"`
	CentroidLat float64 `json:"centroid_lat"`
	MinX        float64 `gorm:"index" json:"-"`
	MinY        float64 `json:"-"`
	MaxX        float64 `json:"-"`
	MaxY        float64 `json:"-"`

	IsApproved     *bool `gorm:"index" json:"is_approved"`
	IsValidated    bool  `json:"is_validated"`
	IsLatest       bool  `json:"is_latest"`
	RevisionNumber int   `gorm:"index" json:"revision_number"`

	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`

	PrivacyLevel int `json:"privacy_level"`

	ParentID   *string             `gorm:"type:uuid;index" json:"parent_id,omitempty"`
	Parent     *GeographicalEntity `gorm:"foreignKey:ParentID" json:"-"`
	AncestorID *string             `gorm:"type:uuid;index" json:"ancestor_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// BoundaryComparison links a new entity to at most one prior-revision entity.
// MainBoundaryID is unique so upserts stay idempotent under retries.
type BoundaryComparison struct {
	ID                   string  `gorm:"primaryKey;type:uuid" json:"id"`
	MainBoundaryID       string  `gorm:"type:uuid;uniqueIndex" json:"main_boundary_id"`
	ComparisonBoundaryID *string `gorm:"type:uuid;index" json:"comparison_boundary_id,omitempty"`

	// GeometryOverlapNew: fraction of the OLD candidate covered by the new
	// shape. GeometryOverlapOld: fraction of the NEW shape covered by the
	// candidate. The asymmetric denominators are deliberate.
	GeometryOverlapNew float64 `json:"geometry_overlap_new"`
	GeometryOverlapOld float64 `json:"geometry_overlap_old"`

	IsSameEntity      bool    `json:"is_same_entity"`
	CodeMatch         bool    `json:"code_match"`
	NameSimilarity    float64 `json:"name_similarity"`
	CentroidDistance  float64 `json:"centroid_distance"` // km
	IsParentRematched bool    `json:"is_parent_rematched"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ParentRematch overrides parent resolution for a child code during
// validation; takes precedence over the parent-id field in the source file.
type ParentRematch struct {
	ID                    string    `gorm:"primaryKey;type:uuid" json:"id"`
	UploadSessionID       string    `gorm:"type:uuid;index" json:"upload_session_id"`
	Level                 int       `json:"level"`
	ChildInternalCode     string    `gorm:"index" json:"child_internal_code"`
	NewParentInternalCode string    `json:"new_parent_internal_code"`
	CreatedAt             time.Time `json:"created_at"`
}

// LevelSummary is the per-level aggregate produced by a matching run.
type LevelSummary struct {
	ID              string  `gorm:"primaryKey;type:uuid" json:"id"`
	UploadSessionID string  `gorm:"type:uuid;index" json:"upload_session_id"`
	Level           int     `json:"level"`
	NewCount        int     `json:"new_count"`
	OldCount        int     `json:"old_count"`
	NewTotalArea    float64 `json:"new_total_area"`
	OldTotalArea    float64 `json:"old_total_area"`
	MatchingCount   int     `json:"matching_count"`
	AvgSimilarityNew float64 `json:"avg_similarity_new"`
	AvgSimilarityOld float64 `json:"avg_similarity_old"`

	CreatedAt time.Time `json:"created_at"`
}

func (Dataset) TableName() string            { return "georegistry.datasets" }
func (UploadSession) TableName() string      { return "georegistry.upload_sessions" }
func (LayerFile) TableName() string          { return "georegistry.layer_files" }
func (EntityUpload) TableName() string       { return "georegistry.entity_uploads" }
func (GeographicalEntity) TableName() string { return "georegistry.geographical_entities" }
func (BoundaryComparison) TableName() string { return "georegistry.boundary_comparisons" }
func (ParentRematch) TableName() string      { return "georegistry.parent_rematches" }
func (LevelSummary) TableName() string       { return "georegistry.level_summaries" }

func (d *Dataset) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}

func (s *UploadSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

func (l *LayerFile) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}

func (u *EntityUpload) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}

func (e *GeographicalEntity) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.ConceptUUID == "" {
		// Fresh concept until boundary matching links it to a prior one.
		e.ConceptUUID = uuid.New().String()
	}
	return nil
}

func (c *BoundaryComparison) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

func (p *ParentRematch) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

func (s *LevelSummary) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}
