package validation_test

import (
	"os"
	"testing"

	"github.com/GeoRegistry/GR-Backend/internal/boundaries"
	"github.com/GeoRegistry/GR-Backend/internal/db"
	"github.com/GeoRegistry/GR-Backend/internal/validation"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dbAvailable tracks whether the database connection was established.
var dbAvailable bool

func TestMain(m *testing.M) {
	// Load .env.local relative to the repo root (two directories up from internal/validation/).
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

type fixture struct {
	dataset *boundaries.Dataset
	session *boundaries.UploadSession
	layer0  *boundaries.LayerFile
	layer1  *boundaries.LayerFile
	upload  *boundaries.EntityUpload
}

// newFixture builds a dataset with a two-level upload session and registers
// cleanup for every row it creates, entities included.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	if !dbAvailable {
		t.Skip("skipping integration test (requires DATABASE_URL)")
	}

	f := &fixture{}
	f.dataset = &boundaries.Dataset{
		Label:                  "validation test",
		ShortCode:              "VAL_" + uuid.New().String()[:8],
		Tolerance:              0.001,
		OverlapsThreshold:      0.01,
		GapsThreshold:          0.01,
		SimilarityThresholdNew: 0.8,
		SimilarityThresholdOld: 0.8,
		MinPrivacyLevel:        1,
		MaxPrivacyLevel:        4,
	}
	require.NoError(t, db.DB.Create(f.dataset).Error)

	f.session = &boundaries.UploadSession{DatasetID: f.dataset.ID, Source: "test"}
	require.NoError(t, db.DB.Create(f.session).Error)

	mapping := func(field string) boundaries.FieldMappings {
		return boundaries.FieldMappings{{Field: field, Default: true}}
	}
	f.layer0 = &boundaries.LayerFile{
		UploadSessionID: f.session.ID,
		Level:           0,
		IDFields:        mapping("code"),
		NameFields:      mapping("name"),
		AdminLevelName:  "Country",
	}
	require.NoError(t, db.DB.Create(f.layer0).Error)

	f.layer1 = &boundaries.LayerFile{
		UploadSessionID: f.session.ID,
		Level:           1,
		IDFields:        mapping("code"),
		NameFields:      mapping("name"),
		ParentIDField:   "parent",
		PrivacyField:    "privacy",
		AdminLevelName:  "Province",
	}
	require.NoError(t, db.DB.Create(f.layer1).Error)

	f.upload = &boundaries.EntityUpload{
		UploadSessionID:    f.session.ID,
		RevisedEntityCode:  "PAK",
		RevisedEntityLabel: "Pakistan",
		Status:             boundaries.StatusProcessing,
	}
	require.NoError(t, db.DB.Create(f.upload).Error)

	t.Cleanup(func() {
		layerIDs := []string{f.layer0.ID, f.layer1.ID}
		db.DB.Exec(`DELETE FROM georegistry.boundary_comparisons WHERE main_boundary_id IN
			(SELECT id FROM georegistry.geographical_entities WHERE layer_file_id IN ?)`, layerIDs)
		db.DB.Where("layer_file_id IN ?", layerIDs).Delete(&boundaries.GeographicalEntity{})
		db.DB.Where("id = ?", f.upload.ID).Delete(&boundaries.EntityUpload{})
		db.DB.Where("id IN ?", layerIDs).Delete(&boundaries.LayerFile{})
		db.DB.Where("id = ?", f.session.ID).Delete(&boundaries.UploadSession{})
		db.DB.Where("id = ?", f.dataset.ID).Delete(&boundaries.Dataset{})
	})
	return f
}

func poly(points ...orb.Point) orb.Geometry {
	ring := append(orb.Ring{}, points...)
	ring = append(ring, points[0])
	return orb.Polygon{ring}
}

func feature(g orb.Geometry, props map[string]interface{}) validation.Feature {
	return validation.Feature{Geometry: g, Properties: props}
}

// sources builds a clean two-level country: PAK split into two provinces that
// tile it exactly.
func cleanSources() map[int]validation.FeatureSource {
	country := poly(orb.Point{0, 0}, orb.Point{2, 0}, orb.Point{2, 2}, orb.Point{0, 2})
	west := poly(orb.Point{0, 0}, orb.Point{1, 0}, orb.Point{1, 2}, orb.Point{0, 2})
	east := poly(orb.Point{1, 0}, orb.Point{2, 0}, orb.Point{2, 2}, orb.Point{1, 2})

	return map[int]validation.FeatureSource{
		0: validation.SliceSource{
			feature(country, map[string]interface{}{"code": "PAK", "name": "Pakistan"}),
		},
		1: validation.SliceSource{
			feature(west, map[string]interface{}{
				"code": "PK01", "name": "West Province", "parent": "PAK", "privacy": 2,
			}),
			feature(east, map[string]interface{}{
				"code": "PK02", "name": "East Province", "parent": "PAK", "privacy": 3,
			}),
		},
	}
}

func runValidation(t *testing.T, f *fixture, sources map[int]validation.FeatureSource) (bool, *validation.Report) {
	t.Helper()
	ctx, err := validation.LoadUploadContext(db.DB, f.upload.ID)
	require.NoError(t, err)
	ctx.Sources = sources

	ok, report, err := validation.ValidateUpload(ctx)
	require.NoError(t, err)
	return ok, report
}

func countEntities(t *testing.T, f *fixture) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.DB.Model(&boundaries.GeographicalEntity{}).
		Where("layer_file_id IN ?", []string{f.layer0.ID, f.layer1.ID}).
		Count(&n).Error)
	return n
}

func TestValidateUpload_CleanCountry(t *testing.T) {
	f := newFixture(t)

	ok, report := runValidation(t, f, cleanSources())
	assert.True(t, ok)
	assert.Empty(t, report.Levels, "clean input produces an empty report")
	assert.EqualValues(t, 3, countEntities(t, f))

	var upload boundaries.EntityUpload
	require.NoError(t, db.DB.First(&upload, "id = ?", f.upload.ID).Error)
	assert.Equal(t, boundaries.StatusValid, upload.Status)
	require.NotNil(t, upload.RevisedEntityID)

	// Province rows hang off the level-0 root.
	var provinces []boundaries.GeographicalEntity
	require.NoError(t, db.DB.Where("layer_file_id = ?", f.layer1.ID).Find(&provinces).Error)
	require.Len(t, provinces, 2)
	for _, p := range provinces {
		require.NotNil(t, p.ParentID)
		assert.Equal(t, *upload.RevisedEntityID, *p.ParentID)
		require.NotNil(t, p.AncestorID)
		assert.Nil(t, p.IsApproved, "approval is pending after validation")
		assert.Equal(t, 1, p.RevisionNumber)
	}
}

func TestValidateUpload_Rerun_IsIdempotent(t *testing.T) {
	f := newFixture(t)

	runValidation(t, f, cleanSources())
	first := countEntities(t, f)

	ok, _ := runValidation(t, f, cleanSources())
	assert.True(t, ok)
	assert.Equal(t, first, countEntities(t, f), "re-validation updates rows in place")
}

func TestValidateUpload_MissingLevelZeroFeature(t *testing.T) {
	f := newFixture(t)

	sources := cleanSources()
	sources[0] = validation.SliceSource{
		feature(poly(orb.Point{0, 0}, orb.Point{2, 0}, orb.Point{2, 2}, orb.Point{0, 2}),
			map[string]interface{}{"code": "IND", "name": "Somewhere Else"}),
	}

	ok, report := runValidation(t, f, sources)
	assert.False(t, ok)

	require.NotEmpty(t, report.Levels)
	assert.Equal(t, 1, report.Levels[0].Counts[validation.ErrMissingCode])
	// With no level-0 anchor, level 1 reports a hierarchy failure wholesale.
	assert.Equal(t, 1, report.Levels[1].Counts[validation.ErrParentCodeHierarchy])
}

func TestValidateUpload_OverlappingProvinces(t *testing.T) {
	f := newFixture(t)

	country := poly(orb.Point{0, 0}, orb.Point{2, 0}, orb.Point{2, 2}, orb.Point{0, 2})
	west := poly(orb.Point{0, 0}, orb.Point{1.5, 0}, orb.Point{1.5, 2}, orb.Point{0, 2})
	east := poly(orb.Point{0.5, 0}, orb.Point{2, 0}, orb.Point{2, 2}, orb.Point{0.5, 2})

	sources := map[int]validation.FeatureSource{
		0: validation.SliceSource{
			feature(country, map[string]interface{}{"code": "PAK", "name": "Pakistan"}),
		},
		1: validation.SliceSource{
			feature(west, map[string]interface{}{"code": "PK01", "name": "West", "parent": "PAK"}),
			feature(east, map[string]interface{}{"code": "PK02", "name": "East", "parent": "PAK"}),
		},
	}

	ok, report := runValidation(t, f, sources)
	assert.False(t, ok)

	found := false
	for _, lr := range report.Levels {
		if lr.Counts[validation.ErrOverlaps] > 0 {
			found = true
		}
	}
	assert.True(t, found, "expected an overlap failure at level 1")

	var upload boundaries.EntityUpload
	require.NoError(t, db.DB.First(&upload, "id = ?", f.upload.ID).Error)
	assert.Equal(t, boundaries.StatusError, upload.Status)
}

func TestValidateUpload_PrivacyUpgradeIsWarning(t *testing.T) {
	f := newFixture(t)

	sources := cleanSources()
	sources[1] = validation.SliceSource{
		feature(poly(orb.Point{0, 0}, orb.Point{1, 0}, orb.Point{1, 2}, orb.Point{0, 2}),
			map[string]interface{}{"code": "PK01", "name": "West", "parent": "PAK", "privacy": 0}),
		feature(poly(orb.Point{1, 0}, orb.Point{2, 0}, orb.Point{2, 2}, orb.Point{1, 2}),
			map[string]interface{}{"code": "PK02", "name": "East", "parent": "PAK", "privacy": 2}),
	}

	ok, report := runValidation(t, f, sources)
	assert.True(t, ok, "an upgraded privacy level must not block the upload")

	var upload boundaries.EntityUpload
	require.NoError(t, db.DB.First(&upload, "id = ?", f.upload.ID).Error)
	assert.Equal(t, boundaries.StatusWarning, upload.Status)

	// The upgraded feature is still persisted, at the dataset minimum.
	var pk01 boundaries.GeographicalEntity
	require.NoError(t, db.DB.Where("layer_file_id = ? AND internal_code = ?",
		f.layer1.ID, "PK01").First(&pk01).Error)
	assert.Equal(t, f.dataset.MinPrivacyLevel, pk01.PrivacyLevel)
	require.NotEmpty(t, report.Levels)
}
