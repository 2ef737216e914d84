package validation

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/GeoRegistry/GR-Backend/internal/boundaries"
	"github.com/GeoRegistry/GR-Backend/internal/geometry"
	"gorm.io/gorm"
)

// UploadContext carries everything one validation run needs. Sources may
// override the per-level feature source (tests use this); by default each
// layer file's Location is read as GeoJSON.
type UploadContext struct {
	DB         *gorm.DB
	Dataset    *boundaries.Dataset
	Session    *boundaries.UploadSession
	Upload     *boundaries.EntityUpload
	LayerFiles []boundaries.LayerFile
	Sources    map[int]FeatureSource
	Config     *Config
	Progress   boundaries.ProgressSink
}

// LoadUploadContext assembles an UploadContext from a claimed upload row.
func LoadUploadContext(d *gorm.DB, uploadID string) (*UploadContext, error) {
	var upload boundaries.EntityUpload
	if err := d.First(&upload, "id = ?", uploadID).Error; err != nil {
		return nil, fmt.Errorf("load upload %s: %w", uploadID, err)
	}

	var session boundaries.UploadSession
	if err := d.First(&session, "id = ?", upload.UploadSessionID).Error; err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var dataset boundaries.Dataset
	if err := d.First(&dataset, "id = ?", session.DatasetID).Error; err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}

	var layerFiles []boundaries.LayerFile
	if err := d.Where("upload_session_id = ?", session.ID).
		Order("level asc").Find(&layerFiles).Error; err != nil {
		return nil, fmt.Errorf("load layer files: %w", err)
	}

	return &UploadContext{
		DB:         d,
		Dataset:    &dataset,
		Session:    &session,
		Upload:     &upload,
		LayerFiles: layerFiles,
	}, nil
}

type levelEntity struct {
	entity *boundaries.GeographicalEntity
	shape  *geometry.Shape
}

type featureCtx struct {
	level   int
	code    string
	label   string
	errored bool
}

type validator struct {
	ctx      *UploadContext
	cfg      *Config
	report   *Report
	revision int

	ancestor *levelEntity
	byLevel  map[int][]*levelEntity
	byCode   map[int]map[string]*levelEntity
	rematch  map[int]map[string]string
}

// ValidateUpload runs the full QC validation for one claimed upload: levels
// ascending, level 0 first, accumulating an error report and persisting
// entity rows as it goes. The returned bool says whether the upload may be
// imported without superadmin intervention (status valid or warning).
func ValidateUpload(ctx *UploadContext) (bool, *Report, error) {
	cfg := ctx.Config
	if cfg == nil {
		cfg = LoadConfig()
	}

	v := &validator{
		ctx:     ctx,
		cfg:     cfg,
		report:  NewReport(),
		byLevel: map[int][]*levelEntity{},
		byCode:  map[int]map[string]*levelEntity{},
	}

	if err := v.loadRevision(); err != nil {
		return false, nil, err
	}
	if err := v.loadRematches(); err != nil {
		return false, nil, err
	}

	for i := range ctx.LayerFiles {
		lf := &ctx.LayerFiles[i]
		if err := v.validateLevel(lf); err != nil {
			return false, nil, err
		}
	}

	status := v.report.Status(cfg)
	if err := v.finish(status); err != nil {
		return false, nil, err
	}

	return status != boundaries.StatusError, v.report, nil
}

func (v *validator) loadRevision() error {
	v.revision = 1
	if v.ctx.Upload.OriginalEntityID == nil {
		return nil
	}
	var original boundaries.GeographicalEntity
	err := v.ctx.DB.First(&original, "id = ?", *v.ctx.Upload.OriginalEntityID).Error
	if err != nil {
		return fmt.Errorf("load original entity: %w", err)
	}
	v.revision = original.RevisionNumber + 1
	return nil
}

func (v *validator) loadRematches() error {
	var rows []boundaries.ParentRematch
	err := v.ctx.DB.Where("upload_session_id = ?", v.ctx.Session.ID).Find(&rows).Error
	if err != nil {
		return fmt.Errorf("load parent rematches: %w", err)
	}
	v.rematch = map[int]map[string]string{}
	for _, r := range rows {
		if v.rematch[r.Level] == nil {
			v.rematch[r.Level] = map[string]string{}
		}
		v.rematch[r.Level][r.ChildInternalCode] = r.NewParentInternalCode
	}
	return nil
}

func (v *validator) source(lf *boundaries.LayerFile) FeatureSource {
	if src, ok := v.ctx.Sources[lf.Level]; ok {
		return src
	}
	return NewGeoJSONSource(lf.Location)
}

func (v *validator) progress(format string, args ...interface{}) {
	if v.ctx.Progress != nil {
		v.ctx.Progress.Update(fmt.Sprintf(format, args...))
	}
}

// record notes one check failure for the feature and marks it rejected.
func (v *validator) record(f *featureCtx, t ErrorType, detail string) {
	f.errored = true
	v.report.Record(f.level, f.code, f.label, t, detail)
}

// notice records an allowable error type without rejecting the feature.
func (v *validator) notice(f *featureCtx, t ErrorType, detail string) {
	v.report.Record(f.level, f.code, f.label, t, detail)
}

// safeCheck runs one geometry check behind a panic boundary: a crash inside
// the geometry library is logged with full context and recorded as that
// check's failure, and validation moves on.
func (v *validator) safeCheck(f *featureCtx, t ErrorType, fn func() (bool, string)) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[validation] check %s crashed on feature %s: %v", t, f.code, r)
			v.record(f, t, fmt.Sprintf("check crashed: %v", r))
		}
	}()
	if failed, detail := fn(); failed {
		v.record(f, t, detail)
	}
}

func (v *validator) validateLevel(lf *boundaries.LayerFile) error {
	src := v.source(lf)
	total, err := src.Count()
	if err != nil {
		return err
	}

	if lf.Level == 0 {
		return v.validateLevelZero(lf, src)
	}

	if v.ancestor == nil {
		// Level 0 failed entirely; nothing downstream can resolve a tree.
		v.report.Record(lf.Level, "", "", ErrParentCodeHierarchy,
			"no validated level 0 entity to anchor this level")
		return nil
	}

	idField := lf.IDFields.DefaultField()
	nameField := lf.NameFields.DefaultField()

	processed := 0
	err = src.Each(func(i int, feat Feature) error {
		f := &featureCtx{level: lf.Level}
		f.code = propString(feat.Properties, idField)
		f.label = propString(feat.Properties, nameField)
		if f.code == "" {
			f.code = fmt.Sprintf("feature_%d", i)
			v.record(f, ErrMissingCode, "default code field is empty")
		}

		if err := v.validateFeature(lf, f, feat); err != nil {
			return err
		}

		processed++
		v.progress("Level %d: validated %d/%d features", lf.Level, processed, total)
		return nil
	})
	if err != nil {
		return err
	}

	v.runLevelWideChecks(lf)
	return nil
}

// validateLevelZero picks the single feature whose default id matches the
// upload's expected entity code; every other feature in the file is ignored.
// The first successfully validated feature becomes the revision's ancestor.
func (v *validator) validateLevelZero(lf *boundaries.LayerFile, src FeatureSource) error {
	idField := lf.IDFields.DefaultField()
	nameField := lf.NameFields.DefaultField()
	expected := v.ctx.Upload.RevisedEntityCode

	found := false
	err := src.Each(func(i int, feat Feature) error {
		if found {
			return nil
		}
		code := propString(feat.Properties, idField)
		if code != expected {
			return nil
		}
		found = true

		f := &featureCtx{level: 0, code: code, label: propString(feat.Properties, nameField)}
		return v.validateFeature(lf, f, feat)
	})
	if err != nil {
		return err
	}

	if !found {
		v.report.Record(0, expected, v.ctx.Upload.RevisedEntityLabel, ErrMissingCode,
			fmt.Sprintf("no level 0 feature with default code %q", expected))
	}
	return nil
}

// validateFeature runs field checks, parses the geometry, and applies the
// per-feature geometry checks in fixed order. Checks are independent: every
// failure is recorded, and only a geometry parse failure short-circuits.
// The returned error is reserved for database failures, which abort the run.
func (v *validator) validateFeature(lf *boundaries.LayerFile, f *featureCtx, feat Feature) error {
	props := feat.Properties

	// Field validity.
	if f.label == "" {
		v.record(f, ErrMissingName, "default name field is empty")
	}
	privacy := v.validatePrivacy(f, props, lf.PrivacyField)

	// Parent resolution (level > 0). An unresolvable parent makes the
	// feature a non-candidate: no geometry checks run for it.
	var parent *levelEntity
	if lf.Level > 0 {
		parentCode := ""
		if rm, ok := v.rematch[lf.Level][f.code]; ok {
			parentCode = rm
		} else {
			parentCode = propString(props, lf.ParentIDField)
		}
		if parentCode == "" {
			v.record(f, ErrInvalidParentCode, "parent id field is empty")
			return nil
		}
		p, ok := v.byCode[lf.Level-1][parentCode]
		if !ok {
			v.record(f, ErrParentCodeHierarchy,
				fmt.Sprintf("parent code %q not found at level %d", parentCode, lf.Level-1))
			return nil
		}
		parent = p
	}

	// Geometry parse/repair; failure here is terminal for the feature.
	shape, err := geometry.NewShape(feat.Geometry)
	if err != nil {
		if errors.Is(err, geometry.ErrDegeneratePolygon) {
			v.record(f, ErrDegeneratePolygon, err.Error())
			return nil
		}
		v.record(f, ErrDegeneratePolygon, fmt.Sprintf("geometry parse failed: %v", err))
		return nil
	}

	tol := v.ctx.Dataset.Tolerance

	v.safeCheck(f, ErrSelfIntersects, func() (bool, string) {
		bad, reason := geometry.SelfIntersects(shape)
		return bad, reason
	})
	v.safeCheck(f, ErrSelfContacts, func() (bool, string) {
		if n := geometry.SelfContact(shape, tol); n > 0 {
			return true, fmt.Sprintf("%d near-self-contact vertices", n)
		}
		return false, ""
	})
	v.safeCheck(f, ErrDuplicatedNodes, func() (bool, string) {
		if n := geometry.DuplicateNodes(shape, tol); n > 0 {
			return true, fmt.Sprintf("%d duplicate nodes", n)
		}
		return false, ""
	})
	v.safeCheck(f, ErrDuplicatedGeometry, func() (bool, string) {
		if dup := geometry.Duplicate(shape, f.code, v.siblings(lf.Level, nil)); dup != nil {
			return true, fmt.Sprintf("identical to feature %s", dup.Code)
		}
		return false, ""
	})
	v.safeCheck(f, ErrOverlaps, func() (bool, string) {
		conflicts := geometry.Overlaps(shape, f.code, v.siblings(lf.Level, parent), tol,
			v.ctx.Dataset.OverlapsThreshold)
		if len(conflicts) > 0 {
			return true, fmt.Sprintf("overlaps %d sibling(s), first: %s", len(conflicts), conflicts[0].Code)
		}
		return false, ""
	})
	if parent != nil {
		v.safeCheck(f, ErrGeometryHierarchy, func() (bool, string) {
			if !geometry.CoveredByParent(shape, parent.shape) {
				return true, fmt.Sprintf("not covered by parent %s", parent.entity.InternalCode)
			}
			return false, ""
		})
	}

	if f.errored {
		return nil
	}

	// Database trouble is fatal for the run, not a QC failure.
	le, err := v.persistEntity(lf, f, shape, parent, privacy)
	if err != nil {
		return err
	}

	v.byLevel[lf.Level] = append(v.byLevel[lf.Level], le)
	if v.byCode[lf.Level] == nil {
		v.byCode[lf.Level] = map[string]*levelEntity{}
	}
	v.byCode[lf.Level][f.code] = le
	if lf.Level == 0 && v.ancestor == nil {
		v.ancestor = le
		id := le.entity.ID
		v.ctx.Upload.RevisedEntityID = &id
	}
	return nil
}

// validatePrivacy parses the privacy level and applies dataset bounds:
// below-minimum values are silently upgraded with a non-blocking notice,
// above-maximum or unparseable values are blocking.
func (v *validator) validatePrivacy(f *featureCtx, props map[string]interface{}, field string) int {
	ds := v.ctx.Dataset
	if field == "" {
		return ds.MinPrivacyLevel
	}
	raw := propString(props, field)
	if raw == "" {
		return ds.MinPrivacyLevel
	}
	level, ok := propInt(props, field)
	if !ok {
		v.record(f, ErrInvalidPrivacyLevel, fmt.Sprintf("unparseable privacy level %q", raw))
		return ds.MinPrivacyLevel
	}
	if level > ds.MaxPrivacyLevel {
		v.record(f, ErrInvalidPrivacyLevel,
			fmt.Sprintf("privacy level %d above dataset maximum %d", level, ds.MaxPrivacyLevel))
		return level
	}
	if level < ds.MinPrivacyLevel {
		v.notice(f, ErrUpgradedPrivacyLevel,
			fmt.Sprintf("privacy level %d upgraded to dataset minimum %d", level, ds.MinPrivacyLevel))
		return ds.MinPrivacyLevel
	}
	return level
}

// siblings returns the accepted features at a level as check inputs. With a
// parent, only entities under that parent are returned (overlap scope);
// without one, the whole level (duplicate scope).
func (v *validator) siblings(level int, parent *levelEntity) []geometry.Sibling {
	var out []geometry.Sibling
	for _, le := range v.byLevel[level] {
		if parent != nil {
			if le.entity.ParentID == nil || *le.entity.ParentID != parent.entity.ID {
				continue
			}
		}
		out = append(out, geometry.Sibling{Code: le.entity.InternalCode, Shape: le.shape})
	}
	return out
}

// runLevelWideChecks applies the containment and gap checks, which need the
// complete sibling set and therefore run once per level after every feature
// has been inserted.
func (v *validator) runLevelWideChecks(lf *boundaries.LayerFile) {
	byParent := map[string][]*levelEntity{}
	for _, le := range v.byLevel[lf.Level] {
		key := ""
		if le.entity.ParentID != nil {
			key = *le.entity.ParentID
		}
		byParent[key] = append(byParent[key], le)
	}

	for parentID, group := range byParent {
		sibs := make([]geometry.Sibling, 0, len(group))
		for _, le := range group {
			sibs = append(sibs, geometry.Sibling{Code: le.entity.InternalCode, Shape: le.shape})
		}

		for _, le := range group {
			f := &featureCtx{level: lf.Level, code: le.entity.InternalCode, label: le.entity.Label}
			v.safeCheck(f, ErrWithinOther, func() (bool, string) {
				if owner := geometry.ContainedBy(le.shape, f.code, sibs); owner != nil {
					return true, fmt.Sprintf("fully contained within sibling %s", owner.Code)
				}
				return false, ""
			})
		}

		parentCode := parentID
		if p := v.parentByID(lf.Level-1, parentID); p != nil {
			parentCode = p.entity.InternalCode
		}
		f := &featureCtx{level: lf.Level, code: parentCode, label: "siblings of " + parentCode}
		v.safeCheck(f, ErrGaps, func() (bool, string) {
			n := geometry.Gaps(sibs, v.ctx.Dataset.Tolerance, v.ctx.Dataset.GapsThreshold)
			if n > 0 {
				return true, fmt.Sprintf("%d gap(s) between siblings", n)
			}
			return false, ""
		})
	}
}

func (v *validator) parentByID(level int, id string) *levelEntity {
	for _, le := range v.byLevel[level] {
		if le.entity.ID == id {
			return le
		}
	}
	return nil
}

// persistEntity creates or updates the entity row for a clean feature.
// Rows are keyed by (layer file, internal code, level) so re-validation of
// an unchanged upload updates in place instead of duplicating.
func (v *validator) persistEntity(lf *boundaries.LayerFile, f *featureCtx, shape *geometry.Shape, parent *levelEntity, privacy int) (*levelEntity, error) {
	wkbData, err := shape.WKB()
	if err != nil {
		return nil, fmt.Errorf("encode geometry for %s: %w", f.code, err)
	}

	bound := shape.Bound()
	centroid := shape.Centroid()

	var e boundaries.GeographicalEntity
	err = v.ctx.DB.Where(
		"layer_file_id = ? AND internal_code = ? AND level = ?",
		lf.ID, f.code, lf.Level,
	).First(&e).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		e = boundaries.GeographicalEntity{
			DatasetID:   v.ctx.Dataset.ID,
			LayerFileID: lf.ID,
			Level:       lf.Level,
		}
	case err != nil:
		return nil, fmt.Errorf("lookup entity %s: %w", f.code, err)
	}

	e.InternalCode = f.code
	e.Label = f.label
	e.AdminLevelName = lf.AdminLevelName
	e.Geometry = wkbData
	e.Area = shape.Area()
	e.CentroidLng = centroid[0]
	e.CentroidLat = centroid[1]
	e.MinX = bound.Min[0]
	e.MinY = bound.Min[1]
	e.MaxX = bound.Max[0]
	e.MaxY = bound.Max[1]
	e.IsApproved = nil
	e.IsValidated = false
	e.IsLatest = false
	e.RevisionNumber = v.revision
	e.PrivacyLevel = privacy
	e.StartDate = time.Now()
	if parent != nil {
		pid := parent.entity.ID
		e.ParentID = &pid
		if v.ancestor != nil {
			aid := v.ancestor.entity.ID
			e.AncestorID = &aid
		}
	} else {
		e.ParentID = nil
		e.AncestorID = nil
	}

	if err := v.ctx.DB.Save(&e).Error; err != nil {
		return nil, fmt.Errorf("persist entity %s: %w", f.code, err)
	}

	return &levelEntity{entity: &e, shape: shape}, nil
}

// finish stamps the outcome onto the upload row.
func (v *validator) finish(status string) error {
	stored, err := v.report.MarshalForStorage()
	if err != nil {
		return fmt.Errorf("marshal error report: %w", err)
	}

	up := v.ctx.Upload
	up.Status = status
	up.ErrorReport = stored

	if err := v.ctx.DB.Save(up).Error; err != nil {
		return fmt.Errorf("save upload outcome: %w", err)
	}

	if v.ctx.Progress != nil {
		if p, ok := v.ctx.Progress.(*boundaries.UploadProgress); ok {
			p.Flush(fmt.Sprintf("validation finished: %s", status))
		} else {
			v.ctx.Progress.Update(fmt.Sprintf("validation finished: %s", status))
		}
	}
	return nil
}
