package matching

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/GeoRegistry/GR-Backend/internal/boundaries"
	"github.com/GeoRegistry/GR-Backend/internal/geometry"
	"github.com/GeoRegistry/GR-Backend/internal/ucode"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// checkpointEvery controls how often a progress checkpoint is written while
// walking the entity list.
const checkpointEvery = 100

// RunContext carries everything one boundary-matching run needs.
type RunContext struct {
	DB       *gorm.DB
	Dataset  *boundaries.Dataset
	Session  *boundaries.UploadSession
	Upload   *boundaries.EntityUpload
	Progress boundaries.ProgressSink
}

// LoadRunContext assembles a RunContext from a validated upload row.
func LoadRunContext(d *gorm.DB, uploadID string) (*RunContext, error) {
	var upload boundaries.EntityUpload
	if err := d.First(&upload, "id = ?", uploadID).Error; err != nil {
		return nil, fmt.Errorf("load upload %s: %w", uploadID, err)
	}
	if upload.RevisedEntityID == nil {
		return nil, fmt.Errorf("upload %s has no validated level 0 entity", uploadID)
	}

	var session boundaries.UploadSession
	if err := d.First(&session, "id = ?", upload.UploadSessionID).Error; err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var dataset boundaries.Dataset
	if err := d.First(&dataset, "id = ?", session.DatasetID).Error; err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}

	return &RunContext{
		DB:      d,
		Dataset: &dataset,
		Session: &session,
		Upload:  &upload,
	}, nil
}

type runner struct {
	ctx          *RunContext
	version      int
	ancestorCode string

	// claimed marks prior-revision concepts already linked to a new entity in
	// this run; a concept is matched at most once per batch.
	claimed map[string]bool

	// referenced marks prior-revision entity ids already backing a comparison
	// row; each boundary backs at most one comparison per batch, qualifying
	// or informational.
	referenced map[string]bool

	// existing comparisons by main boundary id, so an interrupted run resumes
	// without redoing finished entities.
	existing map[string]*boundaries.BoundaryComparison

	// rematched child codes by level, for flagging comparisons whose parent
	// was manually reassigned during validation.
	rematch map[int]map[string]bool
}

// RunBoundaryMatching links every entity of the upload's tree to its prior
// revision where one exists: entities are walked level-ascending, each tried
// against four progressively looser candidate tiers, and each prior concept is
// claimable at most once. Only after every claim is settled does a second pass
// record the closest candidate for the entities no tier matched, so review
// context never takes a boundary a later entity would have claimed. Unmatched
// entities get fresh unique codes, and per-level summaries are persisted for
// review.
func RunBoundaryMatching(ctx *RunContext) ([]boundaries.LevelSummary, error) {
	r := &runner{
		ctx:        ctx,
		claimed:    map[string]bool{},
		referenced: map[string]bool{},
		existing:   map[string]*boundaries.BoundaryComparison{},
		rematch:    map[int]map[string]bool{},
	}

	version, err := ucode.NextVersion(ctx.DB, ctx.Dataset.ID)
	if err != nil {
		return nil, err
	}
	r.version = version

	if err := r.loadAncestorCode(); err != nil {
		return nil, err
	}

	entities, err := r.loadTree()
	if err != nil {
		return nil, err
	}
	if err := r.seedClaims(entities); err != nil {
		return nil, err
	}
	if err := r.loadRematches(); err != nil {
		return nil, err
	}

	r.progress("matching %d entities against lineage %s", len(entities), r.ancestorCode)

	var unmatched []*boundaries.GeographicalEntity
	for i := range entities {
		e := &entities[i]
		if _, done := r.existing[e.ID]; done {
			continue
		}
		matched, err := r.matchEntity(e)
		if err != nil {
			return nil, err
		}
		if !matched {
			unmatched = append(unmatched, e)
		}
		if (i+1)%checkpointEvery == 0 {
			r.progress("matched %d/%d entities", i+1, len(entities))
		}
	}

	for _, e := range unmatched {
		if err := r.assignClosest(e); err != nil {
			return nil, err
		}
	}

	layerFileIDs, err := r.layerFileIDs()
	if err != nil {
		return nil, err
	}
	if err := ucode.GenerateForNewEntities(ctx.DB, ctx.Dataset, layerFileIDs, r.version); err != nil {
		return nil, err
	}

	summaries, err := r.buildSummaries(entities)
	if err != nil {
		return nil, err
	}

	ctx.Upload.Status = boundaries.StatusMatched
	if err := ctx.DB.Save(ctx.Upload).Error; err != nil {
		return nil, fmt.Errorf("save upload status: %w", err)
	}
	r.flush("matching finished: %d entities, version %d", len(entities), r.version)
	return summaries, nil
}

func (r *runner) progress(format string, args ...interface{}) {
	if r.ctx.Progress != nil {
		r.ctx.Progress.Update(fmt.Sprintf(format, args...))
	}
}

func (r *runner) flush(format string, args ...interface{}) {
	if r.ctx.Progress == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if p, ok := r.ctx.Progress.(*boundaries.UploadProgress); ok {
		p.Flush(msg)
	} else {
		r.ctx.Progress.Update(msg)
	}
}

// loadAncestorCode resolves the lineage the candidate pools search within:
// the unique code of the prior-revision tree root. A first upload has no
// original entity and therefore no candidates at all.
func (r *runner) loadAncestorCode() error {
	if r.ctx.Upload.OriginalEntityID == nil {
		return nil
	}
	var original boundaries.GeographicalEntity
	err := r.ctx.DB.First(&original, "id = ?", *r.ctx.Upload.OriginalEntityID).Error
	if err != nil {
		return fmt.Errorf("load original entity: %w", err)
	}
	r.ancestorCode = original.UniqueCode
	return nil
}

// loadTree returns the upload's validated entities, the level-0 root first and
// descendants after it, ordered by (level, internal_code) so reruns walk the
// same sequence and claims resolve identically.
func (r *runner) loadTree() ([]boundaries.GeographicalEntity, error) {
	rootID := *r.ctx.Upload.RevisedEntityID
	var entities []boundaries.GeographicalEntity
	err := r.ctx.DB.
		Where("id = ? OR ancestor_id = ?", rootID, rootID).
		Order("level asc, internal_code asc").
		Find(&entities).Error
	if err != nil {
		return nil, fmt.Errorf("load entity tree: %w", err)
	}
	return entities, nil
}

// seedClaims restores the claimed-concept set from comparisons persisted by an
// earlier, interrupted run over the same tree.
func (r *runner) seedClaims(entities []boundaries.GeographicalEntity) error {
	ids := make([]string, len(entities))
	for i := range entities {
		ids[i] = entities[i].ID
	}

	var comparisons []boundaries.BoundaryComparison
	err := r.ctx.DB.Where("main_boundary_id IN ?", ids).Find(&comparisons).Error
	if err != nil {
		return fmt.Errorf("load existing comparisons: %w", err)
	}

	var matchedIDs []string
	for i := range comparisons {
		c := &comparisons[i]
		r.existing[c.MainBoundaryID] = c
		if c.ComparisonBoundaryID == nil {
			continue
		}
		r.referenced[*c.ComparisonBoundaryID] = true
		if c.IsSameEntity {
			matchedIDs = append(matchedIDs, *c.ComparisonBoundaryID)
		}
	}
	if len(matchedIDs) == 0 {
		return nil
	}

	var concepts []string
	err = r.ctx.DB.Model(&boundaries.GeographicalEntity{}).
		Where("id IN ?", matchedIDs).
		Pluck("concept_uuid", &concepts).Error
	if err != nil {
		return fmt.Errorf("load claimed concepts: %w", err)
	}
	for _, c := range concepts {
		r.claimed[c] = true
	}
	return nil
}

func (r *runner) loadRematches() error {
	var rows []boundaries.ParentRematch
	err := r.ctx.DB.Where("upload_session_id = ?", r.ctx.Session.ID).Find(&rows).Error
	if err != nil {
		return fmt.Errorf("load parent rematches: %w", err)
	}
	for _, row := range rows {
		if r.rematch[row.Level] == nil {
			r.rematch[row.Level] = map[string]bool{}
		}
		r.rematch[row.Level][row.ChildInternalCode] = true
	}
	return nil
}

func (r *runner) layerFileIDs() ([]string, error) {
	var ids []string
	err := r.ctx.DB.Model(&boundaries.LayerFile{}).
		Where("upload_session_id = ?", r.ctx.Session.ID).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("load layer file ids: %w", err)
	}
	return ids, nil
}

// matchEntity tries the four qualifying tiers for one entity and reports
// whether it claimed a prior concept. Entities no tier matched wait for the
// second pass, once every claim is settled.
func (r *runner) matchEntity(e *boundaries.GeographicalEntity) (bool, error) {
	best, err := r.searchBest(e)
	if err != nil || best == nil {
		return false, err
	}

	r.claimed[best.Entity.ConceptUUID] = true
	r.referenced[best.Entity.ID] = true
	if err := r.linkRevision(e, best.Entity); err != nil {
		return false, err
	}
	return true, r.saveComparison(e, best, true)
}

// assignClosest persists the nearest still-available same-level candidate as
// review context for an unmatched entity, without linking identities.
func (r *runner) assignClosest(e *boundaries.GeographicalEntity) error {
	closest, err := r.searchClosest(e)
	if err != nil {
		return err
	}
	if closest != nil {
		r.referenced[closest.Entity.ID] = true
	}
	return r.saveComparison(e, closest, false)
}

// searchBest walks the four tiers strictest-first and returns the best
// qualifying candidate. A crash inside the geometry engine is contained to
// the entity: it is logged and the entity left unmatched rather than
// aborting the run.
func (r *runner) searchBest(e *boundaries.GeographicalEntity) (best *Scored, err error) {
	shape := r.targetShape(e)
	if shape == nil {
		return nil, nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[matching] entity %s (%s): candidate search crashed: %v",
				e.ID, e.InternalCode, rec)
			best, err = nil, nil
		}
	}()

	tiers := []struct{ sameLevel, prevVersion bool }{
		{true, true},
		{true, false},
		{false, true},
		{false, false},
	}
	for _, tier := range tiers {
		pool := &CandidatePool{
			Dataset:         r.ctx.Dataset,
			Target:          e,
			AncestorCode:    r.ancestorCode,
			BatchVersion:    r.version,
			SameLevel:       tier.sameLevel,
			PrevVersion:     tier.prevVersion,
			AboveThresholds: true,
		}
		cands, err := pool.Fetch(r.ctx.DB)
		if err != nil {
			return nil, err
		}
		ranked := RankCandidates(shape, r.available(cands),
			r.ctx.Dataset.SimilarityThresholdNew, r.ctx.Dataset.SimilarityThresholdOld, true)
		if len(ranked) > 0 {
			return &ranked[0], nil
		}
	}
	return nil, nil
}

// searchClosest ranks the same-level pool without the threshold filter and
// returns the closest candidate not yet backing a comparison.
func (r *runner) searchClosest(e *boundaries.GeographicalEntity) (closest *Scored, err error) {
	shape := r.targetShape(e)
	if shape == nil {
		return nil, nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[matching] entity %s (%s): candidate search crashed: %v",
				e.ID, e.InternalCode, rec)
			closest, err = nil, nil
		}
	}()

	pool := &CandidatePool{
		Dataset:      r.ctx.Dataset,
		Target:       e,
		AncestorCode: r.ancestorCode,
		BatchVersion: r.version,
		SameLevel:    true,
	}
	cands, err := pool.Fetch(r.ctx.DB)
	if err != nil {
		return nil, err
	}
	ranked := RankCandidates(shape, r.available(cands),
		r.ctx.Dataset.SimilarityThresholdNew, r.ctx.Dataset.SimilarityThresholdOld, false)
	if len(ranked) > 0 {
		return &ranked[0], nil
	}
	return nil, nil
}

func (r *runner) targetShape(e *boundaries.GeographicalEntity) *geometry.Shape {
	if r.ancestorCode == "" || len(e.Geometry) == 0 {
		return nil
	}
	shape, err := geometry.ShapeFromWKB(e.Geometry)
	if err != nil {
		log.Printf("[matching] entity %s: bad stored geometry: %v", e.ID, err)
		return nil
	}
	return shape
}

// available filters out candidates whose concept is already claimed or whose
// row already backs another comparison.
func (r *runner) available(cands []Candidate) []Candidate {
	out := cands[:0]
	for _, c := range cands {
		if r.claimed[c.Entity.ConceptUUID] || r.referenced[c.Entity.ID] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// linkRevision carries the matched concept's identity onto the new entity and
// retires the prior revision.
func (r *runner) linkRevision(e, prior *boundaries.GeographicalEntity) error {
	e.ConceptUUID = prior.ConceptUUID
	e.UniqueCode = prior.UniqueCode
	e.ConceptUCode = prior.ConceptUCode
	e.UniqueCodeVersion = r.version
	e.IsLatest = true
	if err := r.ctx.DB.Save(e).Error; err != nil {
		return fmt.Errorf("link entity %s to concept %s: %w", e.ID, prior.ConceptUUID, err)
	}

	now := time.Now()
	err := r.ctx.DB.Model(&boundaries.GeographicalEntity{}).
		Where("concept_uuid = ? AND id <> ? AND is_latest = true", prior.ConceptUUID, e.ID).
		Updates(map[string]interface{}{"is_latest": false, "end_date": now}).Error
	if err != nil {
		return fmt.Errorf("retire prior revisions of %s: %w", prior.ConceptUUID, err)
	}
	return nil
}

// saveComparison upserts the comparison row for one entity, keyed on the
// entity id so an interrupted run can be repeated safely.
func (r *runner) saveComparison(e *boundaries.GeographicalEntity, s *Scored, isSame bool) error {
	cmp := boundaries.BoundaryComparison{
		MainBoundaryID:    e.ID,
		IsSameEntity:      isSame,
		IsParentRematched: r.rematch[e.Level][e.InternalCode],
	}
	if s != nil {
		id := s.Entity.ID
		cmp.ComparisonBoundaryID = &id
		cmp.GeometryOverlapNew = s.OverlapNew
		cmp.GeometryOverlapOld = s.OverlapOld
		cmp.CodeMatch = strings.EqualFold(e.InternalCode, s.Entity.InternalCode)
		cmp.NameSimilarity = NameSimilarity(e.Label, s.Entity.Label)
		cmp.CentroidDistance = geo.Distance(
			orb.Point{e.CentroidLng, e.CentroidLat},
			orb.Point{s.Entity.CentroidLng, s.Entity.CentroidLat}) / 1000
	}

	err := r.ctx.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "main_boundary_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"comparison_boundary_id", "geometry_overlap_new", "geometry_overlap_old",
			"is_same_entity", "code_match", "name_similarity", "centroid_distance",
			"is_parent_rematched", "updated_at",
		}),
	}).Create(&cmp).Error
	if err != nil {
		return fmt.Errorf("save comparison for %s: %w", e.ID, err)
	}
	r.existing[e.ID] = &cmp
	return nil
}

// buildSummaries aggregates the run per level: counts and total areas on both
// sides, how many entities matched, and the average overlap ratios across the
// matched pairs. Existing summaries for the session are replaced.
func (r *runner) buildSummaries(entities []boundaries.GeographicalEntity) ([]boundaries.LevelSummary, error) {
	byLevel := map[int]*boundaries.LevelSummary{}
	var levels []int
	summary := func(level int) *boundaries.LevelSummary {
		if s, ok := byLevel[level]; ok {
			return s
		}
		s := &boundaries.LevelSummary{UploadSessionID: r.ctx.Session.ID, Level: level}
		byLevel[level] = s
		levels = append(levels, level)
		return s
	}

	for i := range entities {
		e := &entities[i]
		s := summary(e.Level)
		s.NewCount++
		s.NewTotalArea += e.Area

		cmp, ok := r.existing[e.ID]
		if !ok || !cmp.IsSameEntity {
			continue
		}
		s.MatchingCount++
		s.AvgSimilarityNew += cmp.GeometryOverlapNew
		s.AvgSimilarityOld += cmp.GeometryOverlapOld
	}

	if r.ancestorCode != "" {
		type oldAgg struct {
			Level int
			N     int
			Area  float64
		}
		var olds []oldAgg
		err := r.ctx.DB.Model(&boundaries.GeographicalEntity{}).
			Select("level, COUNT(*) as n, COALESCE(SUM(area), 0) as area").
			Where("dataset_id = ? AND is_approved = ?", r.ctx.Dataset.ID, true).
			Where(`(level = 0 AND unique_code = ?) OR ancestor_id IN (
				SELECT id FROM georegistry.geographical_entities
				WHERE dataset_id = ? AND level = 0 AND unique_code = ?)`,
				r.ancestorCode, r.ctx.Dataset.ID, r.ancestorCode).
			Group("level").
			Scan(&olds).Error
		if err != nil {
			return nil, fmt.Errorf("aggregate prior revisions: %w", err)
		}
		for _, o := range olds {
			s := summary(o.Level)
			s.OldCount = o.N
			s.OldTotalArea = o.Area
		}
	}

	var out []boundaries.LevelSummary
	for _, level := range levels {
		s := byLevel[level]
		if s.MatchingCount > 0 {
			s.AvgSimilarityNew /= float64(s.MatchingCount)
			s.AvgSimilarityOld /= float64(s.MatchingCount)
		}
		out = append(out, *s)
	}

	err := r.ctx.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("upload_session_id = ?", r.ctx.Session.ID).
			Delete(&boundaries.LevelSummary{}).Error; err != nil {
			return err
		}
		for i := range out {
			if err := tx.Create(&out[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist level summaries: %w", err)
	}
	return out, nil
}
