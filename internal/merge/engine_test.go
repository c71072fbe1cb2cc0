package merge_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/assetkeeper/internal/apperr"
	"github.com/maynagashev/assetkeeper/internal/conflict"
	"github.com/maynagashev/assetkeeper/internal/content"
	"github.com/maynagashev/assetkeeper/internal/diff"
	"github.com/maynagashev/assetkeeper/internal/extract"
	"github.com/maynagashev/assetkeeper/internal/logger"
	"github.com/maynagashev/assetkeeper/internal/merge"
	"github.com/maynagashev/assetkeeper/internal/models"
	"github.com/maynagashev/assetkeeper/internal/repository"
	"github.com/maynagashev/assetkeeper/internal/snapshot"
	"github.com/maynagashev/assetkeeper/internal/storage"
	"github.com/maynagashev/assetkeeper/internal/versioning"
	"github.com/maynagashev/assetkeeper/internal/workerpool"
)

const asset = "car"

type env struct {
	store   repository.VersionStore
	builder *versioning.Builder
	loader  *snapshot.Loader
	engine  *merge.Engine
}

func newEnv(t *testing.T, wrap func(repository.VersionStore) merge.Store) *env {
	t.Helper()
	ctx := context.Background()
	log := logger.Nop()

	db, err := repository.NewSQLiteDB(ctx, ":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, repository.Migrate(ctx, db))
	store := repository.NewSQLStore(db, log, nil)

	addr, err := content.NewAddresser("")
	require.NoError(t, err)
	blobs := storage.NewMemoryStore()
	loader, err := snapshot.NewLoader(blobs, addr, 16, log)
	require.NoError(t, err)
	differ, err := diff.NewEngine(nil, log)
	require.NoError(t, err)
	t.Cleanup(differ.Close)
	pool := workerpool.New(2, nil)
	t.Cleanup(pool.Close)

	builder := versioning.NewBuilder(versioning.Config{}, addr, blobs, extract.SceneExtractor{}, log)

	var mergeStore merge.Store = store
	if wrap != nil {
		mergeStore = wrap(store)
	}
	engine := merge.NewEngine(merge.Dependencies{
		Store:    mergeStore,
		Loader:   loader,
		Differ:   differ,
		Detector: conflict.NewDetector(log),
		Builder:  builder,
		Pool:     pool,
		Logger:   log,
	})
	return &env{store: store, builder: builder, loader: loader, engine: engine}
}

// baseScene - 1000 треугольников, один материал, трансформация кузова.
func baseScene() *models.Scene {
	return &models.Scene{
		Format:    "gltf",
		Meshes:    []models.Mesh{{Name: "body", VertexCount: 800, IndexCount: 3000, Material: "paint"}},
		Materials: []models.Material{{Name: "paint", BaseColor: [4]float64{1, 0, 0, 1}, Roughness: 0.5}},
		Transforms: []models.Transform{
			{Target: "body", Rotation: models.Quat{W: 1}, Scale: models.Vec3{X: 1, Y: 1, Z: 1}},
		},
	}
}

// seed создаёт main с первой версией и feature от неё.
func (e *env) seed(t *testing.T) *models.ModelVersion {
	t.Helper()
	ctx := context.Background()
	v, err := e.builder.Build(ctx, versioning.Input{
		AssetID: asset, Branch: "main", Scene: baseScene(), Author: "alice", Message: "первая версия",
	})
	require.NoError(t, err)
	require.NoError(t, e.store.CommitInitialVersion(ctx, v,
		&models.Branch{AssetID: asset, Name: "main", IsDefault: true, CreatedBy: "alice"}))
	require.NoError(t, e.store.CreateBranch(ctx, &models.Branch{
		AssetID: asset, Name: "feature", HeadVersionID: v.ID, BaseVersionID: v.ID, CreatedBy: "bob",
	}))
	return v
}

// commit фиксирует сцену в голову ветки.
func (e *env) commit(t *testing.T, branch string, edit func(s *models.Scene)) *models.ModelVersion {
	t.Helper()
	ctx := context.Background()
	b, err := e.store.GetBranch(ctx, asset, branch)
	require.NoError(t, err)
	head, err := e.store.GetVersion(ctx, b.HeadVersionID)
	require.NoError(t, err)
	scene, err := e.loader.Load(ctx, head)
	require.NoError(t, err)
	edit(scene)

	v, err := e.builder.Build(ctx, versioning.Input{
		AssetID: asset, Branch: branch, Scene: scene, Base: head.Version, Parent: head,
		Author: "bob", Message: "правка " + branch,
	})
	require.NoError(t, err)
	require.NoError(t, e.store.CommitVersion(ctx, v, b.ID, head.ID))
	return v
}

func addWheel(s *models.Scene) {
	s.Meshes = append(s.Meshes, models.Mesh{Name: "wheel", VertexCount: 100, IndexCount: 600})
}

func moveBody(y float64) func(s *models.Scene) {
	return func(s *models.Scene) { s.Transforms[0].Translation = models.Vec3{Y: y} }
}

func request(strategy models.MergeStrategy) merge.Request {
	return merge.Request{
		AssetID: asset, SourceBranch: "feature", TargetBranch: "main",
		Strategy: strategy, Committer: "carol", Status: models.VersionStatusApproved,
	}
}

func TestEngine_Merge_Disjoint(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.seed(t)
	featureHead := e.commit(t, "feature", addWheel)
	mainHead := e.commit(t, "main", func(s *models.Scene) { s.Materials[0].Roughness = 0.1 })

	a, err := e.engine.Analyze(ctx, asset, "feature", "main")
	require.NoError(t, err)
	assert.Empty(t, a.Conflicts)

	res, err := e.engine.Merge(ctx, request(models.StrategyMerge))
	require.NoError(t, err)
	v := res.Version
	assert.Equal(t, "1.0.2", v.Version)
	assert.Equal(t, int64(1200), v.TriangleCount)
	assert.Equal(t, []uuid.UUID{mainHead.ID, featureHead.ID}, v.Parents())
	assert.Equal(t, 1, res.Attempts)

	scene, err := e.loader.Load(ctx, v)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, scene.Materials[0].Roughness, 1e-9)
	assert.Len(t, scene.Meshes, 2)

	b, err := e.store.GetBranch(ctx, asset, "main")
	require.NoError(t, err)
	assert.Equal(t, v.ID, b.HeadVersionID)
	assert.True(t, b.Contributors.Contains("carol"))
}

func TestEngine_Merge_TransformConflict(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.seed(t)
	e.commit(t, "feature", moveBody(1))
	e.commit(t, "main", moveBody(2))

	_, err := e.engine.Merge(ctx, request(models.StrategyMerge))
	require.ErrorIs(t, err, apperr.ErrUnresolvedConflicts)
	conflicts, ok := apperr.ConflictsOf(err)
	require.True(t, ok)
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.ConflictTransform, conflicts[0].Type)
	assert.Equal(t, "meshes/body", conflicts[0].Path)

	for _, strategy := range []models.MergeStrategy{models.StrategySquash, models.StrategyRebase} {
		_, err = e.engine.Merge(ctx, request(strategy))
		require.ErrorIs(t, err, apperr.ErrUnresolvedConflicts, strategy)
	}

	resolved := conflicts[0]
	resolved.Resolution = &models.Resolution{Strategy: models.ResolveUseSource, ResolvedBy: "carol"}
	req := request(models.StrategyMerge)
	req.Resolutions = []models.Conflict{resolved}

	res, err := e.engine.Merge(ctx, req)
	require.NoError(t, err)
	scene, err := e.loader.Load(ctx, res.Version)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, scene.Transforms[0].Translation.Y, 1e-9)
}

func TestEngine_Merge_FieldwiseResolution(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.seed(t)
	e.commit(t, "feature", func(s *models.Scene) { s.Materials[0].Roughness = 0.9 })
	e.commit(t, "main", func(s *models.Scene) { s.Materials[0].Metallic = 1 })

	a, err := e.engine.Analyze(ctx, asset, "feature", "main")
	require.NoError(t, err)
	require.Len(t, a.Conflicts, 1)

	c := a.Conflicts[0]
	c.Resolution = &models.Resolution{Strategy: models.ResolveMerge, ResolvedBy: "carol"}
	req := request(models.StrategyMerge)
	req.Resolutions = []models.Conflict{c}

	res, err := e.engine.Merge(ctx, req)
	require.NoError(t, err)
	scene, err := e.loader.Load(ctx, res.Version)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, scene.Materials[0].Roughness, 1e-9)
	assert.InDelta(t, 1.0, scene.Materials[0].Metallic, 1e-9)
}

func TestEngine_Merge_ManualRemovesElement(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.seed(t)
	e.commit(t, "feature", func(s *models.Scene) { s.Meshes[0].IndexCount = 3300 })
	e.commit(t, "main", func(s *models.Scene) { s.Meshes[0].IndexCount = 2700 })

	a, err := e.engine.Analyze(ctx, asset, "feature", "main")
	require.NoError(t, err)
	require.Len(t, a.Conflicts, 1)
	c := a.Conflicts[0]
	c.Resolution = &models.Resolution{Strategy: models.ResolveManual, ResolvedBy: "carol"}
	req := request(models.StrategyMerge)
	req.Resolutions = []models.Conflict{c}

	res, err := e.engine.Merge(ctx, req)
	require.NoError(t, err)
	scene, err := e.loader.Load(ctx, res.Version)
	require.NoError(t, err)
	assert.Empty(t, scene.Meshes)
	// Трансформация удалённого меша тоже уходит.
	assert.Empty(t, scene.Transforms)
}

func TestEngine_Merge_Strategies(t *testing.T) {
	ctx := context.Background()

	t.Run("Squash - один родитель, правки цели сохраняются", func(t *testing.T) {
		e := newEnv(t, nil)
		e.seed(t)
		e.commit(t, "feature", addWheel)
		mainHead := e.commit(t, "main", func(s *models.Scene) { s.Materials[0].Roughness = 0.1 })

		res, err := e.engine.Merge(ctx, request(models.StrategySquash))
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{mainHead.ID}, res.Version.Parents())
		assert.Equal(t, "squash", res.Version.Tags["merge_strategy"])

		scene, err := e.loader.Load(ctx, res.Version)
		require.NoError(t, err)
		assert.Len(t, scene.Meshes, 2)
		assert.InDelta(t, 0.1, scene.Materials[0].Roughness, 1e-9)
		assert.Equal(t, int64(1200), res.Version.TriangleCount)
	})

	t.Run("Rebase - merge-коммит с пометкой", func(t *testing.T) {
		e := newEnv(t, nil)
		e.seed(t)
		e.commit(t, "feature", addWheel)

		req := request(models.StrategyRebase)
		req.Message = "колёса"
		res, err := e.engine.Merge(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "[rebase] колёса", res.Version.Message)
		assert.Len(t, res.Version.Parents(), 2)
	})
}

func TestEngine_Merge_Validation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.seed(t)

	t.Run("Нечего сливать", func(t *testing.T) {
		_, err := e.engine.Merge(ctx, request(models.StrategyMerge))
		require.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("Неизвестная стратегия", func(t *testing.T) {
		_, err := e.engine.Merge(ctx, request("octopus"))
		require.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("Ветка в саму себя", func(t *testing.T) {
		req := request(models.StrategyMerge)
		req.SourceBranch = "main"
		_, err := e.engine.Merge(ctx, req)
		require.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("Нет ветки", func(t *testing.T) {
		req := request(models.StrategyMerge)
		req.SourceBranch = "missing"
		_, err := e.engine.Merge(ctx, req)
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestEngine_Merge_NoCommonAncestor(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.seed(t)

	orphan, err := e.builder.Build(ctx, versioning.Input{
		AssetID: asset, Branch: "orphan", Scene: baseScene(), Author: "dave",
	})
	require.NoError(t, err)
	require.NoError(t, e.store.CreateVersion(ctx, orphan))
	require.NoError(t, e.store.CreateBranch(ctx, &models.Branch{
		AssetID: asset, Name: "orphan", HeadVersionID: orphan.ID, BaseVersionID: orphan.ID, CreatedBy: "dave",
	}))

	req := request(models.StrategyMerge)
	req.SourceBranch = "orphan"
	_, err = e.engine.Merge(ctx, req)
	require.ErrorIs(t, err, apperr.ErrNoCommonAncestor)
}

// racingStore перед первым коммитом слияния фиксирует в целевую ветку чужую версию.
type racingStore struct {
	repository.VersionStore
	race  func()
	calls int
}

func (s *racingStore) CommitVersion(ctx context.Context, v *models.ModelVersion, branchID, expectedHead uuid.UUID) error {
	s.calls++
	if s.calls == 1 && s.race != nil {
		s.race()
	}
	return s.VersionStore.CommitVersion(ctx, v, branchID, expectedHead)
}

// stuckStore всегда проигрывает CAS.
type stuckStore struct {
	repository.VersionStore
	calls int
}

func (s *stuckStore) CommitVersion(context.Context, *models.ModelVersion, uuid.UUID, uuid.UUID) error {
	s.calls++
	return repository.ErrHeadMismatch
}

func TestEngine_Merge_ConcurrentCommit(t *testing.T) {
	ctx := context.Background()

	t.Run("Повтор от новой головы", func(t *testing.T) {
		var racing *racingStore
		e := newEnv(t, func(s repository.VersionStore) merge.Store {
			racing = &racingStore{VersionStore: s}
			return racing
		})
		e.seed(t)
		e.commit(t, "feature", addWheel)
		var concurrent *models.ModelVersion
		racing.race = func() {
			concurrent = e.commit(t, "main", func(s *models.Scene) { s.Materials[0].Roughness = 0.2 })
		}

		res, err := e.engine.Merge(ctx, request(models.StrategyMerge))
		require.NoError(t, err)
		assert.Equal(t, 2, res.Attempts)
		assert.Equal(t, 2, racing.calls)
		require.NotNil(t, concurrent)
		assert.Equal(t, concurrent.ID, *res.Version.ParentVersionID)

		// Чужой коммит не потерян.
		scene, err := e.loader.Load(ctx, res.Version)
		require.NoError(t, err)
		assert.InDelta(t, 0.2, scene.Materials[0].Roughness, 1e-9)
	})

	t.Run("Второй проигрыш возвращает ошибку", func(t *testing.T) {
		var stuck *stuckStore
		e := newEnv(t, func(s repository.VersionStore) merge.Store {
			stuck = &stuckStore{VersionStore: s}
			return stuck
		})
		e.seed(t)
		e.commit(t, "feature", addWheel)

		_, err := e.engine.Merge(ctx, request(models.StrategyMerge))
		require.ErrorIs(t, err, apperr.ErrConcurrencyConflict)
		assert.Equal(t, 2, stuck.calls)
	})
}
