package diff_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/assetkeeper/internal/diff"
	"github.com/maynagashev/assetkeeper/internal/logger"
	"github.com/maynagashev/assetkeeper/internal/models"
)

func newEngine(t *testing.T) *diff.Engine {
	t.Helper()
	e, err := diff.NewEngine(nil, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func snapshotOf(hash string, size int64, scene *models.Scene) diff.Snapshot {
	return diff.Snapshot{VersionID: uuid.New(), ContentHash: hash, SizeBytes: size, Scene: scene}
}

func baseScene() *models.Scene {
	return &models.Scene{
		Format: "gltf",
		Meshes: []models.Mesh{
			{Name: "seat", VertexCount: 400, IndexCount: 1800, Material: "wood"},
			{Name: "legs", VertexCount: 200, IndexCount: 1200, Material: "metal"},
		},
		Materials: []models.Material{
			{Name: "wood", Roughness: 0.8},
			{Name: "metal", Metallic: 1},
		},
		Textures: []models.Texture{{Name: "grain", Width: 512, Height: 512}},
		Transforms: []models.Transform{
			{Target: "seat", Scale: models.Vec3{X: 1, Y: 1, Z: 1}},
		},
	}
}

func editedScene() *models.Scene {
	s := baseScene()
	s.Format = "glb"
	// seat: +200 треугольников, legs удалён, back добавлен.
	s.Meshes[0].IndexCount = 2400
	s.Meshes = append(s.Meshes[:1], models.Mesh{Name: "back", IndexCount: 300})
	s.Materials[0].Roughness = 0.4
	s.Textures = nil
	s.Transforms[0].Translation = models.Vec3{Y: 0.5}
	return s
}

func paths(d *models.VersionDiff) []string {
	out := make([]string, 0, len(d.Changes))
	for _, c := range d.Changes {
		out = append(out, string(c.Type)+" "+c.Path)
	}
	return out
}

func TestEngine_Compute_Identity(t *testing.T) {
	e := newEngine(t)
	s := snapshotOf("", 100, baseScene())

	d, err := e.Compute(context.Background(), s, s)
	require.NoError(t, err)
	assert.Empty(t, d.Changes)
	assert.InDelta(t, 1.0, diff.Similarity(d), 1e-9)
}

func TestEngine_Compute_Changes(t *testing.T) {
	e := newEngine(t)
	from := snapshotOf("sha256:a", 1000, baseScene())
	to := snapshotOf("sha256:b", 900, editedScene())

	d, err := e.Compute(context.Background(), from, to)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"mesh_modified meshes/seat",
		"mesh_removed meshes/legs",
		"mesh_added meshes/back",
		"material_modified materials/wood",
		"texture_removed textures/grain",
		"transform_changed meshes/seat",
		"metadata_changed scene/format",
	}, paths(d))
	assert.Equal(t, from.VersionID, d.FromVersionID)
	assert.Equal(t, to.VersionID, d.ToVersionID)

	stats := d.Statistics
	assert.Equal(t, 7, stats.TotalChanges)
	assert.Equal(t, 1, stats.ChangesByType[models.ChangeMeshAdded])
	assert.Equal(t, int64(300), stats.TrianglesAdded)   // seat +200, back +100
	assert.Equal(t, int64(400), stats.TrianglesRemoved) // legs
	assert.Equal(t, int64(-100), stats.SizeDelta)

	// 0.25*3 + 0.10 + 0.15 + 0.05 + 0.02 = 1.07
	assert.InDelta(t, 0.0, diff.Similarity(d), 1e-9)
}

func TestEngine_Compute_Symmetry(t *testing.T) {
	e := newEngine(t)
	a := snapshotOf("sha256:a", 1000, baseScene())
	b := snapshotOf("sha256:b", 900, editedScene())

	ab, err := e.Compute(context.Background(), a, b)
	require.NoError(t, err)
	ba, err := e.Compute(context.Background(), b, a)
	require.NoError(t, err)

	require.Len(t, ba.Changes, len(ab.Changes))
	byPath := make(map[string]models.ModelChange)
	for _, c := range ba.Changes {
		byPath[string(c.Type.Family())+c.Path] = c
	}
	for _, c := range ab.Changes {
		rev, ok := byPath[string(c.Type.Family())+c.Path]
		require.True(t, ok, c.Path)
		assert.Equal(t, c.Type.Inverse(), rev.Type)
		assert.Equal(t, c.OldValue, rev.NewValue)
		assert.Equal(t, c.NewValue, rev.OldValue)
	}
	assert.Equal(t, ab.Statistics.TrianglesAdded, ba.Statistics.TrianglesRemoved)
}

func TestEngine_Compute_TransformIndependentOfGeometry(t *testing.T) {
	e := newEngine(t)
	from := baseScene()
	to := baseScene()
	to.Transforms[0].Rotation = models.Quat{W: 1}

	d, err := e.Compute(context.Background(), snapshotOf("", 0, from), snapshotOf("", 0, to))
	require.NoError(t, err)
	require.Len(t, d.Changes, 1)
	assert.Equal(t, models.ChangeTransform, d.Changes[0].Type)
	assert.Equal(t, models.MeshPath("seat"), d.Changes[0].Path)
	assert.InDelta(t, 0.95, diff.Similarity(d), 1e-9)

	t.Run("Трансформация появилась", func(t *testing.T) {
		to := baseScene()
		to.Transforms = append(to.Transforms, models.Transform{Target: "legs"})
		d, err := e.Compute(context.Background(), snapshotOf("", 0, from), snapshotOf("", 0, to))
		require.NoError(t, err)
		require.Len(t, d.Changes, 1)
		assert.Nil(t, d.Changes[0].OldValue)
		assert.Equal(t, "legs", d.Changes[0].NewValue.Transform.Target)
	})
}

func TestEngine_Compute_Cancelled(t *testing.T) {
	e := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Compute(ctx, snapshotOf("", 0, baseScene()), snapshotOf("", 0, editedScene()))
	require.ErrorIs(t, err, context.Canceled)
}

func TestEngine_Compare(t *testing.T) {
	e := newEngine(t)

	t.Run("Одинаковые хеши", func(t *testing.T) {
		// Сцены различаются, но совпадение хеша означает идентичность без вычисления diff.
		res, err := e.Compare(context.Background(),
			snapshotOf("sha256:same", 10, baseScene()), snapshotOf("sha256:same", 10, editedScene()))
		require.NoError(t, err)
		assert.True(t, res.Identical)
		assert.InDelta(t, 1.0, res.Similarity, 1e-9)
		assert.Empty(t, res.Diff.Changes)
	})

	t.Run("Изменён материал", func(t *testing.T) {
		to := baseScene()
		to.Materials[1].Metallic = 0.5
		res, err := e.Compare(context.Background(),
			snapshotOf("sha256:x", 10, baseScene()), snapshotOf("sha256:y", 10, to))
		require.NoError(t, err)
		assert.False(t, res.Identical)
		assert.InDelta(t, 0.9, res.Similarity, 1e-9)
	})

	t.Run("Повторное сравнение возвращает тот же результат", func(t *testing.T) {
		from := snapshotOf("sha256:p", 10, baseScene())
		to := snapshotOf("sha256:q", 10, editedScene())
		first, err := e.Compute(context.Background(), from, to)
		require.NoError(t, err)
		from.VersionID, to.VersionID = uuid.New(), uuid.New()
		second, err := e.Compute(context.Background(), from, to)
		require.NoError(t, err)
		assert.Equal(t, paths(first), paths(second))
		assert.Equal(t, to.VersionID, second.ToVersionID)
	})
}

func TestWeight(t *testing.T) {
	assert.Greater(t, diff.Weight(models.ChangeMeshModified), diff.Weight(models.ChangeTextureAdded))
	assert.Greater(t, diff.Weight(models.ChangeTextureAdded), diff.Weight(models.ChangeMaterialRemoved))
	assert.Greater(t, diff.Weight(models.ChangeMaterialRemoved), diff.Weight(models.ChangeTransform))
	assert.Greater(t, diff.Weight(models.ChangeTransform), diff.Weight(models.ChangeMetadata))
}
