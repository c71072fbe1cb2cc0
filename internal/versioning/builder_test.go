package versioning_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/assetkeeper/internal/apperr"
	"github.com/maynagashev/assetkeeper/internal/content"
	"github.com/maynagashev/assetkeeper/internal/extract"
	"github.com/maynagashev/assetkeeper/internal/logger"
	"github.com/maynagashev/assetkeeper/internal/models"
	"github.com/maynagashev/assetkeeper/internal/storage"
	"github.com/maynagashev/assetkeeper/internal/versioning"
)

// MockExtractor - мок для extract.MetadataExtractor.
type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) Extract(ctx context.Context, data []byte) (models.ModelMetadata, error) {
	args := m.Called(ctx, data)
	return args.Get(0).(models.ModelMetadata), args.Error(1)
}

func newBuilder(t *testing.T, extractor extract.MetadataExtractor) (*versioning.Builder, *storage.MemoryStore) {
	t.Helper()
	addr, err := content.NewAddresser("")
	require.NoError(t, err)
	blobs := storage.NewMemoryStore()
	b := versioning.NewBuilder(versioning.Config{MaxContentBytes: 4096}, addr, blobs, extractor, logger.Nop())
	return b, blobs
}

func chairScene() *models.Scene {
	return &models.Scene{
		Format:     "gltf",
		Meshes:     []models.Mesh{{Name: "seat", VertexCount: 500, IndexCount: 3000}},
		Materials:  []models.Material{{Name: "wood", Roughness: 0.7}},
		Transforms: []models.Transform{{Target: "seat", Scale: models.Vec3{X: 1, Y: 1, Z: 1}}},
	}
}

func TestBuilder_Build(t *testing.T) {
	ctx := context.Background()
	b, blobs := newBuilder(t, extract.SceneExtractor{})
	parent := &models.ModelVersion{ID: uuid.New(), Version: "1.0.0"}
	mergeParent := &models.ModelVersion{ID: uuid.New(), Version: "1.0.3"}

	v, err := b.Build(ctx, versioning.Input{
		AssetID:     "chair",
		Branch:      "main",
		Scene:       chairScene(),
		Base:        "1.0.0",
		Parent:      parent,
		MergeParent: mergeParent,
		Author:      "alice",
		Message:     "сиденье",
		Tags:        map[string]string{"stage": "final"},
	})
	require.NoError(t, err)

	assert.Equal(t, "1.0.1", v.Version)
	assert.Equal(t, parent.ID, *v.ParentVersionID)
	assert.Equal(t, mergeParent.ID, *v.MergeParentID)
	assert.Equal(t, models.VersionStatusDraft, v.Status)
	assert.Equal(t, int64(1000), v.TriangleCount)
	assert.Equal(t, "final", v.Tags["stage"])
	assert.Equal(t, 1, blobs.Len())

	data, err := blobs.Get(ctx, v.ContentPath)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), v.SizeBytes)

	t.Run("Одинаковая сцена даёт одинаковый хеш", func(t *testing.T) {
		again, err := b.Build(ctx, versioning.Input{AssetID: "chair", Scene: chairScene(), Author: "bob"})
		require.NoError(t, err)
		assert.Equal(t, v.ContentHash, again.ContentHash)
		assert.Equal(t, versioning.InitialVersion, again.Version)
		assert.Equal(t, 1, blobs.Len())
	})
}

func TestBuilder_ExtractorFailureIsNotFatal(t *testing.T) {
	extractor := new(MockExtractor)
	extractor.On("Extract", mock.Anything, mock.Anything).
		Return(models.ModelMetadata{TriangleCount: 7}, errors.New("парсер упал"))
	b, _ := newBuilder(t, extractor)

	v, err := b.Build(context.Background(), versioning.Input{AssetID: "chair", Scene: chairScene(), Author: "alice"})

	require.NoError(t, err)
	assert.Equal(t, models.ModelMetadata{}, v.ModelMetadata)
	extractor.AssertExpectations(t)
}

func TestBuilder_Validation(t *testing.T) {
	big := chairScene()
	for range 200 {
		big.Materials = append(big.Materials, models.Material{Name: uuid.NewString()})
	}

	tests := []struct {
		name  string
		scene *models.Scene
	}{
		{name: "Нет сцены", scene: nil},
		{name: "Недопустимый формат", scene: &models.Scene{Format: "blend"}},
		{name: "Меш без имени", scene: &models.Scene{Format: "obj", Meshes: []models.Mesh{{}}}},
		{
			name:  "Повтор материала",
			scene: &models.Scene{Format: "obj", Materials: []models.Material{{Name: "a"}, {Name: "a"}}},
		},
		{
			name:  "Трансформация неизвестного меша",
			scene: &models.Scene{Format: "obj", Transforms: []models.Transform{{Target: "ghost"}}},
		},
		{name: "Превышен размер", scene: big},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, blobs := newBuilder(t, extract.SceneExtractor{})
			_, err := b.Build(context.Background(), versioning.Input{AssetID: "chair", Scene: tt.scene, Author: "alice"})
			require.ErrorIs(t, err, apperr.ErrValidation)
			assert.Equal(t, 0, blobs.Len())
		})
	}
}

func TestBuilder_PutBuffer(t *testing.T) {
	b, blobs := newBuilder(t, extract.SceneExtractor{})

	hash, err := b.PutBuffer(context.Background(), []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Contains(t, hash, "sha256:")
	assert.Equal(t, 1, blobs.Len())

	_, err = b.PutBuffer(context.Background(), nil)
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestNextVersion(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		bump    versioning.Bump
		want    string
		wantErr bool
	}{
		{name: "Первая версия", base: "", want: "1.0.0"},
		{name: "Patch по умолчанию", base: "1.0.9", want: "1.0.10"},
		{name: "Minor", base: "1.2.3", bump: versioning.BumpMinor, want: "1.3.0"},
		{name: "Major", base: "1.2.3", bump: versioning.BumpMajor, want: "2.0.0"},
		{name: "Некорректный номер", base: "abc", wantErr: true},
		{name: "Неизвестный bump", base: "1.0.0", bump: "huge", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := versioning.NextVersion(tt.base, tt.bump)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
