// Package versioning собирает новые версии: проверка сцены, хеш, запись в хранилище, метрики, номер.
package versioning

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/maynagashev/assetkeeper/internal/apperr"
	"github.com/maynagashev/assetkeeper/internal/content"
	"github.com/maynagashev/assetkeeper/internal/extract"
	"github.com/maynagashev/assetkeeper/internal/logger"
	"github.com/maynagashev/assetkeeper/internal/models"
	"github.com/maynagashev/assetkeeper/internal/storage"
)

// InitialVersion - номер первой версии ассета.
const InitialVersion = "1.0.0"

// Bump - какая часть номера увеличивается.
type Bump string

const (
	BumpPatch Bump = "patch"
	BumpMinor Bump = "minor"
	BumpMajor Bump = "major"
)

// Ограничения по умолчанию.
const (
	DefaultMaxContentBytes = 8 << 20
	DefaultMaxBufferBytes  = 256 << 20
)

// DefaultAllowedFormats - форматы сцен, принимаемые по умолчанию.
var DefaultAllowedFormats = []string{"gltf", "glb", "fbx", "obj", "usd", "usdz"}

// Config - ограничения на содержимое.
type Config struct {
	MaxContentBytes int64
	MaxBufferBytes  int64
	AllowedFormats  []string
}

// Builder собирает версии. Не сохраняет строки в БД: это делает вызывающий через CAS.
type Builder struct {
	cfg       Config
	addresser *content.Addresser
	blobs     storage.BlobStore
	extractor extract.MetadataExtractor
	log       *logger.Logger
}

// NewBuilder создаёт сборщик версий.
func NewBuilder(
	cfg Config,
	addresser *content.Addresser,
	blobs storage.BlobStore,
	extractor extract.MetadataExtractor,
	log *logger.Logger,
) *Builder {
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = DefaultMaxContentBytes
	}
	if cfg.MaxBufferBytes <= 0 {
		cfg.MaxBufferBytes = DefaultMaxBufferBytes
	}
	if len(cfg.AllowedFormats) == 0 {
		cfg.AllowedFormats = DefaultAllowedFormats
	}
	return &Builder{
		cfg:       cfg,
		addresser: addresser,
		blobs:     blobs,
		extractor: extractor,
		log:       log.Component("versioning"),
	}
}

// Input - данные новой версии.
type Input struct {
	AssetID string
	Branch  string
	Scene   *models.Scene
	// Base - номер версии, от которого считается новый (голова ветки); пустой для первой версии.
	Base        string
	Bump        Bump
	Parent      *models.ModelVersion
	MergeParent *models.ModelVersion
	Author      string
	Message     string
	Tags        map[string]string
	Status      models.VersionStatus
}

// Build проверяет сцену, записывает манифест в хранилище и возвращает несохранённую версию.
func (b *Builder) Build(ctx context.Context, in Input) (*models.ModelVersion, error) {
	if in.AssetID == "" {
		return nil, apperr.Validation("не указан ассет")
	}
	if in.Author == "" {
		return nil, apperr.Validation("не указан автор")
	}
	if err := b.ValidateScene(in.Scene); err != nil {
		return nil, err
	}

	number, err := NextVersion(in.Base, in.Bump)
	if err != nil {
		return nil, err
	}

	data, err := content.EncodeScene(in.Scene)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > b.cfg.MaxContentBytes {
		return nil, apperr.Validation("манифест сцены %d байт превышает лимит %d", len(data), b.cfg.MaxContentBytes)
	}

	hash := b.addresser.Hash(data)
	path, err := b.blobs.Put(ctx, hash, data)
	if err != nil {
		return nil, fmt.Errorf("ошибка записи содержимого версии: %w", err)
	}

	md, err := b.extractor.Extract(ctx, data)
	if err != nil {
		b.log.Warn().Err(err).Str("asset_id", in.AssetID).Str("content_hash", hash).
			Msg("Не удалось извлечь метрики, используются нулевые")
		md = models.ModelMetadata{}
	}

	v := &models.ModelVersion{
		AssetID:       in.AssetID,
		Version:       number,
		Branch:        in.Branch,
		Message:       in.Message,
		ContentHash:   hash,
		ContentPath:   path,
		Author:        in.Author,
		SizeBytes:     int64(len(data)),
		ModelMetadata: md,
		Status:        in.Status,
		Tags:          models.StringMap{},
	}
	for k, val := range in.Tags {
		v.Tags[k] = val
	}
	if v.Status == "" {
		v.Status = models.VersionStatusDraft
	}
	if in.Parent != nil {
		id := in.Parent.ID
		v.ParentVersionID = &id
	}
	if in.MergeParent != nil {
		id := in.MergeParent.ID
		v.MergeParentID = &id
	}
	return v, nil
}

// PutBuffer сохраняет непрозрачный буфер (геометрия, пиксели) и возвращает его хеш.
func (b *Builder) PutBuffer(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", apperr.Validation("пустой буфер")
	}
	if int64(len(data)) > b.cfg.MaxBufferBytes {
		return "", apperr.Validation("буфер %d байт превышает лимит %d", len(data), b.cfg.MaxBufferBytes)
	}
	hash := b.addresser.Hash(data)
	if _, err := b.blobs.Put(ctx, hash, data); err != nil {
		return "", fmt.Errorf("ошибка записи буфера: %w", err)
	}
	return hash, nil
}

// ValidateScene проверяет формат и уникальность имён элементов.
func (b *Builder) ValidateScene(scene *models.Scene) error {
	if scene == nil {
		return apperr.Validation("сцена не задана")
	}
	if !slices.Contains(b.cfg.AllowedFormats, strings.ToLower(scene.Format)) {
		return apperr.Validation("формат %q не поддерживается", scene.Format)
	}

	meshes := make(map[string]struct{}, len(scene.Meshes))
	for _, m := range scene.Meshes {
		if err := checkName("меш", m.Name, meshes); err != nil {
			return err
		}
		if m.VertexCount < 0 || m.IndexCount < 0 {
			return apperr.Validation("меш %q: отрицательное число вершин или индексов", m.Name)
		}
	}
	materials := make(map[string]struct{}, len(scene.Materials))
	for _, m := range scene.Materials {
		if err := checkName("материал", m.Name, materials); err != nil {
			return err
		}
	}
	textures := make(map[string]struct{}, len(scene.Textures))
	for _, tx := range scene.Textures {
		if err := checkName("текстура", tx.Name, textures); err != nil {
			return err
		}
	}
	targets := make(map[string]struct{}, len(scene.Transforms))
	for _, tr := range scene.Transforms {
		if err := checkName("трансформация", tr.Target, targets); err != nil {
			return err
		}
		if _, ok := meshes[tr.Target]; !ok {
			return apperr.Validation("трансформация ссылается на неизвестный меш %q", tr.Target)
		}
	}
	return nil
}

func checkName(kind, name string, seen map[string]struct{}) error {
	if name == "" {
		return apperr.Validation("%s без имени", kind)
	}
	if _, dup := seen[name]; dup {
		return apperr.Validation("%s %q встречается дважды", kind, name)
	}
	seen[name] = struct{}{}
	return nil
}

// NextVersion увеличивает номер base; пустой base даёт InitialVersion.
func NextVersion(base string, bump Bump) (string, error) {
	if base == "" {
		return InitialVersion, nil
	}
	v, err := semver.NewVersion(base)
	if err != nil {
		return "", fmt.Errorf("некорректный номер версии %q: %w", base, err)
	}
	var next semver.Version
	switch bump {
	case "", BumpPatch:
		next = v.IncPatch()
	case BumpMinor:
		next = v.IncMinor()
	case BumpMajor:
		next = v.IncMajor()
	default:
		return "", apperr.Validation("неизвестный тип увеличения версии %q", bump)
	}
	return next.String(), nil
}
