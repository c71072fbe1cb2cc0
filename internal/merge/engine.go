// Package merge сливает ветки ассета: трёхсторонне, со сжатием или с пометкой rebase.
package merge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maynagashev/assetkeeper/internal/apperr"
	"github.com/maynagashev/assetkeeper/internal/conflict"
	"github.com/maynagashev/assetkeeper/internal/diff"
	"github.com/maynagashev/assetkeeper/internal/logger"
	"github.com/maynagashev/assetkeeper/internal/metrics"
	"github.com/maynagashev/assetkeeper/internal/models"
	"github.com/maynagashev/assetkeeper/internal/versioning"
	"github.com/maynagashev/assetkeeper/internal/workerpool"
)

// maxCommitRetries - сколько раз слияние повторяется после проигранного CAS.
const maxCommitRetries = 1

// RebasePrefix добавляется к сообщению коммита при стратегии rebase.
const RebasePrefix = "[rebase] "

// Store - операции хранилища, нужные слиянию.
type Store interface {
	GetBranch(ctx context.Context, assetID, name string) (*models.Branch, error)
	GetVersion(ctx context.Context, id uuid.UUID) (*models.ModelVersion, error)
	CommitVersion(ctx context.Context, v *models.ModelVersion, branchID, expectedHead uuid.UUID) error
}

// SceneLoader читает сцену версии.
type SceneLoader interface {
	Load(ctx context.Context, v *models.ModelVersion) (*models.Scene, error)
}

// Dependencies - зависимости движка слияния.
type Dependencies struct {
	Store    Store
	Loader   SceneLoader
	Differ   *diff.Engine
	Detector *conflict.Detector
	Builder  *versioning.Builder
	Pool     *workerpool.Pool
	Metrics  *metrics.Metrics
	Logger   *logger.Logger
}

// Engine выполняет слияния.
type Engine struct {
	store    Store
	loader   SceneLoader
	differ   *diff.Engine
	detector *conflict.Detector
	builder  *versioning.Builder
	pool     *workerpool.Pool
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewEngine создаёт движок слияния.
func NewEngine(deps Dependencies) *Engine {
	return &Engine{
		store:    deps.Store,
		loader:   deps.Loader,
		differ:   deps.Differ,
		detector: deps.Detector,
		builder:  deps.Builder,
		pool:     deps.Pool,
		metrics:  deps.Metrics,
		log:      deps.Logger.Component("merge"),
	}
}

// Request - параметры слияния.
type Request struct {
	AssetID      string
	SourceBranch string
	TargetBranch string
	Strategy     models.MergeStrategy
	Committer    string
	Message      string
	// Resolutions - конфликты с решениями; сопоставляются с найденными по Conflict.Key().
	Resolutions []models.Conflict
	Bump        versioning.Bump
	Status      models.VersionStatus
}

// Analysis - состояние двух веток относительно общего предка.
type Analysis struct {
	Source     *models.Branch
	Target     *models.Branch
	SourceHead *models.ModelVersion
	TargetHead *models.ModelVersion
	Base       *models.ModelVersion

	SourceScene *models.Scene
	TargetScene *models.Scene

	SourceDiff *models.VersionDiff
	TargetDiff *models.VersionDiff
	Conflicts  []models.Conflict
}

// Result - итог слияния.
type Result struct {
	Version   *models.ModelVersion
	Base      *models.ModelVersion
	Conflicts []models.Conflict
	Attempts  int
}

// Analyze находит общего предка, вычисляет оба diff и конфликты. Ничего не записывает.
func (e *Engine) Analyze(ctx context.Context, assetID, sourceBranch, targetBranch string) (*Analysis, error) {
	return workerpool.Run(ctx, e.pool, func(ctx context.Context) (*Analysis, error) {
		return e.analyze(ctx, assetID, sourceBranch, targetBranch)
	})
}

func (e *Engine) analyze(ctx context.Context, assetID, sourceBranch, targetBranch string) (*Analysis, error) {
	if sourceBranch == targetBranch {
		return nil, apperr.Validation("ветка %q не может сливаться сама в себя", sourceBranch)
	}
	a := &Analysis{}
	var err error
	if a.Source, err = e.store.GetBranch(ctx, assetID, sourceBranch); err != nil {
		return nil, fmt.Errorf("исходная ветка: %w", err)
	}
	if a.Target, err = e.store.GetBranch(ctx, assetID, targetBranch); err != nil {
		return nil, fmt.Errorf("целевая ветка: %w", err)
	}
	if a.SourceHead, err = e.store.GetVersion(ctx, a.Source.HeadVersionID); err != nil {
		return nil, fmt.Errorf("голова исходной ветки: %w", err)
	}
	if a.TargetHead, err = e.store.GetVersion(ctx, a.Target.HeadVersionID); err != nil {
		return nil, fmt.Errorf("голова целевой ветки: %w", err)
	}

	baseID, err := conflict.FindCommonAncestor(ctx, e.store, a.SourceHead.ID, a.TargetHead.ID)
	if err != nil {
		return nil, err
	}
	if a.Base, err = e.store.GetVersion(ctx, baseID); err != nil {
		return nil, fmt.Errorf("общий предок: %w", err)
	}

	baseScene, err := e.loader.Load(ctx, a.Base)
	if err != nil {
		return nil, err
	}
	if a.SourceScene, err = e.loader.Load(ctx, a.SourceHead); err != nil {
		return nil, err
	}
	if a.TargetScene, err = e.loader.Load(ctx, a.TargetHead); err != nil {
		return nil, err
	}

	base := snapshotOf(a.Base, baseScene)
	if a.SourceDiff, err = e.differ.Compute(ctx, base, snapshotOf(a.SourceHead, a.SourceScene)); err != nil {
		return nil, err
	}
	if a.TargetDiff, err = e.differ.Compute(ctx, base, snapshotOf(a.TargetHead, a.TargetScene)); err != nil {
		return nil, err
	}
	if a.Conflicts, err = e.detector.Detect(ctx, a.SourceDiff, a.TargetDiff); err != nil {
		return nil, err
	}
	e.metrics.RecordConflicts(len(a.Conflicts))
	return a, nil
}

func snapshotOf(v *models.ModelVersion, scene *models.Scene) diff.Snapshot {
	return diff.Snapshot{VersionID: v.ID, ContentHash: v.ContentHash, SizeBytes: v.SizeBytes, Scene: scene}
}

// Merge сливает исходную ветку в целевую и сдвигает голову целевой через CAS.
// Если голову сдвинули параллельно, слияние один раз повторяется от новой головы.
func (e *Engine) Merge(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	defer func() {
		e.metrics.RecordMerge(string(req.Strategy), err)
		e.metrics.RecordOperation("merge", err, time.Since(start))
	}()

	if !req.Strategy.Valid() {
		return nil, apperr.Validation("неизвестная стратегия слияния %q", req.Strategy)
	}
	if req.Committer == "" {
		return nil, apperr.Validation("не указан автор слияния")
	}

	for attempt := 0; ; attempt++ {
		res, err = e.attempt(ctx, req)
		if err == nil {
			res.Attempts = attempt + 1
			e.log.Info().
				Str("asset_id", req.AssetID).
				Str("source", req.SourceBranch).
				Str("target", req.TargetBranch).
				Str("strategy", string(req.Strategy)).
				Str("version", res.Version.Version).
				Msg("Ветки слиты")
			return res, nil
		}
		if !errors.Is(err, apperr.ErrConcurrencyConflict) || attempt >= maxCommitRetries {
			return nil, err
		}
		e.metrics.RecordCASConflict("merge")
		e.log.Warn().Err(err).Str("target", req.TargetBranch).Msg("Голова ветки изменилась, слияние повторяется")
	}
}

func (e *Engine) attempt(ctx context.Context, req Request) (*Result, error) {
	a, err := e.Analyze(ctx, req.AssetID, req.SourceBranch, req.TargetBranch)
	if err != nil {
		return nil, err
	}
	if a.Base.ID == a.SourceHead.ID {
		return nil, apperr.Validation("ветка %s не содержит изменений относительно %s", req.SourceBranch, req.TargetBranch)
	}

	conflicts, unresolved := applyResolutions(a.Conflicts, req.Resolutions)
	if len(unresolved) > 0 {
		return nil, apperr.Unresolved(unresolved)
	}

	scene, err := workerpool.Run(ctx, e.pool, func(context.Context) (*models.Scene, error) {
		return e.materialize(a, conflicts)
	})
	if err != nil {
		return nil, err
	}

	in := versioning.Input{
		AssetID: req.AssetID,
		Branch:  a.Target.Name,
		Scene:   scene,
		Base:    a.TargetHead.Version,
		Bump:    req.Bump,
		Parent:  a.TargetHead,
		Author:  req.Committer,
		Message: commitMessage(req),
		Tags: map[string]string{
			"merge_source":   a.Source.Name,
			"merge_strategy": string(req.Strategy),
		},
		Status: req.Status,
	}
	if req.Strategy != models.StrategySquash {
		in.MergeParent = a.SourceHead
	}
	v, err := e.builder.Build(ctx, in)
	if err != nil {
		return nil, err
	}
	if err = e.store.CommitVersion(ctx, v, a.Target.ID, a.TargetHead.ID); err != nil {
		return nil, fmt.Errorf("ошибка фиксации слияния: %w", err)
	}
	return &Result{Version: v, Base: a.Base, Conflicts: conflicts}, nil
}

// applyResolutions переносит решения на найденные конфликты и возвращает оставшиеся без решения.
func applyResolutions(found, resolutions []models.Conflict) (all, unresolved []models.Conflict) {
	byKey := make(map[string]*models.Resolution, len(resolutions))
	for i := range resolutions {
		if resolutions[i].Resolution != nil {
			byKey[resolutions[i].Key()] = resolutions[i].Resolution
		}
	}
	all = make([]models.Conflict, 0, len(found))
	for _, c := range found {
		if r, ok := byKey[c.Key()]; ok {
			c.Resolution = r
		}
		if !c.Resolved() {
			unresolved = append(unresolved, c)
		}
		all = append(all, c)
	}
	return all, unresolved
}

// materialize строит сцену результата: сцена цели плюс изменения источника,
// конфликтные пути берутся из решений. Стратегии отличаются только родителями коммита.
func (e *Engine) materialize(a *Analysis, conflicts []models.Conflict) (*models.Scene, error) {
	resolved := make(map[string]struct{}, len(conflicts))
	for _, c := range conflicts {
		resolved[c.Key()] = struct{}{}
	}

	scene := a.TargetScene.Clone()
	for _, ch := range a.SourceDiff.Changes {
		family := ch.Type.Family()
		if _, ok := resolved[string(family.ConflictType())+"|"+ch.Path]; ok {
			continue
		}
		if err := patch(scene, family, ch.Path, ch.NewValue); err != nil {
			return nil, err
		}
	}

	for _, c := range conflicts {
		family, ok := familyOf(c.Type)
		if !ok {
			return nil, apperr.Validation("конфликт %s не может быть применён к сцене", c.Type)
		}
		value, err := resolvedValue(c)
		if err != nil {
			return nil, err
		}
		if err = patch(scene, family, c.Path, value); err != nil {
			return nil, err
		}
	}

	if dropped := pruneTransforms(scene); len(dropped) > 0 {
		e.log.Warn().Strs("targets", dropped).Msg("Трансформации удалённых мешей отброшены")
	}
	return scene, nil
}

func commitMessage(req Request) string {
	msg := req.Message
	if msg == "" {
		msg = fmt.Sprintf("Слияние %s в %s", req.SourceBranch, req.TargetBranch)
	}
	if req.Strategy == models.StrategyRebase {
		msg = RebasePrefix + msg
	}
	return msg
}
