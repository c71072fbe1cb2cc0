package conflict

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/maynagashev/assetkeeper/internal/apperr"
	"github.com/maynagashev/assetkeeper/internal/models"
)

// VersionGetter читает версии для обхода истории.
type VersionGetter interface {
	GetVersion(ctx context.Context, id uuid.UUID) (*models.ModelVersion, error)
}

// FindCommonAncestor возвращает ближайшую общую версию двух голов.
// Обход в ширину идёт по обоим родителям; «ближайшая» - с минимальной суммой расстояний,
// при равенстве выбирается меньший ID, чтобы результат не зависел от порядка обхода.
func FindCommonAncestor(ctx context.Context, getter VersionGetter, a, b uuid.UUID) (uuid.UUID, error) {
	if a == b {
		return a, nil
	}
	w := &walker{getter: getter, parents: make(map[uuid.UUID][]uuid.UUID)}

	distA, err := w.distances(ctx, a)
	if err != nil {
		return uuid.Nil, err
	}

	best, bestScore := uuid.Nil, -1
	visited := map[uuid.UUID]struct{}{b: {}}
	frontier := []uuid.UUID{b}
	for depth := 0; len(frontier) > 0; depth++ {
		if bestScore >= 0 && depth > bestScore {
			break
		}
		var next []uuid.UUID
		for _, id := range frontier {
			if da, ok := distA[id]; ok {
				score := da + depth
				if bestScore < 0 || score < bestScore || (score == bestScore && id.String() < best.String()) {
					best, bestScore = id, score
				}
			}
			parents, err := w.parentsOf(ctx, id)
			if err != nil {
				return uuid.Nil, err
			}
			for _, p := range parents {
				if _, seen := visited[p]; !seen {
					visited[p] = struct{}{}
					next = append(next, p)
				}
			}
		}
		frontier = next
	}

	if bestScore < 0 {
		return uuid.Nil, fmt.Errorf("%w: %s и %s", apperr.ErrNoCommonAncestor, a, b)
	}
	return best, nil
}

// walker запоминает родителей прочитанных версий, чтобы не читать их повторно.
type walker struct {
	getter  VersionGetter
	parents map[uuid.UUID][]uuid.UUID
}

func (w *walker) parentsOf(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	if p, ok := w.parents[id]; ok {
		return p, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("обход истории прерван: %w", err)
	}
	v, err := w.getter.GetVersion(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("обход истории: %w", err)
	}
	p := v.Parents()
	w.parents[id] = p
	return p, nil
}

// distances возвращает расстояние от start до каждого предка (включая start).
func (w *walker) distances(ctx context.Context, start uuid.UUID) (map[uuid.UUID]int, error) {
	dist := map[uuid.UUID]int{start: 0}
	queue := []uuid.UUID{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		parents, err := w.parentsOf(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			if _, seen := dist[p]; !seen {
				dist[p] = dist[id] + 1
				queue = append(queue, p)
			}
		}
	}
	return dist, nil
}
