package conflict_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/assetkeeper/internal/apperr"
	"github.com/maynagashev/assetkeeper/internal/conflict"
	"github.com/maynagashev/assetkeeper/internal/models"
)

// history - граф версий в памяти; calls считает чтения.
type history struct {
	versions map[uuid.UUID]*models.ModelVersion
	calls    int
}

func newHistory() *history {
	return &history{versions: make(map[uuid.UUID]*models.ModelVersion)}
}

func (h *history) add(parents ...uuid.UUID) uuid.UUID {
	v := &models.ModelVersion{ID: uuid.New()}
	if len(parents) > 0 {
		v.ParentVersionID = &parents[0]
	}
	if len(parents) > 1 {
		v.MergeParentID = &parents[1]
	}
	h.versions[v.ID] = v
	return v.ID
}

func (h *history) GetVersion(_ context.Context, id uuid.UUID) (*models.ModelVersion, error) {
	h.calls++
	v, ok := h.versions[id]
	if !ok {
		return nil, fmt.Errorf("версия %s: %w", id, apperr.ErrNotFound)
	}
	return v, nil
}

func TestFindCommonAncestor(t *testing.T) {
	ctx := context.Background()

	t.Run("Развилка от одной версии", func(t *testing.T) {
		h := newHistory()
		root := h.add()
		fork := h.add(root)
		a := h.add(h.add(fork))
		b := h.add(fork)

		got, err := conflict.FindCommonAncestor(ctx, h, a, b)
		require.NoError(t, err)
		assert.Equal(t, fork, got)
	})

	t.Run("Одна голова - предок другой", func(t *testing.T) {
		h := newHistory()
		root := h.add()
		head := h.add(h.add(root))

		got, err := conflict.FindCommonAncestor(ctx, h, head, root)
		require.NoError(t, err)
		assert.Equal(t, root, got)
	})

	t.Run("Одинаковые головы", func(t *testing.T) {
		h := newHistory()
		v := h.add()

		got, err := conflict.FindCommonAncestor(ctx, h, v, v)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Zero(t, h.calls)
	})

	t.Run("Через второго родителя merge-коммита", func(t *testing.T) {
		h := newHistory()
		root := h.add()
		mainHead := h.add(root)
		feature := h.add(root)
		featureNext := h.add(feature)
		// main слил feature, потом feature продолжилась.
		merged := h.add(mainHead, feature)
		featureHead := h.add(featureNext)

		got, err := conflict.FindCommonAncestor(ctx, h, merged, featureHead)
		require.NoError(t, err)
		assert.Equal(t, feature, got)
	})

	t.Run("Несвязанные истории", func(t *testing.T) {
		h := newHistory()
		a := h.add(h.add())
		b := h.add(h.add())

		_, err := conflict.FindCommonAncestor(ctx, h, a, b)
		require.ErrorIs(t, err, apperr.ErrNoCommonAncestor)
	})

	t.Run("Каждая версия читается один раз", func(t *testing.T) {
		h := newHistory()
		root := h.add()
		left := h.add(root)
		right := h.add(root)
		diamond := h.add(left, right)
		a := h.add(diamond)
		b := h.add(root)

		got, err := conflict.FindCommonAncestor(ctx, h, a, b)
		require.NoError(t, err)
		assert.Equal(t, root, got)
		assert.Equal(t, len(h.versions), h.calls)
	})

	t.Run("Ошибка чтения", func(t *testing.T) {
		h := newHistory()
		_, err := conflict.FindCommonAncestor(ctx, h, uuid.New(), uuid.New())
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})
}
