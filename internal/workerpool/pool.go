// Package workerpool ограничивает число одновременных CPU-тяжёлых вычислений (diff, слияние).
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/maynagashev/assetkeeper/internal/metrics"
)

// ErrPoolClosed возвращается после Close.
var ErrPoolClosed = errors.New("пул вычислений закрыт")

// Pool - семафор на канале: слот берётся перед задачей и возвращается после неё.
type Pool struct {
	slots   chan struct{}
	closed  chan struct{}
	metrics *metrics.Metrics
}

// New создаёт пул на size слотов; size <= 0 означает GOMAXPROCS.
func New(size int, m *metrics.Metrics) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		slots:   make(chan struct{}, size),
		closed:  make(chan struct{}),
		metrics: m,
	}
	for range size {
		p.slots <- struct{}{}
	}
	return p
}

// Size возвращает число слотов.
func (p *Pool) Size() int {
	return cap(p.slots)
}

// Submit выполняет fn, дождавшись свободного слота. Ожидание прерывается отменой ctx.
// fn выполняется в вызывающей горутине; пул ограничивает параллелизм, а не создаёт потоки.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()
	return fn(ctx)
}

func (p *Pool) acquire(ctx context.Context) error {
	select {
	case <-p.closed:
		return ErrPoolClosed
	default:
	}
	select {
	case <-p.slots:
		p.metrics.PoolAcquired()
		return nil
	case <-p.closed:
		return ErrPoolClosed
	case <-ctx.Done():
		return fmt.Errorf("ожидание слота пула: %w", ctx.Err())
	}
}

func (p *Pool) release() {
	p.metrics.PoolReleased()
	p.slots <- struct{}{}
}

// Close запрещает новые задачи. Выполняющиеся задачи дорабатывают.
func (p *Pool) Close() {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
}

// Run выполняет fn в пуле и возвращает её результат.
func Run[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Submit(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}
