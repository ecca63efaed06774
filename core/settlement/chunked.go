// Package settlement submits large payloads to the ledger in bounded,
// strictly sequential batches.
package settlement

import (
	"context"
	"fmt"

	"github.com/kilianp07/flexsim/core/logger"
)

// DefaultChunkSize bounds one ledger call.
const DefaultChunkSize = 100

// BatchFunc submits one chunk and returns once its receipt is confirmed.
type BatchFunc[T any] func(ctx context.Context, chunk []T) error

// ChunkedSubmitter splits items into ordered chunks.
type ChunkedSubmitter[T any] struct {
	Size int
	Log  logger.Logger
}

// NewChunkedSubmitter returns a submitter using size, or DefaultChunkSize
// when size is not positive.
func NewChunkedSubmitter[T any](size int, log logger.Logger) *ChunkedSubmitter[T] {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &ChunkedSubmitter[T]{Size: size, Log: logger.OrNop(log)}
}

// Submit sends items chunk by chunk, each call waiting for the previous one.
// The first failure is logged and returned; later chunks are never sent.
func (s *ChunkedSubmitter[T]) Submit(ctx context.Context, fn BatchFunc[T], items []T) error {
	size := s.Size
	if size <= 0 {
		size = DefaultChunkSize
	}
	log := logger.OrNop(s.Log)
	for i, n := 0, 0; i < len(items); i, n = i+size, n+1 {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(i+size, len(items))
		if err := fn(ctx, items[i:end]); err != nil {
			log.Errorf("chunk %d (%d items) failed, aborting %d remaining: %v",
				n, end-i, len(items)-end, err)
			return fmt.Errorf("settlement chunk %d: %w", n, err)
		}
		log.Debugf("chunk %d submitted (%d items)", n, end-i)
	}
	return nil
}

// Chunks returns the number of calls Submit makes for n items.
func (s *ChunkedSubmitter[T]) Chunks(n int) int {
	size := s.Size
	if size <= 0 {
		size = DefaultChunkSize
	}
	return (n + size - 1) / size
}
