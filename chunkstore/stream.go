package chunkstore

import (
	"context"
	"fmt"
	"time"

	"github.com/kjk/toolkit/log"
	"github.com/kjk/toolkit/u"
	"golang.org/x/sync/errgroup"
)

// initial number of items after which we estimate the size of items
const streamInitialTrySize = 10

// StreamResult describes a store written by SaveStream
type StreamResult struct {
	Length int
	Chunks int
	// 0 if there were too few items to determine batch size
	BatchSize int
}

// StreamJob is a handle to a background writer started by SaveStream
type StreamJob struct {
	g    errgroup.Group
	done chan struct{}
	res  *StreamResult
}

// Wait waits for the writer to finish and returns the result or the error
// that stopped it
func (j *StreamJob) Wait() (*StreamResult, error) {
	if err := j.g.Wait(); err != nil {
		return nil, err
	}
	return j.res, nil
}

// Done is closed when the writer finishes
func (j *StreamJob) Done() <-chan struct{} {
	return j.done
}

// SaveStream starts a goroutine that reads items from a channel and saves
// them in a store directory s.Dir. Closing the channel finishes the store.
//
// The batch size is determined from the first items, so that a chunk
// is about s.StreamTargetChunkSize bytes. Until then items are buffered,
// but no more than s.StreamMaxBatch.
//
// If ctx is cancelled, the writer stops and length.txt is not written.
// The writer also stops receiving after an error so a producer that
// might outlive it should select on Done():
//
//	select {
//	case ch <- item:
//	case <-job.Done():
//	}
func SaveStream[T any](ctx context.Context, s *Store, items <-chan T) *StreamJob {
	return SaveStreamFunc(ctx, s, items, identity[T])
}

// SaveStreamFunc is like SaveStream but items are converted with convert
// before being encoded
func SaveStreamFunc[T, U any](ctx context.Context, s *Store, items <-chan T, convert func(T) U) *StreamJob {
	j := &StreamJob{
		done: make(chan struct{}),
	}
	st, errValidate := s.withDefaults()
	if errValidate == nil && items == nil {
		errValidate = fmt.Errorf("%w: items channel is nil", ErrInvalidStore)
	}
	if errValidate == nil && convert == nil {
		errValidate = fmt.Errorf("%w: convert is nil", ErrInvalidStore)
	}
	j.g.Go(func() (err error) {
		defer close(j.done)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("chunkstore: stream writer panicked: %v", r)
				log.Errorf("%s\n", err)
			}
		}()
		if errValidate != nil {
			return errValidate
		}
		c := &collector[T, U]{
			s:       st,
			convert: convert,
			trySize: streamInitialTrySize,
		}
		j.res, err = c.run(ctx, items)
		return err
	})
	return j
}

// collector buffers items until it knows the batch size and then
// writes them as chunks
type collector[T, U any] struct {
	s       *Store
	convert func(T) U
	w       *chunkWriter[U]

	buf []U
	// number of items after which we re-estimate item size.
	// grows as more items are buffered
	trySize int
	// 0 until determined, fixed after that
	batchSize int
}

func (c *collector[T, U]) run(ctx context.Context, items <-chan T) (*StreamResult, error) {
	timeStart := time.Now()
	var err error
	c.w, err = newChunkWriter[U](c.s)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case <-ctx.Done():
			log.Verbosef("chunkstore: stream to '%s' cancelled after %d items\n", c.s.Dir, c.w.length+len(c.buf))
			return nil, ctx.Err()
		case item, ok := <-items:
			if !ok {
				return c.finish(timeStart)
			}
			if err = c.add(c.convert(item)); err != nil {
				return nil, err
			}
		}
	}
}

func (c *collector[T, U]) add(item U) error {
	c.buf = append(c.buf, item)
	if c.batchSize == 0 {
		return c.sample()
	}
	for len(c.buf) > c.batchSize {
		if err := c.flush(c.batchSize); err != nil {
			return err
		}
	}
	return nil
}

// sample re-estimates item size on buffered items and fixes batch size
// once buffered items would exceed the target chunk size
func (c *collector[T, U]) sample() error {
	n := len(c.buf)
	if n%c.trySize == 0 {
		avg, err := averageSize(c.s.Codec, c.buf, c.s.MaxSampleBytes)
		if err != nil {
			return fmt.Errorf("estimating item size: %w", err)
		}
		target := c.s.StreamTargetChunkSize
		if avg*float64(n) > float64(target) {
			c.batchSize = planBatchSize(target, avg)
			log.Verbosef("chunkstore: average item size %.1f bytes, batch size %d\n", avg, c.batchSize)
		}
	}
	if n > 2*c.trySize {
		c.trySize *= 2
	}
	if c.batchSize == 0 && n == c.s.StreamMaxBatch {
		c.batchSize = c.s.StreamMaxBatch
		log.Verbosef("chunkstore: reached %d buffered items, using it as batch size\n", c.batchSize)
	}
	return nil
}

// flush writes first n buffered items as the next chunk
func (c *collector[T, U]) flush(n int) error {
	u.PanicIf(n > len(c.buf), "flush: n (%d) > len(c.buf) (%d)", n, len(c.buf))
	if err := c.w.write(c.buf[:n]); err != nil {
		return err
	}
	rest := copy(c.buf, c.buf[n:])
	clear(c.buf[rest:])
	c.buf = c.buf[:rest]
	return nil
}

func (c *collector[T, U]) finish(timeStart time.Time) (*StreamResult, error) {
	if len(c.buf) > 0 {
		if err := c.flush(len(c.buf)); err != nil {
			return nil, err
		}
	}
	if err := c.w.finish("stream", c.batchSize); err != nil {
		return nil, err
	}
	res := &StreamResult{
		Length:    c.w.length,
		Chunks:    c.w.chunks,
		BatchSize: c.batchSize,
	}
	dur := time.Since(timeStart)
	log.Verbosef("chunkstore: streamed %d items in %d chunks (%s) to '%s' in %s\n", res.Length, res.Chunks, u.FormatSize(c.w.size), c.s.Dir, u.FormatDuration(dur))
	log.EventWithDuration("chunkstore.stream", dur, "dir", c.s.Dir, "items", res.Length, "chunks", res.Chunks, "batch_size", res.BatchSize)
	return res, nil
}
