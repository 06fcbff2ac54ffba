// Package chunkstore saves a sequence of items to a directory of
// numbered chunk files and loads it back in the original order.
//
// # Store Structure
//
// A store directory contains:
//   - chunk files "0.chunk", "1.chunk", ... each holding an encoded list
//     of items (a batch), optionally compressed
//   - "length.txt" with the total number of items as decimal text
//   - "meta.txt", a siser record describing codec, compression and
//     batch size
//
// The number of items per chunk is picked so that a chunk is close to
// a target size in bytes, based on the average encoded size of a sample
// of items. Every file is written atomically.
//
// # Basic Usage
//
//	s := &chunkstore.Store{Dir: "./data/users"}
//	err := chunkstore.SaveBatch(s, users)
//
//	n, _, err := s.Length()
//
//	items, errFn := chunkstore.Load[User](s)
//	for u := range items {
//	    // ...
//	}
//	if err := errFn(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Streaming
//
// When items are produced over time, SaveStream consumes them from a channel
// on a background goroutine and writes chunks as they fill up. Closing
// the channel finishes the store. Wait() on the returned job reports
// the result or the error that stopped the writer.
//
//	ch := make(chan User)
//	job := chunkstore.SaveStream(ctx, s, ch)
//	for _, u := range users {
//	    ch <- u
//	}
//	close(ch)
//	res, err := job.Wait()
//
// A store is written once and read many times. Reading while writing
// is not supported.
package chunkstore
