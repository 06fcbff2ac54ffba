package chunkstore

import (
	"bytes"
	"errors"
	"math"
	"math/rand/v2"

	"github.com/kjk/toolkit/u"
)

var errSampleTooLarge = errors.New("encoded sample too large")

// limitWriter counts bytes written and fails after limit
type limitWriter struct {
	n     int64
	limit int64
}

func (w *limitWriter) Write(d []byte) (int, error) {
	w.n += int64(len(d))
	if w.n > w.limit {
		return 0, errSampleTooLarge
	}
	return len(d), nil
}

// encodedSize returns size of v encoded with codec, without keeping the
// encoded bytes around
func encodedSize(codec Codec, v any, limit int64) (n int64, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		// bytes.Buffer panics with ErrTooLarge when it can't grow
		if e, ok := r.(error); ok && errors.Is(e, bytes.ErrTooLarge) {
			err = errSampleTooLarge
			return
		}
		panic(r)
	}()
	w := &limitWriter{limit: limit}
	err = codec.Encode(w, v)
	return w.n, err
}

// averageSize returns average encoded size of an item in sample.
// When the sample is too big to encode, it's halved until it fits.
func averageSize[T any](codec Codec, sample []T, limit int64) (float64, error) {
	u.PanicIf(len(sample) == 0, "averageSize: empty sample")
	for {
		n, err := encodedSize(codec, sample, limit)
		if err == nil {
			return float64(n) / float64(len(sample)), nil
		}
		if !errors.Is(err, errSampleTooLarge) {
			return 0, err
		}
		if len(sample) == 1 {
			return float64(limit), nil
		}
		sample = sample[:len(sample)/2]
	}
}

// planBatchSize returns how many items of average size fit in budget
// bytes. It's always at least 1.
func planBatchSize(budget int64, average float64) int {
	if average <= 0 {
		return int(max(1, min(budget, math.MaxInt32)))
	}
	n := math.Floor(float64(budget) / average)
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return max(1, int(n))
}

// sampleIndexes returns max(1, n/10) distinct random indexes in [0, n)
func sampleIndexes(n int) []int {
	u.PanicIf(n <= 0, "sampleIndexes: n is %d", n)
	k := max(1, n/10)
	seen := make(map[int]struct{}, k)
	res := make([]int, 0, k)
	for len(res) < k {
		i := rand.IntN(n)
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		res = append(res, i)
	}
	return res
}
