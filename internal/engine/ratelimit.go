package engine

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// NewBWLimiter creates a rate.Limiter that caps aggregate throughput to
// bytesPerSec. The burst is set to 1 MB to allow natural read-size chunks
// through without unnecessary blocking on small reads.
func NewBWLimiter(bytesPerSec int64) *rate.Limiter {
	burst := 1 << 20 // 1 MB
	if bytesPerSec < int64(burst) {
		burst = int(bytesPerSec)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// rateLimitedReader wraps an io.Reader and enforces a shared rate limit.
// Reads are capped at the limiter's burst so WaitN never rejects them.
type rateLimitedReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context //nolint:containedctx // reader has no other way to observe cancellation
}

func newRateLimitedReader(ctx context.Context, r io.Reader, limiter *rate.Limiter) *rateLimitedReader {
	return &rateLimitedReader{r: r, limiter: limiter, ctx: ctx}
}

func (rl *rateLimitedReader) Read(p []byte) (int, error) {
	if burst := rl.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := rl.r.Read(p)
	if n > 0 {
		if waitErr := rl.limiter.WaitN(rl.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}
