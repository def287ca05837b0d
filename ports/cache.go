package ports

import (
	"context"
	"time"

	"notechart/domain/core"
)

// ResultCache stores serialized analysis results by content fingerprint.
// Get and Put are atomic per fingerprint; the last writer wins.
type ResultCache interface {
	Get(ctx context.Context, fp core.Fingerprint) ([]byte, bool, error)
	Put(ctx context.Context, fp core.Fingerprint, data []byte, ttl time.Duration) error
}
