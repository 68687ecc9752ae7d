package extraction

import (
	"context"
	"io"
	"time"
)

// ResultStore persists extraction results keyed by canonical roll number.
type ResultStore interface {
	UpsertResult(ctx context.Context, result Result) error
	GetResult(ctx context.Context, rollNumber string) (Result, error)
	ListResults(ctx context.Context, limit, offset int) ([]Result, error)
	Stats(ctx context.Context) (Stats, error)
}

// BatchStore keeps batch snapshots for status polling.
type BatchStore interface {
	SaveBatch(ctx context.Context, batch Batch) error
	GetBatch(ctx context.Context, batchID string) (Batch, error)
}

// BlobStore writes per-roll-number output artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes result notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Reporter receives progress updates. Implementations must not block.
type Reporter interface {
	Report(update ProgressUpdate)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
