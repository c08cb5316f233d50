package persistence

import (
	"context"

	"github.com/haldvik/skribo/internal/document"
)

// Adapter abstracts the durable backend behind the note store. Save always
// rewrites the full archive; there are no partial writes and no concurrency
// check against the backend.
type Adapter interface {
	Load(ctx context.Context) (document.Archive, error)
	Save(ctx context.Context, archive document.Archive) error
}
