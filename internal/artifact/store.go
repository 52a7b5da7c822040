package artifact

import (
	"context"
)

// Store uploads local files to durable, addressable storage
type Store interface {
	// Upload copies the file at localPath to the object called name and returns its URI
	// (scheme://bucket/name). The object is readable as soon as Upload returns.
	Upload(ctx context.Context, localPath, name string) (string, error)
}
