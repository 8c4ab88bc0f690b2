package domain

import (
	"context"
	"time"
)

// ArchiveBatch is one newline-delimited JSON export of retired rows.
type ArchiveBatch struct {
	Kind   string // "listings" or "sales"
	Cutoff time.Time
	Rows   int
	JSONL  []byte
}

// BlobWriter stores archive batches in object storage and returns the key
// each was written under.
type BlobWriter interface {
	PutArchive(ctx context.Context, b ArchiveBatch) (string, error)
}

// Archiver copies retired data to cold storage.
type Archiver interface {
	ArchiveListings(ctx context.Context, before time.Time) (int64, error)
	ArchiveSales(ctx context.Context, before time.Time) (int64, error)
}
