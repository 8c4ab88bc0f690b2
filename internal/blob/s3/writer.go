package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

const (
	// partSize is the multipart chunk; smaller batches go up in one PutObject.
	partSize = manager.MinUploadPartSize * 2

	defaultPrefix = "archive"
	contentType   = "application/x-ndjson"
)

// WriterOptions control where and how archive batches are stored.
type WriterOptions struct {
	Prefix   string // key prefix, "archive" when empty
	Compress bool   // gzip the JSONL and add a .gz suffix
}

// Writer implements domain.BlobWriter on an S3-compatible bucket. Each batch
// carries its row count, kind and cutoff as object metadata so a bucket
// listing is enough to audit what was archived.
type Writer struct {
	api    manager.UploadAPIClient
	bucket string
	opts   WriterOptions
}

var _ domain.BlobWriter = (*Writer)(nil)

// NewWriter creates a Writer for the client's bucket.
func NewWriter(c *Client, opts WriterOptions) *Writer {
	return newWriter(c.S3(), c.Bucket(), opts)
}

func newWriter(api manager.UploadAPIClient, bucket string, opts WriterOptions) *Writer {
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	return &Writer{api: api, bucket: bucket, opts: opts}
}

// PutArchive uploads b and returns its object key. Batches larger than one
// part are sent as a multipart upload by the transfer manager.
func (w *Writer) PutArchive(ctx context.Context, b domain.ArchiveBatch) (string, error) {
	key := ObjectKey(w.opts.Prefix, b.Kind, b.Cutoff, w.opts.Compress)
	body := b.JSONL

	in := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"kind":   b.Kind,
			"rows":   strconv.Itoa(b.Rows),
			"cutoff": b.Cutoff.UTC().Format(time.RFC3339),
		},
	}
	if w.opts.Compress {
		gz, err := gzipBytes(body)
		if err != nil {
			return "", fmt.Errorf("s3blob: compress %s: %w", key, err)
		}
		body = gz
		in.ContentEncoding = aws.String("gzip")
	}
	in.Body = bytes.NewReader(body)

	uploader := manager.NewUploader(w.api, func(u *manager.Uploader) {
		u.PartSize = partSize
	})
	if _, err := uploader.Upload(ctx, in); err != nil {
		return "", fmt.Errorf("s3blob: upload %s: %w", key, err)
	}
	return key, nil
}

// ObjectKey builds the key for a batch, partitioned by the cutoff's month:
//
//	archive/listings/2025-01/20250115T030000Z.jsonl.gz
func ObjectKey(prefix, kind string, cutoff time.Time, compressed bool) string {
	cutoff = cutoff.UTC()
	key := fmt.Sprintf("%s/%s/%s/%s.jsonl", prefix, kind, cutoff.Format("2006-01"), cutoff.Format("20060102T150405Z"))
	if compressed {
		key += ".gz"
	}
	return key
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
