package adapter

import (
	"context"
	"errors"
	"strconv"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

// Page is one upstream page.
type Page struct {
	Listings []domain.NormalizedListing
	// Next is the position of the following page.
	Next string
	// Done is set when no further page exists.
	Done bool
}

// PageFunc fetches the page starting at position.
type PageFunc func(ctx context.Context, position string, batchSize int) (Page, error)

// PageIterator drives cursor or offset paging. A failed Next leaves the
// position unchanged so the call can be retried.
type PageIterator struct {
	fetch     PageFunc
	pos       string
	batchSize int
	done      bool
}

var _ domain.ListingIterator = (*PageIterator)(nil)

// NewPageIterator starts iteration at start ("" for the first page).
func NewPageIterator(fetch PageFunc, start string, batchSize int) *PageIterator {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &PageIterator{fetch: fetch, pos: start, batchSize: batchSize}
}

// Next returns the next non-empty batch or domain.ErrIteratorDone.
func (it *PageIterator) Next(ctx context.Context) ([]domain.NormalizedListing, error) {
	for !it.done {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := it.fetch(ctx, it.pos, it.batchSize)
		if err != nil {
			return nil, err
		}
		if page.Done || page.Next == "" || page.Next == it.pos {
			it.done = true
		}
		it.pos = page.Next
		if len(page.Listings) > 0 {
			return page.Listings, nil
		}
	}
	return nil, domain.ErrIteratorDone
}

// Position returns where the next page starts.
func (it *PageIterator) Position() string { return it.pos }

// OffsetPosition parses an offset position; "" is zero.
func OffsetPosition(pos string) int {
	n, err := strconv.Atoi(pos)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// OffsetPage builds a Page for offset paging: a short batch ends iteration.
func OffsetPage(listings []domain.NormalizedListing, offset, fetched, batchSize int) Page {
	return Page{
		Listings: listings,
		Next:     strconv.Itoa(offset + fetched),
		Done:     fetched < batchSize,
	}
}

// fetchIterator yields one bounded fetch as a single batch.
type fetchIterator struct {
	fetch func(ctx context.Context, limit int) ([]domain.NormalizedListing, error)
	limit int
	done  bool
}

// IterateFromFetch wraps a bounded fetch for adapters without native paging.
func IterateFromFetch(fetch func(ctx context.Context, limit int) ([]domain.NormalizedListing, error), limit int) domain.ListingIterator {
	return &fetchIterator{fetch: fetch, limit: limit}
}

func (it *fetchIterator) Next(ctx context.Context) ([]domain.NormalizedListing, error) {
	if it.done {
		return nil, domain.ErrIteratorDone
	}
	out, err := it.fetch(ctx, it.limit)
	if err != nil {
		return nil, err
	}
	it.done = true
	if len(out) == 0 {
		return nil, domain.ErrIteratorDone
	}
	return out, nil
}

func (it *fetchIterator) Position() string {
	if it.done {
		return "done"
	}
	return ""
}

// Drain reads it until exhaustion or until max listings were collected
// (max <= 0 means no cap).
func Drain(ctx context.Context, it domain.ListingIterator, max int) ([]domain.NormalizedListing, error) {
	var out []domain.NormalizedListing
	for max <= 0 || len(out) < max {
		batch, err := it.Next(ctx)
		if errors.Is(err, domain.ErrIteratorDone) {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, batch...)
	}
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// FetchViaIterator implements FetchCollectionListings on top of an iterator.
func FetchViaIterator(ctx context.Context, it domain.ListingIterator, limit int) ([]domain.NormalizedListing, error) {
	out, err := Drain(ctx, it, limit)
	if err != nil {
		return nil, err
	}
	return out, nil
}
