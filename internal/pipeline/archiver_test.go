package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeBlobArchiver struct {
	cutoffs []time.Time
	err     error
}

func (f *fakeBlobArchiver) ArchiveListings(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return 7, f.err
}

func (f *fakeBlobArchiver) ArchiveSales(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return 3, nil
}

func TestArchiverRun(t *testing.T) {
	blob := &fakeBlobArchiver{}
	audit := &memAudit{}
	a := NewArchiver(blob, 30, audit, nil, nil)
	now := time.Date(2025, 3, 31, 4, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	res, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := time.Date(2025, 3, 1, 4, 0, 0, 0, time.UTC)
	if !res.Cutoff.Equal(want) || res.Listings != 7 || res.Sales != 3 {
		t.Errorf("result = %+v, want cutoff %v with 7 listings and 3 sales", res, want)
	}
	if len(blob.cutoffs) != 2 || !blob.cutoffs[1].Equal(want) {
		t.Errorf("cutoffs = %v", blob.cutoffs)
	}
	if len(audit.events) != 1 || audit.events[0] != "archive" {
		t.Errorf("audit = %v", audit.events)
	}
}

func TestArchiverStopsOnListingFailure(t *testing.T) {
	blob := &fakeBlobArchiver{err: errors.New("bucket gone")}
	audit := &memAudit{}
	a := NewArchiver(blob, 0, audit, nil, nil)
	if a.retentionDays != 30 {
		t.Errorf("retentionDays = %d, want 30", a.retentionDays)
	}

	if _, err := a.Run(context.Background()); err == nil {
		t.Fatal("Run succeeded with a failing blob store")
	}
	if len(blob.cutoffs) != 1 {
		t.Errorf("sales archived after listing failure")
	}
	if len(audit.events) != 0 {
		t.Errorf("audit = %v, want none on failure", audit.events)
	}
}
