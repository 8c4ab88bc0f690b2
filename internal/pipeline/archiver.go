package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/giftagg/internal/domain"
	"github.com/alanyoungcy/giftagg/internal/notify"
)

// ArchiveResult counts rows copied to cold storage by one run.
type ArchiveResult struct {
	Cutoff   time.Time `json:"cutoff"`
	Listings int64     `json:"listings"`
	Sales    int64     `json:"sales"`
}

// Archiver copies retired listings and old sales to S3 cold storage.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	audit         domain.AuditStore
	notifier      *notify.Notifier
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates a new Archiver. audit and notifier may be nil.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, audit domain.AuditStore, notifier *notify.Notifier, logger *slog.Logger) *Archiver {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		audit:         audit,
		notifier:      notifier,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           time.Now,
	}
}

// Run executes a single archive pass for rows older than the retention window.
func (a *Archiver) Run(ctx context.Context) (ArchiveResult, error) {
	res := ArchiveResult{Cutoff: a.now().UTC().AddDate(0, 0, -a.retentionDays)}
	a.logger.Info("starting archive run",
		slog.Time("cutoff", res.Cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	var err error
	res.Listings, err = a.blobArchiver.ArchiveListings(ctx, res.Cutoff)
	if err != nil {
		return res, a.fail(ctx, fmt.Errorf("archiving listings before %v: %w", res.Cutoff, err))
	}
	res.Sales, err = a.blobArchiver.ArchiveSales(ctx, res.Cutoff)
	if err != nil {
		return res, a.fail(ctx, fmt.Errorf("archiving sales before %v: %w", res.Cutoff, err))
	}

	a.logger.Info("archive run complete",
		slog.Int64("listings_archived", res.Listings),
		slog.Int64("sales_archived", res.Sales),
	)
	if a.audit != nil {
		if err := a.audit.Log(ctx, domain.AuditArchive, map[string]any{
			"cutoff":   res.Cutoff.Format(time.RFC3339),
			"listings": res.Listings,
			"sales":    res.Sales,
		}); err != nil {
			a.logger.Warn("audit log failed", slog.String("error", err.Error()))
		}
	}
	return res, nil
}

func (a *Archiver) fail(ctx context.Context, err error) error {
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if nerr := a.notifier.Notify(bg, notify.EventArchive, "giftagg archive failed", err.Error()); nerr != nil {
		a.logger.Warn("notify failed", slog.String("error", nerr.Error()))
	}
	return err
}
