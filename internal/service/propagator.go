package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

// Propagator fans price events out to the bus channels of every scope the
// event touches, and optionally to a durable event sink.
type Propagator struct {
	bus    domain.SignalBus
	sink   domain.EventSink
	logger *slog.Logger
	now    func() time.Time

	published atomic.Int64
	failed    atomic.Int64
	sinkFail  atomic.Int64
}

var _ domain.Publisher = (*Propagator)(nil)

// NewPropagator creates a Propagator. sink may be nil.
func NewPropagator(bus domain.SignalBus, sink domain.EventSink, logger *slog.Logger) *Propagator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Propagator{bus: bus, sink: sink, logger: logger, now: time.Now}
}

// PropagatorStats counts channel publishes since start.
type PropagatorStats struct {
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
	SinkFail  int64 `json:"sink_failed"`
}

// Stats returns publish counters.
func (p *Propagator) Stats() PropagatorStats {
	return PropagatorStats{
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
		SinkFail:  p.sinkFail.Load(),
	}
}

// Publish marshals the event once and sends it to prices:all, the item's
// collection channel and the item channel. Delivery failures are logged and
// counted; only an unencodable event is returned as an error.
func (p *Propagator) Publish(ctx context.Context, e domain.PriceEvent) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = p.now()
	}
	payload, err := json.Marshal(domain.NewEnvelope(e.Type, e, ts))
	if err != nil {
		return fmt.Errorf("propagator: marshal %s for item %d: %w", e.Type, e.ItemID, err)
	}

	for _, sc := range domain.EventScopes(e) {
		if err := p.bus.Publish(ctx, sc.Channel(), payload); err != nil {
			p.failed.Add(1)
			p.logger.WarnContext(ctx, "propagator: publish failed",
				slog.String("channel", sc.Channel()),
				slog.String("type", string(e.Type)),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.published.Add(1)
	}

	if p.sink != nil {
		if err := p.sink.Write(ctx, domain.ItemScope(e.ItemID).String(), payload); err != nil {
			p.sinkFail.Add(1)
			p.logger.WarnContext(ctx, "propagator: event sink write failed",
				slog.Int64("item_id", e.ItemID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}
