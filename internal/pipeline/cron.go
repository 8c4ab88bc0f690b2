package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// runCron calls fn at every tick of the 5-field cron expression until ctx is
// cancelled. A failing run is logged and the loop continues.
func runCron(ctx context.Context, cronExpr, name string, logger *slog.Logger, fn func(ctx context.Context) error) error {
	if _, err := parseCron(cronExpr); err != nil {
		return fmt.Errorf("parsing %s cron expression %q: %w", name, cronExpr, err)
	}
	logger.Info("cron started", slog.String("job", name), slog.String("cron", cronExpr))

	for {
		next, err := nextCronTime(cronExpr, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("parsing %s cron expression %q: %w", name, cronExpr, err)
		}

		waitDuration := time.Until(next)
		logger.Debug("waiting for next cron trigger",
			slog.String("job", name),
			slog.Time("next_run", next),
			slog.Duration("wait", waitDuration),
		)

		timer := time.NewTimer(waitDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("cron stopped", slog.String("job", name))
			return ctx.Err()
		case <-timer.C:
			if err := fn(ctx); err != nil {
				logger.Error("cron run failed", slog.String("job", name), slog.String("error", err.Error()))
			}
		}
	}
}

// cronField is the set of values one cron field matches.
type cronField struct {
	wildcard bool
	values   map[int]bool
}

func (f cronField) matches(val int) bool {
	return f.wildcard || f.values[val]
}

// cronBounds are the inclusive ranges of minute, hour, day-of-month, month
// and day-of-week.
var cronBounds = [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}

// parseCronField parses "*", "5", "1,15", "1-5" and step forms like "*/15"
// or "0-30/10".
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}
	out := cronField{values: map[int]bool{}}
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		rng, stepStr, hasStep := strings.Cut(part, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return cronField{}, fmt.Errorf("invalid step in %q", part)
			}
			step = n
		}

		from, to := lo, hi
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var err error
			if from, err = strconv.Atoi(a); err != nil {
				return cronField{}, fmt.Errorf("invalid range start in %q: %w", part, err)
			}
			if to, err = strconv.Atoi(b); err != nil {
				return cronField{}, fmt.Errorf("invalid range end in %q: %w", part, err)
			}
		default:
			v, err := strconv.Atoi(rng)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid cron field value %q: %w", part, err)
			}
			from = v
			if !hasStep {
				to = v
			}
		}
		if from < lo || to > hi || from > to {
			return cronField{}, fmt.Errorf("value %q out of range %d-%d", part, lo, hi)
		}
		for v := from; v <= to; v += step {
			out.values[v] = true
		}
	}
	return out, nil
}

// parsedCron holds the five parsed fields.
type parsedCron [5]cronField

func (c parsedCron) matchesTime(t time.Time) bool {
	return c[0].matches(t.Minute()) &&
		c[1].matches(t.Hour()) &&
		c[2].matches(t.Day()) &&
		c[3].matches(int(t.Month())) &&
		c[4].matches(int(t.Weekday()))
}

var cronFieldNames = [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

// parseCron parses a 5-field cron expression.
func parseCron(expr string) (parsedCron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return parsedCron{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	var c parsedCron
	for i, f := range fields {
		parsed, err := parseCronField(f, cronBounds[i][0], cronBounds[i][1])
		if err != nil {
			return parsedCron{}, fmt.Errorf("parsing %s field: %w", cronFieldNames[i], err)
		}
		c[i] = parsed
	}
	return c, nil
}

// nextCronTime returns the first minute strictly after 'after' that matches
// the expression, searching up to one year ahead.
func nextCronTime(cronExpr string, after time.Time) (time.Time, error) {
	cron, err := parseCron(cronExpr)
	if err != nil {
		return time.Time{}, err
	}

	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)

	for candidate.Before(limit) {
		if cron.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}

	return time.Time{}, fmt.Errorf("no matching cron time found within one year for %q", cronExpr)
}
