package adapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/giftagg/internal/config"
	"github.com/alanyoungcy/giftagg/internal/domain"
)

// Accept validates a parsed listing and logs the reason when it is dropped.
func Accept(logger *slog.Logger, l domain.NormalizedListing) bool {
	if err := l.Validate(); err != nil {
		if logger != nil {
			logger.Warn("dropping listing", slog.String("market", l.MarketSlug), slog.String("error", err.Error()))
		}
		return false
	}
	return true
}

// DecodeRecords unmarshals each raw upstream record into T on its own, so a
// record with a malformed field is logged and skipped instead of failing the
// page it came in.
func DecodeRecords[T any](logger *slog.Logger, market string, raws []json.RawMessage) []T {
	out := make([]T, 0, len(raws))
	for i, raw := range raws {
		var rec T
		if err := json.Unmarshal(raw, &rec); err != nil {
			if logger != nil {
				logger.Warn("skipping malformed record",
					slog.String("market", market),
					slog.Int("index", i),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		out = append(out, rec)
	}
	return out
}

// ToTon converts an upstream amount in cur to TON using the configured rates.
func ToTon(amount decimal.Decimal, cur domain.Currency, fx config.FXConfig) (decimal.Decimal, error) {
	switch cur {
	case domain.CurrencyTON:
		return amount, nil
	case domain.CurrencySTARS:
		if fx.StarsToTon <= 0 {
			return decimal.Zero, fmt.Errorf("no STARS to TON rate configured")
		}
		return amount.Mul(decimal.NewFromFloat(fx.StarsToTon)), nil
	case domain.CurrencyUSDT:
		if fx.UsdtToTon <= 0 {
			return decimal.Zero, fmt.Errorf("no USDT to TON rate configured")
		}
		return amount.Mul(decimal.NewFromFloat(fx.UsdtToTon)), nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported currency %q", cur)
	}
}

// ParseDecimal parses a JSON number or numeric string.
func ParseDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case string:
		return decimal.NewFromString(strings.TrimSpace(x))
	case float64:
		return decimal.NewFromFloat(x), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case nil:
		return decimal.Zero, fmt.Errorf("missing amount")
	default:
		return decimal.NewFromString(fmt.Sprint(x))
	}
}

// ParseTime accepts RFC3339 strings and unix seconds or milliseconds.
func ParseTime(v any) *time.Time {
	var t time.Time
	switch x := v.(type) {
	case string:
		x = strings.TrimSpace(x)
		if x == "" {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339, x)
		if err != nil {
			d, derr := decimal.NewFromString(x)
			if derr != nil {
				return nil
			}
			return ParseTime(d.IntPart())
		}
		t = parsed
	case float64:
		return ParseTime(int64(x))
	case int64:
		if x <= 0 {
			return nil
		}
		if x > 1e12 {
			t = time.UnixMilli(x)
		} else {
			t = time.Unix(x, 0)
		}
	default:
		return nil
	}
	t = t.UTC()
	return &t
}
