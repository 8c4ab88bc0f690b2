// Package platform lists the concrete market adapters compiled into the
// binary.
package platform

import (
	"github.com/alanyoungcy/giftagg/internal/adapter"
	"github.com/alanyoungcy/giftagg/internal/platform/fragment"
	"github.com/alanyoungcy/giftagg/internal/platform/getgems"
	"github.com/alanyoungcy/giftagg/internal/platform/mrkt"
	"github.com/alanyoungcy/giftagg/internal/platform/telegram"
	"github.com/alanyoungcy/giftagg/internal/platform/tonapi"
	"github.com/alanyoungcy/giftagg/internal/platform/tonnel"
)

// Constructors returns the slug to constructor table. Markets seeded in the
// database without an entry here (pawnstars) are skipped by the sync.
func Constructors() map[string]adapter.Constructor {
	return map[string]adapter.Constructor{
		getgems.Slug:     getgems.New,
		fragment.Slug:    fragment.New,
		tonnel.Slug:      tonnel.New,
		mrkt.Slug:        mrkt.New,
		telegram.Slug:    telegram.New,
		tonapi.SalesSlug: tonapi.NewSales,
	}
}
