// Package strategy holds the technical-indicator signal generators and the
// per-variant execution parameters the engine is configured with.
package strategy

import (
	"fmt"
	"sort"
	"time"

	"signalbot/internal/core"

	"github.com/shopspring/decimal"
)

// Variant bundles a generator with the parameters the gate and saga use
type Variant struct {
	Name                 string
	ConfirmationDelay    time.Duration
	TakeProfitPct        decimal.Decimal
	StopLossPct          decimal.Decimal
	PriceAdjustment      decimal.Decimal
	RevalidateAfterEntry bool
	Generator            core.ISignalGenerator
}

var registry = map[string]func() Variant{
	"atr": func() Variant {
		return Variant{
			Name:              "atr",
			ConfirmationDelay: 30 * time.Second,
			TakeProfitPct:     decimal.RequireFromString("0.005"),
			StopLossPct:       decimal.RequireFromString("0.02"),
			PriceAdjustment:   decimal.RequireFromString("0.0001"),
			Generator:         NewATRGenerator(DefaultATRParams()),
		}
	},
	"psar_atr": func() Variant {
		return Variant{
			Name:                 "psar_atr",
			ConfirmationDelay:    60 * time.Second,
			TakeProfitPct:        decimal.RequireFromString("0.005"),
			StopLossPct:          decimal.RequireFromString("0.015"),
			PriceAdjustment:      decimal.RequireFromString("0.0001"),
			RevalidateAfterEntry: true,
			Generator:            NewZoneGenerator("psar_atr", DefaultZoneParams()),
		}
	},
	"eralp": func() Variant {
		return Variant{
			Name:              "eralp",
			ConfirmationDelay: 30 * time.Second,
			TakeProfitPct:     decimal.RequireFromString("0.005"),
			StopLossPct:       decimal.RequireFromString("0.02"),
			PriceAdjustment:   decimal.RequireFromString("0.0001"),
			Generator:         NewZoneGenerator("eralp", DefaultZoneParams()),
		}
	},
	"skorlama": func() Variant {
		return Variant{
			Name:              "skorlama",
			ConfirmationDelay: 30 * time.Second,
			TakeProfitPct:     decimal.RequireFromString("0.005"),
			StopLossPct:       decimal.RequireFromString("0.02"),
			PriceAdjustment:   decimal.RequireFromString("0.0001"),
			Generator:         NewScoreGenerator("skorlama", DefaultScoreParams()),
		}
	},
}

// Lookup returns a fresh variant by name
func Lookup(name string) (Variant, error) {
	build, ok := registry[name]
	if !ok {
		return Variant{}, fmt.Errorf("unknown strategy %q (available: %v)", name, Names())
	}
	return build(), nil
}

// Names lists the registered variants in sorted order
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
