package billing

import "fmt"

// PriceTable maps each service kind to its fixed cost in stars. Costs
// are read-only configuration loaded once at startup.
type PriceTable map[ServiceKind]int64

// DefaultPrices returns the deployed price list. The daily horoscope is
// the designated free service.
func DefaultPrices() PriceTable {
	return PriceTable{
		ServiceCompatibility:   55,
		ServiceDailyHoroscope:  0,
		ServiceWeeklyHoroscope: 333,
		ServiceTarot:           888,
		ServiceNatalChart:      999,
	}
}

// Cost returns the price for kind, zero for unlisted kinds.
func (table PriceTable) Cost(kind ServiceKind) int64 {
	return table[kind]
}

// Validate rejects negative prices and tables missing a known kind.
func (table PriceTable) Validate() error {
	for _, kind := range []ServiceKind{ServiceCompatibility, ServiceDailyHoroscope, ServiceWeeklyHoroscope, ServiceTarot, ServiceNatalChart} {
		cost, listed := table[kind]
		if !listed {
			return fmt.Errorf("%w: price table missing %s", ErrInvalidOrchestratorConfig, kind)
		}
		if cost < 0 {
			return fmt.Errorf("%w: negative price for %s", ErrInvalidOrchestratorConfig, kind)
		}
	}
	return nil
}
