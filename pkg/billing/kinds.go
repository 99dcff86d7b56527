package billing

import (
	"fmt"
	"strings"
)

// ServiceKind enumerates the purchasable astrology services.
type ServiceKind string

const (
	ServiceCompatibility   ServiceKind = "compatibility"
	ServiceDailyHoroscope  ServiceKind = "daily_horoscope"
	ServiceWeeklyHoroscope ServiceKind = "weekly_horoscope"
	ServiceTarot           ServiceKind = "tarot"
	ServiceNatalChart      ServiceKind = "natal_chart"
)

// ParseServiceKind validates a raw service kind.
func ParseServiceKind(raw string) (ServiceKind, error) {
	normalized := ServiceKind(strings.ToLower(strings.TrimSpace(raw)))
	switch normalized {
	case ServiceCompatibility, ServiceDailyHoroscope, ServiceWeeklyHoroscope, ServiceTarot, ServiceNatalChart:
		return normalized, nil
	}
	return "", fmt.Errorf("%w: unknown service kind %q", ErrInvalidParams, raw)
}

// String returns the kind as stored in service tags.
func (kind ServiceKind) String() string {
	return string(kind)
}

// ZodiacSign is one of the twelve signs accepted by the horoscope and
// compatibility services.
type ZodiacSign string

var zodiacSigns = map[ZodiacSign]struct{}{
	"aries": {}, "taurus": {}, "gemini": {}, "cancer": {},
	"leo": {}, "virgo": {}, "libra": {}, "scorpio": {},
	"sagittarius": {}, "capricorn": {}, "aquarius": {}, "pisces": {},
}

// ParseZodiacSign validates and normalizes a zodiac sign.
func ParseZodiacSign(raw string) (ZodiacSign, error) {
	normalized := ZodiacSign(strings.ToLower(strings.TrimSpace(raw)))
	if _, known := zodiacSigns[normalized]; !known {
		return "", fmt.Errorf("%w: unknown zodiac sign %q", ErrInvalidParams, raw)
	}
	return normalized, nil
}

// String returns the normalized sign.
func (sign ZodiacSign) String() string {
	return string(sign)
}

// SpreadType selects a tarot spread layout.
type SpreadType string

const (
	SpreadDaily  SpreadType = "daily"
	SpreadThree  SpreadType = "three"
	SpreadFour   SpreadType = "four"
	SpreadCeltic SpreadType = "celtic"
)

// ParseSpreadType validates a raw spread type.
func ParseSpreadType(raw string) (SpreadType, error) {
	normalized := SpreadType(strings.ToLower(strings.TrimSpace(raw)))
	switch normalized {
	case SpreadDaily, SpreadThree, SpreadFour, SpreadCeltic:
		return normalized, nil
	}
	return "", fmt.Errorf("%w: unknown tarot spread %q", ErrInvalidParams, raw)
}

// String returns the normalized spread type.
func (spread SpreadType) String() string {
	return string(spread)
}
