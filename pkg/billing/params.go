package billing

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Parameter keys accepted in service requests.
const (
	ParamSign       = "sign"
	ParamFirstSign  = "first_sign"
	ParamSecondSign = "second_sign"
	ParamSpread     = "spread"
	ParamQuestion   = "question"
	ParamBirthDate  = "birth_date"
	ParamBirthTime  = "birth_time"
	ParamBirthPlace = "birth_place"
)

// Params carries the caller-supplied parameters for one service
// request. Values are validated against the requested kind before any
// balance is touched.
type Params map[string]string

// Get returns the trimmed value for key, empty when absent.
func (params Params) Get(key string) string {
	return strings.TrimSpace(params[key])
}

// normalize rewrites the validated fields into canonical form and drops
// keys the service kind does not use, so service tags and provider
// prompts see clean input.
func (params Params) normalized(kind ServiceKind) (Params, error) {
	normalized := Params{}
	switch kind {
	case ServiceCompatibility:
		firstSign, err := ParseZodiacSign(params.Get(ParamFirstSign))
		if err != nil {
			return nil, fmt.Errorf("first sign: %w", err)
		}
		secondSign, err := ParseZodiacSign(params.Get(ParamSecondSign))
		if err != nil {
			return nil, fmt.Errorf("second sign: %w", err)
		}
		normalized[ParamFirstSign] = firstSign.String()
		normalized[ParamSecondSign] = secondSign.String()
	case ServiceDailyHoroscope, ServiceWeeklyHoroscope:
		sign, err := ParseZodiacSign(params.Get(ParamSign))
		if err != nil {
			return nil, err
		}
		normalized[ParamSign] = sign.String()
	case ServiceTarot:
		spread, err := ParseSpreadType(params.Get(ParamSpread))
		if err != nil {
			return nil, err
		}
		normalized[ParamSpread] = spread.String()
		if question := params.Get(ParamQuestion); question != "" {
			normalized[ParamQuestion] = question
		}
	case ServiceNatalChart:
		for _, key := range []string{ParamBirthDate, ParamBirthTime, ParamBirthPlace} {
			value := params.Get(key)
			if value == "" {
				return nil, fmt.Errorf("%w: missing field %s", ErrInvalidParams, key)
			}
			normalized[key] = value
		}
	default:
		return nil, fmt.Errorf("%w: unknown service kind %q", ErrInvalidParams, kind)
	}
	return normalized, nil
}

// serviceTag builds the ledger tag for a validated request, carrying
// the disambiguating parameters alongside the kind.
func (params Params) serviceTag(kind ServiceKind) string {
	switch kind {
	case ServiceCompatibility:
		return fmt.Sprintf("%s:%s:%s", kind, params.Get(ParamFirstSign), params.Get(ParamSecondSign))
	case ServiceDailyHoroscope, ServiceWeeklyHoroscope:
		return fmt.Sprintf("%s:%s", kind, params.Get(ParamSign))
	case ServiceTarot:
		return fmt.Sprintf("%s:%s", kind, params.Get(ParamSpread))
	}
	return kind.String()
}

// metadataJSON serializes the validated parameters for the ledger
// entry's metadata column.
func (params Params) metadataJSON() string {
	if len(params) == 0 {
		return "{}"
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}
