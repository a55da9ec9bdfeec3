package jobs

import (
	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/foundation/normalization"
)

// DataStandard is the format family of an exchange set.
type DataStandard string

const (
	S57  DataStandard = "S57"
	S63  DataStandard = "S63"
	S100 DataStandard = "S100"
)

var dataStandardNormalizer = normalization.NewWith(map[string]DataStandard{
	"S57":   S57,
	"S-57":  S57,
	"S63":   S63,
	"S-63":  S63,
	"S100":  S100,
	"S-100": S100,
}, "", normalization.Upper)

// AllDataStandards lists every supported data standard in a stable order.
func AllDataStandards() []DataStandard {
	return []DataStandard{S57, S63, S100}
}

// ParseDataStandard accepts case-insensitive names with or without the dash ("s-100").
func ParseDataStandard(raw string) (DataStandard, error) {
	ds, err := dataStandardNormalizer.Parse(raw)
	if err != nil {
		return "", errors.ValidationError("unknown data standard").
			WithCause(err).
			WithContext("data_standard", raw).
			Build()
	}
	return ds, nil
}

// String returns the canonical name.
func (d DataStandard) String() string { return string(d) }

// Slug is the lower-case form used in queue subjects and output names.
func (d DataStandard) Slug() string { return normalization.Lower(string(d)) }
