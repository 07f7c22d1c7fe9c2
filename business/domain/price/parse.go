package price

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/qubic/go-offchain-worker/entities"
)

// ParsePrice converts a decimal string into a fixed point price. The fraction is truncated to its
// first six digits, never rounded.
func ParsePrice(s string) (entities.PricePoint, error) {
	integerPart, fractionPart, found := strings.Cut(s, ".")
	if !found {
		return entities.PricePoint{}, errors.Wrapf(entities.ErrMalformed, "no decimal point in [%s]", s)
	}
	if len(fractionPart) < entities.FractionDigits {
		return entities.PricePoint{}, errors.Wrapf(entities.ErrMalformed, "fraction of [%s] has less than %d digits", s, entities.FractionDigits)
	}
	fractionPart = fractionPart[:entities.FractionDigits]

	integer, err := strconv.ParseUint(integerPart, 10, 64)
	if err != nil {
		return entities.PricePoint{}, errors.Wrapf(entities.ErrMalformed, "parsing integer part [%s]: %v", integerPart, err)
	}
	fraction, err := strconv.ParseUint(fractionPart, 10, 32)
	if err != nil {
		return entities.PricePoint{}, errors.Wrapf(entities.ErrMalformed, "parsing fraction part [%s]: %v", fractionPart, err)
	}

	return entities.PricePoint{
		Integer:  integer,
		Fraction: uint32(fraction),
	}, nil
}
