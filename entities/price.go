package entities

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// FractionDigits is the fixed resolution of a price fraction.
const FractionDigits = 6

const FractionScale = 1_000_000

// PricePoint is a fixed point price with a 6 digit fraction, Fraction in [0, 999999].
type PricePoint struct {
	Integer  uint64 `json:"integer"`
	Fraction uint32 `json:"fraction"`
}

func (p PricePoint) Decimal() decimal.Decimal {
	integer := decimal.NewFromBigInt(new(big.Int).SetUint64(p.Integer), 0)
	return integer.Add(decimal.New(int64(p.Fraction), -FractionDigits))
}

func (p PricePoint) String() string {
	return fmt.Sprintf("%d.%06d", p.Integer, p.Fraction)
}

// PriceInfo is the raw price as delivered by the price endpoint.
type PriceInfo struct {
	Name string `json:"name"`
	Usd  string `json:"usd"`
}

type Metadata struct {
	Login       string `json:"login"`
	Blog        string `json:"blog"`
	PublicRepos uint32 `json:"public_repos"`
}
