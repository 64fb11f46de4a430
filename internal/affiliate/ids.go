package affiliate

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ID prefixes per record kind.
const (
	prefixClick      = "clk_"
	prefixLink       = "lnk_"
	prefixRule       = "rule_"
	prefixAdjustment = "adj_"
	prefixSettlement = "stl_"
)

// newID returns prefix + a UUIDv7: time-ordered with a random suffix.
func newID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + id.String()
}

var codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

// newLinkCode returns a random 8 character short code.
func newLinkCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// round2 rounds half away from zero to cents.
func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func toFloat(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
