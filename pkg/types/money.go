package types

import "fmt"

// CentsToUSD renders an integer cent amount as a decimal string ("20.00").
// Negative amounts (compensating ledger entries) keep their sign.
func CentsToUSD(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
