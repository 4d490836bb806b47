package marketcache

import (
	"os"

	"github.com/shopspring/decimal"
)

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func decFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
