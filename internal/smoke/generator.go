package smoke

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"github.com/zydorg/kemunify/internal/domain/model"
)

// Weight generation bounds, in hundredths of a kilogram.
const (
	maxHundredths  = 50000
	skipOneIn      = 5
	commaOneIn     = 3
	malformedOneIn = 25
)

// malformedWeight is typed now and then; the ledger must record it as zero.
const malformedWeight = "n/a"

// generateDeposits builds one deposit per customer. Roughly one waste type in
// five is left out so the ledger has to fill in a zero, and some weights use
// a decimal comma the way the clerks type them. A few are not numbers at all.
func generateDeposits(cfg *Config, wasteTypes []string) ([]Deposit, error) {
	deposits := make([]Deposit, 0, cfg.Customers)
	for i := 0; i < cfg.Customers; i++ {
		d := Deposit{
			Name:    cfg.Prefix + uuid.NewString()[:8],
			Weights: make(map[string]string, len(wasteTypes)),
		}
		for _, wt := range wasteTypes {
			skip, err := randomInt(skipOneIn)
			if err != nil {
				return nil, err
			}
			if skip == 0 {
				continue
			}
			raw, err := randomWeight()
			if err != nil {
				return nil, err
			}
			d.Weights[wt] = raw
		}
		deposits = append(deposits, d)
	}
	return deposits, nil
}

// randomWeight returns a weight as a clerk would type it.
func randomWeight() (string, error) {
	typo, err := randomInt(malformedOneIn)
	if err != nil {
		return "", err
	}
	if typo == 0 {
		return malformedWeight, nil
	}
	h, err := randomInt(maxHundredths)
	if err != nil {
		return "", err
	}
	s := model.WeightFromHundredths(h).String()
	comma, err := randomInt(commaOneIn)
	if err != nil {
		return "", err
	}
	if comma == 0 {
		s = strings.Replace(s, ".", ",", 1)
	}
	return s, nil
}

// randomInt returns a uniform value in [0, n) using crypto/rand.
func randomInt(n int64) (int64, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, fmt.Errorf("random: %w", err)
	}
	return v.Int64(), nil
}
