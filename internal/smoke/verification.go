package smoke

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zydorg/kemunify/internal/domain/model"
)

// maxReported caps how many mismatches one verification reports.
const maxReported = 10

// verifyDeposits checks that every deposited customer has exactly one entry
// per waste type and that each entry holds the parsed input, or zero when
// the deposit left the waste type out or sent something that is not a number. It returns the number of entries
// checked.
func verifyDeposits(deposits []Deposit, ledger []model.WasteType) (int, error) {
	var (
		errs    []error
		checked int
	)
	for _, d := range deposits {
		for _, wt := range ledger {
			got, ok := wt.Weights[d.Name]
			checked++
			if !ok {
				errs = append(errs, fmt.Errorf("%s: no entry for %s", wt.Name, d.Name))
				continue
			}
			want := model.ZeroWeight
			if raw, ok := d.Weights[wt.Name]; ok {
				if v, err := model.ParseWeightStrict(raw); err == nil {
					want = v
				}
			}
			if got != want {
				errs = append(errs, fmt.Errorf("%s/%s: got %s, want %s", wt.Name, d.Name, got, want))
			}
		}
		if len(errs) >= maxReported {
			break
		}
	}
	return checked, errors.Join(errs...)
}

// verifyRemoved checks that no customer or ledger entry carrying prefix
// survived the cleanup.
func verifyRemoved(prefix string, customers []model.Customer, ledger []model.WasteType) error {
	var errs []error
	for _, c := range customers {
		if strings.HasPrefix(c.Name, prefix) {
			errs = append(errs, fmt.Errorf("customer %s still registered", c.Name))
		}
	}
	for _, wt := range ledger {
		for name := range wt.Weights {
			if strings.HasPrefix(name, prefix) {
				errs = append(errs, fmt.Errorf("%s still holds an entry for %s", wt.Name, name))
			}
		}
	}
	if len(errs) > maxReported {
		errs = errs[:maxReported]
	}
	return errors.Join(errs...)
}
