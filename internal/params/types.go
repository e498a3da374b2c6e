package params

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// Params are the protocol constants of the marketplace.
type Params struct {
	ParamsID      string `yaml:"params_id"`
	ParamsVersion string `yaml:"params_version"`

	BootstrapAirlines     int           `yaml:"bootstrap_airlines"`
	MinAirlineFunding     Amount        `yaml:"min_airline_funding"`
	MaxInsurance          Amount        `yaml:"max_insurance"`
	PayoutNumerator       uint64        `yaml:"payout_numerator"`
	PayoutDenominator     uint64        `yaml:"payout_denominator"`
	OracleRegistrationFee Amount        `yaml:"oracle_registration_fee"`
	IndexesPerOracle      int           `yaml:"indexes_per_oracle"`
	IndexSpace            int           `yaml:"index_space"`
	Quorum                int           `yaml:"quorum"`
	DistinctIndexes       bool          `yaml:"distinct_indexes"`
	RequestTTL            time.Duration `yaml:"request_ttl"`
}

// Ether is 10^18 base units.
var Ether = uint256.MustFromDecimal("1000000000000000000")

// Default returns the marketplace's stock parameters.
func Default() Params {
	return Params{
		ParamsID:              "surety-default",
		ParamsVersion:         "1",
		BootstrapAirlines:     4,
		MinAirlineFunding:     EtherAmount(10),
		MaxInsurance:          EtherAmount(1),
		PayoutNumerator:       3,
		PayoutDenominator:     2,
		OracleRegistrationFee: EtherAmount(1),
		IndexesPerOracle:      3,
		IndexSpace:            10,
		Quorum:                3,
		DistinctIndexes:       true,
	}
}

// Validate rejects parameter sets the marketplace cannot run with.
func (p Params) Validate() error {
	if p.BootstrapAirlines < 1 {
		return fmt.Errorf("bootstrap_airlines must be at least 1")
	}
	if p.PayoutDenominator == 0 {
		return fmt.Errorf("payout_denominator must be positive")
	}
	if p.PayoutNumerator == 0 {
		return fmt.Errorf("payout_numerator must be positive")
	}
	if p.MaxInsurance.IsZero() {
		return fmt.Errorf("max_insurance must be positive")
	}
	if p.IndexSpace < 1 || p.IndexSpace > 256 {
		return fmt.Errorf("index_space must be in [1, 256]")
	}
	if p.IndexesPerOracle < 1 {
		return fmt.Errorf("indexes_per_oracle must be at least 1")
	}
	if p.DistinctIndexes && p.IndexesPerOracle > p.IndexSpace {
		return fmt.Errorf("indexes_per_oracle (%d) exceeds index_space (%d) with distinct_indexes", p.IndexesPerOracle, p.IndexSpace)
	}
	if p.Quorum < 1 {
		return fmt.Errorf("quorum must be at least 1")
	}
	if p.RequestTTL < 0 {
		return fmt.Errorf("request_ttl must not be negative")
	}
	return nil
}

// Payout returns amount * numerator / denominator.
func (p Params) Payout(amount *uint256.Int) (*uint256.Int, error) {
	num := uint256.NewInt(p.PayoutNumerator)
	den := uint256.NewInt(p.PayoutDenominator)
	out, overflow := new(uint256.Int).MulDivOverflow(amount, num, den)
	if overflow {
		return nil, fmt.Errorf("payout overflows 256 bits")
	}
	return out, nil
}
