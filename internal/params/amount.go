package params

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

// Amount is a 256-bit base-unit value that reads from YAML as a decimal
// string or as "<n> ether".
type Amount struct {
	uint256.Int
}

// EtherAmount returns n * 10^18.
func EtherAmount(n uint64) Amount {
	var a Amount
	a.Mul(uint256.NewInt(n), Ether)
	return a
}

// ParseAmount parses "1500", "1500 wei" or "1.5 ether".
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Amount{}, fmt.Errorf("empty amount")
	}
	unit := "wei"
	if len(fields) == 2 {
		unit = strings.ToLower(fields[1])
	} else if len(fields) > 2 {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}

	switch unit {
	case "wei":
		v, err := uint256.FromDecimal(fields[0])
		if err != nil {
			return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
		}
		return Amount{Int: *v}, nil
	case "ether", "eth":
		return parseEther(fields[0])
	default:
		return Amount{}, fmt.Errorf("unknown unit %q", fields[1])
	}
}

func parseEther(s string) (Amount, error) {
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 18 {
		return Amount{}, fmt.Errorf("too many decimals in %q", s)
	}
	if whole == "" {
		whole = "0"
	}
	digits := whole + frac + strings.Repeat("0", 18-len(frac))
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		digits = "0"
	}
	v, err := uint256.FromDecimal(digits)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid ether amount %q: %w", s, err)
	}
	return Amount{Int: *v}, nil
}

// Big returns a fresh copy as *uint256.Int.
func (a Amount) Big() *uint256.Int {
	v := a.Int
	return &v
}

func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseAmount(node.Value)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a Amount) MarshalYAML() (interface{}, error) {
	return a.Dec(), nil
}
