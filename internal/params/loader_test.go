package params

import (
	"os"
	"testing"

	"github.com/davidahmann/surety/internal/crypto"
)

func TestLoadParams(t *testing.T) {
	loaded, err := Load("../../params/surety.yaml")
	if err != nil {
		t.Fatalf("load params: %v", err)
	}

	if loaded.Params.ParamsID == "" {
		t.Fatalf("params id missing")
	}
	if loaded.Params.Quorum != 3 || loaded.Params.IndexesPerOracle != 3 || loaded.Params.IndexSpace != 10 {
		t.Fatalf("unexpected oracle params: %+v", loaded.Params)
	}
	if loaded.Params.MinAirlineFunding.Dec() != "10000000000000000000" {
		t.Fatalf("unexpected min funding %s", loaded.Params.MinAirlineFunding.Dec())
	}

	data, err := os.ReadFile("../../params/surety.yaml")
	if err != nil {
		t.Fatalf("read params: %v", err)
	}

	expected := crypto.DigestWithPrefix(data)
	if loaded.Hash != expected {
		t.Fatalf("params hash mismatch: got %s want %s", loaded.Hash, expected)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	loaded, err := Parse([]byte("quorum: 5\nmax_insurance: 0.5 ether\nrequest_ttl: 30m\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p := loaded.Params
	if p.Quorum != 5 {
		t.Fatalf("expected quorum 5, got %d", p.Quorum)
	}
	if p.MaxInsurance.Dec() != "500000000000000000" {
		t.Fatalf("unexpected max insurance %s", p.MaxInsurance.Dec())
	}
	if p.RequestTTL.Minutes() != 30 {
		t.Fatalf("unexpected ttl %v", p.RequestTTL)
	}
	if p.BootstrapAirlines != 4 {
		t.Fatalf("expected default bootstrap airlines, got %d", p.BootstrapAirlines)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	if _, err := Parse([]byte("quorom: 5\n")); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("does-not-exist.yaml"); err == nil {
		t.Fatalf("expected error")
	}
}
