package params

import (
	"bytes"
	"os"

	"github.com/davidahmann/surety/internal/crypto"
	"gopkg.in/yaml.v3"
)

type LoadedParams struct {
	Params Params
	Hash   string
	Bytes  []byte
}

// Load reads a YAML parameter file over the defaults and computes its hash from raw bytes.
func Load(path string) (LoadedParams, error) {
	// #nosec G304 -- path comes from operator-configured params path.
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadedParams{}, err
	}
	return Parse(data)
}

// Parse decodes raw YAML. Unknown keys are rejected.
func Parse(data []byte) (LoadedParams, error) {
	p := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return LoadedParams{}, err
	}
	if err := p.Validate(); err != nil {
		return LoadedParams{}, err
	}

	return LoadedParams{
		Params: p,
		Hash:   crypto.DigestWithPrefix(data),
		Bytes:  data,
	}, nil
}
