package catalog

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk layout of a product seed file.
type catalogFile struct {
	Products []Product `yaml:"products"`
}

// LoadFile reads products from a YAML seed file.
func LoadFile(path string) ([]Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %q: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes products from YAML and validates them.
func Load(r io.Reader) ([]Product, error) {
	var cf catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if err := validate(cf.Products); err != nil {
		return nil, err
	}
	return cf.Products, nil
}

func validate(products []Product) error {
	seen := make(map[string]bool, len(products))
	for i, p := range products {
		switch {
		case strings.TrimSpace(p.ID) == "":
			return fmt.Errorf("catalog: products[%d]: id is required", i)
		case strings.TrimSpace(p.Name) == "":
			return fmt.Errorf("catalog: products[%d] %q: name is required", i, p.ID)
		case p.PriceCents < 0:
			return fmt.Errorf("catalog: products[%d] %q: price_cents must not be negative", i, p.ID)
		case seen[p.ID]:
			return fmt.Errorf("catalog: products[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}
