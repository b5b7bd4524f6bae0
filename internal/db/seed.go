package db

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"promptory/internal/models"
	"promptory/internal/store"

	"gopkg.in/yaml.v3"
)

// SeedFile is the reference data loaded by `promptory seed`.
type SeedFile struct {
	Categories           []SeedCategory           `yaml:"categories"`
	CollectionCategories []SeedCollectionCategory `yaml:"collection_categories"`
}

type SeedCategory struct {
	Name  string `yaml:"name"`
	Order int    `yaml:"order"`
}

type SeedCollectionCategory struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Icon        string `yaml:"icon"`
	Order       int    `yaml:"order"`
	// Active defaults to true when omitted.
	Active *bool `yaml:"active"`
}

// ParseSeed decodes a seed document and rejects unnamed or repeated entries.
func ParseSeed(r io.Reader) (*SeedFile, error) {
	var sf SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	seen := map[string]bool{}
	for i, c := range sf.Categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("categories[%d]: name is required", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("categories[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
		sf.Categories[i].Name = name
	}

	seen = map[string]bool{}
	for i, c := range sf.CollectionCategories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("collection_categories[%d]: name is required", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("collection_categories[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
		sf.CollectionCategories[i].Name = name
	}
	return &sf, nil
}

func LoadSeed(path string) (*SeedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseSeed(f)
}

// SeedResult counts the rows written by Seed.
type SeedResult struct {
	Categories           int
	CollectionCategories int
}

// Seed upserts the seed categories by name. Running it twice is harmless.
func Seed(ctx context.Context, st store.Store, sf *SeedFile) (SeedResult, error) {
	var res SeedResult
	err := st.WithTx(ctx, func(tx store.Store) error {
		for _, c := range sf.Categories {
			row := &models.Category{Name: c.Name, DisplayOrder: c.Order}
			if err := tx.EnsureCategory(ctx, row); err != nil {
				return fmt.Errorf("seed category %q: %w", c.Name, err)
			}
			res.Categories++
		}
		for _, c := range sf.CollectionCategories {
			active := true
			if c.Active != nil {
				active = *c.Active
			}
			row := &models.CollectionCategory{
				Name:         c.Name,
				Description:  c.Description,
				IconName:     c.Icon,
				DisplayOrder: c.Order,
				IsActive:     active,
			}
			if err := tx.EnsureCollectionCategory(ctx, row); err != nil {
				return fmt.Errorf("seed collection category %q: %w", c.Name, err)
			}
			res.CollectionCategories++
		}
		return nil
	})
	if err != nil {
		return SeedResult{}, err
	}
	return res, nil
}
