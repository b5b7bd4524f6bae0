package db

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"promptory/internal/store"
)

const sample = `
categories:
  - name: Writing
    order: 1
  - name: " Coding "
    order: 2
collection_categories:
  - name: Starter kits
    description: Prompts to get going
    icon: rocket
    order: 1
  - name: Archive
    active: false
`

func TestParseSeed(t *testing.T) {
	sf, err := ParseSeed(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("ParseSeed: %v", err)
	}
	if len(sf.Categories) != 2 || sf.Categories[1].Name != "Coding" {
		t.Fatalf("unexpected categories: %+v", sf.Categories)
	}
	if len(sf.CollectionCategories) != 2 || sf.CollectionCategories[0].Icon != "rocket" {
		t.Fatalf("unexpected collection categories: %+v", sf.CollectionCategories)
	}
}

func TestParseSeedRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unnamed":   "categories:\n  - order: 1\n",
		"duplicate": "categories:\n  - name: A\n  - name: A\n",
		"unknown":   "categories:\n  - name: A\n    colour: red\n",
		"blank cc":  "collection_categories:\n  - name: '  '\n",
	}
	for name, doc := range cases {
		if _, err := ParseSeed(strings.NewReader(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParseSeedEmpty(t *testing.T) {
	sf, err := ParseSeed(strings.NewReader(""))
	if err != nil {
		t.Fatalf("ParseSeed: %v", err)
	}
	if len(sf.Categories) != 0 || len(sf.CollectionCategories) != 0 {
		t.Fatalf("expected empty seed, got %+v", sf)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(nil)
	sf, err := ParseSeed(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("ParseSeed: %v", err)
	}

	for i := 0; i < 2; i++ {
		res, err := Seed(ctx, st, sf)
		if err != nil {
			t.Fatalf("Seed run %d: %v", i, err)
		}
		if res.Categories != 2 || res.CollectionCategories != 2 {
			t.Fatalf("run %d: unexpected result %+v", i, res)
		}
	}

	cats, err := st.ListCategories(ctx)
	if err != nil {
		t.Fatalf("ListCategories: %v", err)
	}
	if len(cats) != 2 || cats[0].Name != "Writing" {
		t.Fatalf("unexpected categories after seeding: %+v", cats)
	}

	active, err := st.ListCollectionCategories(ctx, true)
	if err != nil {
		t.Fatalf("ListCollectionCategories: %v", err)
	}
	if len(active) != 1 || active[0].Name != "Starter kits" {
		t.Fatalf("inactive category leaked into active list: %+v", active)
	}
}

func TestShippedSeedParses(t *testing.T) {
	path := filepath.Join("..", "..", "db", "seed", "categories.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skipf("seed file not present: %v", err)
	}
	sf, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	if len(sf.Categories) == 0 {
		t.Fatal("shipped seed has no categories")
	}
}
