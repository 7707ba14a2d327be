// Package testutil provides shared test helpers for results databases and
// template libraries.
package testutil

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/starford/spamm/internal/results"
	"github.com/starford/spamm/internal/storage"
	"github.com/starford/spamm/internal/templates"
)

// TestDB creates a temporary results database that is automatically cleaned up.
func TestDB(t *testing.T) *results.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "spamm-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := results.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// ColumnFile renders a two-column template over [lo, hi] in steps of step Å.
func ColumnFile(lo, hi, step int, flux func(float64) float64) []byte {
	var b strings.Builder
	for w := lo; w <= hi; w += step {
		fmt.Fprintf(&b, "%d %g\n", w, flux(float64(w)))
	}
	return []byte(b.String())
}

// TestTemplates writes a small host galaxy and Fe II library spanning
// 3000–8000 Å into a temporary root and returns the library over it.
//
// Sets: host_galaxy/default (two templates), host_galaxy/empty (no entries),
// fe_forest/default (one template).
func TestTemplates(t *testing.T) (string, *templates.Library) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	files := map[string][]byte{
		"host/young.dat": ColumnFile(3000, 8000, 10, func(w float64) float64 { return 2 - w/8000 }),
		"host/old.dat":   ColumnFile(3000, 8000, 10, func(w float64) float64 { return w / 5000 }),
		"host/list.txt":  []byte("# host templates\nyoung.dat\nold.dat\n"),
		"host/none.txt":  []byte("# empty\n"),
		"fe/fe2.dat": ColumnFile(3000, 8000, 5, func(w float64) float64 {
			return 0.1 + math.Exp(-0.5*math.Pow((w-4570)/30, 2)) + math.Exp(-0.5*math.Pow((w-5250)/30, 2))
		}),
		"fe/list.txt": []byte("fe2.dat\n"),
	}
	for path, data := range files {
		if err := store.Write(path, data); err != nil {
			t.Fatal(err)
		}
	}
	lib := templates.NewLibrary(store, templates.Sets{
		"host_galaxy": {"default": "host/list.txt", "empty": "host/none.txt"},
		"fe_forest":   {"default": "fe/list.txt"},
	}, Logger())
	return root, lib
}

// PowerLaw returns columns of F(λ) = norm·(λ/5000)^slope on [lo, hi] in 1 Å
// steps.
func PowerLaw(lo, hi, norm, slope float64) (wl, flux []float64) {
	for w := lo; w <= hi; w++ {
		wl = append(wl, w)
		flux = append(flux, norm*math.Pow(w/5000, slope))
	}
	return wl, flux
}
