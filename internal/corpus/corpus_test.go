package corpus

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func writeSeeds(t *testing.T, dir string, seeds map[string]string) {
	t.Helper()
	for name, content := range seeds {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestNewDropsEmptySeedsAndSorts(t *testing.T) {
	store, err := New([]Seed{
		{ID: "c", Data: []byte("3")},
		{ID: "a", Data: []byte("1")},
		{ID: "empty", Data: nil},
		{ID: "b", Data: []byte("2")},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if store.Len() != 3 {
		t.Fatalf("Len = %d, want 3", store.Len())
	}
	for i, want := range []string{"a", "b", "c"} {
		if got := store.Get(i).ID; got != want {
			t.Errorf("Get(%d).ID = %q, want %q", i, got, want)
		}
	}
	if store.TotalBytes() != 3 {
		t.Errorf("TotalBytes = %d, want 3", store.TotalBytes())
	}
}

func TestNewEmpty(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrEmptyCorpus) {
		t.Errorf("New(nil) error = %v, want ErrEmptyCorpus", err)
	}
	if _, err := New([]Seed{{ID: "x"}}); !errors.Is(err, ErrEmptyCorpus) {
		t.Errorf("New(only empty seeds) error = %v, want ErrEmptyCorpus", err)
	}
}

func TestSampleCoversStore(t *testing.T) {
	store, err := New([]Seed{
		{ID: "a", Data: []byte("1")},
		{ID: "b", Data: []byte("2")},
		{ID: "c", Data: []byte("3")},
	})
	if err != nil {
		t.Fatal(err)
	}
	r := rand.New(rand.NewPCG(1, 2))
	seen := map[string]int{}
	for range 3000 {
		seen[store.Sample(r).ID]++
	}
	for _, id := range []string{"a", "b", "c"} {
		if seen[id] < 800 {
			t.Errorf("seed %s sampled %d times out of 3000", id, seen[id])
		}
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeSeeds(t, dir, map[string]string{
		"one":   "AAAA",
		"two":   "BBBBBBBB",
		"empty": "",
	})
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0755); err != nil {
		t.Fatal(err)
	}

	store, stats, err := Load(context.Background(), dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("Len = %d, want 2", store.Len())
	}
	if stats.Files != 3 || stats.Skipped != 1 {
		t.Errorf("stats = %+v, want 3 files / 1 skipped", stats)
	}
	first := store.Get(0)
	if first.ID != filepath.Join(dir, "one") || string(first.Data) != "AAAA" {
		t.Errorf("first seed = %q %q", first.ID, first.Data)
	}
}

func TestLoadEmptyDirectory(t *testing.T) {
	_, _, err := Load(context.Background(), t.TempDir())
	if !errors.Is(err, ErrEmptyCorpus) {
		t.Errorf("Load(empty dir) error = %v, want ErrEmptyCorpus", err)
	}
}

func TestLoadOnlyEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	writeSeeds(t, dir, map[string]string{"a": "", "b": ""})
	_, stats, err := Load(context.Background(), dir)
	if !errors.Is(err, ErrEmptyCorpus) {
		t.Errorf("error = %v, want ErrEmptyCorpus", err)
	}
	if stats.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", stats.Skipped)
	}
}

func TestLoadMissing(t *testing.T) {
	_, _, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if err == nil || errors.Is(err, ErrEmptyCorpus) {
		t.Errorf("Load(missing) error = %v, want a read error", err)
	}
}

func TestLoadPlainFileRejected(t *testing.T) {
	file := filepath.Join(t.TempDir(), "seed")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(context.Background(), file); err == nil {
		t.Error("expected error for a plain file corpus")
	}
}

func TestLoadTarGzBundle(t *testing.T) {
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not available")
	}
	src := t.TempDir()
	writeSeeds(t, src, map[string]string{"s1": "hello", "s2": "world!"})
	bundle := filepath.Join(t.TempDir(), "seeds.tar.gz")
	if out, err := exec.Command("tar", "-czf", bundle, "-C", src, ".").CombinedOutput(); err != nil {
		t.Fatalf("tar: %v: %s", err, out)
	}

	store, _, err := Load(context.Background(), bundle)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("Len = %d, want 2", store.Len())
	}
	if got := store.Get(0).ID; got != filepath.Join(bundle, "s1") {
		t.Errorf("ID = %q, want it named after the bundle", got)
	}
}
