package dataset

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

func TestDiscoverShardsBasic(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "shard-000000.tar"), nil)
	mustWrite(t, filepath.Join(dir, "nested", "shard-000001.tar"), nil)
	mustWrite(t, filepath.Join(dir, "ignore.txt"), nil)

	shards, err := DiscoverShards(dir)
	if err != nil {
		t.Fatalf("DiscoverShards error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "nested", "shard-000001.tar"),
		filepath.Join(dir, "shard-000000.tar"),
	}
	if len(shards) != len(want) {
		t.Fatalf("expected %d shards, got %d", len(want), len(shards))
	}
	for i, shard := range want {
		if shards[i] != shard {
			t.Fatalf("shard[%d]=%s want %s", i, shards[i], shard)
		}
	}
}

func TestDiscoverImagesClassesAndShards(t *testing.T) {
	dir := t.TempDir()
	img := pngBytes(t, 4, 4)
	mustWrite(t, filepath.Join(dir, "good", "002.png"), img)
	mustWrite(t, filepath.Join(dir, "good", "001.png"), img)
	mustWrite(t, filepath.Join(dir, "good", "notes.txt"), []byte("x"))
	mustWrite(t, filepath.Join(dir, "crack", "000.JPG"), img)
	mustShard(t, filepath.Join(dir, "shard-000000.tar"),
		map[string][]byte{"b.png": img, "a.png": img, "a.cls": []byte("1")},
		[]string{"b.png", "a.cls", "a.png"})

	entries, err := DiscoverImages(dir)
	if err != nil {
		t.Fatalf("DiscoverImages: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	want := []string{"crack/000.JPG", "good/001.png", "good/002.png", "shard-000000/a.png", "shard-000000/b.png"}
	if len(names) != len(want) {
		t.Fatalf("got %v want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("entry %d=%s want %s (all %v)", i, names[i], want[i], names)
		}
	}

	data, err := entries[3].ReadAll()
	if err != nil || len(data) != len(img) {
		t.Fatalf("ReadAll shard member: %d bytes, %v", len(data), err)
	}
}

func TestDiscoverImagesEmpty(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "good", "readme.md"), []byte("x"))
	if _, err := DiscoverImages(dir); !errors.Is(err, ErrNoImages) {
		t.Fatalf("expected ErrNoImages, got %v", err)
	}
}

func TestSplitTakesFirstFractionPerClass(t *testing.T) {
	var entries []Entry
	for _, name := range []string{"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8", "a9"} {
		entries = append(entries, Entry{Class: "a", Path: name})
	}
	entries = append(entries, Entry{Class: "b", Path: "b0"}, Entry{Class: "b", Path: "b1"})

	train, val := Split(entries, 0.1)
	if len(val) != 1 || val[0].Path != "a0" {
		t.Fatalf("validation=%v want [a0]", val)
	}
	if len(train) != 11 {
		t.Fatalf("expected 11 training entries, got %d", len(train))
	}
}
