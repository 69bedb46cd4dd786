package dataset

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

var shardRegexp = regexp.MustCompile(`^shard-[0-9]{6,}\.tar$`)

// ErrNoImages is returned when a directory holds no usable image.
var ErrNoImages = errors.New("dataset: no images found")

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// Entry locates one image: a file on disk, or a member of a tar shard.
type Entry struct {
	Class  string
	Path   string
	Member string
}

// Name is a stable identifier used in file names and logs.
func (e Entry) Name() string {
	if e.Member != "" {
		return e.Class + "/" + e.Member
	}
	return e.Class + "/" + filepath.Base(e.Path)
}

// ReadAll returns the encoded image bytes.
func (e Entry) ReadAll() ([]byte, error) {
	if e.Member == "" {
		data, err := os.ReadFile(e.Path)
		if err != nil {
			return nil, errors.Wrap(err, "read image")
		}
		return data, nil
	}
	return readShardMember(e.Path, e.Member)
}

// DiscoverShards returns absolute paths to shard TAR files beneath root.
func DiscoverShards(root string) ([]string, error) {
	entries := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if shardRegexp.MatchString(d.Name()) {
			entries = append(entries, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "discover shards")
	}
	sort.Strings(entries)
	return entries, nil
}

// DiscoverImages lists the images under root. Every sub-directory is a class
// holding image files, and every shard-NNNNNN.tar is a class of its own.
// Entries are sorted by class, then by file or member name.
func DiscoverImages(root string) ([]Entry, error) {
	dirs, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "discover images in %s", root)
	}
	var entries []Entry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		classDir := filepath.Join(root, d.Name())
		err := filepath.WalkDir(classDir, func(path string, f fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if f.IsDir() || !imageExts[strings.ToLower(filepath.Ext(f.Name()))] {
				return nil
			}
			entries = append(entries, Entry{Class: d.Name(), Path: path})
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "walk %s", classDir)
		}
	}

	shards, err := DiscoverShards(root)
	if err != nil {
		return nil, err
	}
	for _, shard := range shards {
		class := strings.TrimSuffix(filepath.Base(shard), ".tar")
		members, err := listShard(context.Background(), shard)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			entries = append(entries, Entry{Class: class, Path: shard, Member: m})
		}
	}

	if len(entries) == 0 {
		return nil, errors.Wrapf(ErrNoImages, "%s", root)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Class != entries[j].Class {
			return entries[i].Class < entries[j].Class
		}
		if entries[i].Path != entries[j].Path {
			return entries[i].Path < entries[j].Path
		}
		return entries[i].Member < entries[j].Member
	})
	return entries, nil
}

// Split separates validation from training images the way Keras'
// flow_from_directory does: within each class the first fraction of the
// sorted files is held out for validation.
func Split(entries []Entry, validationSplit float64) (train, validation []Entry) {
	byClass := make(map[string][]Entry)
	var classes []string
	for _, e := range entries {
		if _, ok := byClass[e.Class]; !ok {
			classes = append(classes, e.Class)
		}
		byClass[e.Class] = append(byClass[e.Class], e)
	}
	for _, class := range classes {
		files := byClass[class]
		at := int(validationSplit * float64(len(files)))
		validation = append(validation, files[:at]...)
		train = append(train, files[at:]...)
	}
	return train, validation
}
