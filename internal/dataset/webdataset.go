package dataset

import (
	"archive/tar"
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Sample is one image record of a WebDataset-style shard.
type Sample struct {
	Member string
	Image  []byte
}

// StreamShard streams the image members of the shard at path in archive order.
// Members with other extensions (labels, metadata) are skipped.
func StreamShard(ctx context.Context, path string) (<-chan Sample, <-chan error) {
	out := make(chan Sample)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		err := scanShard(ctx, path, func(name string, r io.Reader) (bool, error) {
			data, err := io.ReadAll(r)
			if err != nil {
				return false, errors.Wrapf(err, "read image %s", name)
			}
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case out <- Sample{Member: name, Image: data}:
			}
			return true, nil
		})
		if err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

// scanShard calls fn for every image member until fn returns false.
func scanShard(ctx context.Context, path string, fn func(name string, r io.Reader) (bool, error)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open shard")
	}
	defer f.Close()

	tr := tar.NewReader(bufio.NewReader(f))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read tar")
		}
		if hdr.FileInfo().IsDir() {
			continue
		}
		if !imageExts[strings.ToLower(filepath.Ext(hdr.Name))] {
			continue
		}
		more, err := fn(hdr.Name, tr)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

func listShard(ctx context.Context, path string) ([]string, error) {
	var members []string
	err := scanShard(ctx, path, func(name string, _ io.Reader) (bool, error) {
		members = append(members, name)
		return true, nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list shard %s", path)
	}
	return members, nil
}

func readShardMember(path, member string) ([]byte, error) {
	var data []byte
	err := scanShard(context.Background(), path, func(name string, r io.Reader) (bool, error) {
		if name != member {
			return true, nil
		}
		b, err := io.ReadAll(r)
		if err != nil {
			return false, errors.Wrapf(err, "read image %s", name)
		}
		data = b
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, errors.Errorf("shard %s has no member %s", path, member)
	}
	return data, nil
}
