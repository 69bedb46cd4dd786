package dataset

import (
	"context"
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"cae-forge/internal/tensor"
)

// SamplerOptions configures one pass over a list of entries.
type SamplerOptions struct {
	Entries    []Entry
	Decode     DecodeOptions
	Augment    *Augmenter
	Shuffle    bool
	Seed       int64
	Epoch      int
	NumWorkers int
}

// Item is one decoded image. Seq is its position in the pass.
type Item struct {
	Seq   int
	Entry Entry
	Image tensor.Batch
}

// StartSampler decodes the entries on NumWorkers goroutines and emits them in
// a deterministic order: sorted order, or a permutation derived from Seed and
// Epoch when Shuffle is set. The item channel closes after the last entry.
func StartSampler(parent context.Context, opts SamplerOptions) (<-chan Item, <-chan error, error) {
	if len(opts.Entries) == 0 {
		return nil, nil, errors.Wrap(ErrNoImages, "sampler")
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}
	if opts.Decode.Shape.Height <= 0 || opts.Decode.Shape.Width <= 0 {
		return nil, nil, errors.Errorf("sampler: invalid target shape %dx%d", opts.Decode.Shape.Height, opts.Decode.Shape.Width)
	}

	ctx, cancel := context.WithCancel(parent)

	cache, err := loadShards(ctx, opts.Entries)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	jobs := make(chan decodeJob, opts.NumWorkers)
	results := make(chan decodeResult, opts.NumWorkers)
	out := make(chan Item, opts.NumWorkers*2)
	errCh := make(chan error, 1)

	order := epochOrder(len(opts.Entries), opts.Seed, opts.Epoch, opts.Shuffle)
	go produceJobs(ctx, jobs, opts.Entries, order)

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx, jobs, results, cache, opts)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	go func() {
		defer cancel()
		defer close(out)
		defer close(errCh)
		runAggregator(ctx, results, out, errCh, len(order))
	}()

	return out, errCh, nil
}

type decodeJob struct {
	seq   int
	entry Entry
}

type decodeResult struct {
	item Item
	err  error
}

func worker(ctx context.Context, jobs <-chan decodeJob, results chan<- decodeResult, cache shardCache, opts SamplerOptions) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			img, err := load(job, cache, opts)
			res := decodeResult{item: Item{Seq: job.seq, Entry: job.entry, Image: img}, err: err}
			select {
			case <-ctx.Done():
				return
			case results <- res:
			}
		}
	}
}

func load(job decodeJob, cache shardCache, opts SamplerOptions) (tensor.Batch, error) {
	data, ok := cache.get(job.entry)
	if !ok {
		var err error
		data, err = job.entry.ReadAll()
		if err != nil {
			return tensor.Batch{}, errors.Wrap(err, job.entry.Name())
		}
	}
	img, err := decodeRaw(data, opts.Decode)
	if err != nil {
		return tensor.Batch{}, errors.Wrap(err, job.entry.Name())
	}
	if opts.Augment != nil {
		// seeded per item so the result does not depend on worker scheduling
		rng := rand.New(rand.NewSource(opts.Seed + int64(opts.Epoch)*1_000_003 + int64(job.seq)))
		img = opts.Augment.Apply(img, rng)
	}
	preprocess(img, opts.Decode.Preprocessing)
	return img, nil
}

// runAggregator reorders worker results by sequence number.
func runAggregator(ctx context.Context, results <-chan decodeResult, out chan<- Item, errCh chan<- error, total int) {
	pending := make(map[int]decodeResult)
	next := 0
	for next < total {
		res, ok := pending[next]
		if !ok {
			select {
			case <-ctx.Done():
				return
			case r, more := <-results:
				if !more {
					return
				}
				pending[r.item.Seq] = r
			}
			continue
		}
		delete(pending, next)
		if res.err != nil {
			errCh <- res.err
			return
		}
		select {
		case <-ctx.Done():
			return
		case out <- res.item:
		}
		next++
	}
}

func produceJobs(ctx context.Context, jobs chan<- decodeJob, entries []Entry, order []int) {
	defer close(jobs)
	for seq, idx := range order {
		select {
		case <-ctx.Done():
			return
		case jobs <- decodeJob{seq: seq, entry: entries[idx]}:
		}
	}
}

// epochOrder returns the entry indices visited in one pass.
func epochOrder(n int, seed int64, epoch int, shuffle bool) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if shuffle {
		rng := rand.New(rand.NewSource(seed + int64(epoch)))
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return order
}

// shardCache holds the image bytes of every shard referenced by the entries.
type shardCache map[string]map[string][]byte

func (c shardCache) get(e Entry) ([]byte, bool) {
	if e.Member == "" {
		return nil, false
	}
	data, ok := c[e.Path][e.Member]
	return data, ok
}

func loadShards(ctx context.Context, entries []Entry) (shardCache, error) {
	cache := make(shardCache)
	for _, e := range entries {
		if e.Member == "" {
			continue
		}
		if _, done := cache[e.Path]; done {
			continue
		}
		members := make(map[string][]byte)
		samples, errCh := StreamShard(ctx, e.Path)
		for s := range samples {
			members[s.Member] = s.Image
		}
		if err := <-errCh; err != nil {
			return nil, errors.Wrapf(err, "load shard %s", e.Path)
		}
		cache[e.Path] = members
	}
	return cache, nil
}

// ForEachBatch runs one pass and calls fn with consecutive batches of at most
// batchSize images.
func ForEachBatch(ctx context.Context, opts SamplerOptions, batchSize int, fn func(b tensor.Batch, entries []Entry) error) error {
	if batchSize <= 0 {
		return errors.Errorf("sampler: invalid batch size %d", batchSize)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	items, errCh, err := StartSampler(ctx, opts)
	if err != nil {
		return err
	}

	var imgs []tensor.Batch
	var entries []Entry
	flush := func() error {
		if len(imgs) == 0 {
			return nil
		}
		b, err := tensor.Stack(imgs...)
		if err != nil {
			return err
		}
		err = fn(b, entries)
		imgs, entries = nil, nil
		return err
	}

	for item := range items {
		imgs = append(imgs, item.Image)
		entries = append(entries, item.Entry)
		if len(imgs) == batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := <-errCh; err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return flush()
}

// LoadAll decodes every entry, in order and without augmentation, into one batch.
func LoadAll(ctx context.Context, entries []Entry, decode DecodeOptions, workers int) (tensor.Batch, error) {
	var out tensor.Batch
	err := ForEachBatch(ctx, SamplerOptions{Entries: entries, Decode: decode, NumWorkers: workers}, len(entries),
		func(b tensor.Batch, _ []Entry) error {
			out = b
			return nil
		})
	return out, err
}
