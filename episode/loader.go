package episode

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// A Loader produces epochs of episode batches.
//
// Every call to Iterate draws fresh episodes.
// When NumWorkers is positive, batches are sampled by a
// bounded pool of goroutines and may arrive out of order.
type Loader struct {
	Sampler *Sampler
	Shape   Shape

	// BatchSize is the number of episodes per batch.
	BatchSize int

	// EpochSize is the number of episodes per epoch.
	// It must be a multiple of BatchSize.
	EpochSize int

	// NumWorkers is the number of sampling goroutines.
	// If it is 0, batches are sampled synchronously by
	// Iterator.Next.
	NumWorkers int

	// Seed seeds the loader's random source the first time
	// Iterate is called.
	// If it is 0, the current time is used.
	Seed int64

	rng *rand.Rand
}

// NumBatches returns the number of batches per epoch.
func (l *Loader) NumBatches() int {
	return l.EpochSize / l.BatchSize
}

// Validate checks the loader's parameters.
func (l *Loader) Validate() error {
	if l.BatchSize <= 0 {
		return errors.Errorf("loader: batch size must be positive, got %d", l.BatchSize)
	}
	if l.EpochSize <= 0 || l.EpochSize%l.BatchSize != 0 {
		return errors.Errorf("loader: epoch size %d is not a positive multiple of batch size %d",
			l.EpochSize, l.BatchSize)
	}
	if l.NumWorkers < 0 {
		return errors.Errorf("loader: negative worker count %d", l.NumWorkers)
	}
	return l.Shape.Validate()
}

// Iterate starts one epoch.
//
// Iterate must not be called concurrently.
// The returned Iterator must be closed, even after it has
// been exhausted.
func (l *Loader) Iterate(ctx context.Context) *Iterator {
	if l.rng == nil {
		seed := l.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		l.rng = rand.New(rand.NewSource(seed))
	}

	// Per-batch seeds make batch contents independent of
	// which worker samples them.
	seeds := make([]int64, l.NumBatches())
	for i := range seeds {
		seeds[i] = l.rng.Int63()
	}

	ctx, cancel := context.WithCancel(ctx)
	it := &Iterator{loader: l, ctx: ctx, cancel: cancel, seeds: seeds}
	if l.NumWorkers > 0 {
		it.startWorkers()
	}
	return it
}

func (l *Loader) sampleBatch(seed int64) (Batch, error) {
	rng := rand.New(rand.NewSource(seed))
	batch := make(Batch, l.BatchSize)
	for i := range batch {
		ep, err := l.Sampler.Sample(rng, l.Shape)
		if err != nil {
			return nil, err
		}
		batch[i] = ep
	}
	return batch, nil
}

type batchResult struct {
	batch Batch
	err   error
}

// An Iterator yields the batches of one epoch.
type Iterator struct {
	loader *Loader
	ctx    context.Context
	cancel context.CancelFunc
	seeds  []int64

	next    int
	results chan batchResult
	wg      sync.WaitGroup

	err    error
	closed bool
}

func (it *Iterator) startWorkers() {
	jobs := make(chan int64)
	it.results = make(chan batchResult, it.loader.NumWorkers)

	go func() {
		defer close(jobs)
		for _, seed := range it.seeds {
			select {
			case jobs <- seed:
			case <-it.ctx.Done():
				return
			}
		}
	}()

	for i := 0; i < it.loader.NumWorkers; i++ {
		it.wg.Add(1)
		go func() {
			defer it.wg.Done()
			for seed := range jobs {
				batch, err := it.loader.sampleBatch(seed)
				select {
				case it.results <- batchResult{batch: batch, err: err}:
				case <-it.ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		it.wg.Wait()
		close(it.results)
	}()
}

// Next returns the next batch.
// It returns false once the epoch is over, the context is
// done, or sampling failed; see Err.
func (it *Iterator) Next() (Batch, bool) {
	if it.err != nil || it.closed {
		return nil, false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return nil, false
	}
	if it.results == nil {
		if it.next >= len(it.seeds) {
			return nil, false
		}
		batch, err := it.loader.sampleBatch(it.seeds[it.next])
		it.next++
		if err != nil {
			it.err = err
			return nil, false
		}
		return batch, true
	}
	select {
	case res, ok := <-it.results:
		if !ok {
			if it.next < len(it.seeds) {
				it.err = it.ctx.Err()
			}
			return nil, false
		}
		if res.err != nil {
			it.err = res.err
			it.cancel()
			return nil, false
		}
		it.next++
		return res.batch, true
	case <-it.ctx.Done():
		it.err = it.ctx.Err()
		return nil, false
	}
}

// Err returns the error which ended the iteration early,
// if any.
func (it *Iterator) Err() error {
	return it.err
}

// Close stops any outstanding sampling and waits for all
// workers to exit.
// It returns the same error as Err.
func (it *Iterator) Close() error {
	if it.closed {
		return it.err
	}
	it.closed = true
	it.cancel()
	if it.results != nil {
		for range it.results {
		}
	}
	return it.err
}
