// Package batch signs or verifies many files with bounded concurrency.
// It is the module's only concurrent surface: each worker gets its own
// document, so the single-threaded core stays safe.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/pdforge/pdforge/config"
	"github.com/pdforge/pdforge/logger"
	"github.com/pdforge/pdforge/sign/signers"
	"github.com/pdforge/pdforge/sign/validation"
)

// Result is the outcome for one input file. A failed file carries its
// error here; it never aborts the rest of the batch.
type Result struct {
	Path string

	// OutputPath is the signed copy written by a sign run.
	OutputPath string

	// Signatures carries the per-signature reports of a verify run.
	Signatures []validation.Result

	Err error
}

// Processor bounds how many files are worked on at once.
type Processor struct {
	sem   *semaphore.Weighted
	limit int
}

// NewProcessor sizes the processor from the batch configuration.
func NewProcessor(cfg config.BatchConfig) *Processor {
	limit := cfg.Concurrency
	if limit < 1 {
		limit = 1
	}
	return &Processor{
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: limit,
	}
}

// SignOptions configures a signing run.
type SignOptions struct {
	Signer   signers.Signer
	Reason   string
	Location string

	// Session carries field naming, widget placement and the clock for
	// every file's signing session.
	Session signers.SessionOptions

	// OutputDir receives the signed copies. Empty writes them next to
	// their inputs.
	OutputDir string

	// Suffix is inserted before the file extension. Empty means
	// "-signed".
	Suffix string
}

// Sign signs every file and writes the signed copies, returning one
// Result per input in input order.
func (p *Processor) Sign(ctx context.Context, files []string, opts SignOptions) []Result {
	logger.Debug("starting batch sign", "files", len(files), "concurrency", p.limit)
	return p.run(ctx, files, func(path string) Result {
		res := Result{Path: path}
		data, err := os.ReadFile(path)
		if err != nil {
			res.Err = fmt.Errorf("reading input: %w", err)
			return res
		}
		signed, err := signers.SignDocument(data, opts.Signer, opts.Reason, opts.Location, opts.Session)
		if err != nil {
			logger.Error("signing failed", "path", path, "err", err)
			res.Err = err
			return res
		}
		out := outputPath(path, opts.OutputDir, opts.Suffix)
		if err := os.WriteFile(out, signed, 0o644); err != nil {
			res.Err = fmt.Errorf("writing output: %w", err)
			return res
		}
		logger.Info("signed document", "path", path, "output", out)
		res.OutputPath = out
		return res
	})
}

// Verify verifies every file's embedded signatures, returning one Result
// per input in input order.
func (p *Processor) Verify(ctx context.Context, files []string, opts validation.Options) []Result {
	logger.Debug("starting batch verify", "files", len(files), "concurrency", p.limit)
	return p.run(ctx, files, func(path string) Result {
		res := Result{Path: path}
		data, err := os.ReadFile(path)
		if err != nil {
			res.Err = fmt.Errorf("reading input: %w", err)
			return res
		}
		sigs, err := validation.VerifySignatures(data, opts)
		if err != nil {
			logger.Error("verification failed", "path", path, "err", err)
			res.Err = err
			return res
		}
		res.Signatures = sigs
		return res
	})
}

// run executes work for every file under the concurrency bound. Slot
// acquisition failures (a cancelled context) are recorded per file so the
// returned slice always lines up with the input.
func (p *Processor) run(ctx context.Context, files []string, work func(path string) Result) []Result {
	results := make([]Result, len(files))
	var wg sync.WaitGroup
	for i, path := range files {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			results[i] = Result{Path: path, Err: fmt.Errorf("acquire slot: %w", err)}
			continue
		}
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			defer p.sem.Release(1)
			results[i] = work(path)
		}(i, path)
	}
	wg.Wait()
	return results
}

// FailureCount reports how many results carry an error.
func FailureCount(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

func outputPath(path, dir, suffix string) string {
	if suffix == "" {
		suffix = "-signed"
	}
	if dir == "" {
		dir = filepath.Dir(path)
	}
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, stem+suffix+ext)
}
