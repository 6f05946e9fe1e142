// Package pipeline drives one import run: login, duplicate resolution,
// chunked uploads with pacing and retries, optional post-insert
// verification, and progress accounting. A run always produces a
// Result, even when it fails before the first upload.
package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowsma/record-importer/internal/config"
	"github.com/flowsma/record-importer/internal/diag"
	"github.com/flowsma/record-importer/internal/flowsma"
	"github.com/flowsma/record-importer/internal/parser"
	"github.com/flowsma/record-importer/internal/pkg/logger"
	"github.com/flowsma/record-importer/internal/pkg/retry"
)

// Pipeline wires the client, session, resolver and retry policy for
// import runs. One Pipeline serves one configuration; each Run is
// independent.
type Pipeline struct {
	cfg      *config.Config
	client   *flowsma.Client
	session  *flowsma.Session
	resolver *flowsma.Resolver
	exec     *retry.Executor
	tracker  *diag.Tracker
}

// New builds a Pipeline from configuration. The tracker may be shared
// with the caller for live progress reads.
func New(cfg *config.Config, client *flowsma.Client, tracker *diag.Tracker) *Pipeline {
	session := flowsma.NewSession(client, cfg.API)
	exec := retry.New(cfg.Retry, session)
	return &Pipeline{
		cfg:      cfg,
		client:   client,
		session:  session,
		resolver: flowsma.NewResolver(client, session, exec, cfg.Flow),
		exec:     exec,
		tracker:  tracker,
	}
}

// Session exposes the run's session, mainly for tests.
func (p *Pipeline) Session() *flowsma.Session { return p.session }

// Run imports every row of the document. It never panics and never
// returns nil: fatal setup failures are reported on the Result.
func (p *Pipeline) Run(ctx context.Context, doc *parser.Document) *Result {
	res := newResult(len(doc.Rows))
	defer res.finish()

	if err := p.cfg.Validate(); err != nil {
		res.fail("invalid configuration: " + err.Error())
		return res
	}
	if len(doc.Rows) == 0 {
		res.fail("document contains no rows")
		return res
	}

	logger.Info("import run starting",
		"total_rows", len(doc.Rows),
		"chunk_size", p.cfg.Batch.ChunkSize,
		"max_concurrent", p.cfg.Batch.MaxConcurrent)

	// A fresh token for every run
	if err := p.session.Login(ctx, true); err != nil {
		logger.Error("login failed, aborting run", "error", err.Error())
		res.fail("login failed: " + err.Error())
		return res
	}

	var stop atomic.Bool
	var processed atomic.Int64

	limit := p.cfg.Batch.MaxConcurrent
	if limit < 1 {
		limit = 1
	}

	chunks := chunkRows(doc.Rows, p.cfg.Batch.ChunkSize)
	p.publishProgress(res, 0, len(chunks))

	for ci, ch := range chunks {
		if stop.Load() || ctx.Err() != nil {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)

		for i, row := range ch.rows {
			if stop.Load() {
				break
			}
			row := row
			rowIndex := ch.start + i + 1
			g.Go(func() error {
				if stop.Load() {
					return nil
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				p.processRow(gctx, rowIndex, row, res, &stop)

				n := processed.Add(1)
				p.publishProgress(res, ci+1, len(chunks))
				if p.cfg.Batch.SnapshotEvery > 0 && n%int64(p.cfg.Batch.SnapshotEvery) == 0 {
					p.tracker.TakeSnapshot()
				}
				return gctx.Err()
			})
		}

		if err := g.Wait(); err != nil {
			logger.Warn("import run interrupted", "error", err.Error())
			res.fail("import interrupted: " + err.Error())
			break
		}

		if ci < len(chunks)-1 && !stop.Load() {
			if err := sleepCtx(ctx, p.cfg.Batch.InterBatchDelay()); err != nil {
				res.fail("import interrupted: " + err.Error())
				break
			}
		}
	}

	p.publishProgress(res, len(chunks), len(chunks))
	p.tracker.TakeSnapshot()

	imported, duplicates, failed := res.counters()
	logger.Info("import run finished",
		"total_rows", res.TotalRows,
		"imported", imported,
		"duplicates", duplicates,
		"failed", failed,
		"verifications_failed", res.VerificationsFailed)
	return res
}

// processRow takes one row to a terminal state: duplicate, imported or
// failed. Failures never propagate as errors; they are counted and,
// under stop-on-failure, raise the stop flag.
func (p *Pipeline) processRow(ctx context.Context, rowIndex int, row parser.Row, res *Result, stop *atomic.Bool) {
	payload := BuildPayload(row, rowIndex, p.cfg.Flow)
	ref := payload.ReferenceText

	p.tracker.LogRequest("getRegistroCabList", rowIndex, ref, p.session.Token())
	lookup := p.resolver.Exists(ctx, ref)
	p.tracker.LogResponse("getRegistroCabList", rowIndex, lookup.Err == nil, 0, "")

	if lookup.Found {
		logger.Info("duplicate skipped", "row", rowIndex, "reference", ref)
		d := DuplicateDetail{Row: rowIndex, Reference: ref}
		if lookup.Match != nil {
			d.ExistingID = lookup.Match.ID
		}
		res.addDuplicate(d)
		// No pacing delay: nothing was uploaded
		return
	}

	if p.session.IsExpiring() {
		if err := p.session.Login(ctx, true); err != nil {
			logger.Warn("pre-upload session renewal failed", "row", rowIndex, "error", err.Error())
		}
	}

	p.tracker.LogRequest("saveRegistroCab", rowIndex, ref, p.session.Token())
	err := p.exec.Do(ctx, "saveRegistroCab", func(ctx context.Context) error {
		_, callErr := p.client.SaveRecord(ctx, p.session.Token(), payload)
		return callErr
	})
	if err != nil {
		status := 0
		var sc retry.StatusCarrier
		if errors.As(err, &sc) {
			status = sc.HTTPStatus()
		}
		p.tracker.LogResponse("saveRegistroCab", rowIndex, false, status, err.Error())
		logger.Error("record upload failed", "row", rowIndex, "reference", ref, "error", err.Error())
		res.addError(ErrorDetail{Row: rowIndex, Reference: ref, Message: err.Error()})
		if p.cfg.Batch.StopOnFailure {
			logger.Warn("stopping run on first failure", "row", rowIndex)
			stop.Store(true)
		}
		return
	}

	p.tracker.LogResponse("saveRegistroCab", rowIndex, true, 200, "")
	res.addImported()
	logger.Debug("record uploaded", "row", rowIndex, "reference", ref)

	if p.cfg.Batch.VerifyAfterInsert {
		p.verifyInsert(ctx, rowIndex, ref, res)
	}

	if d := p.cfg.Batch.InterRecordDelay(); d > 0 {
		_ = sleepCtx(ctx, d)
	}
}

// verifyInsert re-queries the workflow after a settle pause to confirm
// the insert actually landed. A listing failure leaves the row
// unverified rather than failed.
func (p *Pipeline) verifyInsert(ctx context.Context, rowIndex int, ref string, res *Result) {
	if err := sleepCtx(ctx, p.cfg.Batch.VerifySettle()); err != nil {
		return
	}

	lookup := p.resolver.Exists(ctx, ref)
	detail := VerificationDetail{
		Row:       rowIndex,
		Reference: ref,
		Verified:  lookup.Err == nil,
		Found:     lookup.Found,
	}
	res.addVerification(detail)

	if detail.Verified && !detail.Found {
		logger.Error("inserted record missing on verification", "row", rowIndex, "reference", ref)
	}
}

func (p *Pipeline) publishProgress(res *Result, batch, totalBatches int) {
	imported, duplicates, failed := res.counters()
	p.tracker.UpdateProgress(diag.Progress{
		Total:        res.TotalRows,
		Processed:    imported + duplicates + failed,
		Succeeded:    imported,
		Duplicates:   duplicates,
		Failed:       failed,
		Batch:        batch,
		TotalBatches: totalBatches,
	})
}

type chunk struct {
	start int
	rows  []parser.Row
}

// chunkRows splits rows into consecutive chunks of at most size rows.
func chunkRows(rows []parser.Row, size int) []chunk {
	if size <= 0 {
		size = len(rows)
	}
	var out []chunk
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, chunk{start: start, rows: rows[start:end]})
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
