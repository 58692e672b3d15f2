// -----------------------------------------------------------------------
// Pipeline driver - orchestrates the end-to-end conversion run
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/tuanvm/diachimoi/internal/converter"
	"github.com/tuanvm/diachimoi/internal/models"
)

// SessionControl is the slice of the browser session the driver manages:
// proactive refresh and final teardown. Satisfied by browser.Session.
type SessionControl interface {
	Refresh() error
	Close()
}

// Options configures one pipeline run
type Options struct {
	InputPath  string
	OutputPath string

	Resume    bool // resume from the checkpoint cursor
	StartFrom int  // explicit cursor; wins over Resume when > 0

	CheckpointEvery     int           // checkpoint write cadence in records
	SessionRefreshEvery int           // proactive session refresh cadence in records
	Pace                time.Duration // minimum interval between records
}

// Summary reports the outcome of a completed run
type Summary struct {
	Processed  int    // records converted in this run
	Succeeded  int    // successful conversions in the final artifact
	Poisoned   int    // poison-valued conversions in the final artifact
	Resumed    int    // records carried over from the checkpoint prefix
	OutputPath string
}

// Driver owns the run state: it is the only writer of the checkpoint and
// the final output artifact. Records are processed strictly one at a time
// in input order; the single browser session is exclusively owned by the
// driver for the run's duration.
type Driver struct {
	opts    Options
	store   *ProgressStore
	retry   *converter.RetryPolicy
	conv    converter.Converter
	session SessionControl
	limiter *rate.Limiter
	logger  arbor.ILogger
	runID   string
}

// NewDriver assembles a pipeline run
func NewDriver(opts Options, store *ProgressStore, retry *converter.RetryPolicy, conv converter.Converter, session SessionControl, logger arbor.ILogger) *Driver {
	if opts.CheckpointEvery < 1 {
		opts.CheckpointEvery = 10
	}
	if opts.SessionRefreshEvery < 1 {
		opts.SessionRefreshEvery = 20
	}
	var limiter *rate.Limiter
	if opts.Pace > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.Pace), 1)
	}
	return &Driver{
		opts:    opts,
		store:   store,
		retry:   retry,
		conv:    conv,
		session: session,
		limiter: limiter,
		logger:  logger,
		runID:   uuid.NewString()[:8],
	}
}

// Run executes the pipeline. Per-record failures are absorbed as poison
// results; run-level failures persist the partial accumulation to a side
// artifact and propagate.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	if d.session != nil {
		defer d.session.Close()
	}

	records, err := models.LoadRecords(d.opts.InputPath, d.logger)
	if err != nil {
		return d.abort(nil, nil, err)
	}
	if len(records) == 0 {
		return d.abort(nil, nil, fmt.Errorf("no valid input records in %s", d.opts.InputPath))
	}

	prior, filtered, err := d.resolveWork(records)
	if err != nil {
		return d.abort(nil, nil, err)
	}

	if len(filtered) == 0 {
		d.logger.Info().Msg("All requested records already processed")
	}

	results := make([]models.ConversionResult, 0, len(filtered))
	for i, rec := range filtered {
		if err := d.pace(ctx); err != nil {
			return d.abort(prior, results, err)
		}

		// Proactive refresh independent of the failure-triggered refresh
		// inside the retry policy; keeps renderer memory in check on long
		// runs.
		if i > 0 && i%d.opts.SessionRefreshEvery == 0 && d.session != nil {
			if rerr := d.session.Refresh(); rerr != nil {
				d.logger.Error().Err(rerr).Msg("Proactive session refresh failed")
			}
		}

		outcome, cerr := d.retry.Execute(ctx, rec, d.conv, d.refresher())
		var result models.ConversionResult
		switch {
		case cerr != nil && ctx.Err() != nil:
			return d.abort(prior, results, ctx.Err())
		case cerr != nil:
			result = models.NewFailedResult(rec, cerr)
			d.logger.Warn().
				Int("pref_old_id", rec.PrefOldID).
				Str("pref_name", rec.PrefName).
				Err(cerr).
				Msg("Record failed after all retries, continuing")
		default:
			fallback := ""
			if outcome.UsedFallback {
				fallback = outcome.NewName
			}
			result = models.NewResult(rec, outcome.NewName, fallback)
			d.logger.Info().
				Int("index", i+1).
				Int("total", len(filtered)).
				Int("pref_old_id", rec.PrefOldID).
				Str("old", rec.PrefName).
				Str("new", outcome.NewName).
				Bool("fallback", outcome.UsedFallback).
				Msg("Record converted")
		}
		results = append(results, result)

		if (i+1)%d.opts.CheckpointEvery == 0 {
			if perr := d.store.Persist(append(append([]models.ConversionResult{}, prior...), results...)); perr != nil {
				d.logger.Warn().Err(perr).Msg("Checkpoint write failed, continuing")
			}
		}
	}

	final := append(append([]models.ConversionResult{}, prior...), results...)

	if err := d.writeOutput(final); err != nil {
		return d.abort(prior, results, err)
	}

	// Final checkpoint so a re-run with -resume is a no-op
	if perr := d.store.Persist(final); perr != nil {
		d.logger.Warn().Err(perr).Msg("Final checkpoint write failed")
	}

	summary := Summary{
		Processed:  len(results),
		Resumed:    len(prior),
		OutputPath: d.opts.OutputPath,
	}
	for _, r := range final {
		if r.Failed() {
			summary.Poisoned++
		} else {
			summary.Succeeded++
		}
	}

	d.logger.Info().
		Int("processed", summary.Processed).
		Int("resumed", summary.Resumed).
		Int("succeeded", summary.Succeeded).
		Int("poisoned", summary.Poisoned).
		Str("output", summary.OutputPath).
		Msg("Run complete")

	return summary, nil
}

// resolveWork resolves the starting cursor (explicit override > checkpoint
// resume > none) and returns the resumed prefix plus the records still to
// process
func (d *Driver) resolveWork(records []models.InputRecord) (prior []models.ConversionResult, filtered []models.InputRecord, err error) {
	switch {
	case d.opts.StartFrom > 0:
		// Explicit cursor wins; the checkpoint is not consulted and the
		// output is written fresh.
		if d.opts.Resume {
			d.logger.Warn().
				Int("start_from", d.opts.StartFrom).
				Msg("Both -resume and -start-from given; explicit cursor wins, checkpoint ignored")
		}
		filtered = filterFrom(records, d.opts.StartFrom)
		d.logger.Info().
			Int("start_from", d.opts.StartFrom).
			Int("remaining", len(filtered)).
			Msg("Starting from explicit cursor")
		return nil, filtered, nil

	case d.opts.Resume:
		prior, err = d.store.Load()
		if err != nil {
			return nil, nil, err
		}
		if len(prior) == 0 {
			d.logger.Info().Msg("No checkpoint found, starting from the beginning")
			return nil, records, nil
		}
		cursor := prior[len(prior)-1].PrefOldID
		filtered = filterFrom(records, cursor+1)
		d.logger.Info().
			Int("cursor", cursor).
			Int("resumed", len(prior)).
			Int("remaining", len(filtered)).
			Msg("Resuming from checkpoint")
		return prior, filtered, nil

	default:
		return nil, records, nil
	}
}

// filterFrom keeps records with pref_old_id >= cursor. Relies on the
// validated non-decreasing input order.
func filterFrom(records []models.InputRecord, cursor int) []models.InputRecord {
	filtered := make([]models.InputRecord, 0, len(records))
	for _, rec := range records {
		if rec.PrefOldID >= cursor {
			filtered = append(filtered, rec)
		}
	}
	return filtered
}

func (d *Driver) pace(ctx context.Context) error {
	if d.limiter == nil {
		return ctx.Err()
	}
	return d.limiter.Wait(ctx)
}

func (d *Driver) refresher() converter.Refresher {
	if d.session == nil {
		return nil
	}
	return d.session
}

// writeOutput backs up any pre-existing artifact, then writes the final
// result set
func (d *Driver) writeOutput(final []models.ConversionResult) error {
	if err := d.backupExisting(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(final, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize output: %w", err)
	}
	if err := os.WriteFile(d.opts.OutputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write output %s: %w", d.opts.OutputPath, err)
	}
	return nil
}

// backupExisting copies a pre-existing output artifact to a
// timestamp-suffixed file. Silently skipped when no prior output exists.
func (d *Driver) backupExisting() error {
	data, err := os.ReadFile(d.opts.OutputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read existing output for backup: %w", err)
	}

	backupPath := fmt.Sprintf("%s.%s.bak", d.opts.OutputPath, time.Now().Format("20060102-150405"))
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write backup %s: %w", backupPath, err)
	}
	d.logger.Info().Str("backup", backupPath).Msg("Existing output backed up")
	return nil
}

// abort persists whatever accumulated before a run-level error to a
// uniquely named side artifact (best-effort), then propagates the error
func (d *Driver) abort(prior, results []models.ConversionResult, cause error) (Summary, error) {
	accumulated := append(append([]models.ConversionResult{}, prior...), results...)
	if len(accumulated) > 0 {
		base := strings.TrimSuffix(d.opts.OutputPath, ".json")
		partialPath := fmt.Sprintf("%s-partial-%s-%s.json", base, time.Now().Format("20060102-150405"), d.runID)
		if data, err := json.MarshalIndent(accumulated, "", "  "); err == nil {
			if werr := os.WriteFile(partialPath, data, 0644); werr != nil {
				d.logger.Error().Err(werr).Msg("Failed to persist partial results")
			} else {
				d.logger.Info().
					Str("partial", partialPath).
					Int("records", len(accumulated)).
					Msg("Partial results persisted")
			}
		}
	}
	return Summary{}, fmt.Errorf("run aborted: %w", cause)
}
