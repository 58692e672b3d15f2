// -----------------------------------------------------------------------
// Conversion workflow - drives one record through the lookup site UI
// -----------------------------------------------------------------------

package converter

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/tuanvm/diachimoi/internal/browser"
	"github.com/tuanvm/diachimoi/internal/common"
	"github.com/tuanvm/diachimoi/internal/models"
)

// overlayWait bounds the best-effort dismissal of the first-run notification
// overlay; absence is not an error
const overlayWait = 3 * time.Second

// Outcome is the product of one successful workflow pass
type Outcome struct {
	NewName       string
	UsedFallback  bool
	FallbackLabel string
}

// Converter runs one record through the external site. Implemented by
// Workflow; the pipeline wraps it in a RetryPolicy.
type Converter interface {
	Convert(ctx context.Context, rec models.InputRecord) (Outcome, error)
}

// Workflow is the per-record UI state machine. It holds no persisted state;
// it borrows the session per call.
type Workflow struct {
	session  *browser.Session
	url      string
	sel      common.SelectorConfig
	timeouts common.TimeoutConfig
	logger   arbor.ILogger
}

// NewWorkflow creates a workflow bound to a live browser session
func NewWorkflow(session *browser.Session, cfg *common.Config, logger arbor.ILogger) *Workflow {
	return &Workflow{
		session:  session,
		url:      cfg.Site.URL,
		sel:      cfg.Site.Selectors,
		timeouts: cfg.Timeouts,
		logger:   logger,
	}
}

// Convert drives the five-stage UI interaction and extracts the converted
// name. Stages run in strict order; each depends on the previous one.
func (w *Workflow) Convert(ctx context.Context, rec models.InputRecord) (Outcome, error) {
	var out Outcome

	// Stage 1: navigate and settle
	if err := w.session.Navigate(w.url, w.timeouts.NavigationTimeout()); err != nil {
		return out, fmt.Errorf("failed to load %s: %w", w.url, err)
	}
	w.dismissOverlay()
	w.session.Sleep(w.timeouts.StepDelayDuration())

	if err := ctx.Err(); err != nil {
		return out, err
	}

	// Stage 2: select city, exact label only
	if err := w.selectOption(w.sel.CityDropdown, w.sel.CityOptions, rec.CityName); err != nil {
		return out, &ElementNotFoundError{Selector: w.sel.CityOptions, Label: rec.CityName, Err: err}
	}
	w.session.Sleep(w.timeouts.StepDelayDuration())

	// Stage 3: select prefecture, falling back to a rewritten prefix label
	usedFallback, fallbackLabel, err := w.selectPrefecture(rec.PrefName)
	if err != nil {
		return out, err
	}
	out.UsedFallback = usedFallback
	out.FallbackLabel = fallbackLabel
	w.session.Sleep(w.timeouts.StepDelayDuration())

	if err := ctx.Err(); err != nil {
		return out, err
	}

	// Stage 4: select whichever ward option renders first. Ward granularity
	// is irrelevant to the caller; only the prefecture-level conversion is
	// wanted.
	if err := w.session.Click(w.sel.WardDropdown, w.timeouts.ElementWaitTimeout()); err != nil {
		return out, &ElementNotFoundError{Selector: w.sel.WardDropdown, Err: err}
	}
	if err := w.session.Click(w.sel.WardOptions, w.timeouts.ElementWaitTimeout()); err != nil {
		return out, &ElementNotFoundError{Selector: w.sel.WardOptions, Err: err}
	}
	w.session.Sleep(w.timeouts.StepDelayDuration())

	// Stage 5: submit and await the result marker
	if err := w.session.Click(w.sel.Submit, w.timeouts.ElementWaitTimeout()); err != nil {
		return out, &ElementNotFoundError{Selector: w.sel.Submit, Err: err}
	}
	resultWait := w.timeouts.ResultWaitTimeout()
	if err := w.session.WaitVisible(w.sel.ResultMarker, resultWait); err != nil {
		return out, &ConversionTimeoutError{Timeout: resultWait, Err: err}
	}

	// Stage 6: extract the converted name from the rendered section
	html, err := w.session.OuterHTML(w.sel.ResultSection, w.timeouts.ElementWaitTimeout())
	if err != nil {
		return out, &ExtractionFailedError{Reason: "result section could not be read"}
	}
	name, err := ExtractNewName(html, ExtractLabels{
		NewAddressLabel: w.sel.NewAddressLabel,
		CopyLabel:       w.sel.CopyLabel,
	})
	if err != nil {
		return out, err
	}

	out.NewName = name
	w.logger.Debug().
		Int("pref_old_id", rec.PrefOldID).
		Str("new_name", name).
		Bool("used_fallback", usedFallback).
		Msg("Record converted")

	return out, nil
}

// dismissOverlay closes the first-run notification if it is showing.
// Best-effort within a short bound; the workflow proceeds either way.
func (w *Workflow) dismissOverlay() {
	if w.sel.Overlay == "" {
		return
	}
	if err := w.session.WaitVisible(w.sel.Overlay, overlayWait); err != nil {
		return
	}
	if err := w.session.Click(w.sel.OverlayDismiss, overlayWait); err != nil {
		w.logger.Debug().Err(err).Msg("Notification overlay present but could not be dismissed")
	}
}

// selectOption opens a dropdown and activates the option with the exact
// visible label
func (w *Workflow) selectOption(dropdown, options, label string) error {
	wait := w.timeouts.ElementWaitTimeout()
	if err := w.session.Click(dropdown, wait); err != nil {
		return err
	}
	return w.session.ClickOptionByLabel(options, label, wait)
}

// selectPrefecture tries the exact label first, then a single prefix
// rewrite from the fallback table
func (w *Workflow) selectPrefecture(name string) (bool, string, error) {
	if err := w.selectOption(w.sel.PrefectureDropdown, w.sel.PrefectureOptions, name); err == nil {
		return false, "", nil
	}

	fallback, ok := FallbackLabel(name)
	if !ok {
		return false, "", &PrefectureNotFoundError{Original: name}
	}

	w.logger.Debug().
		Str("original", name).
		Str("fallback", fallback).
		Msg("Prefecture label not listed, trying fallback")

	if err := w.selectOption(w.sel.PrefectureDropdown, w.sel.PrefectureOptions, fallback); err != nil {
		return false, "", &PrefectureNotFoundError{Original: name, Fallback: fallback}
	}
	return true, fallback, nil
}
