package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/tuanvm/diachimoi/internal/common"
	"github.com/tuanvm/diachimoi/internal/converter"
	"github.com/tuanvm/diachimoi/internal/models"
)

// fakeConverter produces deterministic outcomes without a browser
type fakeConverter struct {
	processed []int
	failIDs   map[int]bool
	fallback  map[int]bool
	onConvert func(rec models.InputRecord)
}

func (f *fakeConverter) Convert(ctx context.Context, rec models.InputRecord) (converter.Outcome, error) {
	if f.onConvert != nil {
		f.onConvert(rec)
	}
	if err := ctx.Err(); err != nil {
		return converter.Outcome{}, err
	}
	f.processed = append(f.processed, rec.PrefOldID)
	if f.failIDs[rec.PrefOldID] {
		return converter.Outcome{}, &converter.ConversionTimeoutError{}
	}
	out := converter.Outcome{NewName: fmt.Sprintf("Phường Mới %d", rec.PrefOldID)}
	if f.fallback[rec.PrefOldID] {
		out.UsedFallback = true
		out.FallbackLabel = "Thị xã " + rec.PrefName
	}
	return out, nil
}

type fakeSession struct {
	refreshes int
	closed    bool
}

func (s *fakeSession) Refresh() error { s.refreshes++; return nil }
func (s *fakeSession) Close()         { s.closed = true }

type driverFixture struct {
	dir     string
	opts    Options
	store   *ProgressStore
	conv    *fakeConverter
	session *fakeSession
}

func newFixture(t *testing.T, ids ...int) *driverFixture {
	t.Helper()
	dir := t.TempDir()

	records := make([]models.InputRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, models.InputRecord{
			CityName:  "Thành phố Hà Nội",
			PrefOldID: id,
			PrefName:  fmt.Sprintf("Huyện Số %d", id),
		})
	}
	data, err := json.Marshal(records)
	require.NoError(t, err)

	inputPath := filepath.Join(dir, "input.json")
	require.NoError(t, os.WriteFile(inputPath, data, 0644))

	return &driverFixture{
		dir: dir,
		opts: Options{
			InputPath:  inputPath,
			OutputPath: filepath.Join(dir, "output.json"),
		},
		store:   NewProgressStore(filepath.Join(dir, "checkpoint.json"), arbor.NewLogger()),
		conv:    &fakeConverter{failIDs: map[int]bool{}, fallback: map[int]bool{}},
		session: &fakeSession{},
	}
}

func (f *driverFixture) run(t *testing.T) (Summary, error) {
	t.Helper()
	logger := arbor.NewLogger()
	retry := converter.NewRetryPolicy(common.RetryConfig{MaxAttempts: 1}, logger)
	driver := NewDriver(f.opts, f.store, retry, f.conv, f.session, logger)
	return driver.Run(context.Background())
}

func (f *driverFixture) readOutput(t *testing.T) []models.ConversionResult {
	t.Helper()
	data, err := os.ReadFile(f.opts.OutputPath)
	require.NoError(t, err)
	var results []models.ConversionResult
	require.NoError(t, json.Unmarshal(data, &results))
	return results
}

func TestDriver_FullRun(t *testing.T) {
	f := newFixture(t, 1, 2, 3, 4, 5)

	summary, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Processed)
	assert.Equal(t, 5, summary.Succeeded)
	assert.Zero(t, summary.Poisoned)
	assert.True(t, f.session.closed)

	results := f.readOutput(t)
	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, i+1, r.PrefOldID)
		assert.Equal(t, fmt.Sprintf("Phường Mới %d", i+1), r.PrefNewName)
	}
}

func TestDriver_PoisonContainment(t *testing.T) {
	f := newFixture(t, 1, 2, 3, 4, 5)
	f.conv.failIDs[3] = true

	summary, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Processed)
	assert.Equal(t, 4, summary.Succeeded)
	assert.Equal(t, 1, summary.Poisoned)

	results := f.readOutput(t)
	require.Len(t, results, 5)
	assert.True(t, results[2].Failed())
	assert.Contains(t, results[2].PrefNewName, "ERROR:")
	// Subsequent records are unaffected
	assert.Equal(t, "Phường Mới 4", results[3].PrefNewName)
	assert.Equal(t, "Phường Mới 5", results[4].PrefNewName)
}

func TestDriver_CheckpointPeriodicity(t *testing.T) {
	ids := make([]int, 25)
	for i := range ids {
		ids[i] = i + 1
	}
	f := newFixture(t, ids...)
	f.opts.CheckpointEvery = 10

	sizes := map[int]int{} // call index -> checkpoint record count before that call
	call := 0
	f.conv.onConvert = func(models.InputRecord) {
		call++
		loaded, err := f.store.Load()
		if err == nil {
			sizes[call] = len(loaded)
		}
	}

	_, err := f.run(t)
	require.NoError(t, err)

	// After the 10th and 20th records the checkpoint holds the correct prefix
	assert.Equal(t, 10, sizes[11])
	assert.Equal(t, 20, sizes[21])

	final, err := f.store.Load()
	require.NoError(t, err)
	assert.Len(t, final, 25)
}

func TestDriver_ResumeCorrectness(t *testing.T) {
	f := newFixture(t, 1, 2, 3, 4, 5, 6)
	require.NoError(t, f.store.Persist(testResults(1, 2, 3)))
	f.opts.Resume = true

	summary, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 3, summary.Resumed)
	assert.Equal(t, []int{4, 5, 6}, f.conv.processed)

	results := f.readOutput(t)
	require.Len(t, results, 6)
	// Checkpoint prefix first, in original relative order
	assert.Equal(t, 1, results[0].PrefOldID)
	assert.Equal(t, "Phường Ngọc Hà", results[0].PrefNewName)
	assert.Equal(t, "Phường Mới 6", results[5].PrefNewName)
}

func TestDriver_IdempotentResume(t *testing.T) {
	f := newFixture(t, 1, 2, 3, 4, 5)

	first, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, 5, first.Processed)
	firstOutput := f.readOutput(t)

	f.conv = &fakeConverter{failIDs: map[int]bool{}, fallback: map[int]bool{}}
	f.session = &fakeSession{}
	f.opts.Resume = true

	second, err := f.run(t)
	require.NoError(t, err)
	assert.Zero(t, second.Processed)
	assert.Empty(t, f.conv.processed)
	assert.Equal(t, firstOutput, f.readOutput(t))
}

func TestDriver_StartFromPrecedence(t *testing.T) {
	f := newFixture(t, 1, 2, 3, 4, 5, 6)
	// Checkpoint says resume after 3, but the explicit cursor wins
	require.NoError(t, f.store.Persist(testResults(1, 2, 3)))
	f.opts.Resume = true
	f.opts.StartFrom = 2

	summary, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4, 5, 6}, f.conv.processed)
	assert.Zero(t, summary.Resumed)

	results := f.readOutput(t)
	require.Len(t, results, 5)
	assert.Equal(t, 2, results[0].PrefOldID)
}

func TestDriver_FallbackRecorded(t *testing.T) {
	f := newFixture(t, 7)
	f.conv.fallback[7] = true

	_, err := f.run(t)
	require.NoError(t, err)

	results := f.readOutput(t)
	require.Len(t, results, 1)
	assert.Equal(t, "Phường Mới 7", results[0].PrefNewName)
	assert.Equal(t, "Phường Mới 7", results[0].PrefNewFallback)
	// The original input label is still echoed
	assert.Equal(t, "Huyện Số 7", results[0].PrefOldName)
}

func TestDriver_ProactiveSessionRefresh(t *testing.T) {
	ids := make([]int, 45)
	for i := range ids {
		ids[i] = i + 1
	}
	f := newFixture(t, ids...)
	f.opts.SessionRefreshEvery = 20

	_, err := f.run(t)
	require.NoError(t, err)
	// Refreshed before records 21 and 41
	assert.Equal(t, 2, f.session.refreshes)
}

func TestDriver_BackupBeforeOverwrite(t *testing.T) {
	f := newFixture(t, 1, 2)
	previous := []byte(`[{"city_name":"old"}]`)
	require.NoError(t, os.WriteFile(f.opts.OutputPath, previous, 0644))

	_, err := f.run(t)
	require.NoError(t, err)

	backups, err := filepath.Glob(f.opts.OutputPath + ".*.bak")
	require.NoError(t, err)
	require.Len(t, backups, 1)

	data, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, previous, data)
}

func TestDriver_ZeroValidRecordsAborts(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no valid input records")
	assert.True(t, f.session.closed)
}

func TestDriver_CorruptCheckpointAborts(t *testing.T) {
	f := newFixture(t, 1, 2, 3)
	require.NoError(t, os.WriteFile(f.store.Path(), []byte("{broken"), 0644))
	f.opts.Resume = true

	_, err := f.run(t)
	require.ErrorIs(t, err, ErrCheckpointCorrupt)
	assert.Empty(t, f.conv.processed)
}

func TestDriver_PartialArtifactOnAbort(t *testing.T) {
	f := newFixture(t, 1, 2, 3, 4, 5)

	ctx, cancel := context.WithCancel(context.Background())
	f.conv.onConvert = func(rec models.InputRecord) {
		if rec.PrefOldID == 3 {
			cancel()
		}
	}

	logger := arbor.NewLogger()
	retry := converter.NewRetryPolicy(common.RetryConfig{MaxAttempts: 1}, logger)
	driver := NewDriver(f.opts, f.store, retry, f.conv, f.session, logger)

	_, err := driver.Run(ctx)
	require.Error(t, err)

	partials, err := filepath.Glob(filepath.Join(f.dir, "output-partial-*.json"))
	require.NoError(t, err)
	require.Len(t, partials, 1)

	data, err := os.ReadFile(partials[0])
	require.NoError(t, err)
	var results []models.ConversionResult
	require.NoError(t, json.Unmarshal(data, &results))
	assert.Len(t, results, 2)

	// No final output artifact on abort
	_, statErr := os.Stat(f.opts.OutputPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDriver_ResumeWithoutCheckpointStartsFresh(t *testing.T) {
	f := newFixture(t, 1, 2)
	f.opts.Resume = true

	summary, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Zero(t, summary.Resumed)
}
