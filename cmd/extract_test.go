package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/arb-appeal-extractor/internal/batch"
	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
	"github.com/JakeFAU/arb-appeal-extractor/internal/ingest"
)

type fakeApp struct {
	raw    []string
	mode   ingest.Mode
	final  extraction.Batch
	err    error
	closed bool
	ran    bool
}

func (f *fakeApp) Run(context.Context) error {
	f.ran = true
	return nil
}

func (f *fakeApp) Extract(_ context.Context, raw []string, mode ingest.Mode) (batch.Submission, extraction.Batch, error) {
	f.raw = raw
	f.mode = mode
	return batch.Submission{Batch: f.final}, f.final, f.err
}

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

func withFakeApp(t *testing.T, app *fakeApp) *string {
	t.Helper()
	var gotPath string
	prev := newApp
	newApp = func(_ context.Context, cfgPath string) (App, error) {
		gotPath = cfgPath
		return app, nil
	}
	t.Cleanup(func() { newApp = prev })
	return &gotPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func completedBatch() extraction.Batch {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	b := extraction.NewBatch("batch-1", []string{"19-04-012-345-67890-0000"}, now)
	b.State = extraction.BatchCompleted
	b.Items[0].Status = extraction.ItemCompleted
	b.Items[0].Outcome = extraction.OutcomeSuccess
	b.Items[0].Appeals = 2
	b.Summary = extraction.Summarize(b.Items)
	return b
}

func TestExtractPositionalArgsAreLenient(t *testing.T) {
	app := &fakeApp{final: completedBatch()}
	cfgPath := withFakeApp(t, app)

	out, err := execute(t, "--config", "arb.yaml", "extract", "1904012345678900000")
	require.NoError(t, err)
	require.Equal(t, "arb.yaml", *cfgPath)
	require.Equal(t, []string{"1904012345678900000"}, app.raw)
	require.Equal(t, ingest.Lenient, app.mode)
	require.True(t, app.closed)
	require.Contains(t, out, "batch batch-1 completed: 1 total, 1 with appeals")
	require.Contains(t, out, "appeals=2")
}

func TestExtractFileIsStrictUnlessOverridden(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rolls.csv")
	require.NoError(t, os.WriteFile(path, []byte("roll_number\n1904012345678900000\n"), 0o600))

	app := &fakeApp{final: completedBatch()}
	withFakeApp(t, app)
	_, err := execute(t, "extract", "-f", path)
	require.NoError(t, err)
	require.Equal(t, []string{"1904012345678900000"}, app.raw)
	require.Equal(t, ingest.Strict, app.mode)

	_, err = execute(t, "extract", "-f", path, "--mode", "lenient")
	require.NoError(t, err)
	require.Equal(t, ingest.Lenient, app.mode)
}

func TestExtractRequiresInput(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)
	_, err := execute(t, "extract")
	require.ErrorContains(t, err, "no roll numbers given")
	require.Nil(t, app.raw)
}

func TestExtractFailedBatchReturnsError(t *testing.T) {
	final := completedBatch()
	final.State = extraction.BatchFailed
	final.Error = "browser session launch_failed"
	withFakeApp(t, &fakeApp{final: final})

	_, err := execute(t, "extract", "1904012345678900000")
	require.ErrorContains(t, err, "launch_failed")
}

func TestExtractJSONOutput(t *testing.T) {
	withFakeApp(t, &fakeApp{final: completedBatch()})

	out, err := execute(t, "extract", "--json", "1904012345678900000")
	require.NoError(t, err)
	require.Contains(t, out, `"state": "completed"`)
}

func TestServeRunsAndClosesApp(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	_, err := execute(t, "serve")
	require.NoError(t, err)
	require.True(t, app.ran)
	require.True(t, app.closed)
}
