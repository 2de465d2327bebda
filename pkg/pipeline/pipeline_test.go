package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/menta2k/portrait-cropper/internal/utils"
	"github.com/menta2k/portrait-cropper/pkg/detection"
	"github.com/menta2k/portrait-cropper/pkg/finalize"
	"github.com/menta2k/portrait-cropper/pkg/ledger"
	"github.com/menta2k/portrait-cropper/pkg/metadata"
	"github.com/menta2k/portrait-cropper/pkg/types"
)

const testBatch = "batch_test"

type testEnv struct {
	root    string
	dirs    Dirs
	ledger  *ledger.Ledger
	records *metadata.Manager
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	env := &testEnv{
		root: root,
		dirs: Dirs{
			Input:        filepath.Join(root, "input_raw"),
			Output:       filepath.Join(root, "output"),
			ManualReview: filepath.Join(root, "manual_review"),
			Errors:       filepath.Join(root, "errors"),
		},
	}
	if err := os.MkdirAll(env.dirs.Input, 0o755); err != nil {
		t.Fatal(err)
	}
	env.reopen()
	return env
}

// reopen loads the ledger and record manager again, as a new process would
func (e *testEnv) reopen() {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	e.ledger = ledger.Open(filepath.Join(e.root, "processed_index.json"), discardLogger())
	e.records = metadata.NewManager(filepath.Join(e.root, "metadata"), discardLogger(), metadata.WithClock(clock))
}

func (e *testEnv) pipeline(locator detection.FaceLocator, opts ...Option) *Pipeline {
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	return New(Config{Dirs: e.dirs}, locator, finalize.NewPlain(e.dirs.Output, 0), e.ledger, e.records, opts...)
}

func (e *testEnv) stage(root, name string) string {
	return filepath.Join(root, "2025", testBatch, name)
}

// writeImage writes a w x h PNG whose top rows are noise so the file stays
// above the minimum size
func writeImage(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	r := rand.New(rand.NewSource(int64(w*h + 1)))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{180, 160, 140, 255}
			if y < 16 {
				c = color.RGBA{uint8(r.Intn(256)), uint8(r.Intn(256)), uint8(r.Intn(256)), 255}
			}
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

// sizeLocator answers by image size
func sizeLocator() detection.FaceLocator {
	return detection.LocatorFunc(func(ctx context.Context, img image.Image) ([]types.Rect, error) {
		b := img.Bounds()
		switch [2]int{b.Dx(), b.Dy()} {
		case [2]int{400, 400}:
			return []types.Rect{{X: 160, Y: 120, W: 80, H: 80}}, nil
		case [2]int{500, 500}:
			return []types.Rect{
				{X: 10, Y: 10, W: 10, H: 10},
				{X: 100, Y: 100, W: 20, H: 20},
				{X: 300, Y: 300, W: 15, H: 15},
			}, nil
		case [2]int{1000, 300}:
			return []types.Rect{{X: 400, Y: 50, W: 200, H: 240}}, nil
		case [2]int{90, 90}:
			return nil, errors.New("model unavailable")
		case [2]int{70, 70}:
			panic("detector bug")
		default:
			return nil, nil
		}
	})
}

func (e *testEnv) populate(t *testing.T) {
	t.Helper()
	in := e.dirs.Input
	writeImage(t, filepath.Join(in, "ok.png"), 400, 400)
	writeImage(t, filepath.Join(in, "noface.png"), 800, 600)
	writeImage(t, filepath.Join(in, "group.png"), 500, 500)
	writeImage(t, filepath.Join(in, "wide.png"), 1000, 300)
	writeImage(t, filepath.Join(in, "boom.png"), 90, 90)
	writeImage(t, filepath.Join(in, "panic.png"), 70, 70)

	garbage := make([]byte, 2048)
	for i := range garbage {
		garbage[i] = byte(i * 31)
	}
	if err := os.WriteFile(filepath.Join(in, "broken.jpg"), garbage, 0o644); err != nil {
		t.Fatal(err)
	}

	// ignored by the scan
	if err := os.WriteFile(filepath.Join(in, "tiny.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeImage(t, filepath.Join(in, ".hidden.png"), 400, 400)
	if err := os.WriteFile(filepath.Join(in, "notes.txt"), garbage, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(in, "nested.png"), 0o755); err != nil {
		t.Fatal(err)
	}
}

func TestScan(t *testing.T) {
	env := newTestEnv(t)
	env.populate(t)

	res, err := Scan(env.dirs.Input, DefaultMinFileSize)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	var names []string
	for _, p := range res.Files {
		names = append(names, filepath.Base(p))
	}
	want := "boom.png,broken.jpg,group.png,noface.png,ok.png,panic.png,wide.png"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("Scan files = %s, want %s", got, want)
	}
	if len(res.TooSmall) != 1 || filepath.Base(res.TooSmall[0]) != "tiny.jpg" {
		t.Errorf("Expected tiny.jpg to be too small, got %v", res.TooSmall)
	}

	if _, err := Scan(filepath.Join(env.root, "missing"), DefaultMinFileSize); err == nil {
		t.Error("Expected error for missing input directory")
	}
}

func TestRunRoutesEachOutcome(t *testing.T) {
	env := newTestEnv(t)
	env.populate(t)

	res, err := env.pipeline(sizeLocator()).Run(context.Background(), RunOptions{BatchID: testBatch, RunID: "run-1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := Stats{Total: 7, Skipped: 0, Processed: 1, ManualReview: 3, Errors: 3}
	if res.Stats != want {
		t.Errorf("Stats = %+v, want %+v", res.Stats, want)
	}

	load := func(name string) *metadata.ImageRecord {
		t.Helper()
		rec, err := env.records.Load(name, testBatch)
		if err != nil || rec == nil {
			t.Fatalf("Load(%s) = %v, %v", name, rec, err)
		}
		return rec
	}

	t.Run("processed", func(t *testing.T) {
		rec := load("ok.png")
		out := filepath.Join(env.dirs.Output, "ok.png")
		if rec.Status != types.StatusProcessed || rec.OutputPath == nil || *rec.OutputPath != out || rec.CurrentPath != out {
			t.Errorf("Unexpected record %+v", rec)
		}
		f, err := os.Open(out)
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		cfg, err := png.DecodeConfig(f)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Width != 200 || cfg.Height < 266 || cfg.Height > 267 {
			t.Errorf("Unexpected crop size %dx%d", cfg.Width, cfg.Height)
		}
		last := rec.ProcessingHistory[len(rec.ProcessingHistory)-1]
		if last.Action != metadata.ActionCropped || last.Status != types.StatusProcessed {
			t.Errorf("Unexpected last history entry %+v", last)
		}
		if rec.Orientation != types.Square || rec.Format != "PNG" {
			t.Errorf("Unexpected orientation/format %s/%s", rec.Orientation, rec.Format)
		}
	})

	t.Run("no face", func(t *testing.T) {
		rec := load("noface.png")
		dest := env.stage(env.dirs.ManualReview, "noface.png")
		if rec.Status != types.StatusManualReview || rec.Notes == nil || *rec.Notes != ReasonNoFace {
			t.Errorf("Unexpected record %+v", rec)
		}
		if rec.CurrentPath != dest || rec.FaceDetected || rec.NumFaces != 0 || rec.FaceBox != nil {
			t.Errorf("Unexpected face fields / path %+v", rec)
		}
		if _, err := os.Stat(dest); err != nil {
			t.Errorf("Expected manual review copy: %v", err)
		}
	})

	t.Run("multiple faces", func(t *testing.T) {
		rec := load("group.png")
		if rec.Status != types.StatusManualReview || rec.NumFaces != 3 || !rec.FaceDetected {
			t.Errorf("Unexpected record %+v", rec)
		}
		if rec.FaceBox == nil || *rec.FaceBox != (types.Rect{X: 100, Y: 100, W: 20, H: 20}) {
			t.Errorf("Expected largest face as face box, got %v", rec.FaceBox)
		}
		if rec.Notes == nil || !strings.Contains(*rec.Notes, "(3)") {
			t.Errorf("Expected face count in notes, got %v", rec.Notes)
		}
	})

	t.Run("face outside crop", func(t *testing.T) {
		rec := load("wide.png")
		if rec.Status != types.StatusManualReview || rec.Notes == nil || *rec.Notes != "face does not fit fully inside computed crop" {
			t.Errorf("Unexpected record %+v", rec)
		}
		if _, err := os.Stat(filepath.Join(env.dirs.Output, "wide.png")); !os.IsNotExist(err) {
			t.Error("Manual review image must not be written to output")
		}
	})

	t.Run("errors", func(t *testing.T) {
		cases := map[string]string{
			"broken.jpg": "image validation failed",
			"boom.png":   "face detection failed: model unavailable",
			"panic.png":  "unexpected error: panic: detector bug",
		}
		for name, msg := range cases {
			rec := load(name)
			if rec.Status != types.StatusError || rec.ErrorMessage == nil || !strings.Contains(*rec.ErrorMessage, msg) {
				t.Errorf("%s: unexpected record status=%s error=%v", name, rec.Status, rec.ErrorMessage)
			}
			dest := env.stage(env.dirs.Errors, name)
			if rec.CurrentPath != dest {
				t.Errorf("%s: current path %s, want %s", name, rec.CurrentPath, dest)
			}
			if _, err := os.Stat(dest); err != nil {
				t.Errorf("%s: expected error copy: %v", name, err)
			}
		}
	})

	t.Run("ledger", func(t *testing.T) {
		stats := env.ledger.Stats()
		want := ledger.Statistics{TotalProcessed: 7, Successful: 1, ManualReview: 3, Errors: 3}
		if stats != want {
			t.Errorf("Ledger stats = %+v, want %+v", stats, want)
		}
		reloaded := ledger.Open(env.ledger.Path(), discardLogger())
		if reloaded.Stats() != want || !reloaded.IsProcessed("wide.png") {
			t.Error("Ledger must be persisted after each outcome")
		}
	})

	t.Run("summary", func(t *testing.T) {
		s, err := env.records.LoadSummary(testBatch)
		if err != nil || s == nil {
			t.Fatalf("LoadSummary = %v, %v", s, err)
		}
		if s.Statistics.Total() != s.TotalImages || s.TotalImages != 7 {
			t.Errorf("Inconsistent summary counts %+v (total %d)", s.Statistics, s.TotalImages)
		}
		want := metadata.Breakdown{FaceDetectedSingle: 2, FaceDetectedMultiple: 1, NoFaceDetected: 1, CorruptedFiles: 3}
		if s.Breakdown != want {
			t.Errorf("Breakdown = %+v, want %+v", s.Breakdown, want)
		}
		if s.RequiresManualAttention != 6 || s.SuccessRate != 0.14 || s.RunID != "run-1" {
			t.Errorf("Unexpected summary %+v", s)
		}
		if res.SummaryPath != env.records.SummaryPath(testBatch) {
			t.Errorf("Unexpected summary path %s", res.SummaryPath)
		}
	})

	if _, err := os.Stat(filepath.Join(env.dirs.Input, "ok.png")); err != nil {
		t.Error("Sources must be kept without auto-clean")
	}
}

func TestRunIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.populate(t)

	first, err := env.pipeline(sizeLocator()).Run(context.Background(), RunOptions{BatchID: testBatch})
	if err != nil {
		t.Fatal(err)
	}

	env.reopen()
	calls := 0
	counting := detection.LocatorFunc(func(ctx context.Context, img image.Image) ([]types.Rect, error) {
		calls++
		return nil, nil
	})
	second, err := env.pipeline(counting).Run(context.Background(), RunOptions{BatchID: "batch_again"})
	if err != nil {
		t.Fatal(err)
	}

	want := Stats{Total: first.Stats.Total, Skipped: first.Stats.Total}
	if second.Stats != want {
		t.Errorf("Second run stats = %+v, want %+v", second.Stats, want)
	}
	if calls != 0 {
		t.Errorf("Locator called %d times on an already processed batch", calls)
	}
	if second.Summary != nil {
		t.Error("No summary expected when nothing was processed")
	}
	if env.ledger.Stats().TotalProcessed != 7 {
		t.Errorf("Ledger changed on second run: %+v", env.ledger.Stats())
	}
}

func TestRunRejectsUnsafeBatchID(t *testing.T) {
	env := newTestEnv(t)
	writeImage(t, filepath.Join(env.dirs.Input, "noface.png"), 800, 600)

	for _, id := range []string{"../../../escaped", "a/b", ".."} {
		res, err := env.pipeline(sizeLocator()).Run(context.Background(), RunOptions{BatchID: id})
		if err == nil {
			t.Fatalf("Run(%q) should fail", id)
		}
		if res != nil {
			t.Errorf("Run(%q) returned a result: %+v", id, res)
		}
	}

	for _, dir := range []string{env.root, filepath.Dir(env.root)} {
		if _, err := os.Stat(filepath.Join(dir, "escaped")); !os.IsNotExist(err) {
			t.Errorf("Nothing may be written outside the stage directories: %v", err)
		}
	}
	if env.ledger.Len() != 0 {
		t.Errorf("Rejected runs must not touch the ledger, got %d entries", env.ledger.Len())
	}
}

func TestRunLogsTooSmallSizes(t *testing.T) {
	env := newTestEnv(t)
	if err := os.WriteFile(filepath.Join(env.dirs.Input, "tiny.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	res, err := env.pipeline(sizeLocator(), WithLogger(logger)).Run(context.Background(), RunOptions{BatchID: testBatch})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stats.Total != 0 {
		t.Errorf("Too small files must not be counted, got %+v", res.Stats)
	}

	out := buf.String()
	for _, want := range []string{
		"file too small, ignoring",
		"filename=tiny.jpg",
		`size="1 B"`,
		`minimum="` + utils.FormatFileSize(DefaultMinFileSize) + `"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in log output:\n%s", want, out)
		}
	}
}

func TestRunAutoClean(t *testing.T) {
	env := newTestEnv(t)
	writeImage(t, filepath.Join(env.dirs.Input, "ok.png"), 400, 400)
	writeImage(t, filepath.Join(env.dirs.Input, "noface.png"), 800, 600)

	res, err := env.pipeline(sizeLocator()).Run(context.Background(), RunOptions{BatchID: testBatch, AutoClean: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stats.Processed != 1 || res.Stats.ManualReview != 1 {
		t.Fatalf("Unexpected stats %+v", res.Stats)
	}
	if _, err := os.Stat(filepath.Join(env.dirs.Input, "ok.png")); !os.IsNotExist(err) {
		t.Error("Processed source should be removed")
	}
	if _, err := os.Stat(filepath.Join(env.dirs.Input, "noface.png")); err != nil {
		t.Error("Manual review source must be kept")
	}
}

func TestRunCancelled(t *testing.T) {
	env := newTestEnv(t)
	env.populate(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := env.pipeline(sizeLocator()).Run(ctx, RunOptions{BatchID: testBatch})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected cancellation error, got %v", err)
	}
	if res.Stats.Processed+res.Stats.ManualReview+res.Stats.Errors != 0 {
		t.Errorf("No file should be processed, got %+v", res.Stats)
	}
	if env.ledger.Len() != 0 {
		t.Error("Ledger must stay empty")
	}
}

func TestRunCancelledDuringDetection(t *testing.T) {
	env := newTestEnv(t)
	writeImage(t, filepath.Join(env.dirs.Input, "a.png"), 400, 400)
	writeImage(t, filepath.Join(env.dirs.Input, "b.png"), 400, 400)

	ctx, cancel := context.WithCancel(context.Background())
	locator := detection.LocatorFunc(func(ctx context.Context, img image.Image) ([]types.Rect, error) {
		cancel()
		return nil, ctx.Err()
	})

	res, err := env.pipeline(locator).Run(ctx, RunOptions{BatchID: testBatch})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected cancellation error, got %v", err)
	}
	if res.Stats.Errors != 0 || env.ledger.IsProcessed("a.png") {
		t.Error("An interrupted file must not be recorded as an error")
	}
}

type failingFinalizer struct{}

func (failingFinalizer) Finalize(ctx context.Context, req finalize.Request) (*finalize.Result, error) {
	return nil, errors.New("disk full")
}

func TestRunFinalizeFailure(t *testing.T) {
	env := newTestEnv(t)
	writeImage(t, filepath.Join(env.dirs.Input, "ok.png"), 400, 400)

	p := New(Config{Dirs: env.dirs}, sizeLocator(), failingFinalizer{}, env.ledger, env.records, WithLogger(discardLogger()))
	res, err := p.Run(context.Background(), RunOptions{BatchID: testBatch})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stats.Errors != 1 {
		t.Fatalf("Unexpected stats %+v", res.Stats)
	}
	rec, _ := env.records.Load("ok.png", testBatch)
	if rec == nil || rec.ErrorMessage == nil || !strings.Contains(*rec.ErrorMessage, "disk full") {
		t.Errorf("Unexpected record %+v", rec)
	}
	if !rec.FaceDetected || rec.FaceBox == nil {
		t.Error("Face fields should survive the error transition")
	}
}

func TestRunProgressAndDefaultBatch(t *testing.T) {
	env := newTestEnv(t)
	writeImage(t, filepath.Join(env.dirs.Input, "a.png"), 800, 600)
	writeImage(t, filepath.Join(env.dirs.Input, "b.png"), 800, 600)

	var seen []Progress
	p := env.pipeline(sizeLocator(), WithProgress(func(pr Progress) { seen = append(seen, pr) }))
	res, err := p.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.BatchID, "batch_20250601_") {
		t.Errorf("Unexpected default batch id %s", res.BatchID)
	}
	if len(seen) != 2 || seen[1].Done != 2 || seen[1].Total != 2 || seen[0].Filename != "a.png" {
		t.Errorf("Unexpected progress %+v", seen)
	}
}

func TestRunDebugOverlay(t *testing.T) {
	env := newTestEnv(t)
	env.dirs.Debug = filepath.Join(env.root, "debug")
	writeImage(t, filepath.Join(env.dirs.Input, "ok.png"), 400, 400)

	if _, err := env.pipeline(sizeLocator()).Run(context.Background(), RunOptions{BatchID: testBatch}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(env.dirs.Debug, "ok_debug.jpg")); err != nil {
		t.Errorf("Expected debug overlay: %v", err)
	}
}

func TestProcessingError(t *testing.T) {
	cause := errors.New("boom")
	err := newDetectionError("a.jpg", cause)
	if !errors.Is(err, cause) {
		t.Error("ProcessingError should unwrap to its cause")
	}
	if CodeOf(err) != ErrorDetection || CodeOf(cause) != "" {
		t.Error("CodeOf mismatch")
	}
	if err.Reason() != "face detection failed: boom" {
		t.Errorf("Unexpected reason %q", err.Reason())
	}
}
