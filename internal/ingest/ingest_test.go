package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"annotator/internal/audio"
	"annotator/internal/questdb"
)

func TestSplitChunks_Coverage(t *testing.T) {
	for _, n := range []int{1, 2, 9, 10, 11, 99, 100, 101, 12345} {
		for _, size := range []int{1, 3, 10, 100, 20000} {
			ranges := SplitChunks(n, size)
			next := 0
			for i, r := range ranges {
				if r.Index != i {
					t.Fatalf("n=%d size=%d: index %d at position %d", n, size, r.Index, i)
				}
				if r.Start != next {
					t.Fatalf("n=%d size=%d: gap or overlap at chunk %d (start %d, want %d)", n, size, i, r.Start, next)
				}
				if r.Len() <= 0 || r.Len() > size {
					t.Fatalf("n=%d size=%d: chunk %d has len %d", n, size, i, r.Len())
				}
				next = r.End
			}
			if next != n {
				t.Fatalf("n=%d size=%d: coverage ends at %d", n, size, next)
			}
			if want := (n + size - 1) / size; len(ranges) != want {
				t.Fatalf("n=%d size=%d: %d chunks want %d", n, size, len(ranges), want)
			}
		}
	}
}

func TestSplitChunks_Empty(t *testing.T) {
	if got := SplitChunks(0, 10); len(got) != 0 {
		t.Fatalf("expected no chunks, got %v", got)
	}
	if got := SplitChunks(5, 0); len(got) != 1 || got[0].End != 5 {
		t.Fatalf("non-positive size should fall back to default: %v", got)
	}
}

// fakeSink collects flushed rows. Writers whose dial number is in failDial
// fail on WriteRow halfway through their chunk.
type fakeSink struct {
	mu       sync.Mutex
	rows     map[int64]int16
	files    map[string]int
	dials    atomic.Int64
	failDial map[int64]bool
	dialErr  error
}

func newFakeSink() *fakeSink {
	return &fakeSink{rows: map[int64]int16{}, files: map[string]int{}, failDial: map[int64]bool{}}
}

func (s *fakeSink) dialer() questdb.Dialer {
	return func(context.Context) (questdb.RowWriter, error) {
		if s.dialErr != nil {
			return nil, s.dialErr
		}
		n := s.dials.Add(1)
		return &fakeWriter{sink: s, fail: s.failDial[n]}, nil
	}
}

func (s *fakeSink) written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type fakeWriter struct {
	sink    *fakeSink
	fail    bool
	pending []struct {
		ts   int64
		amp  int16
		file string
	}
}

func (w *fakeWriter) WriteRow(_ context.Context, _ string, file string, amp int16, ts int64) error {
	if w.fail && len(w.pending) >= 5 {
		return errors.New("connection reset by peer")
	}
	w.pending = append(w.pending, struct {
		ts   int64
		amp  int16
		file string
	}{ts, amp, file})
	return nil
}

func (w *fakeWriter) Flush(context.Context) error {
	w.sink.mu.Lock()
	defer w.sink.mu.Unlock()
	for _, r := range w.pending {
		w.sink.rows[r.ts] = r.amp
		w.sink.files[r.file]++
	}
	w.pending = nil
	return nil
}

func (w *fakeWriter) Close(context.Context) error { return nil }

func series(n int) ([]int16, []int64) {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	ts := audio.GenerateTimestamps(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 8000, n)
	return samples, ts
}

func TestOrchestratorWritesEverything(t *testing.T) {
	sink := newFakeSink()
	o := &Orchestrator{Dial: sink.dialer(), ChunkSize: 100, Workers: 3}
	samples, ts := series(1050)

	report, err := o.Write(context.Background(), "test1", "a_20250101_000000.wav", samples, ts)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if report.Expected != 1050 || report.Written != 1050 || report.Mismatch {
		t.Fatalf("report=%+v", report)
	}
	if report.Chunks != 11 || report.FailedChunks != 0 {
		t.Fatalf("chunks=%d failed=%d", report.Chunks, report.FailedChunks)
	}
	if sink.written() != 1050 {
		t.Fatalf("sink has %d rows", sink.written())
	}
	if got := sink.dials.Load(); got != 11 {
		t.Fatalf("expected one connection per chunk, got %d", got)
	}
}

func TestOrchestratorPartialFailure(t *testing.T) {
	sink := newFakeSink()
	// Single worker so dial order equals chunk order.
	sink.failDial[3] = true
	o := &Orchestrator{Dial: sink.dialer(), ChunkSize: 250, Workers: 1}
	samples, ts := series(1000)

	report, err := o.Write(context.Background(), "test1", "a_20250101_000000.wav", samples, ts)
	if err != nil {
		t.Fatalf("partial failure must not be an error: %v", err)
	}
	if report.Expected != 1000 {
		t.Fatalf("expected=%d want 1000", report.Expected)
	}
	if report.Written != 750 {
		t.Fatalf("written=%d want 750", report.Written)
	}
	if !report.Mismatch || report.FailedChunks != 1 {
		t.Fatalf("report=%+v", report)
	}
	if sink.written() != 750 {
		t.Fatalf("sink has %d rows, failed chunk must not be flushed", sink.written())
	}
}

func TestOrchestratorDialFailure(t *testing.T) {
	sink := newFakeSink()
	sink.dialErr = errors.New("dial tcp: connection refused")
	o := &Orchestrator{Dial: sink.dialer(), ChunkSize: 10, Workers: 4}
	samples, ts := series(95)

	report, err := o.Write(context.Background(), "test1", "a.wav", samples, ts)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if report.Written != 0 || report.FailedChunks != 10 || !report.Mismatch {
		t.Fatalf("report=%+v", report)
	}
}

func TestOrchestratorLengthMismatch(t *testing.T) {
	o := &Orchestrator{Dial: newFakeSink().dialer()}
	if _, err := o.Write(context.Background(), "t", "f", make([]int16, 3), make([]int64, 2)); err == nil {
		t.Fatalf("expected error for mismatched series")
	}
}

func TestDefaultWorkers(t *testing.T) {
	if DefaultWorkers() < 1 {
		t.Fatalf("DefaultWorkers must be at least 1")
	}
	o := &Orchestrator{Workers: 8}
	if got := o.workerCount(3); got != 3 {
		t.Fatalf("workerCount(3)=%d want 3", got)
	}
}

type fakeProvisioner struct {
	err   error
	calls int
}

func (p *fakeProvisioner) Ensure(_ context.Context, collection string) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return questdb.NormalizeTableName(collection)
}

func TestPipelineCountsPerFileFailures(t *testing.T) {
	sink := newFakeSink()
	prov := &fakeProvisioner{}
	p := &Pipeline{
		Provisioner:  prov,
		Orchestrator: &Orchestrator{Dial: sink.dialer(), ChunkSize: 1000, Workers: 2},
		Decode: func(path string) (audio.Clip, error) {
			if path == "broken_20250101_010000.wav" {
				return audio.Clip{}, audio.ErrNotWAV
			}
			return audio.Clip{Samples: make([]int16, 4000), SampleRate: 8000}, nil
		},
	}
	files := []string{
		"mic_20250101_000000.wav",
		"no_timestamp.wav",
		"broken_20250101_010000.wav",
		"mic_20250101_020000.wav",
	}
	var seen []string
	report, err := p.IngestFiles(context.Background(), "Site-A", files, func(fr FileReport) {
		seen = append(seen, fr.File)
	})
	if err != nil {
		t.Fatalf("IngestFiles: %v", err)
	}
	if prov.calls != 1 {
		t.Fatalf("provisioned %d times, want once", prov.calls)
	}
	if report.Table != "site_a" {
		t.Fatalf("table=%q", report.Table)
	}
	if report.FilesTotal != 4 || report.FilesSucceeded != 2 || report.FilesFailed != 2 {
		t.Fatalf("report=%+v", report)
	}
	if report.PointsExpected != 8000 || report.PointsWritten != 8000 || report.Mismatch {
		t.Fatalf("points expected=%d written=%d mismatch=%v", report.PointsExpected, report.PointsWritten, report.Mismatch)
	}
	if len(seen) != 4 {
		t.Fatalf("onFile saw %d files", len(seen))
	}
	if report.Files[1].Error == "" || report.Files[2].Error == "" {
		t.Fatalf("failed files must carry an error: %+v", report.Files)
	}
	if sink.files["mic_20250101_000000.wav"] != 4000 {
		t.Fatalf("rows must be tagged with the file base name: %v", sink.files)
	}
}

func TestPipelineTimestampsAnchoredOnFilename(t *testing.T) {
	sink := newFakeSink()
	p := &Pipeline{
		Provisioner:  &fakeProvisioner{},
		Orchestrator: &Orchestrator{Dial: sink.dialer(), ChunkSize: 3, Workers: 2},
		Decode: func(string) (audio.Clip, error) {
			return audio.Clip{Samples: []int16{1, 2, 3, 4}, SampleRate: 4}, nil
		},
	}
	fr := p.IngestFile(context.Background(), "t", "/x/rec_20250623_140000.WAV")
	if fr.Error != "" {
		t.Fatalf("IngestFile: %s", fr.Error)
	}
	base := time.Date(2025, 6, 23, 14, 0, 0, 0, time.UTC).UnixNano()
	for i, want := range []int16{1, 2, 3, 4} {
		ts := base + int64(i)*250_000_000
		if got, ok := sink.rows[ts]; !ok || got != want {
			t.Fatalf("row at +%dms = %d,%v want %d", i*250, got, ok, want)
		}
	}
}

func TestPipelineProvisionFailureAborts(t *testing.T) {
	p := &Pipeline{
		Provisioner:  &fakeProvisioner{err: errors.New("questdb down")},
		Orchestrator: &Orchestrator{Dial: newFakeSink().dialer()},
	}
	if _, err := p.IngestFiles(context.Background(), "c", []string{"a_20250101_000000.wav"}, nil); err == nil {
		t.Fatalf("expected provisioning error")
	}
}

func TestPipelineStopsBetweenFilesWhenCancelled(t *testing.T) {
	files := []string{
		"mic_20250101_000000.wav",
		"mic_20250101_010000.wav",
		"mic_20250101_020000.wav",
		"mic_20250101_030000.wav",
	}
	cases := []struct {
		name       string
		cancelAt   int // cancel after this many onFile callbacks; 0 means before the call
		wantDecode int
		wantOK     int
	}{
		{name: "before start", cancelAt: 0, wantDecode: 0, wantOK: 0},
		{name: "after first file", cancelAt: 1, wantDecode: 1, wantOK: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var decodes int
			p := &Pipeline{
				Provisioner:  &fakeProvisioner{},
				Orchestrator: &Orchestrator{Dial: newFakeSink().dialer(), ChunkSize: 1000, Workers: 2},
				Decode: func(string) (audio.Clip, error) {
					decodes++
					return audio.Clip{Samples: make([]int16, 100), SampleRate: 8000}, nil
				},
			}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tc.cancelAt == 0 {
				cancel()
			}
			var seen int
			report, err := p.IngestFiles(ctx, "c", files, func(FileReport) {
				seen++
				if seen == tc.cancelAt {
					cancel()
				}
			})
			if !errors.Is(err, ErrInterrupted) || !errors.Is(err, context.Canceled) {
				t.Fatalf("err=%v want interrupted and canceled", err)
			}
			if decodes != tc.wantDecode {
				t.Fatalf("decoded %d files after cancel, want %d", decodes, tc.wantDecode)
			}
			if report.FilesSucceeded != tc.wantOK || report.FilesFailed != len(files)-tc.wantOK {
				t.Fatalf("ok=%d failed=%d", report.FilesSucceeded, report.FilesFailed)
			}
			if seen != len(files) || len(report.Files) != len(files) {
				t.Fatalf("every file must be reported: seen=%d files=%d", seen, len(report.Files))
			}
			for _, fr := range report.Files[tc.wantOK:] {
				if fr.Error == "" || fr.File == "" {
					t.Fatalf("skipped file must be marked interrupted: %+v", fr)
				}
			}
		})
	}
}

func TestFileReportFailed(t *testing.T) {
	if !(FileReport{Error: "x"}).Failed() {
		t.Fatalf("error report must be failed")
	}
	if !(FileReport{WriteReport: WriteReport{Chunks: 2, FailedChunks: 2}}).Failed() {
		t.Fatalf("all chunks failed must be failed")
	}
	if (FileReport{WriteReport: WriteReport{Chunks: 2, FailedChunks: 1}}).Failed() {
		t.Fatalf("partial write is a mismatch, not a failed file")
	}
}

func TestMemoryQueue(t *testing.T) {
	q := NewMemoryQueue(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Publish(ctx, JobMessage{JobID: "a"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := q.Publish(ctx, JobMessage{JobID: "b"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := make(chan string, 2)
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, func(_ context.Context, msg JobMessage) { got <- msg.JobID })
	}()
	for _, want := range []string{"a", "b"} {
		select {
		case id := <-got:
			if id != want {
				t.Fatalf("got %q want %q", id, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("consume err=%v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("consume did not stop")
	}

	_ = q.Close()
	if err := q.Publish(context.Background(), JobMessage{JobID: "c"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("publish after close err=%v", err)
	}
}

type countingWriter struct {
	rows *atomic.Int64
	n    int64
}

func (w *countingWriter) WriteRow(context.Context, string, string, int16, int64) error {
	w.n++
	return nil
}

func (w *countingWriter) Flush(context.Context) error {
	w.rows.Add(w.n)
	w.n = 0
	return nil
}

func (w *countingWriter) Close(context.Context) error { return nil }

func BenchmarkOrchestratorWrite(b *testing.B) {
	const n = 1_000_000
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(i)
	}
	timestamps := audio.GenerateTimestamps(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 44100, n)
	var rows atomic.Int64
	o := &Orchestrator{
		Dial: func(context.Context) (questdb.RowWriter, error) {
			return &countingWriter{rows: &rows}, nil
		},
		ChunkSize: 20000,
		Workers:   8,
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wr, err := o.Write(context.Background(), "bench", "bench_20250101_000000.wav", samples, timestamps)
		if err != nil || wr.Written != n {
			b.Fatalf("write: %+v err=%v", wr, err)
		}
	}
	b.ReportMetric(float64(n)*float64(b.N)/b.Elapsed().Seconds(), "rows/s")
}
