package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"annotator/internal/audio"
	"annotator/internal/cache"
	"annotator/internal/config"
	"annotator/internal/ingest"
	"annotator/internal/questdb"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// seed writes n samples at rate Hz starting at t0 with a sawtooth amplitude.
func seed(store *memStore, table string, rate, n int) {
	ts := audio.GenerateTimestamps(t0, rate, n)
	rows := make([]memRow, n)
	for i := range rows {
		rows[i] = memRow{ts: ts[i], amp: int16(i%2000 - 1000), file: "seed.wav"}
	}
	store.create(table)
	store.insert(table, rows)
}

func newTestService(store *memStore, c cache.Store) *Service {
	return NewService(store, c, config.QueryConfig{DefaultPoints: 2000, MaxPoints: 20000, RawRowCap: 20_000_000}, time.Minute, nil)
}

func TestFormatAndParseInstant(t *testing.T) {
	ts := time.Date(2025, 6, 23, 14, 0, 1, 234_567_890, time.FixedZone("CET", 3600))
	if got := FormatInstant(ts); got != "2025-06-23T13:00:01.234Z" {
		t.Fatalf("FormatInstant=%q", got)
	}
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2025-01-01T00:00:00.000Z", t0, true},
		{"2025-01-01T01:00:00+01:00", t0, true},
		{"2025-01-01T00:00:00.5Z", t0.Add(500 * time.Millisecond), true},
		{"2025-01-01T00:00:00", t0, true},
		{"2025-01-01", time.Time{}, false},
		{"yesterday", time.Time{}, false},
		{"", time.Time{}, false},
	}
	for _, tt := range tests {
		got, err := ParseInstant(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("ParseInstant(%q) err=%v", tt.in, err)
		}
		if tt.ok && (!got.Equal(tt.want) || got.Location() != time.UTC) {
			t.Fatalf("ParseInstant(%q)=%v want %v UTC", tt.in, got, tt.want)
		}
	}
}

func TestBucketInterval(t *testing.T) {
	tests := []struct {
		d      time.Duration
		points int
		want   int64
	}{
		{time.Second, 2000, 500},
		{time.Second, 3, 333334},
		{10 * time.Minute, 2000, 300000},
		{time.Microsecond, 2000, 1},
		{500 * time.Nanosecond, 10, 1},
		{time.Second, 0, 500},
	}
	for _, tt := range tests {
		if got := BucketInterval(tt.d, tt.points); got != tt.want {
			t.Fatalf("BucketInterval(%s, %d)=%d want %d", tt.d, tt.points, got, tt.want)
		}
	}
}

func TestGetWaveformDegenerateWindow(t *testing.T) {
	store := newMemStore()
	seed(store, "test1", 8000, 8000)
	svc := newTestService(store, nil)
	for _, name := range []string{"test1", "--", ""} {
		for _, p := range []int{0, 1, 2000, 100000} {
			for _, end := range []time.Time{t0, t0.Add(-time.Second)} {
				got, err := svc.GetWaveform(context.Background(), name, t0, end, p)
				if err != nil {
					t.Fatalf("GetWaveform(%q): %v", name, err)
				}
				if got == nil || len(got) != 0 {
					t.Fatalf("GetWaveform(%q): expected empty non-nil slice, got %v", name, got)
				}
			}
		}
	}
	if store.count("SampleMinMax") != 0 {
		t.Fatalf("degenerate window must not hit the store")
	}
}

func TestGetWaveformBucketBound(t *testing.T) {
	store := newMemStore()
	seed(store, "dense", 48000, 48000*2)
	svc := newTestService(store, nil)
	ctx := context.Background()

	windows := []struct {
		start, end time.Time
	}{
		{t0, t0.Add(2 * time.Second)},
		{t0.Add(1234 * time.Microsecond), t0.Add(1503 * time.Millisecond)},
		{t0.Add(-time.Hour), t0.Add(time.Hour)},
		{t0, t0.Add(3 * time.Millisecond)},
	}
	for _, w := range windows {
		for _, p := range []int{1, 2, 7, 100, 999, 2000, 20000} {
			got, err := svc.GetWaveform(ctx, "dense", w.start, w.end, p)
			if err != nil {
				t.Fatalf("GetWaveform: %v", err)
			}
			if len(got) > p+1 {
				t.Fatalf("window %v..%v points=%d returned %d buckets", w.start, w.end, p, len(got))
			}
			for i := 1; i < len(got); i++ {
				if got[i].Time < got[i-1].Time {
					t.Fatalf("buckets out of order at %d", i)
				}
			}
			for _, b := range got {
				if b.Min > b.Max {
					t.Fatalf("min %d > max %d", b.Min, b.Max)
				}
			}
		}
	}
}

func TestGetWaveformClampsPoints(t *testing.T) {
	store := newMemStore()
	seed(store, "dense", 48000, 48000)
	svc := newTestService(store, nil)
	svc.Config.MaxPoints = 10
	got, err := svc.GetWaveform(context.Background(), "dense", t0, t0.Add(time.Second), 5000)
	if err != nil {
		t.Fatalf("GetWaveform: %v", err)
	}
	if len(got) > 11 {
		t.Fatalf("expected clamp to 10 points, got %d buckets", len(got))
	}
}

func TestGetWaveformUnknownCollection(t *testing.T) {
	svc := newTestService(newMemStore(), nil)
	got, err := svc.GetWaveform(context.Background(), "nope", t0, t0.Add(time.Second), 100)
	if err != nil {
		t.Fatalf("unknown collection must not error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %d", len(got))
	}
	if _, err := svc.GetWaveform(context.Background(), "--", t0, t0.Add(time.Second), 100); !errors.Is(err, questdb.ErrInvalidCollection) {
		t.Fatalf("err=%v want ErrInvalidCollection", err)
	}
}

func TestGetWaveformStoreFailure(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")
	svc := newTestService(store, nil)
	if _, err := svc.GetWaveform(context.Background(), "test1", t0, t0.Add(time.Second), 100); err == nil {
		t.Fatalf("store failure must propagate")
	}
}

func TestGetWaveformCache(t *testing.T) {
	store := newMemStore()
	seed(store, "test1", 8000, 8000)
	svc := newTestService(store, cache.NewMemoryStore())
	ctx := context.Background()
	end := t0.Add(time.Second)

	first, err := svc.GetWaveform(ctx, "test1", t0, end, 100)
	if err != nil {
		t.Fatalf("GetWaveform: %v", err)
	}
	second, err := svc.GetWaveform(ctx, "Test1", t0, end, 100)
	if err != nil {
		t.Fatalf("GetWaveform: %v", err)
	}
	if store.count("SampleMinMax") != 1 {
		t.Fatalf("expected one store query, got %d", store.count("SampleMinMax"))
	}
	if len(first) != len(second) {
		t.Fatalf("cached result differs: %d vs %d", len(first), len(second))
	}

	if err := svc.InvalidateCollection(ctx, "test1"); err != nil {
		t.Fatalf("InvalidateCollection: %v", err)
	}
	if _, err := svc.GetWaveform(ctx, "test1", t0, end, 100); err != nil {
		t.Fatalf("GetWaveform: %v", err)
	}
	if store.count("SampleMinMax") != 2 {
		t.Fatalf("expected recompute after invalidation, got %d queries", store.count("SampleMinMax"))
	}
}

func TestGetRawClipDeterministic(t *testing.T) {
	store := newMemStore()
	seed(store, "test1", 8000, 16000)
	svc := newTestService(store, nil)
	ctx := context.Background()
	start, end := t0.Add(250*time.Millisecond), t0.Add(1250*time.Millisecond)

	a, err := svc.GetRawClip(ctx, "test1", start, end)
	if err != nil {
		t.Fatalf("GetRawClip: %v", err)
	}
	b, err := svc.GetRawClip(ctx, "test1", start, end)
	if err != nil {
		t.Fatalf("GetRawClip: %v", err)
	}
	if len(a) != len(b) || len(a) != 8001 {
		t.Fatalf("lengths %d and %d, want 8001", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("clips differ at %d", i)
		}
	}
}

func TestGetRawClipCapAndEmpty(t *testing.T) {
	store := newMemStore()
	seed(store, "test1", 8000, 8000)
	svc := newTestService(store, nil)
	svc.Config.RawRowCap = 100
	ctx := context.Background()

	got, err := svc.GetRawClip(ctx, "test1", t0, t0.Add(time.Second))
	if err != nil || len(got) != 100 {
		t.Fatalf("capped clip len=%d err=%v", len(got), err)
	}
	got, err = svc.GetRawClip(ctx, "test1", t0.Add(time.Hour), t0.Add(2*time.Hour))
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("out of range clip=%v err=%v", got, err)
	}
	got, err = svc.GetRawClip(ctx, "missing", t0, t0.Add(time.Second))
	if err != nil || len(got) != 0 {
		t.Fatalf("missing collection clip=%v err=%v", got, err)
	}
}

func TestAdmitRawClip(t *testing.T) {
	if err := AdmitRawClip(t0, t0.Add(300*time.Second), 300*time.Second); err != nil {
		t.Fatalf("300s must be admitted: %v", err)
	}
	if err := AdmitRawClip(t0, t0.Add(301*time.Second), 300*time.Second); !errors.Is(err, ErrClipTooLong) {
		t.Fatalf("err=%v want ErrClipTooLong", err)
	}
	if err := AdmitRawClip(t0, t0.Add(10*time.Minute), 0); !errors.Is(err, ErrClipTooLong) {
		t.Fatalf("default limit not applied: %v", err)
	}
}

func TestDirectory(t *testing.T) {
	store := newMemStore()
	seed(store, "b_site", 8000, 10)
	store.create("a_empty")
	svc := newTestService(store, nil)
	ctx := context.Background()

	names, err := svc.ListCollections(ctx)
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}
	if len(names) != 2 || names[0] != "a_empty" || names[1] != "b_site" {
		t.Fatalf("names=%v", names)
	}
	if r, err := svc.GetTimeRange(ctx, "a_empty"); err != nil || r != nil {
		t.Fatalf("empty collection range=%v err=%v", r, err)
	}
	if r, err := svc.GetTimeRange(ctx, "missing"); err != nil || r != nil {
		t.Fatalf("missing collection range=%v err=%v", r, err)
	}
	r, err := svc.GetTimeRange(ctx, "B-Site")
	if err != nil || r == nil {
		t.Fatalf("range=%v err=%v", r, err)
	}
	if !r.Start.Equal(t0) {
		t.Fatalf("start=%v", r.Start)
	}
	raw, err := r.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"start":"2025-01-01T00:00:00.000Z","end":"2025-01-01T00:00:00.001Z"}` {
		t.Fatalf("json=%s", raw)
	}
}

func TestIngestThenQueryEndToEnd(t *testing.T) {
	store := newMemStore()
	const rate = 48000
	pipeline := &ingest.Pipeline{
		Provisioner: memProvisioner{store: store},
		Orchestrator: &ingest.Orchestrator{
			Dial:      store.Dialer(),
			ChunkSize: 10000,
			Workers:   4,
		},
		Decode: func(string) (audio.Clip, error) {
			samples := make([]int16, rate)
			for i := range samples {
				samples[i] = int16(i - rate/2)
			}
			return audio.Clip{Samples: samples, SampleRate: rate}, nil
		},
	}
	ctx := context.Background()
	report, err := pipeline.IngestFiles(ctx, "test1", []string{"/uploads/synthetic_20250101_000000.wav"}, nil)
	if err != nil {
		t.Fatalf("IngestFiles: %v", err)
	}
	if report.PointsWritten != rate || report.Mismatch || report.FilesSucceeded != 1 {
		t.Fatalf("report=%+v", report)
	}

	svc := newTestService(store, nil)
	r, err := svc.GetTimeRange(ctx, "test1")
	if err != nil || r == nil {
		t.Fatalf("range=%v err=%v", r, err)
	}
	if got := FormatInstant(r.Start); got != "2025-01-01T00:00:00.000Z" {
		t.Fatalf("start=%s", got)
	}
	if got := FormatInstant(r.End); got != "2025-01-01T00:00:00.999Z" {
		t.Fatalf("end=%s", got)
	}
	if span := r.End.Sub(r.Start); span != 999_979_167*time.Nanosecond {
		t.Fatalf("span=%s", span)
	}

	clip, err := svc.GetRawClip(ctx, "test1", r.Start, r.End)
	if err != nil {
		t.Fatalf("GetRawClip: %v", err)
	}
	if len(clip) != rate {
		t.Fatalf("clip len=%d want %d", len(clip), rate)
	}
	for i, v := range clip {
		if v != int16(i-rate/2) {
			t.Fatalf("sample %d out of order: %d", i, v)
		}
	}

	wave, err := svc.GetWaveform(ctx, "test1", r.Start, r.End, 100)
	if err != nil {
		t.Fatalf("GetWaveform: %v", err)
	}
	if len(wave) == 0 || len(wave) > 101 {
		t.Fatalf("waveform buckets=%d", len(wave))
	}
	if wave[0].Min != -rate/2 || wave[len(wave)-1].Max != rate/2-1 {
		t.Fatalf("waveform extremes %d..%d", wave[0].Min, wave[len(wave)-1].Max)
	}
}
