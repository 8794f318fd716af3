package download

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agleyzer/hlsgrab/internal/fetch"
	"github.com/agleyzer/hlsgrab/internal/hlserr"
	"github.com/agleyzer/hlsgrab/internal/mux"
	"github.com/agleyzer/hlsgrab/internal/variant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTracks resolves URLs from a fixed table.
type fakeTracks struct {
	mu      sync.Mutex
	streams map[string]variant.StreamData
	errs    map[string]error
	calls   int
}

func (f *fakeTracks) Resolve(ctx context.Context, url string) (variant.StreamData, fetch.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[url]; ok {
		return variant.StreamData{}, fetch.Report{}, err
	}
	data := f.streams[url]
	return variant.StreamData{SuggestedName: data.SuggestedName, Bytes: append([]byte(nil), data.Bytes...)}, fetch.Report{Total: 1}, nil
}

// fakeMuxer records requests and the staged file contents seen at mux time.
type fakeMuxer struct {
	err      error
	delay    time.Duration
	requests []mux.Request
	video    string
	audio    string
	active   atomic.Int32
	peak     atomic.Int32
}

func (m *fakeMuxer) Mux(ctx context.Context, req mux.Request) error {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	if n > m.peak.Load() {
		m.peak.Store(n)
	}
	time.Sleep(m.delay)

	m.requests = append(m.requests, req)
	if data, err := os.ReadFile(req.Video); err == nil {
		m.video = string(data)
	}
	if req.Audio != "" {
		if data, err := os.ReadFile(req.Audio); err == nil {
			m.audio = string(data)
		}
	}
	if m.err != nil {
		return m.err
	}
	return os.WriteFile(req.Output, []byte(m.video+m.audio), 0o644)
}

func newTestOrchestrator(t *testing.T, tracks TrackResolver, muxer mux.Muxer) (*Orchestrator, string, string) {
	t.Helper()
	work, out := t.TempDir(), t.TempDir()
	return New(tracks, muxer, Config{WorkDir: work, OutputDir: out}, createTestLogger()), work, out
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "expected %s to be empty", dir)
}

func testTracks() *fakeTracks {
	return &fakeTracks{
		streams: map[string]variant.StreamData{
			"https://v/720.m3u8":          {SuggestedName: "clip_123", Bytes: []byte("VIDEO")},
			"https://a/aud.m3u8":          {SuggestedName: "clip_123_audio", Bytes: []byte("AUDIO")},
			"https://v/noinit/tw_45.m3u8": {Bytes: []byte("RAW")},
		},
	}
}

func TestDownload_VideoAndAudio(t *testing.T) {
	muxer := &fakeMuxer{}
	o, work, out := newTestOrchestrator(t, testTracks(), muxer)
	v := &variant.Variant{
		Resolution: variant.Resolution{Width: 1280, Height: 720},
		VideoURL:   "https://v/720.m3u8",
		AudioURL:   "https://a/aud.m3u8",
	}

	path, err := o.Download(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "clip_123_1280x720.mp4"), path)

	require.Len(t, muxer.requests, 1)
	req := muxer.requests[0]
	assert.NotEmpty(t, req.Audio)
	assert.Equal(t, "VIDEO", muxer.video)
	assert.Equal(t, "AUDIO", muxer.audio)
	assert.Contains(t, filepath.Base(req.Video), "video_")
	assert.Contains(t, filepath.Base(req.Video), "clip_123")
	assert.Contains(t, filepath.Base(req.Audio), "audio_")

	require.NotNil(t, v.Video)
	require.NotNil(t, v.Audio)
	assert.Equal(t, "clip_123", v.Video.SuggestedName)

	assertEmptyDir(t, work)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "VIDEOAUDIO", string(data))
}

func TestDownload_NoAudioRemuxesVideoOnly(t *testing.T) {
	muxer := &fakeMuxer{}
	o, work, out := newTestOrchestrator(t, testTracks(), muxer)
	v := &variant.Variant{
		Resolution: variant.Resolution{Width: 640, Height: 360},
		VideoURL:   "https://v/noinit/tw_45.m3u8",
	}

	path, err := o.Download(context.Background(), v)
	require.NoError(t, err)
	// no init segment: the manifest name is used
	assert.Equal(t, filepath.Join(out, "tw_45_640x360.mp4"), path)

	require.Len(t, muxer.requests, 1)
	assert.Empty(t, muxer.requests[0].Audio)
	assert.Equal(t, "RAW", muxer.video)
	assert.Nil(t, v.Audio)
	assertEmptyDir(t, work)
}

func TestDownload_VideoTrackFailure(t *testing.T) {
	tracks := testTracks()
	tracks.errs = map[string]error{"https://v/720.m3u8": hlserr.Wrap(hlserr.ErrFetch, "https://v/720.m3u8: HTTP 404", nil)}
	muxer := &fakeMuxer{}
	o, work, out := newTestOrchestrator(t, tracks, muxer)

	_, err := o.Download(context.Background(), &variant.Variant{
		Resolution: variant.Resolution{Width: 1280, Height: 720},
		VideoURL:   "https://v/720.m3u8",
		AudioURL:   "https://a/aud.m3u8",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, hlserr.ErrFetch)
	assert.Contains(t, err.Error(), "video track")
	assert.Empty(t, muxer.requests)
	assertEmptyDir(t, work)
	assertEmptyDir(t, out)
}

func TestDownload_AudioTrackFailure(t *testing.T) {
	tracks := testTracks()
	tracks.errs = map[string]error{"https://a/aud.m3u8": hlserr.Wrap(hlserr.ErrFetch, "audio", nil)}
	muxer := &fakeMuxer{}
	o, work, _ := newTestOrchestrator(t, tracks, muxer)

	_, err := o.Download(context.Background(), &variant.Variant{
		Resolution: variant.Resolution{Width: 1280, Height: 720},
		VideoURL:   "https://v/720.m3u8",
		AudioURL:   "https://a/aud.m3u8",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, hlserr.ErrFetch)
	assert.Contains(t, err.Error(), "audio track")
	assert.Empty(t, muxer.requests)
	assertEmptyDir(t, work)
}

func TestDownload_MuxFailureCleansUp(t *testing.T) {
	muxer := &fakeMuxer{err: hlserr.Wrap(hlserr.ErrMux, "ffmpeg", errors.New("exit status 1"))}
	o, work, _ := newTestOrchestrator(t, testTracks(), muxer)

	_, err := o.Download(context.Background(), &variant.Variant{
		Resolution: variant.Resolution{Width: 1280, Height: 720},
		VideoURL:   "https://v/720.m3u8",
		AudioURL:   "https://a/aud.m3u8",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, hlserr.ErrMux)
	assertEmptyDir(t, work)
}

func TestDownload_WorkDirMissing(t *testing.T) {
	muxer := &fakeMuxer{}
	o := New(testTracks(), muxer, Config{
		WorkDir:   filepath.Join(t.TempDir(), "does", "not", "exist"),
		OutputDir: t.TempDir(),
	}, createTestLogger())

	_, err := o.Download(context.Background(), &variant.Variant{
		Resolution: variant.Resolution{Width: 1280, Height: 720},
		VideoURL:   "https://v/720.m3u8",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, hlserr.ErrIO)
	assert.Empty(t, muxer.requests)
}

func TestDownload_RepeatedCallsRefetch(t *testing.T) {
	tracks := testTracks()
	o, _, _ := newTestOrchestrator(t, tracks, &fakeMuxer{})
	v := &variant.Variant{
		Resolution: variant.Resolution{Width: 1280, Height: 720},
		VideoURL:   "https://v/720.m3u8",
	}

	_, err := o.Download(context.Background(), v)
	require.NoError(t, err)
	first := v.Video

	_, err = o.Download(context.Background(), v)
	require.NoError(t, err)

	assert.Equal(t, 2, tracks.calls)
	assert.NotSame(t, first, v.Video)
}

func TestDownload_SameVariantSerialized(t *testing.T) {
	muxer := &fakeMuxer{delay: 20 * time.Millisecond}
	o, _, _ := newTestOrchestrator(t, testTracks(), muxer)
	v := &variant.Variant{
		Resolution: variant.Resolution{Width: 1280, Height: 720},
		VideoURL:   "https://v/720.m3u8",
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Download(context.Background(), v)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), muxer.peak.Load())
	assert.Len(t, muxer.requests, 3)
}

// gateMuxer blocks every mux until release is closed.
type gateMuxer struct {
	started chan struct{}
	release chan struct{}
}

func (m *gateMuxer) Mux(ctx context.Context, req mux.Request) error {
	m.started <- struct{}{}
	<-m.release
	return os.WriteFile(req.Output, nil, 0o644)
}

func TestDownload_CanceledWhileWaitingForVariant(t *testing.T) {
	muxer := &gateMuxer{started: make(chan struct{}, 1), release: make(chan struct{})}
	tracks := testTracks()
	o, _, _ := newTestOrchestrator(t, tracks, muxer)
	v := &variant.Variant{
		Resolution: variant.Resolution{Width: 1280, Height: 720},
		VideoURL:   "https://v/720.m3u8",
	}

	firstErr := make(chan error, 1)
	go func() {
		_, err := o.Download(context.Background(), v)
		firstErr <- err
	}()
	<-muxer.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := o.Download(ctx, v)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "error = %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)

	close(muxer.release)
	require.NoError(t, <-firstErr)

	tracks.mu.Lock()
	defer tracks.mu.Unlock()
	assert.Equal(t, 1, tracks.calls, "the canceled call must not fetch")
}

func TestDownload_AlreadyCanceled(t *testing.T) {
	tracks := testTracks()
	o, _, out := newTestOrchestrator(t, tracks, &fakeMuxer{})
	v := &variant.Variant{VideoURL: "https://v/720.m3u8"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Download(ctx, v)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, tracks.calls)
	assertEmptyDir(t, out)
}
