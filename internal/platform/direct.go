package platform

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/agleyzer/hlsgrab/internal/hlserr"
	"github.com/dustin/go-humanize"
	"golang.org/x/net/publicsuffix"
)

// DirectConfig holds the settings of the single-file path.
type DirectConfig struct {
	// OutputDir receives the downloaded file
	OutputDir string
	// Timeout bounds the whole transfer
	Timeout time.Duration
	// UserAgent and Referer are sent when not empty; some platforms refuse
	// requests without them
	UserAgent string
	Referer   string
}

// FileSource is the Files capability: one GET, body written to disk.
type FileSource struct {
	client *http.Client
	cfg    DirectConfig
	logger *slog.Logger
}

// NewFileSource creates a FileSource with its own cookie jar, so cookies set
// along redirects are replayed.
func NewFileSource(cfg DirectConfig, logger *slog.Logger) (*FileSource, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	return &FileSource{
		client: &http.Client{Jar: jar, Timeout: cfg.Timeout},
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Download fetches fileURL, sending cookie as the Cookie header when not
// empty, and returns the path of the written file.
func (s *FileSource) Download(ctx context.Context, fileURL, cookie string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", hlserr.Wrap(hlserr.ErrFetch, "create request", err)
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	if s.cfg.Referer != "" {
		req.Header.Set("Referer", s.cfg.Referer)
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	s.logger.Info("downloading file", "url", fileURL)
	resp, err := s.client.Do(req)
	if err != nil {
		return "", hlserr.Wrap(hlserr.ErrFetch, fileURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", hlserr.Wrap(hlserr.ErrFetch, fmt.Sprintf("%s: HTTP %d", fileURL, resp.StatusCode), nil)
	}

	output := filepath.Join(s.cfg.OutputDir, FileName(fileURL))
	f, err := os.Create(output)
	if err != nil {
		return "", hlserr.Wrap(hlserr.ErrIO, "create output file", err)
	}

	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(output)
		return "", hlserr.Wrap(hlserr.ErrIO, "write output file", err)
	}

	s.logger.Info("file downloaded", "output", output, "size", humanize.Bytes(uint64(n)))
	return output, nil
}

// FileName derives the output name from the last non-empty path element of
// rawURL, without query, with a ".mp4" extension.
func FileName(rawURL string) string {
	name := "video"
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(strings.TrimRight(u.Path, "/")); base != "." && base != "/" && base != "" {
			name = base
		}
	}
	if !strings.EqualFold(path.Ext(name), ".mp4") {
		name += ".mp4"
	}
	return name
}
