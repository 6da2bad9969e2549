// Package download fetches Sentinel-1 scene archives from the ASF mirror.
// Earthdata credentials are applied on the authentication redirect, every
// archive is verified by zip structure and md5 checksum, and a `.downloaded`
// marker next to the archive makes the stage resumable.
package download

import (
	"archive/zip"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rkm/s1ard/internal/scene"
)

const earthdataHost = "urs.earthdata.nasa.gov"

// Error reports a failed or incomplete scene download.
type Error struct {
	Scene  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("download of %s failed: %s", e.Scene, e.Reason)
}

// Downloader fetches scene archives with bounded concurrency.
type Downloader struct {
	client      *http.Client
	username    string
	password    string
	maxRetries  int
	concurrency int
	logger      *slog.Logger
}

// New creates a Downloader. The credentials authenticate against the
// Earthdata login service the archive redirects to.
func New(username, password string, concurrency, maxRetries int) (*Downloader, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("earthdata credentials are not set")
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if maxRetries < 1 {
		maxRetries = 1
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	d := &Downloader{
		username:    username,
		password:    password,
		maxRetries:  maxRetries,
		concurrency: concurrency,
		logger:      slog.Default(),
	}
	d.client = &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			// Credentials go to the login host only.
			if req.URL.Host == earthdataHost {
				req.SetBasicAuth(username, password)
			}
			return nil
		},
	}
	return d, nil
}

// WithLogger sets a custom logger for the downloader.
func (d *Downloader) WithLogger(logger *slog.Logger) *Downloader {
	d.logger = logger
	return d
}

// ScenePath returns the archive path for a scene below downloadDir. Scenes
// are laid out by product type and acquisition date.
func ScenePath(downloadDir string, s *scene.Scene) string {
	return filepath.Join(downloadDir, "SAR", s.ProductType,
		s.StartDate[0:4], s.StartDate[4:6], s.StartDate[6:8],
		s.ID+".zip")
}

// markerPath is the `.downloaded` file recording a verified archive.
func markerPath(archivePath string) string {
	return strings.TrimSuffix(archivePath, ".zip") + ".downloaded"
}

// Downloaded reports whether the archive has been fetched and verified.
func Downloaded(archivePath string) bool {
	_, err := os.Stat(markerPath(archivePath))
	return err == nil
}

// Task is one archive to fetch.
type Task struct {
	Scene  string
	URL    string
	Path   string
	MD5Sum string
}

// Download fetches a single archive with verification and retries.
func (d *Downloader) Download(ctx context.Context, task Task) error {
	if Downloaded(task.Path) {
		d.logger.InfoContext(ctx, "scene already downloaded", "scene", task.Scene)
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		if attempt > 1 {
			d.logger.WarnContext(ctx, "retrying download",
				"scene", task.Scene, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}

		lastErr = d.downloadOnce(ctx, task)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func (d *Downloader) downloadOnce(ctx context.Context, task Task) error {
	if _, err := url.Parse(task.URL); err != nil {
		return &Error{Scene: task.Scene, Reason: fmt.Sprintf("invalid URL: %v", err)}
	}
	if err := os.MkdirAll(filepath.Dir(task.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	d.logger.InfoContext(ctx, "downloading scene",
		"scene", task.Scene, "url", task.URL, "path", task.Path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(d.username, d.password)

	resp, err := d.client.Do(req)
	if err != nil {
		return &Error{Scene: task.Scene, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &Error{
			Scene:  task.Scene,
			Reason: fmt.Sprintf("archive returned status %d", resp.StatusCode),
		}
	}

	partial := task.Path + ".part"
	file, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", partial, err)
	}

	hash := md5.New()
	_, copyErr := io.Copy(io.MultiWriter(file, hash), resp.Body)
	closeErr := file.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(partial)
		return &Error{Scene: task.Scene, Reason: "transfer interrupted"}
	}

	if task.MD5Sum != "" {
		sum := hex.EncodeToString(hash.Sum(nil))
		if !strings.EqualFold(sum, task.MD5Sum) {
			os.Remove(partial)
			return &Error{
				Scene:  task.Scene,
				Reason: fmt.Sprintf("checksum mismatch: got %s, want %s", sum, task.MD5Sum),
			}
		}
	}

	if err := checkZip(partial); err != nil {
		os.Remove(partial)
		return &Error{Scene: task.Scene, Reason: err.Error()}
	}

	if err := os.Rename(partial, task.Path); err != nil {
		return fmt.Errorf("failed to move archive into place: %w", err)
	}
	if err := os.WriteFile(markerPath(task.Path), []byte("successfully downloaded\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write download marker: %w", err)
	}

	d.logger.InfoContext(ctx, "scene downloaded", "scene", task.Scene)
	return nil
}

// checkZip verifies the archive structure by walking the central directory.
func checkZip(path string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("zip check failed: %w", err)
	}
	defer zr.Close()

	if len(zr.File) == 0 {
		return fmt.Errorf("zip check failed: archive is empty")
	}
	return nil
}

// Batch fetches all tasks with bounded concurrency. The first failure
// cancels the remaining downloads.
func (d *Downloader) Batch(ctx context.Context, tasks []Task) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for _, task := range tasks {
		g.Go(func() error {
			return d.Download(ctx, task)
		})
	}
	return g.Wait()
}
