// Package download streams source media into the shared job workspace.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrEmptyFile = errors.New("downloaded file is empty")

const browserUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.114 Safari/537.36"

// Downloader fetches media over plain HTTP. Some platforms hand out signed
// CDN URLs that only accept browser user agents, hence the UA header.
type Downloader struct {
	client *http.Client
}

func New(timeout time.Duration) *Downloader {
	if timeout <= 0 {
		timeout = 30 * time.Minute // media files can be large
	}
	return &Downloader{client: &http.Client{Timeout: timeout}}
}

// Fetch downloads url into dir and returns the stored file path. The file is
// removed again on any error so a failed download leaves nothing behind.
func (d *Downloader) Fetch(ctx context.Context, url, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download media: unexpected status %d", resp.StatusCode)
	}

	dest := filepath.Join(dir, fileName(url))
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}

	n, err := io.Copy(f, resp.Body)
	cerr := f.Close()
	if err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("write media file: %w", err)
	}
	if cerr != nil {
		os.Remove(dest)
		return "", fmt.Errorf("close media file: %w", cerr)
	}
	if n == 0 {
		os.Remove(dest)
		return "", ErrEmptyFile
	}
	return dest, nil
}

func fileName(url string) string {
	base := path.Base(url)
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	if base == "" || base == "." || base == "/" || !strings.Contains(base, ".") {
		return "media_" + uuid.New().String() + ".mp4"
	}
	return base
}
