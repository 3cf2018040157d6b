package imagebuild

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// Fetcher resolves a base image reference (local path or http(s) URL) to
// a local file, caching downloads.
type Fetcher struct {
	CacheDir string
	Client   *retryablehttp.Client
}

func NewFetcher(cacheDir string) *Fetcher {
	client := retryablehttp.NewClient()
	client.RetryMax = 4
	client.Logger = nil // retries are logged below
	return &Fetcher{CacheDir: cacheDir, Client: client}
}

// EnsureLocal returns a local path for the given base image reference.
// URLs are downloaded into the cache directory once and reused.
func (f *Fetcher) EnsureLocal(ctx context.Context, source string) (string, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		if _, err := os.Stat(source); err != nil {
			return "", fmt.Errorf("base image not found: %w", err)
		}
		return source, nil
	}

	parsed, err := url.Parse(source)
	if err != nil {
		return "", fmt.Errorf("invalid base image URL %q: %w", source, err)
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "/" || name == "." {
		return "", fmt.Errorf("cannot derive a cache file name from URL %q", source)
	}

	cached := filepath.Join(f.CacheDir, name)
	if _, err := os.Stat(cached); err == nil {
		logrus.WithField("image", cached).Debug("base image already cached")
		return cached, nil
	}

	if err := os.MkdirAll(f.CacheDir, 0o755); err != nil {
		return "", err
	}

	logrus.WithField("url", source).Info("downloading base image")
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", source, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading base image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", fmt.Errorf("downloading base image: unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(f.CacheDir, name+"-*.part")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.ReadFrom(resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing base image to cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), cached); err != nil {
		return "", err
	}
	return cached, nil
}
