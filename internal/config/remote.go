package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/doraemonkeys/sloc-guard/internal/errs"
)

// FetchPolicy selects how remote extends targets are resolved.
type FetchPolicy string

const (
	// FetchNormal uses the on-disk cache within its TTL, fetching otherwise.
	FetchNormal FetchPolicy = "normal"
	// FetchOffline uses any cached content regardless of age and never fetches.
	FetchOffline FetchPolicy = "offline"
	// FetchRefresh always fetches and re-caches.
	FetchRefresh FetchPolicy = "refresh"
)

const (
	remoteCacheTTL      = time.Hour
	defaultFetchTimeout = 30 * time.Second

	// EnvFetchTimeout overrides the remote fetch timeout (a Go duration).
	EnvFetchTimeout = "SLOC_GUARD_FETCH_TIMEOUT"

	maxRemoteConfigSize = 1 << 20 // 1MB is plenty for any config
)

// remoteNoticeShown gates the one-time first-fetch warning per process.
var remoteNoticeShown atomic.Bool

// ParseFetchPolicy validates a policy string from the CLI.
func ParseFetchPolicy(s string) (FetchPolicy, error) {
	switch FetchPolicy(s) {
	case FetchNormal, FetchOffline, FetchRefresh:
		return FetchPolicy(s), nil
	case "":
		return FetchNormal, nil
	default:
		return "", errs.Newf(errs.KindConfig, "invalid extends policy %q", s).
			WithSuggestion("use one of: normal, offline, refresh")
	}
}

type remoteFetcher struct {
	policy   FetchPolicy
	cacheDir string
	client   *http.Client
	logger   *logrus.Logger
}

func newRemoteFetcher(policy FetchPolicy, cacheDir string, logger *logrus.Logger) *remoteFetcher {
	timeout := defaultFetchTimeout
	if env := os.Getenv(EnvFetchTimeout); env != "" {
		if d, err := time.ParseDuration(env); err == nil && d > 0 {
			timeout = d
		}
	}
	return &remoteFetcher{
		policy:   policy,
		cacheDir: cacheDir,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// cachePath keys the on-disk cache by SHA-256 of the URL.
func (f *remoteFetcher) cachePath(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:])+".toml")
}

// Fetch returns the body of a remote config, honouring the fetch policy and
// the optional content-hash pin. When a pin is set, verification happens
// before any cache write; a mismatch leaves the cache untouched.
func (f *remoteFetcher) Fetch(url, pinnedSHA256 string) (string, error) {
	path := f.cachePath(url)

	switch f.policy {
	case FetchOffline:
		body, err := os.ReadFile(path)
		if err != nil {
			return "", errs.Newf(errs.KindConfig, "remote config %s is not cached", url).
				WithDetail("extends policy is offline").
				WithSuggestion("run once with --extends-policy normal to populate the cache")
		}
		return f.verified(url, string(body), pinnedSHA256, false, path)

	case FetchNormal:
		if info, err := os.Stat(path); err == nil && time.Since(info.ModTime()) < remoteCacheTTL {
			if body, err := os.ReadFile(path); err == nil {
				return f.verified(url, string(body), pinnedSHA256, false, path)
			}
		}
	case FetchRefresh:
		// fall through to fetch
	}

	body, err := f.download(url)
	if err != nil {
		return "", err
	}
	return f.verified(url, body, pinnedSHA256, true, path)
}

// verified checks the pin and, when the content is fresh, writes it to the
// cache afterwards.
func (f *remoteFetcher) verified(url, body, pinnedSHA256 string, cacheAfter bool, path string) (string, error) {
	if pinnedSHA256 != "" {
		sum := sha256.Sum256([]byte(body))
		got := hex.EncodeToString(sum[:])
		if !strings.EqualFold(got, pinnedSHA256) {
			return "", errs.Newf(errs.KindRemoteConfigHash, "remote config %s does not match its pinned hash", url).
				WithDetail("expected %s, got %s", pinnedSHA256, got).
				WithSuggestion("update extends_sha256 if the remote config changed intentionally")
		}
	}
	if cacheAfter {
		if err := writeFileAtomic(path, []byte(body)); err != nil {
			f.logger.WithError(err).WithField("url", url).Warn("Failed to cache remote config")
		}
	}
	return body, nil
}

func (f *remoteFetcher) download(url string) (string, error) {
	if remoteNoticeShown.CompareAndSwap(false, true) {
		f.logger.Warnf("fetching remote config from %s; pin it with extends_sha256 to guard against tampering", url)
	}

	resp, err := f.client.Get(url)
	if err != nil {
		return "", errs.Wrap(errs.KindIo, err, fmt.Sprintf("failed to fetch remote config %s", url)).
			WithSuggestion("check network connectivity or use --extends-policy offline")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", errs.Newf(errs.KindIo, "remote config %s returned HTTP %d", url, resp.StatusCode).
			WithSuggestion("verify the URL is reachable and serves raw TOML")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteConfigSize+1))
	if err != nil {
		return "", errs.Wrap(errs.KindIo, err, fmt.Sprintf("failed to read remote config %s", url))
	}
	if len(body) > maxRemoteConfigSize {
		return "", errs.Newf(errs.KindConfig, "remote config %s exceeds %d bytes", url, maxRemoteConfigSize)
	}
	return string(body), nil
}

// writeFileAtomic writes via a sibling temp file and rename so readers never
// observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
