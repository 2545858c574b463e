// Package source fetches raw feed payloads for the importers. Requests are
// paced by a rate limiter, retried with a constant backoff and guarded by a
// per-feed circuit breaker. Successful payloads are handed to the archive.
package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sethvargo/go-retry"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/hyperengineering/linkedevents/internal/archive"
	"github.com/hyperengineering/linkedevents/internal/config"
	"github.com/hyperengineering/linkedevents/internal/metrics"
)

// Options configures a Fetcher.
type Options struct {
	// Name labels logs and metrics, usually the importer name.
	Name      string
	Timeout   time.Duration
	Attempts  int
	Backoff   time.Duration
	RateLimit float64
	RateBurst int
	UserAgent string

	// FailureThreshold is the number of consecutive failed requests that
	// opens the circuit breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// OptionsFrom builds the Options of the named importer from the shared
// import settings.
func OptionsFrom(name string, cfg config.ImportConfig) Options {
	return Options{
		Name:             name,
		Timeout:          time.Duration(cfg.HTTPTimeout),
		Attempts:         cfg.RetryAttempts,
		Backoff:          time.Duration(cfg.RetryBackoff),
		RateLimit:        cfg.RateLimit,
		RateBurst:        cfg.RateBurst,
		UserAgent:        cfg.UserAgent,
		FailureThreshold: 5,
		OpenTimeout:      time.Minute,
	}
}

// Fetcher downloads feed payloads.
type Fetcher struct {
	opts     Options
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[[]byte]
	archiver archive.Archiver
}

// New creates a Fetcher. A nil archiver disables archiving.
func New(opts Options, archiver archive.Archiver) *Fetcher {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Millisecond
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if archiver == nil {
		archiver = archive.NoopArchiver{}
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.RateBurst
	if burst < 1 {
		burst = 1
	}

	f := &Fetcher{
		opts:     opts,
		client:   &http.Client{Timeout: opts.Timeout},
		limiter:  rate.NewLimiter(limit, burst),
		archiver: archiver,
	}

	f.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		// A rejected request says nothing about the feed's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrFatal)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("feed circuit breaker state changed",
				"component", "source",
				"source", name,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})
	metrics.CircuitBreakerState.WithLabelValues(opts.Name).Set(0)

	return f
}

// Fetch returns the body at rawURL. file:// URLs and plain paths are read
// from disk without retries or archiving.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return f.fetch(ctx, rawURL, nil)
}

// fetch downloads rawURL and hands the body to decode, when set. A body
// that fails to decode counts as a transient failure: feeds are known to
// serve truncated documents while they are being regenerated.
func (f *Fetcher) fetch(ctx context.Context, rawURL string, decode func([]byte) error) ([]byte, error) {
	if p, ok := localPath(rawURL); ok {
		body, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrFatal, p, err)
		}
		if decode != nil {
			if err := decode(body); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrDecode, p, err)
			}
		}
		return body, nil
	}

	start := time.Now()
	defer func() {
		metrics.FetchDuration.WithLabelValues(f.opts.Name).Observe(time.Since(start).Seconds())
	}()

	var body []byte
	var contentType string
	backoff := retry.WithMaxRetries(uint64(f.opts.Attempts-1), retry.NewConstant(f.opts.Backoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}

		b, err := f.breaker.Execute(func() ([]byte, error) {
			var reqErr error
			var payload []byte
			payload, contentType, reqErr = f.get(ctx, rawURL)
			return payload, reqErr
		})
		switch {
		case err == nil:
			if decode != nil {
				if derr := decode(b); derr != nil {
					metrics.FetchRequests.WithLabelValues(f.opts.Name, "retry").Inc()
					slog.Warn("feed payload malformed, retrying",
						"component", "source",
						"source", f.opts.Name,
						"url", rawURL,
						"error", derr,
					)
					return retry.RetryableError(fmt.Errorf("%w: %v", ErrDecode, derr))
				}
			}
			body = b
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.FetchRequests.WithLabelValues(f.opts.Name, "rejected").Inc()
			return fmt.Errorf("%w: %s", ErrCircuitOpen, f.opts.Name)
		case errors.Is(err, ErrTransient):
			metrics.FetchRequests.WithLabelValues(f.opts.Name, "retry").Inc()
			slog.Warn("feed request failed, retrying",
				"component", "source",
				"source", f.opts.Name,
				"url", rawURL,
				"error", err,
			)
			return retry.RetryableError(err)
		default:
			return err
		}
	})
	if err != nil {
		metrics.FetchRequests.WithLabelValues(f.opts.Name, "failure").Inc()
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	metrics.FetchRequests.WithLabelValues(f.opts.Name, "success").Inc()
	f.archive(ctx, rawURL, contentType, body)
	return body, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFatal, err)
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return nil, "", fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, "", fmt.Errorf("%w: status %d", ErrFatal, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// archive stores the payload; failures are logged and never fail the fetch.
func (f *Fetcher) archive(ctx context.Context, rawURL, contentType string, body []byte) {
	name := "payload"
	if u, err := url.Parse(rawURL); err == nil && path.Base(u.Path) != "/" && path.Base(u.Path) != "." {
		name = path.Base(u.Path)
	}

	key, err := f.archiver.Archive(ctx, f.opts.Name, name, contentType, body)
	if err != nil {
		metrics.ArchivedPayloads.WithLabelValues(f.opts.Name, "failure").Inc()
		slog.Warn("failed to archive feed payload",
			"component", "source",
			"source", f.opts.Name,
			"error", err,
		)
		return
	}
	if key != "" {
		metrics.ArchivedPayloads.WithLabelValues(f.opts.Name, "success").Inc()
		slog.Debug("feed payload archived", "component", "source", "source", f.opts.Name, "key", key)
	}
}

// FetchJSON decodes the JSON body at rawURL into v.
func (f *Fetcher) FetchJSON(ctx context.Context, rawURL string, v any) error {
	_, err := f.fetch(ctx, rawURL, func(body []byte) error {
		return json.Unmarshal(body, v)
	})
	return err
}

// FetchXML decodes the XML body at rawURL into v.
func (f *Fetcher) FetchXML(ctx context.Context, rawURL string, v any) error {
	_, err := f.fetch(ctx, rawURL, func(body []byte) error {
		return xml.Unmarshal(body, v)
	})
	return err
}

// FetchCSV parses the delimited body at rawURL. The first row names the
// columns; each following row becomes a column-to-value map.
func (f *Fetcher) FetchCSV(ctx context.Context, rawURL string, comma rune) ([]map[string]string, error) {
	var rows []map[string]string
	_, err := f.fetch(ctx, rawURL, func(body []byte) error {
		var perr error
		rows, perr = ParseCSV(body, comma)
		return perr
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ParseCSV parses a headed, delimited payload.
func ParseCSV(body []byte, comma rune) ([]map[string]string, error) {
	body = bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(body))
	r.Comma = comma
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []map[string]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = strings.TrimSpace(rec[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func localPath(rawURL string) (string, bool) {
	if strings.HasPrefix(rawURL, "file://") {
		return strings.TrimPrefix(rawURL, "file://"), true
	}
	if strings.Contains(rawURL, "://") {
		return "", false
	}
	return rawURL, true
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
