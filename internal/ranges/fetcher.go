package ranges

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/edge-scanner-api/internal/config"
	"github.com/edge-scanner-api/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// ErrRangeListUnavailable marks a failure to retrieve or parse the
// range list. It is fatal to the scan that requested it; the caller
// may retry with a fresh scan start.
var ErrRangeListUnavailable = fmt.Errorf("range list unavailable")

type Fetcher struct {
	config  config.RangesConfig
	client  *http.Client
	metrics *metrics.Collector
}

func NewFetcher(cfg config.RangesConfig, metricsCollector *metrics.Collector) *Fetcher {
	return &Fetcher{
		config:  cfg,
		metrics: metricsCollector,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Fetch retrieves and parses the CIDR list from all configured sources.
// A source that yields nothing is an error; partial lists from a subset
// of sources are not accepted.
func (f *Fetcher) Fetch(ctx context.Context) ([]AddressRange, error) {
	all := make([]AddressRange, 0, 32)
	seen := make(map[AddressRange]struct{})

	for _, source := range f.config.Sources {
		startTime := time.Now()
		parsed, err := f.fetchSource(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrRangeListUnavailable, source, err)
		}
		log.Infof("Source %s returned %d ranges (took %v)", source, len(parsed), time.Since(startTime))
		if f.metrics != nil {
			f.metrics.RecordRangesFetched(source, len(parsed))
		}

		for _, r := range parsed {
			if _, exists := seen[r]; !exists {
				seen[r] = struct{}{}
				all = append(all, r)
			}
		}
	}

	if len(all) == 0 {
		return nil, fmt.Errorf("%w: no ranges in any source", ErrRangeListUnavailable)
	}

	return all, nil
}

func (f *Fetcher) fetchSource(ctx context.Context, url string) ([]AddressRange, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if f.config.UserAgent != "" {
		req.Header.Set("User-Agent", f.config.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	// Limit body read to 10MB
	limitedReader := io.LimitReader(resp.Body, 10*1024*1024)

	return ParseRangeList(limitedReader)
}

// ParseRangeList reads one CIDR per line, skipping blanks and comments.
// A line that is neither is a parse error: the list is expected to be
// pre-filtered, so garbage means the source itself is broken.
func ParseRangeList(r io.Reader) ([]AddressRange, error) {
	parsed := make([]AddressRange, 0, 32)
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rng, err := ParseRange(line)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, rng)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	return parsed, nil
}
