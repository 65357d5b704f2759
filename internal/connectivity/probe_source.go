package connectivity

import (
	"context"
	"net/http"
	"time"
)

// ProbeSource polls a URL. Any HTTP response counts as reachable; only
// failing to get one counts as unreachable.
type ProbeSource struct {
	URL      string
	Interval time.Duration
	Client   *http.Client
}

// NewProbeSource creates a ProbeSource with a timeout of half the interval.
func NewProbeSource(url string, interval time.Duration) *ProbeSource {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ProbeSource{
		URL:      url,
		Interval: interval,
		Client:   &http.Client{Timeout: interval / 2},
	}
}

func (s *ProbeSource) Name() string { return "probe:" + s.URL }

// Run probes immediately and then on every tick until ctx is done.
func (s *ProbeSource) Run(ctx context.Context, report func(bool)) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		ok := s.probe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		report(ok)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *ProbeSource) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.URL, http.NoBody)
	if err != nil {
		return false
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
