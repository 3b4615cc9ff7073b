package netmon

import (
	"context"
	"net/http"
	"time"

	"github.com/kimhsiao/gymnexus/backend/internal/clock"
	"github.com/kimhsiao/gymnexus/backend/internal/logging"
)

// Reporter receives raw connectivity observations.
type Reporter interface {
	Report(online bool)
}

// Prober periodically issues HEAD requests against a health URL and
// reports the outcome. Transport errors and 5xx responses count as
// offline.
type Prober struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Client   *http.Client

	clock    clock.Clock
	reporter Reporter
}

// NewProber creates a Prober feeding reporter.
func NewProber(url string, interval time.Duration, clk clock.Clock, reporter Reporter) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Prober{
		URL:      url,
		Interval: interval,
		Timeout:  5 * time.Second,
		Client:   http.DefaultClient,
		clock:    clk,
		reporter: reporter,
	}
}

// Probe performs a single check and reports it.
func (p *Prober) Probe(ctx context.Context) bool {
	online := p.check(ctx)
	p.reporter.Report(online)
	return online
}

func (p *Prober) check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		logging.Error("invalid probe url", err, map[string]interface{}{"url": p.URL})
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		logging.Debug("probe failed", map[string]interface{}{"url": p.URL, "error": err.Error()})
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// Run probes immediately and then every Interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.Probe(ctx)

	ticker := p.clock.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
