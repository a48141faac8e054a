package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/vocalize-voice-lab/internal/config"
	"github.com/vocalize-voice-lab/internal/logging"
	"github.com/vocalize-voice-lab/internal/metrics"
)

// KeepWarmUserAgent identifies keep-warm pings in access logs.
const KeepWarmUserAgent = "KeepWarm-Bot/1.0"

// KeepWarm periodically GETs the relay's own /health so hosting platforms
// that idle inactive instances keep it running.
type KeepWarm struct {
	BaseURL  string
	Interval time.Duration
	Client   *http.Client
	Metrics  *metrics.Metrics
}

// KeepWarmURL returns the base URL keep-warm pings target. Without a
// public URL it falls back to the local listener, with a wildcard bind
// address rewritten to loopback.
func KeepWarmURL(rc config.RelayConfig) string {
	if rc.PublicURL != "" {
		return rc.PublicURL
	}
	host := rc.Address
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		host = "127.0.0.1"
	}
	u := fmt.Sprintf("http://%s:%d", host, rc.Port)
	logging.Warnw("keepwarm: public_url not set, pinging local listener instead", "url", u)
	return u
}

// Run pings every Interval until ctx is cancelled.
func (k *KeepWarm) Run(ctx context.Context) error {
	interval := k.Interval
	if interval <= 0 {
		interval = 4 * time.Minute
	}
	logging.Infow("keepwarm: started", "url", k.BaseURL, "interval", interval.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = k.Ping(ctx)
		}
	}
}

// Ping performs one health check.
func (k *KeepWarm) Ping(ctx context.Context) error {
	client := k.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	url := strings.TrimRight(k.BaseURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", KeepWarmUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		k.record("error")
		logging.Warnw("keepwarm: health check failed", "url", url, "err", err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		k.record("bad_status")
		logging.Warnw("keepwarm: health check returned status", "url", url, "status", resp.StatusCode)
		return fmt.Errorf("health check status %d", resp.StatusCode)
	}
	var hr HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		k.record("error")
		return err
	}
	k.record("ok")
	logging.Infow("keepwarm: health check successful", "uptime_minutes", int64(math.Round(hr.Uptime/60)))
	return nil
}

func (k *KeepWarm) record(outcome string) {
	if k.Metrics != nil {
		k.Metrics.KeepWarmPings.WithLabelValues(outcome).Inc()
	}
}
