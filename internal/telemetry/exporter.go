package telemetry

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// FailureRecord is one provider's part of an exhaustion event
type FailureRecord struct {
	Provider string `json:"provider"`
	Kind     string `json:"kind"`
	Error    string `json:"error"`
}

// ExhaustionEvent describes a call no provider could answer
type ExhaustionEvent struct {
	Network   string          `json:"network"`
	Operation string          `json:"operation"`
	Failures  []FailureRecord `json:"failures"`
	At        time.Time       `json:"at"`
}

// ExporterConfig holds configuration for exporting
type ExporterConfig struct {
	WebhookURL    string
	WebhookAPIKey string
	BatchSize     int
	Interval      time.Duration
	Logger        *logrus.Logger
}

// Exporter batches exhaustion events and posts them to a webhook, every
// Interval or as soon as BatchSize events are pending.
type Exporter struct {
	config     ExporterConfig
	httpClient *retryablehttp.Client
	log        *logrus.Logger

	mutex      sync.Mutex
	batch      []ExhaustionEvent
	lastExport time.Time

	inflight sync.WaitGroup
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewExporter creates an exporter and starts its periodic flush
func NewExporter(config ExporterConfig) (*Exporter, error) {
	if config.WebhookURL == "" {
		return nil, fmt.Errorf("webhook URL not configured")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	log := config.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	client.HTTPClient.Timeout = 10 * time.Second
	if t, ok := client.HTTPClient.Transport.(*http.Transport); ok {
		t.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Exporter{
		config:     config,
		httpClient: client,
		log:        log,
		batch:      make([]ExhaustionEvent, 0, config.BatchSize),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go e.periodicExport(ctx)

	log.Infof("Exhaustion exporter initialized for %s", config.WebhookURL)
	return e, nil
}

// Add queues an event. A nil exporter drops it.
func (e *Exporter) Add(ev ExhaustionEvent) {
	if e == nil {
		return
	}
	e.mutex.Lock()
	e.batch = append(e.batch, ev)
	full := len(e.batch) >= e.config.BatchSize
	e.mutex.Unlock()

	if full {
		e.inflight.Add(1)
		go func() {
			defer e.inflight.Done()
			e.export(context.Background())
		}()
	}
}

func (e *Exporter) periodicExport(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// not bound to ctx so Stop waits for an export in progress
			e.export(context.Background())
		case <-ctx.Done():
			return
		}
	}
}

// export sends the pending batch; a failed batch is logged and dropped
func (e *Exporter) export(ctx context.Context) {
	e.mutex.Lock()
	if len(e.batch) == 0 {
		e.mutex.Unlock()
		return
	}
	events := e.batch
	e.batch = make([]ExhaustionEvent, 0, e.config.BatchSize)
	e.lastExport = time.Now()
	e.mutex.Unlock()

	if err := e.exportToWebhook(ctx, events); err != nil {
		e.log.Errorf("Failed to export %d exhaustion events: %v", len(events), err)
		return
	}
	e.log.Debugf("Exported %d exhaustion events", len(events))
}

func (e *Exporter) exportToWebhook(ctx context.Context, events []ExhaustionEvent) error {
	exportData := struct {
		Events     []ExhaustionEvent `json:"events"`
		ExportTime string            `json:"export_time"`
		Count      int               `json:"count"`
	}{
		Events:     events,
		ExportTime: time.Now().UTC().Format(time.RFC3339),
		Count:      len(events),
	}

	jsonData, err := json.Marshal(exportData)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, e.config.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.WebhookAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.WebhookAPIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}

// Pending returns the number of queued events
func (e *Exporter) Pending() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return len(e.batch)
}

// Stop ends the periodic flush and exports whatever is left
func (e *Exporter) Stop() {
	if e == nil {
		return
	}
	e.cancel()
	<-e.done
	e.inflight.Wait()
	e.export(context.Background())
}
