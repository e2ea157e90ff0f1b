package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/courseassist/internal/models"
)

// EventIngestFinished is sent when a background ingestion reaches a terminal
// state.
const EventIngestFinished = "document.ingest.finished"

// Dispatcher posts ingestion reports to the web layer's callback URL. Delivery
// is best effort: a full queue or a failed POST is logged and dropped, since
// the report stays readable through the report endpoint.
type Dispatcher struct {
	url        string
	secret     string
	httpClient *http.Client
	deliveries chan delivery
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

type delivery struct {
	id      string
	event   string
	payload []byte
}

func NewDispatcher(url, secret string) *Dispatcher {
	d := &Dispatcher{
		url:    url,
		secret: secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		deliveries: make(chan delivery, 1000),
	}
	d.wg.Add(1)
	go d.processLoop()
	return d
}

// NotifyIngest queues report for delivery.
func (d *Dispatcher) NotifyIngest(report *models.IngestReport) {
	payload, err := json.Marshal(report)
	if err != nil {
		slog.Error("marshal webhook payload", "document_id", report.DocumentID, "error", err)
		return
	}

	req := delivery{id: uuid.NewString(), event: EventIngestFinished, payload: payload}
	select {
	case d.deliveries <- req:
	default:
		slog.Warn("webhook delivery queue full, dropping", "delivery_id", req.id, "document_id", report.DocumentID)
	}
}

// Close stops accepting deliveries and waits for queued ones to finish.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() { close(d.deliveries) })
	d.wg.Wait()
	return nil
}

func (d *Dispatcher) processLoop() {
	defer d.wg.Done()
	for req := range d.deliveries {
		d.deliver(req)
	}
}

func (d *Dispatcher) deliver(req delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(req.payload))
	if err != nil {
		slog.Error("webhook request creation failed", "error", err)
		return
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Webhook-Event", req.event)
	httpReq.Header.Set("X-Webhook-ID", req.id)
	if d.secret != "" {
		httpReq.Header.Set("X-Webhook-Signature", Sign(req.payload, d.secret))
	}

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		slog.Error("webhook delivery failed", "error", err, "delivery_id", req.id)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		slog.Warn("webhook received non-success response", "status", resp.StatusCode, "delivery_id", req.id)
		return
	}
	slog.Debug("webhook delivered", "delivery_id", req.id, "event", req.event)
}

// Sign returns the X-Webhook-Signature value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}
