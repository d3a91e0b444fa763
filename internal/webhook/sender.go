package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"printdesk/internal/config"
	"printdesk/internal/core"
)

// Payload is the JSON body delivered to subscribed endpoints. When the
// endpoint has a secret, Signature is the hex HMAC-SHA256 of the data
// block.
type Payload struct {
	Event     string       `json:"event"`
	Timestamp time.Time    `json:"timestamp"`
	Data      JobEventData `json:"data"`
	Signature string       `json:"signature,omitempty"`
}

type JobEventData struct {
	JobID         string `json:"job_id"`
	UserID        int64  `json:"user_id"`
	FileName      string `json:"file_name"`
	Status        string `json:"status"`
	CostCents     int64  `json:"cost_cents"`
	Attempts      int    `json:"attempts"`
	FailureReason string `json:"failure_reason,omitempty"`
}

type task struct {
	endpoint config.WebhookEndpoint
	payload  *Payload
	attempt  int
}

// Sender delivers job lifecycle events to configured endpoints
// asynchronously. It implements core.EventSink; enqueueing never blocks
// the scheduler, events are dropped when the queue is full.
type Sender struct {
	endpoints  []config.WebhookEndpoint
	httpClient *http.Client
	retryCount int
	retryDelay time.Duration
	queue      chan *task
	stopCh     chan struct{}
	wg         sync.WaitGroup
	workers    int
	log        *zap.Logger
}

func NewSender(cfg config.WebhooksConfig, log *zap.Logger) *Sender {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Sender{
		endpoints: cfg.Endpoints,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retryCount: cfg.RetryCount,
		retryDelay: cfg.RetryDelay,
		queue:      make(chan *task, cfg.QueueSize),
		stopCh:     make(chan struct{}),
		workers:    cfg.WorkerCount,
		log:        log,
	}
}

func (s *Sender) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

func (s *Sender) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// JobEvent implements core.EventSink.
func (s *Sender) JobEvent(event string, job *core.Job) {
	payload := &Payload{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data: JobEventData{
			JobID:         job.ID,
			UserID:        job.UserID,
			FileName:      job.File.FileName,
			Status:        string(job.Status),
			CostCents:     job.CostCents,
			Attempts:      job.Attempts,
			FailureReason: job.FailureReason,
		},
	}

	for _, ep := range s.endpoints {
		if !subscribed(ep, event) {
			continue
		}
		select {
		case s.queue <- &task{endpoint: ep, payload: payload}:
		default:
			s.log.Warn("webhook queue full, dropping event",
				zap.String("endpoint", ep.Name),
				zap.String("event", event))
		}
	}
}

func subscribed(ep config.WebhookEndpoint, event string) bool {
	if len(ep.Events) == 0 {
		return true
	}
	for _, e := range ep.Events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}

func (s *Sender) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case t := <-s.queue:
			s.deliver(t)
		}
	}
}

func (s *Sender) deliver(t *task) {
	body, err := s.encode(t)
	if err != nil {
		s.log.Error("failed to encode webhook payload", zap.Error(err))
		return
	}

	req, err := http.NewRequest(http.MethodPost, t.endpoint.URL, bytes.NewReader(body))
	if err != nil {
		s.log.Error("failed to build webhook request",
			zap.String("endpoint", t.endpoint.Name), zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "printdesk-webhook/1.0")

	resp, err := s.httpClient.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return
		}
		err = fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}

	if t.attempt+1 >= s.retryCount {
		s.log.Warn("webhook delivery failed permanently",
			zap.String("endpoint", t.endpoint.Name),
			zap.String("event", t.payload.Event),
			zap.Error(err))
		return
	}

	retry := &task{endpoint: t.endpoint, payload: t.payload, attempt: t.attempt + 1}
	time.AfterFunc(s.retryDelay, func() {
		select {
		case s.queue <- retry:
		case <-s.stopCh:
		default:
		}
	})
}

func (s *Sender) encode(t *task) ([]byte, error) {
	payload := *t.payload
	if t.endpoint.Secret != "" {
		data, err := json.Marshal(payload.Data)
		if err != nil {
			return nil, err
		}
		mac := hmac.New(sha256.New, []byte(t.endpoint.Secret))
		mac.Write(data)
		payload.Signature = hex.EncodeToString(mac.Sum(nil))
	}
	return json.Marshal(&payload)
}
