package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aviov/largo-chat/engine/domain"
	"github.com/aviov/largo-chat/pkg/fn"
	"github.com/aviov/largo-chat/pkg/natsutil"
)

// QueueGroup spreads messages across worker replicas.
const QueueGroup = "largo-ingest-workers"

// Request asks for one object to be ingested. It has the same shape as the
// HTTP ingest body.
type Request struct {
	S3Upload string `json:"s3_upload"`
}

// Done is published after a successful ingest.
type Done struct {
	Key      string `json:"key"`
	Chunks   int    `json:"chunks"`
	Attempts int    `json:"attempts"`
}

// DeadLetter is published when a request cannot be processed.
type DeadLetter struct {
	Key      string `json:"key,omitempty"`
	Raw      string `json:"raw,omitempty"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

// Ingester is the part of Service the consumer needs.
type Ingester interface {
	Ingest(ctx context.Context, key string) (Result, error)
}

// Consumer runs ingest requests from a subject with bounded retries,
// reporting outcomes on <subject>.done and <subject>.dlq.
type Consumer struct {
	ingester Ingester
	pub      natsutil.Publisher
	subject  string
	retry    fn.RetryOpts
	log      *slog.Logger
}

// NewConsumer creates a consumer for subject. Permanent failures such as a
// non-PDF object are not retried.
func NewConsumer(ing Ingester, pub natsutil.Publisher, subject string, retry fn.RetryOpts, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	retry.ShouldRetry = retryable
	return &Consumer{ingester: ing, pub: pub, subject: subject, retry: retry, log: log.With("component", "ingest_consumer")}
}

// DoneSubject is where successes are announced.
func (c *Consumer) DoneSubject() string { return c.subject + ".done" }

// DLQSubject is where failures are parked.
func (c *Consumer) DLQSubject() string { return c.subject + ".dlq" }

func retryable(err error) bool {
	for _, permanent := range []error{domain.ErrNotPDF, domain.ErrEmptyDocument, domain.ErrInvalidRequest, domain.ErrDimensionMismatch} {
		if errors.Is(err, permanent) {
			return false
		}
	}
	return true
}

// Handle processes one request. Failures go to the DLQ; the returned error
// is only set when publishing the outcome fails.
func (c *Consumer) Handle(ctx context.Context, req Request) error {
	attempts := 0
	res, err := fn.Retry(ctx, c.retry, func(ctx context.Context) fn.Result[Result] {
		attempts++
		return fn.FromPair(c.ingester.Ingest(ctx, req.S3Upload))
	}).Unwrap()

	if err != nil {
		c.log.Error("ingest request dead-lettered", "key", req.S3Upload, "attempts", attempts, "err", err)
		return natsutil.Publish(ctx, c.pub, c.DLQSubject(), DeadLetter{
			Key:      req.S3Upload,
			Error:    err.Error(),
			Attempts: attempts,
		})
	}
	return natsutil.Publish(ctx, c.pub, c.DoneSubject(), Done{Key: res.Key, Chunks: res.Chunks, Attempts: attempts})
}

// onError parks undecodable messages and reports publish failures.
func (c *Consumer) onError(msg *nats.Msg, err error) {
	if errors.Is(err, natsutil.ErrDecode) {
		c.log.Warn("malformed ingest message", "subject", msg.Subject, "err", err)
		if perr := natsutil.Publish(context.Background(), c.pub, c.DLQSubject(), DeadLetter{
			Raw:   string(msg.Data),
			Error: err.Error(),
		}); perr != nil {
			c.log.Error("dlq publish failed", "err", perr)
		}
		return
	}
	c.log.Error("ingest outcome publish failed", "subject", msg.Subject, "err", err)
}

// Handler returns the NATS callback for this consumer.
func (c *Consumer) Handler() nats.MsgHandler {
	return natsutil.Dispatch(natsutil.Handler[Request](c.Handle), c.onError)
}

// Start subscribes on the consumer's subject in the worker queue group.
func (c *Consumer) Start(nc *nats.Conn) (*nats.Subscription, error) {
	c.log.Info("ingest consumer subscribing", "subject", c.subject, "queue", QueueGroup)
	return natsutil.Subscribe(nc, c.subject, QueueGroup, natsutil.Handler[Request](c.Handle), c.onError)
}

// DefaultRetry is three attempts with backoff from two seconds.
var DefaultRetry = fn.RetryOpts{MaxAttempts: 3, InitialWait: 2 * time.Second, MaxWait: 10 * time.Second, Jitter: true}
