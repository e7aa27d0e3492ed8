// Package natsutil carries JSON payloads over NATS with trace context in
// the message headers.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// ErrDecode marks a message whose body was not valid JSON for the target type.
var ErrDecode = errors.New("natsutil: decode")

// headerCarrier lets the OTel propagator read and write nats.Msg headers.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publisher is the part of *nats.Conn used for sending.
type Publisher interface {
	PublishMsg(*nats.Msg) error
}

// Encode builds a message for subject with v as JSON and ctx's trace context injected.
func Encode[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: marshal %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return msg, nil
}

// Decode unmarshals msg into T and returns a context carrying its trace parent.
func Decode[T any](msg *nats.Msg) (context.Context, T, error) {
	var v T
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return nil, v, fmt.Errorf("%w: %s: %v", ErrDecode, msg.Subject, err)
	}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
	return ctx, v, nil
}

// Publish sends v as JSON on subject.
func Publish[T any](ctx context.Context, p Publisher, subject string, v T) error {
	msg, err := Encode(ctx, subject, v)
	if err != nil {
		return err
	}
	return p.PublishMsg(msg)
}

// Handler processes one decoded message.
type Handler[T any] func(ctx context.Context, v T) error

// ErrorFunc receives the raw message when decoding or handling fails.
type ErrorFunc func(msg *nats.Msg, err error)

// Dispatch returns a nats.MsgHandler that decodes into T and calls h.
// Failures, including malformed bodies, are passed to onErr when it is non-nil.
func Dispatch[T any](h Handler[T], onErr ErrorFunc) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ctx, v, err := Decode[T](msg)
		if err == nil {
			err = h(ctx, v)
		}
		if err != nil && onErr != nil {
			onErr(msg, err)
		}
	}
}

// Subscribe registers h on subject. A non-empty queue makes it a queue
// subscription so several workers share the load.
func Subscribe[T any](nc *nats.Conn, subject, queue string, h Handler[T], onErr ErrorFunc) (*nats.Subscription, error) {
	if queue != "" {
		return nc.QueueSubscribe(subject, queue, Dispatch(h, onErr))
	}
	return nc.Subscribe(subject, Dispatch(h, onErr))
}
