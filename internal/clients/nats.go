package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"

	"github.com/JasonWangA/bk-ci/internal/config"
	"github.com/JasonWangA/bk-ci/internal/orchestrator"
)

const natsProbeName = "nats"

// eventRetention bounds how long bootstrap lifecycle events are kept.
const eventRetention = 7 * 24 * time.Hour

// jsContext is the subset of nats.JetStreamContext used by NATSClient.
// Defining an interface here allows test doubles to be injected without a live
// NATS server.
type jsContext interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATSClient publishes bootstrap lifecycle events to a JetStream stream it
// provisions on first use.
type NATSClient struct {
	url     string
	stream  string
	subject string
	cb      *gobreaker.CircuitBreaker
	newJS   func(url string) (jsContext, func(), error)

	provisioned atomic.Bool
}

// NewNATSClient constructs a NATSClient. No connection is made at construction
// time; connections are opened lazily inside ProvisionStream, PublishEvent and
// Probe.
func NewNATSClient(cfg config.NATSConfig, cb *gobreaker.CircuitBreaker) *NATSClient {
	return &NATSClient{
		url:     cfg.URL,
		stream:  cfg.Stream,
		subject: cfg.Subject,
		cb:      cb,
		newJS:   realNewJS,
	}
}

// ProvisionStream creates or updates the event stream. It is idempotent:
// an existing stream is updated rather than errored.
func (c *NATSClient) ProvisionStream(ctx context.Context) error {
	_, err := c.cb.Execute(func() (any, error) {
		js, cleanup, err := c.newJS(c.url)
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		defer cleanup()

		return nil, c.provision(ctx, js)
	})
	return breakerError("nats", err)
}

// PublishEvent publishes ev as JSON on <subject>.<type>, provisioning the
// stream first if this client has not done so yet.
func (c *NATSClient) PublishEvent(ctx context.Context, ev orchestrator.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Type, err)
	}
	subj := c.subject + "." + ev.Type

	_, err = c.cb.Execute(func() (any, error) {
		js, cleanup, err := c.newJS(c.url)
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		defer cleanup()

		if !c.provisioned.Load() {
			if err := c.provision(ctx, js); err != nil {
				return nil, err
			}
		}

		if _, err := js.Publish(subj, data, nats.Context(ctx)); err != nil {
			return nil, fmt.Errorf("publishing %s: %w", subj, err)
		}
		return nil, nil
	})
	return breakerError("nats", err)
}

// Probe verifies NATS connectivity and returns a ProbeResult. A missing stream
// is not treated as a failure since the stream is provisioned on first publish.
func (c *NATSClient) Probe(ctx context.Context) orchestrator.ProbeResult {
	start := time.Now()

	_, err := c.cb.Execute(func() (any, error) {
		js, cleanup, err := c.newJS(c.url)
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		defer cleanup()

		_, infoErr := js.StreamInfo(c.stream, nats.Context(ctx))
		if infoErr != nil && !errors.Is(infoErr, nats.ErrStreamNotFound) {
			return nil, fmt.Errorf("stream info: %w", infoErr)
		}
		return nil, nil
	})

	return probeResult(natsProbeName, start, err)
}

// provision creates the stream if it does not exist, or updates it if it
// does. nats.ErrStreamNotFound signals "create"; any other error is returned.
func (c *NATSClient) provision(ctx context.Context, js jsContext) error {
	cfg := &nats.StreamConfig{
		Name:      c.stream,
		Subjects:  []string{c.subject + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    eventRetention,
	}

	_, err := js.StreamInfo(c.stream, nats.Context(ctx))
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, addErr := js.AddStream(cfg, nats.Context(ctx)); addErr != nil {
			return fmt.Errorf("creating stream %s: %w", c.stream, addErr)
		}
	case err != nil:
		return fmt.Errorf("querying stream %s: %w", c.stream, err)
	default:
		if _, updErr := js.UpdateStream(cfg, nats.Context(ctx)); updErr != nil {
			return fmt.Errorf("updating stream %s: %w", c.stream, updErr)
		}
	}
	c.provisioned.Store(true)
	return nil
}

// realNewJS opens a real NATS connection and returns a JetStreamContext plus a
// cleanup function that closes the connection.
func realNewJS(url string) (jsContext, func(), error) {
	nc, err := nats.Connect(url, nats.Name("store-seeder"))
	if err != nil {
		return nil, func() {}, fmt.Errorf("nats connect %s: %w", url, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, func() {}, fmt.Errorf("nats jetstream context: %w", err)
	}

	return js, func() { nc.Close() }, nil
}
