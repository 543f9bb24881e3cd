package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"anemometer-server/internal/config"
	"anemometer-server/internal/modules/telemetry/types"
)

const (
	publishQoS     = byte(1)
	publishTimeout = 5 * time.Second

	// DefaultQueueSize is how many records may wait for the broker before
	// Publish starts dropping.
	DefaultQueueSize = 64
)

var (
	ErrNotConnected = errors.New("mqtt client not connected")
	ErrStopped      = errors.New("mqtt publisher stopped")
	ErrQueueFull    = errors.New("mqtt publish queue full")
)

type outgoing struct {
	topic      string
	payload    []byte
	unixEpoch  uint32
	enqueuedAt time.Time
}

// Stats counts publisher traffic since start.
type Stats struct {
	Queued  uint64
	Sent    uint64
	Failed  uint64
	Dropped uint64
}

// Publisher forwards appended telemetry records to the broker as JSON.
// Publish only enqueues; a single worker delivers in order, so a slow broker
// never holds up the caller.
type Publisher struct {
	client mqtt.Client
	prefix string
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool

	queue   chan outgoing
	queued  atomic.Uint64
	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64

	stopCh     chan struct{}
	stopOnce   sync.Once
	workerDone chan struct{}
}

func NewPublisher(cfg config.Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := newPublisher(cfg.MQTTTopicPrefix, logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		p.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	p.client = mqtt.NewClient(opts)
	go p.run()
	return p
}

func newPublisher(prefix string, logger *slog.Logger) *Publisher {
	return &Publisher{
		prefix:     prefix,
		logger:     logger,
		queue:      make(chan outgoing, DefaultQueueSize),
		stopCh:     make(chan struct{}),
		workerDone: make(chan struct{}),
	}
}

// Topic returns the topic records from imei are published on.
func Topic(prefix, imei string) string {
	if prefix == "" {
		return imei + "/telemetry"
	}
	return prefix + "/" + imei + "/telemetry"
}

// Connect waits for the first broker connection. The client keeps retrying
// in the background after ctx expires.
func (p *Publisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return ErrStopped
	default:
	}

	if p.IsConnected() {
		return nil
	}

	token := p.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			p.client.Disconnect(0)
			return ErrStopped
		default:
		}
	}
}

func (p *Publisher) Name() string { return "mqtt" }

// Publish queues rec for delivery with QoS 1 and returns without waiting for
// the broker. Records are dropped with ErrQueueFull while the queue is full.
func (p *Publisher) Publish(_ context.Context, imei string, rec types.Record) error {
	select {
	case <-p.stopCh:
		return ErrStopped
	default:
	}
	if !p.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}

	msg := outgoing{
		topic:      Topic(p.prefix, imei),
		payload:    data,
		unixEpoch:  rec.UnixEpoch,
		enqueuedAt: time.Now(),
	}
	select {
	case p.queue <- msg:
		p.queued.Add(1)
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueFull
	}
}

func (p *Publisher) run() {
	defer close(p.workerDone)
	for {
		select {
		case <-p.stopCh:
			return
		case msg := <-p.queue:
			if err := p.send(msg); err != nil {
				p.failed.Add(1)
				p.logger.Warn("mqtt publish failed",
					"topic", msg.topic,
					"unix_epoch", msg.unixEpoch,
					"error", err,
				)
				continue
			}
			p.sent.Add(1)
			p.logger.Debug("published telemetry",
				"topic", msg.topic,
				"unix_epoch", msg.unixEpoch,
				"latency", time.Since(msg.enqueuedAt),
			)
		}
	}
}

// send waits at most publishTimeout for the broker acknowledgment.
func (p *Publisher) send(msg outgoing) error {
	token := p.client.Publish(msg.topic, publishQoS, false, msg.payload)

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-timer.C:
		return fmt.Errorf("publish timeout for topic %s", msg.topic)
	case <-p.stopCh:
		return ErrStopped
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish telemetry: %w", err)
	}
	return nil
}

func (p *Publisher) Stats() Stats {
	return Stats{
		Queued:  p.queued.Load(),
		Sent:    p.sent.Load(),
		Failed:  p.failed.Load(),
		Dropped: p.dropped.Load(),
	}
}

func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	return connected && p.client.IsConnected()
}

// Disconnect stops the delivery worker and reconnect attempts and closes the
// connection. Records still queued are discarded. Safe to call more than once.
func (p *Publisher) Disconnect() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.workerDone

	if p.client != nil {
		p.client.Disconnect(250)
	}
	p.setConnected(false)
	p.logger.Info("mqtt publisher disconnected")
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}
