package ariston

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bridge exposes an engine over MQTT. It handles:
//   - Publishing retained state messages for every parameter change
//   - Executing set commands received on the command topic and publishing acks
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	id     string
	mqtt   MQTTClient
	engine Controller
	health *HealthReporter

	// Coalesced state updates waiting to be published
	pending   map[string]Entry
	pendingMu sync.Mutex
	wake      chan struct{}

	// Last published value per key, for change detection
	published   map[string]any
	publishedMu sync.Mutex

	unsubscribe func()

	// Shutdown coordination. Commands are admitted under runMu so none is
	// added to wg once Stop has started waiting.
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	runMu     sync.Mutex
	stopping  bool
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// Controller is the engine surface used by the bridge and the API.
// *Engine satisfies it.
type Controller interface {
	HealthSource
	Submit(ctx context.Context, req SetRequest) SetResults
	Snapshot() map[string]Entry
	Subscribe(fn func([]Change)) func()
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// ID names this bridge in topics. Required.
	ID string

	// Version is reported in health messages.
	Version string

	// HealthInterval is how often health is published.
	HealthInterval time.Duration

	MQTTClient MQTTClient
	Engine     Controller

	// Logger is optional.
	Logger Logger
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("bridge id is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		id:        opts.ID,
		mqtt:      opts.MQTTClient,
		engine:    opts.Engine,
		pending:   make(map[string]Entry),
		wake:      make(chan struct{}, 1),
		published: make(map[string]any),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.ID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Source:    opts.Engine,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to the command topic, publishes the current snapshot and
// begins forwarding changes and health.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	topic := CommandTopic(b.id)
	if err := b.mqtt.Subscribe(topic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", topic)

	b.unsubscribe = b.engine.Subscribe(b.enqueue)

	b.wg.Add(1)
	go b.publishLoop()

	snapshot := b.engine.Snapshot()
	for key, entry := range snapshot {
		b.enqueue([]Change{{Key: key, Entry: entry}})
	}

	b.health.Start(ctx)
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health", err)
	}

	b.logInfo("bridge started", "bridge_id", b.id, "parameters", len(snapshot))
	return nil
}

// Stop waits for in-flight commands and stops publishing.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.runMu.Lock()
		b.stopping = true
		b.runMu.Unlock()

		if b.unsubscribe != nil {
			b.unsubscribe()
		}
		close(b.done)
		b.ctxCancel()
		b.health.Stop()
		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// enqueue records changes for the publish loop. It runs on the cache
// writer's goroutine so it never blocks.
func (b *Bridge) enqueue(changes []Change) {
	b.pendingMu.Lock()
	for _, c := range changes {
		b.pending[c.Key] = c.Entry
	}
	b.pendingMu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) publishLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
			b.flush()
		}
	}
}

// flush publishes every queued entry whose value differs from the last one
// published for its key.
func (b *Bridge) flush() {
	b.pendingMu.Lock()
	batch := b.pending
	b.pending = make(map[string]Entry, len(batch))
	b.pendingMu.Unlock()

	keys := make([]string, 0, len(batch))
	for k := range batch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		entry := batch[key]
		if b.stateUnchanged(key, entry.Value) {
			continue
		}

		payload, err := json.Marshal(NewStateMessage(b.id, key, entry))
		if err != nil {
			b.logError("failed to marshal state", err)
			continue
		}
		if err := b.mqtt.Publish(StateTopic(b.id, key), payload, 1, true); err != nil {
			b.forget(key)
			b.logError("failed to publish state", err)
		}
	}
}

// stateUnchanged reports whether value was already published for key, and
// records it otherwise.
func (b *Bridge) stateUnchanged(key string, value any) bool {
	b.publishedMu.Lock()
	defer b.publishedMu.Unlock()

	if prev, ok := b.published[key]; ok && valuesEqual(prev, value) {
		return true
	}
	b.published[key] = value
	return false
}

// forget drops the published record so the next change is sent again.
func (b *Bridge) forget(key string) {
	b.publishedMu.Lock()
	delete(b.published, key)
	b.publishedMu.Unlock()
}

// handleMQTTMessage parses a set command and executes it asynchronously.
func (b *Bridge) handleMQTTMessage(_ string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if len(cmd.Parameters) == 0 {
		b.publishAck(NewAckError(cmd.ID, ErrCodeInvalidCommand, "no parameters"))
		return
	}

	b.runMu.Lock()
	if b.stopping {
		b.runMu.Unlock()
		b.publishAck(NewAckError(cmd.ID, ErrCodeNotRunning, "bridge stopping"))
		return
	}
	b.wg.Add(1)
	b.runMu.Unlock()

	b.logInfo("received command", "command_id", cmd.ID, "parameters", len(cmd.Parameters))

	go func() {
		defer b.wg.Done()
		source := cmd.Source
		if source == "" {
			source = SourceMQTT
		}
		results := b.engine.Submit(b.ctx, SetRequest{
			ID:      cmd.ID,
			Source:  source,
			Changes: cmd.Parameters,
		})
		if err := results.Err(); err != nil {
			b.logInfo("command completed with failures", "command_id", cmd.ID, "error", err)
		}
		b.publishAck(NewAckMessage(cmd.ID, results))
	}()
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(b.id, ack.CommandID), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.health.SetLogger(logger)
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
