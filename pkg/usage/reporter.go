package usage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/harun/agentcore/internal/observability"
	"github.com/rs/zerolog"
)

const (
	defaultBufferSize  = 256
	defaultSendTimeout = 5 * time.Second
)

// Sink transports serialized records to target.
type Sink interface {
	Send(ctx context.Context, target string, body []byte) error
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithBufferSize sets how many records may wait for delivery.
func WithBufferSize(n int) Option {
	return func(r *Reporter) {
		if n > 0 {
			r.bufferSize = n
		}
	}
}

// WithSendTimeout bounds each Sink.Send.
func WithSendTimeout(d time.Duration) Option {
	return func(r *Reporter) {
		if d > 0 {
			r.sendTimeout = d
		}
	}
}

// WithLogger sets the reporter logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reporter) {
		r.logger = logger
	}
}

// Reporter queues records and delivers them from a single worker goroutine.
type Reporter struct {
	sink        Sink
	target      string
	bufferSize  int
	sendTimeout time.Duration
	logger      zerolog.Logger

	records chan Record
	done    chan struct{}

	// abort cuts a drain short when Close runs out of time.
	abort  context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewReporter starts a reporter that sends to target through sink.
func NewReporter(sink Sink, target string, opts ...Option) *Reporter {
	observability.EnsureRegistered()

	r := &Reporter{
		sink:        sink,
		target:      target,
		bufferSize:  defaultBufferSize,
		sendTimeout: defaultSendTimeout,
		logger:      zerolog.Nop(),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.records = make(chan Record, r.bufferSize)
	r.abort, r.cancel = context.WithCancel(context.Background())

	go r.run()
	return r
}

// Report enqueues record and returns immediately.
func (r *Reporter) Report(record Record) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.drop(record, "reporter closed")
		return
	}

	select {
	case r.records <- record:
		observability.SetUsageQueueDepth(len(r.records))
	default:
		r.drop(record, "buffer full")
	}
}

// Close stops intake and waits for buffered records to be sent. When ctx
// ends first the remaining records are dropped.
func (r *Reporter) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return nil
	}
	r.closed = true
	close(r.records)
	r.mu.Unlock()

	select {
	case <-r.done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-r.done
		return ctx.Err()
	}
}

func (r *Reporter) run() {
	defer close(r.done)

	for record := range r.records {
		observability.SetUsageQueueDepth(len(r.records))
		if r.abort.Err() != nil {
			r.drop(record, "shutdown deadline")
			continue
		}
		r.deliver(record)
	}
}

func (r *Reporter) deliver(record Record) {
	body, err := json.Marshal(record)
	if err != nil {
		observability.RecordUsageRecord("failed")
		r.logger.Error().Err(err).Str("record_id", record.ID).Msg("Failed to encode usage record")
		return
	}

	ctx, cancel := context.WithTimeout(r.abort, r.sendTimeout)
	defer cancel()

	if err := r.sink.Send(ctx, r.target, body); err != nil {
		observability.RecordUsageRecord("failed")
		r.logger.Error().
			Err(err).
			Str("record_id", record.ID).
			Str("target", r.target).
			Msg("Failed to send usage record")
		return
	}

	observability.RecordUsageRecord("sent")
	r.logger.Debug().
		Str("record_id", record.ID).
		Str("target", r.target).
		Msg("Usage record sent")
}

func (r *Reporter) drop(record Record, reason string) {
	observability.RecordUsageRecord("dropped")
	r.logger.Warn().
		Str("record_id", record.ID).
		Str("tenant_id", record.TenantID).
		Str("reason", reason).
		Msg("Usage record dropped")
}
