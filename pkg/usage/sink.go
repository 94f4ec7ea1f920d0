package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const defaultFlushTimeout = 5 * time.Second

// NATSSink publishes records on a NATS subject.
type NATSSink struct {
	conn  *nats.Conn
	owned bool
}

// NewNATSSink wraps an existing connection. Close leaves it open.
func NewNATSSink(conn *nats.Conn) *NATSSink {
	return &NATSSink{conn: conn}
}

// ConnectNATS dials url and returns a sink that owns the connection.
func ConnectNATS(url, name string, logger zerolog.Logger) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	logger.Info().Str("url", conn.ConnectedUrl()).Msg("Connected to NATS")
	return &NATSSink{conn: conn, owned: true}, nil
}

// Send publishes body on subject and flushes so delivery errors surface.
func (s *NATSSink) Send(ctx context.Context, subject string, body []byte) error {
	if subject == "" {
		return fmt.Errorf("publish: empty subject")
	}
	if err := s.conn.Publish(subject, body); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	if _, ok := ctx.Deadline(); ok {
		if err := s.conn.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("flush %s: %w", subject, err)
		}
		return nil
	}
	if err := s.conn.FlushTimeout(defaultFlushTimeout); err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection when the sink dialed it.
func (s *NATSSink) Close() error {
	if !s.owned {
		return nil
	}
	return s.conn.Drain()
}

// LogSink writes records to a logger; used when no queue is configured.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink writing to logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Send logs body as a raw JSON field.
func (s *LogSink) Send(_ context.Context, target string, body []byte) error {
	s.logger.Info().
		Str("target", target).
		RawJSON("usage_record", body).
		Msg("Usage record")
	return nil
}
