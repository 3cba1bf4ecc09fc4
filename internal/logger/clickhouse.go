package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const insertRequestLogs = `INSERT INTO request_logs
	(id, tool, model, input_tokens, output_tokens, latency_ms, status, cached, created_at)`

// ClickHouseSink batch-inserts request logs into the request_logs table.
type ClickHouseSink struct {
	conn driver.Conn
}

// NewClickHouseSink connects to the ClickHouse native endpoint at addr,
// verifies the connection with a ping, and returns a Sink.
func NewClickHouseSink(ctx context.Context, addr, database string) (*ClickHouseSink, error) {
	if database == "" {
		database = "default"
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{Database: database},
		Settings: clickhouse.Settings{
			// Request logs are fire-and-forget; don't wait for merges.
			"async_insert": 1,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}

	return &ClickHouseSink{conn: conn}, nil
}

// Write inserts one batch of request logs.
func (s *ClickHouseSink) Write(ctx context.Context, batch []RequestLog) error {
	b, err := s.conn.PrepareBatch(ctx, insertRequestLogs)
	if err != nil {
		return fmt.Errorf("clickhouse: prepare batch: %w", err)
	}

	for _, e := range batch {
		if err := b.Append(
			e.ID,
			e.Tool,
			e.Model,
			e.InputTokens,
			e.OutputTokens,
			e.LatencyMs,
			e.Status,
			e.Cached,
			normalizeTime(e.CreatedAt),
		); err != nil {
			return fmt.Errorf("clickhouse: append: %w", err)
		}
	}

	if err := b.Send(); err != nil {
		return fmt.Errorf("clickhouse: send: %w", err)
	}
	return nil
}

// Close releases the ClickHouse connection.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
