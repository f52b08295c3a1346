package history

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseSink writes history events into a MergeTree table using the
// native ClickHouse protocol. DSN example:
//
//	clickhouse://default:@localhost:9000/default
type ClickHouseSink struct {
	conn driver.Conn
}

func NewClickHouseSink(dsn string) (*ClickHouseSink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse ClickHouse DSN: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	ctx := context.Background()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS backend_history (
			occurred_at DateTime64(6),
			event String,
			pid Int64,
			port Int64,
			source String,
			command String,
			detail String
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, event)`)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create ClickHouse table: %w", err)
	}
	return &ClickHouseSink{conn: conn}, nil
}

func (s *ClickHouseSink) Send(ctx context.Context, e Event) error {
	rec := e.Record
	err := s.conn.Exec(ctx, `INSERT INTO backend_history (occurred_at, event, pid, port, source, command, detail) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.OccurredAt.UTC(), string(e.Type), int64(rec.PID), int64(rec.Port), rec.Source, rec.Command, rec.Detail)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *ClickHouseSink) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(ctx, `
		SELECT occurred_at, event, pid, port, source, command, detail
		FROM backend_history ORDER BY occurred_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Event
	for rows.Next() {
		var (
			e         Event
			typ       string
			pid, port int64
		)
		if err := rows.Scan(&e.OccurredAt, &typ, &pid, &port, &e.Record.Source, &e.Record.Command, &e.Record.Detail); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		e.Record.PID = int(pid)
		e.Record.Port = int(port)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *ClickHouseSink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
