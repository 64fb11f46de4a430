package archive

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/radiusdt/affiliate-ledger/internal/config"
	"github.com/radiusdt/affiliate-ledger/internal/metrics"
	"go.uber.org/zap"
)

const (
	defaultQueueSize = 10000
	defaultBatchSize = 1000
	flushInterval    = time.Second
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// batchWriter is the part of a ClickHouse connection the sink uses.
type batchWriter interface {
	write(ctx context.Context, events []Event) error
	close() error
}

// ClickHouseSink buffers events and inserts them in batches.
type ClickHouseSink struct {
	writer  batchWriter
	queue   chan Event
	logger  *zap.Logger
	metrics *metrics.Metrics

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

// NewClickHouseSink connects, creates the events table and starts the flusher.
func NewClickHouseSink(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger, m *metrics.Metrics) (*ClickHouseSink, error) {
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid archive table name %q", cfg.Table)
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	w := &clickhouseWriter{conn: conn, table: cfg.Table}
	if err := w.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("connected to ClickHouse archive",
		zap.String("addr", cfg.Addr),
		zap.String("database", cfg.Database),
		zap.String("table", cfg.Table),
	)

	return newSink(w, defaultQueueSize, logger, m), nil
}

func newSink(w batchWriter, queueSize int, logger *zap.Logger, m *metrics.Metrics) *ClickHouseSink {
	s := &ClickHouseSink{
		writer:  w,
		queue:   make(chan Event, queueSize),
		logger:  logger,
		metrics: m,
		stop:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Offer enqueues e, dropping it when the queue is full.
func (s *ClickHouseSink) Offer(e Event) {
	select {
	case <-s.stop:
		return
	default:
	}
	select {
	case s.queue <- e:
	default:
		s.record("dropped", 1)
	}
}

// Close flushes queued events and closes the connection.
func (s *ClickHouseSink) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	return s.writer.close()
}

func (s *ClickHouseSink) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, defaultBatchSize)
	for {
		select {
		case e := <-s.queue:
			batch = append(batch, e)
			if len(batch) >= defaultBatchSize {
				batch = s.flush(batch)
			}
		case <-ticker.C:
			batch = s.flush(batch)
		case <-s.stop:
			for {
				select {
				case e := <-s.queue:
					batch = append(batch, e)
				default:
					s.flush(batch)
					return
				}
			}
		}
	}
}

func (s *ClickHouseSink) flush(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.writer.write(ctx, batch); err != nil {
		s.logger.Warn("failed to archive events",
			zap.Int("events", len(batch)),
			zap.Error(err),
		)
		s.record("error", len(batch))
	} else {
		s.record("ok", len(batch))
	}
	return batch[:0]
}

func (s *ClickHouseSink) record(result string, n int) {
	if s.metrics != nil {
		s.metrics.RecordArchive(result, n)
	}
}

type clickhouseWriter struct {
	conn  driver.Conn
	table string
}

func (w *clickhouseWriter) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			event_type   LowCardinality(String),
			click_id     String,
			affiliate_id String,
			link_id      String,
			country      LowCardinality(String),
			value        Float64,
			ts           DateTime64(3, 'UTC')
		) ENGINE = MergeTree
		PARTITION BY toYYYYMM(ts)
		ORDER BY (affiliate_id, ts)
	`, w.table)
	if err := w.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create archive table: %w", err)
	}
	return nil
}

func (w *clickhouseWriter) write(ctx context.Context, events []Event) error {
	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+w.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, e := range events {
		if err := batch.Append(e.Type, e.ClickID, e.AffiliateID, e.LinkID, e.Country, e.Value, e.Timestamp.UTC()); err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
	}
	return batch.Send()
}

func (w *clickhouseWriter) close() error {
	return w.conn.Close()
}
