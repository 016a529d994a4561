package jobs

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// captureConn records the fully rendered SQL bun sends to the driver. bun
// formats placeholder arguments into literals client side, so the captured
// text is exactly what Postgres would parse.
type captureConn struct {
	mu      sync.Mutex
	queries []string
}

func (c *captureConn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (c *captureConn) Close() error                        { return nil }
func (c *captureConn) Begin() (driver.Tx, error)           { return nil, driver.ErrSkip }

func (c *captureConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, query)
	return driver.RowsAffected(1), nil
}

func (c *captureConn) captured() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.queries...)
}

type captureConnector struct {
	conn *captureConn
}

func (c *captureConnector) Connect(context.Context) (driver.Conn, error) { return c.conn, nil }
func (c *captureConnector) Driver() driver.Driver                       { return captureDriver{c.conn} }

type captureDriver struct {
	conn *captureConn
}

func (d captureDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

func captureBroker(defaults Options) (*PostgresBroker, *captureConn) {
	conn := &captureConn{}
	sqldb := sql.OpenDB(&captureConnector{conn: conn})
	db := bun.NewDB(sqldb, pgdialect.New())
	return NewPostgresBroker(db, defaults, testLogger()), conn
}

func TestPostgresBroker_EnqueueRendersPayloadAsJSONText(t *testing.T) {
	b, conn := captureBroker(Options{})

	payload, err := Encode(KindEmailSend, &EmailSendPayload{To: "a@b.c", Subject: "s"})
	require.NoError(t, err)

	_, err = b.Enqueue(context.Background(), QueueEmail, payload, Options{})
	require.NoError(t, err)

	queries := conn.captured()
	require.Len(t, queries, 1)
	// The jsonb column needs a quoted JSON literal, not a bytea hex literal
	assert.Contains(t, queries[0], `'{"kind":"email.send"`)
	assert.NotContains(t, queries[0], `'\x`)
}

func TestPostgresBroker_DedupeEnqueueRendersPayloadAsJSONText(t *testing.T) {
	b, conn := captureBroker(Options{})

	payload, err := Encode(KindEarningsUpdate, &EarningsUpdatePayload{
		InstructorID: "i1", TotalAmount: 100, SaleRef: "evt_1",
	})
	require.NoError(t, err)

	_, err = b.Enqueue(context.Background(), QueueEarnings, payload, Options{DedupeKey: "earnings-evt_1"})
	require.NoError(t, err)

	queries := conn.captured()
	require.Len(t, queries, 1)
	assert.Contains(t, queries[0], `'{"kind":"earnings.update"`)
	assert.NotContains(t, queries[0], `'\x`)
}

func TestPostgresBroker_EnqueueUsesConfiguredRetryDefaults(t *testing.T) {
	b, conn := captureBroker(Options{MaxAttempts: 7, BackoffMs: 250})

	_, err := b.Enqueue(context.Background(), QueueEmail, testPayload(t), Options{})
	require.NoError(t, err)

	queries := conn.captured()
	require.Len(t, queries, 1)
	assert.Contains(t, queries[0], "7, 250,")
}
