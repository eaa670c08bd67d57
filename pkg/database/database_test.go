package database

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: 5433, User: "u", Password: "p", DBName: "campaigns", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5433/campaigns?sslmode=disable", cfg.DSN())
}

func TestRetryBackoff_Bounds(t *testing.T) {
	for attempt := 0; attempt < 3; attempt++ {
		base := defaultRetryBaseWait << attempt
		d := retryBackoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.75))
		assert.LessOrEqual(t, d, time.Duration(float64(base)*1.25))
	}
}

func TestWithRetry_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	sqlErr := errors.New("syntax error at or near")
	err := withRetry(context.Background(), discardLogger(), "op", isConnectionError, func() error {
		calls++
		return sqlErr
	})
	assert.ErrorIs(t, err, sqlErr)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := withRetry(ctx, nil, "op", func(error) bool { return true }, func() error {
		return errors.New("dial tcp: connection refused")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsConnectionError(t *testing.T) {
	assert.True(t, isConnectionError(errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")))
	assert.False(t, isConnectionError(errors.New(`relation "campaigns" does not exist`)))
	assert.False(t, isConnectionError(nil))
}

func TestRunMigrations_AppliesPendingInOrder(t *testing.T) {
	mock, err := NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	migrations := fstest.MapFS{
		"002_ledger.up.sql":      {Data: []byte("CREATE TABLE campaign_ledger (id TEXT)")},
		"001_campaigns.up.sql":   {Data: []byte("CREATE TABLE campaigns (id TEXT)")},
		"001_campaigns.down.sql": {Data: []byte("DROP TABLE campaigns")},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	mock.ExpectQuery("SELECT EXISTS").WithArgs("001_campaigns.up.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	mock.ExpectQuery("SELECT EXISTS").WithArgs("002_ledger.up.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE campaign_ledger").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("002_ledger.up.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err = RunMigrations(context.Background(), mock, migrations, discardLogger())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_SQLErrorRollsBack(t *testing.T) {
	mock, err := NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	migrations := fstest.MapFS{"001_bad.up.sql": {Data: []byte("CREATE TABLE oops(")}}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("001_bad.up.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE oops").WillReturnError(errors.New("syntax error at end of input"))
	mock.ExpectRollback()

	err = RunMigrations(context.Background(), mock, migrations, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute migration 001_bad.up.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingMigrations_FiltersAndSorts(t *testing.T) {
	names, err := PendingMigrations(fstest.MapFS{
		"003_c.up.sql":   {},
		"001_a.up.sql":   {},
		"001_a.down.sql": {},
		"README.md":      {},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a.up.sql", "003_c.up.sql"}, names)
}

func TestWithTx_CommitAndRollback(t *testing.T) {
	mock, err := NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, WithTx(context.Background(), mock, func(_ pgx.Tx) error { return nil }))

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()
	assert.ErrorIs(t, WithTx(context.Background(), mock, func(_ pgx.Tx) error { return boom }), boom)

	assert.NoError(t, mock.ExpectationsWereMet())
}

type fakeStat struct{}

func (fakeStat) AcquiredConns() int32        { return 3 }
func (fakeStat) IdleConns() int32            { return 2 }
func (fakeStat) TotalConns() int32           { return 5 }
func (fakeStat) MaxConns() int32             { return 25 }
func (fakeStat) AcquireCount() int64         { return 100 }
func (fakeStat) EmptyAcquireCount() int64    { return 4 }
func (fakeStat) CanceledAcquireCount() int64 { return 1 }

func TestPoolStatsCollector(t *testing.T) {
	c := newPoolStatsCollector(func() poolStat { return fakeStat{} }, "campaign-engine")

	assert.Equal(t, 7, testutil.CollectAndCount(c))

	expected := `
# HELP db_pool_max_connections Maximum number of connections allowed
# TYPE db_pool_max_connections gauge
db_pool_max_connections{service="campaign-engine"} 25
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "db_pool_max_connections"))
}
