package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	insertPriceSQL = `INSERT INTO price_history (token, price, timestamp)
    VALUES ($1, $2, $3);`

	upsertPriceSQL = `INSERT INTO price_history (token, price, timestamp)
    VALUES ($1, $2, $3)
    ON CONFLICT (token, timestamp) DO UPDATE
    SET price = EXCLUDED.price;`

	queryPricesSQL = `SELECT token, price::text, timestamp
    FROM price_history
    WHERE token = $1
      AND timestamp >= $2
      AND timestamp <= $3
    ORDER BY timestamp ASC;`

	earliestPriceSinceSQL = `SELECT token, price::text, timestamp
    FROM price_history
    WHERE token = $1
      AND timestamp >= $2
    ORDER BY timestamp ASC
    LIMIT 1;`

	listRecentPricesSQL = `SELECT token, price::text, timestamp
    FROM price_history
    WHERE token = $1
    ORDER BY timestamp DESC
    LIMIT $2;`

	alertColumns = `id, symbol, threshold_percent::text, timeframe_minutes, active, status,
        created_at, updated_at, triggered_at`

	insertAlertSQL = `INSERT INTO alerts (symbol, threshold_percent, timeframe_minutes, active, status, created_at, updated_at)
    VALUES ($1, $2, $3, TRUE, 'pending', $4, $4)
    RETURNING ` + alertColumns + `;`

	findActiveAlertsSQL = `SELECT ` + alertColumns + `
    FROM alerts
    WHERE symbol = $1
      AND status = 'pending'
    ORDER BY created_at ASC, id ASC;`

	getAlertSQL = `SELECT ` + alertColumns + `
    FROM alerts
    WHERE id = $1;`

	markTriggeredSQL = `UPDATE alerts
    SET status = 'triggered', active = FALSE, triggered_at = $2, updated_at = $2
    WHERE id = $1
      AND status = 'pending';`

	markExpiredSQL = `UPDATE alerts
    SET status = 'expired', active = FALSE, updated_at = $2
    WHERE id = $1
      AND status = 'pending';`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`

	uniqueViolationCode = "23505"
)

// PriceHistoryStore defines operations for price sample persistence.
type PriceHistoryStore interface {
	AppendPrice(ctx context.Context, sample PriceSample) error
	UpsertPrice(ctx context.Context, sample PriceSample) error
	UpsertPrices(ctx context.Context, samples []PriceSample) (int, error)
	QueryPrices(ctx context.Context, symbol string, from, to time.Time) ([]PriceSample, error)
	QueryRecentPrices(ctx context.Context, symbol string, window time.Duration) ([]PriceSample, error)
	EarliestPriceSince(ctx context.Context, symbol string, from time.Time) (PriceSample, bool, error)
	ListRecentPrices(ctx context.Context, symbol string, limit int) ([]PriceSample, error)
}

// AlertStore defines operations for alert persistence and state transitions.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert NewAlert) (Alert, error)
	FindActiveAlerts(ctx context.Context, symbol string) ([]Alert, error)
	MarkTriggered(ctx context.Context, id int64, at time.Time) error
	MarkExpired(ctx context.Context, id int64, at time.Time) error
	ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error)
	GetAlert(ctx context.Context, id int64) (Alert, error)
}

// AdvisoryLocker hands out a cluster-wide lock so only one instance drives the periodic jobs.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Repository is the full persistence surface used by the application.
type Repository interface {
	PriceHistoryStore
	AlertStore
	Close()
}

// Store is the PostgreSQL backed Repository.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var (
	_ Repository     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock pins a pooled connection holding the session lock until unlock is called.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, Fail("acquire connection", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, Fail("try advisory lock", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// session locks die with the connection, so a failed unlock destroys it.
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// AppendPrice inserts a sample and reports ErrDuplicateKey when (symbol, timestamp) exists.
func (s *Store) AppendPrice(ctx context.Context, sample PriceSample) error {
	if err := ValidateSample(sample); err != nil {
		return err
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, insertPriceSQL, sample.Symbol, sample.Price.String(), sample.Timestamp.UTC()); err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("append price %s@%s: %w", sample.Symbol, sample.Timestamp.UTC().Format(time.RFC3339), ErrDuplicateKey)
		}
		return Fail("append price", err)
	}
	return nil
}

// UpsertPrice inserts a sample or overwrites the price stored at (symbol, timestamp).
func (s *Store) UpsertPrice(ctx context.Context, sample PriceSample) error {
	if err := ValidateSample(sample); err != nil {
		return err
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, upsertPriceSQL, sample.Symbol, sample.Price.String(), sample.Timestamp.UTC()); err != nil {
		return Fail("upsert price", err)
	}
	return nil
}

// UpsertPrices upserts a batch of samples inside one transaction.
func (s *Store) UpsertPrices(ctx context.Context, samples []PriceSample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	for _, sample := range samples {
		if err := ValidateSample(sample); err != nil {
			return 0, err
		}
	}
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, Fail("begin upsert prices", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, sample := range samples {
		batch.Queue(upsertPriceSQL, sample.Symbol, sample.Price.String(), sample.Timestamp.UTC())
	}
	results := tx.SendBatch(ctx, batch)
	for range samples {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return 0, Fail("upsert prices", err)
		}
	}
	if err := results.Close(); err != nil {
		return 0, Fail("upsert prices", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, Fail("commit upsert prices", err)
	}
	return len(samples), nil
}

// QueryPrices lists samples with from <= timestamp <= to in ascending order.
func (s *Store) QueryPrices(ctx context.Context, symbol string, from, to time.Time) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, queryPricesSQL, symbol, from.UTC(), to.UTC())
	if err != nil {
		return nil, Fail("query prices", err)
	}
	return collectSamples(rows, "query prices")
}

// QueryRecentPrices lists the samples of the trailing window ending now.
func (s *Store) QueryRecentPrices(ctx context.Context, symbol string, window time.Duration) ([]PriceSample, error) {
	now := s.now().UTC()
	return s.QueryPrices(ctx, symbol, now.Add(-window), now)
}

// EarliestPriceSince returns the first sample at or after from.
func (s *Store) EarliestPriceSince(ctx context.Context, symbol string, from time.Time) (PriceSample, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return PriceSample{}, false, err
	}
	sample, err := scanSample(pool.QueryRow(ctx, earliestPriceSinceSQL, symbol, from.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return PriceSample{}, false, nil
	}
	if err != nil {
		return PriceSample{}, false, Fail("earliest price since", err)
	}
	return sample, true, nil
}

// ListRecentPrices lists the newest samples of a symbol, newest first.
func (s *Store) ListRecentPrices(ctx context.Context, symbol string, limit int) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listRecentPricesSQL, symbol, limit)
	if err != nil {
		return nil, Fail("list recent prices", err)
	}
	return collectSamples(rows, "list recent prices")
}

// CreateAlert persists a pending alert and returns it with its assigned id.
func (s *Store) CreateAlert(ctx context.Context, alert NewAlert) (Alert, error) {
	if err := ValidateNewAlert(alert); err != nil {
		return Alert{}, err
	}
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}
	created := alert.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	rec, err := scanAlert(pool.QueryRow(ctx, insertAlertSQL,
		alert.Symbol,
		alert.ThresholdPercent.String(),
		alert.TimeframeMinutes,
		created.UTC(),
	))
	if err != nil {
		return Alert{}, Fail("create alert", err)
	}
	return rec, nil
}

// FindActiveAlerts lists pending alerts of a symbol, oldest first.
func (s *Store) FindActiveAlerts(ctx context.Context, symbol string) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, findActiveAlertsSQL, symbol)
	if err != nil {
		return nil, Fail("find active alerts", err)
	}
	return collectAlerts(rows, "find active alerts")
}

// MarkTriggered moves a pending alert to triggered.
func (s *Store) MarkTriggered(ctx context.Context, id int64, at time.Time) error {
	return s.transition(ctx, "mark triggered", markTriggeredSQL, id, at)
}

// MarkExpired moves a pending alert to expired.
func (s *Store) MarkExpired(ctx context.Context, id int64, at time.Time) error {
	return s.transition(ctx, "mark expired", markExpiredSQL, id, at)
}

func (s *Store) transition(ctx context.Context, op, query string, id int64, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, query, id, at.UTC())
	if err != nil {
		return Fail(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s alert %d: %w", op, id, ErrAlertNotPending)
	}
	return nil
}

// ListAlerts lists alerts matching the filter, pending first and newest first.
func (s *Store) ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	query, args := buildListAlertsQuery(filter)
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, Fail("list alerts", err)
	}
	return collectAlerts(rows, "list alerts")
}

// GetAlert loads one alert by id.
func (s *Store) GetAlert(ctx context.Context, id int64) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}
	rec, err := scanAlert(pool.QueryRow(ctx, getAlertSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Alert{}, fmt.Errorf("alert %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Alert{}, Fail("get alert", err)
	}
	return rec, nil
}

func buildListAlertsQuery(filter AlertFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.Active != nil {
		args = append(args, *filter.Active)
		conds = append(conds, fmt.Sprintf("active = $%d", len(args)))
	}
	if filter.Symbol != "" {
		args = append(args, filter.Symbol)
		conds = append(conds, fmt.Sprintf("symbol = $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(alertColumns)
	b.WriteString("\n    FROM alerts")
	if len(conds) > 0 {
		b.WriteString("\n    WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString("\n    ORDER BY (status = 'pending') DESC, created_at DESC, id ASC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, "\n    LIMIT $%d", len(args))
	}
	return b.String(), args
}

func collectSamples(rows pgx.Rows, op string) ([]PriceSample, error) {
	defer rows.Close()
	samples := make([]PriceSample, 0)
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, Fail(op, err)
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, Fail(op, err)
	}
	return samples, nil
}

func scanSample(row pgx.Row) (PriceSample, error) {
	var (
		sample   PriceSample
		priceStr string
	)
	if err := row.Scan(&sample.Symbol, &priceStr, &sample.Timestamp); err != nil {
		return PriceSample{}, err
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceSample{}, fmt.Errorf("parse price: %w", err)
	}
	sample.Price = price
	sample.Timestamp = sample.Timestamp.UTC()
	return sample, nil
}

func collectAlerts(rows pgx.Rows, op string) ([]Alert, error) {
	defer rows.Close()
	alerts := make([]Alert, 0)
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, Fail(op, err)
		}
		alerts = append(alerts, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, Fail(op, err)
	}
	return alerts, nil
}

func scanAlert(row pgx.Row) (Alert, error) {
	var (
		rec          Alert
		thresholdStr string
		status       string
		triggeredAt  *time.Time
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Symbol,
		&thresholdStr,
		&rec.TimeframeMinutes,
		&rec.Active,
		&status,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&triggeredAt,
	); err != nil {
		return Alert{}, err
	}
	threshold, err := decimal.NewFromString(thresholdStr)
	if err != nil {
		return Alert{}, fmt.Errorf("parse threshold percent: %w", err)
	}
	rec.ThresholdPercent = threshold
	rec.Status = AlertStatus(status)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if triggeredAt != nil {
		t := triggeredAt.UTC()
		rec.TriggeredAt = &t
	}
	return rec, nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// ValidateSample checks a sample against the data model.
func ValidateSample(sample PriceSample) error {
	switch {
	case sample.Symbol == "":
		return fmt.Errorf("price sample: empty symbol: %w", ErrInvalidInput)
	case !sample.Price.IsPositive():
		return fmt.Errorf("price sample %s: price must be positive: %w", sample.Symbol, ErrInvalidInput)
	case sample.Timestamp.IsZero():
		return fmt.Errorf("price sample %s: zero timestamp: %w", sample.Symbol, ErrInvalidInput)
	}
	return nil
}

// ValidateNewAlert checks the caller supplied fields of an alert.
func ValidateNewAlert(alert NewAlert) error {
	switch {
	case alert.Symbol == "":
		return fmt.Errorf("alert: empty symbol: %w", ErrInvalidInput)
	case !alert.ThresholdPercent.IsPositive():
		return fmt.Errorf("alert: threshold percent must be positive: %w", ErrInvalidInput)
	case alert.TimeframeMinutes < 1:
		return fmt.Errorf("alert: timeframe minutes must be at least 1: %w", ErrInvalidInput)
	case alert.TimeframeMinutes > MaxTimeframeMinutes:
		return fmt.Errorf("alert: timeframe minutes must be at most %d: %w", MaxTimeframeMinutes, ErrInvalidInput)
	}
	return nil
}
