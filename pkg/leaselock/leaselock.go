package leaselock

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrBusy = errors.New("tenant lease held by another writer")
	ErrLost = errors.New("tenant lease lost")
)

const (
	defaultTTL          = 5 * time.Minute
	defaultWaitInterval = 250 * time.Millisecond
	renewAttempts       = 3
	renewTimeout        = 15 * time.Second
	renewRetryDelay     = 200 * time.Millisecond
)

// Conn is the subset of a pgx connection or pool used by the client.
type Conn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client hands out writer leases stored in the tenant_leases table. A lease
// is held until released or until it expires without renewal.
type Client struct {
	db Conn
}

// Options controls lease duration and waiting.
//
// RenewEvery defaults to half the TTL. With Wait set, Acquire polls every
// WaitInterval plus up to WaitJitter until the lease is free or ctx ends.
type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration

	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration

	TokenPrefix string
}

func (o Options) normalized() Options {
	if o.TTL < time.Millisecond {
		o.TTL = defaultTTL
	}
	if o.RenewEvery <= 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = max(o.TTL/2, time.Millisecond)
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = defaultWaitInterval
	}
	o.WaitJitter = max(o.WaitJitter, 0)
	return o
}

// Lease is a held writer lease. Context is cancelled with ErrLost as cause
// when renewal fails, so work bound to it stops before another holder starts.
type Lease struct {
	Key   string
	Token string

	Context context.Context

	client *Client
	ttlMs  int64
	cancel context.CancelCauseFunc

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(pool *pgxpool.Pool) *Client {
	return &Client{db: pool}
}

// NewWithConn builds a client on any connection satisfying Conn.
func NewWithConn(db Conn) *Client {
	return &Client{db: db}
}

// TenantKey returns the lease key guarding writes to a tenant graph.
func TenantKey(tenantID string) string {
	return "graph-writer:" + tenantID
}

// WithLease runs fn while holding the lease for key. If the lease is lost
// while fn runs, the returned error wraps ErrLost.
func (c *Client) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer lease.Release(context.Background())

	err = fn(lease.Context)
	if err != nil && errors.Is(context.Cause(lease.Context), ErrLost) {
		return errors.Join(err, ErrLost)
	}
	return err
}

// Acquire takes the lease for key. Without opts.Wait it fails fast with
// ErrBusy while another holder owns an unexpired lease.
func (c *Client) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" {
		return nil, errors.New("tenant lease key is empty")
	}
	opts = opts.normalized()

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	token := opts.TokenPrefix + id
	ttlMs := opts.TTL.Milliseconds()

	for {
		held, err := c.claim(ctx, key, token, ttlMs)
		if err != nil {
			return nil, err
		}
		if held {
			break
		}
		if !opts.Wait {
			return nil, ErrBusy
		}
		if err := pause(ctx, opts.WaitInterval, opts.WaitJitter); err != nil {
			return nil, err
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		Key:     key,
		Token:   token,
		Context: leaseCtx,
		client:  c,
		ttlMs:   ttlMs,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
	}
	go l.keepAlive(opts.RenewEvery)
	return l, nil
}

// claim inserts the lease row, or takes it over when expired or already ours.
func (c *Client) claim(ctx context.Context, key, token string, ttlMs int64) (bool, error) {
	var got string
	err := c.db.QueryRow(ctx, tryAcquireSQL, key, token, ttlMs).Scan(&got)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	case err != nil:
		return false, err
	}
	return got == key, nil
}

// Release stops renewal, cancels the lease context and deletes the row if
// it is still ours. Releasing twice is harmless.
func (l *Lease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.cancel(context.Canceled)
	})
	_, err := l.client.db.Exec(ctx, releaseSQL, l.Key, l.Token)
	return err
}

func (l *Lease) keepAlive(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-l.Context.Done():
			return
		case <-ticker.C:
			if err := l.renew(); err != nil {
				l.cancel(err)
				return
			}
		}
	}
}

// renew extends the expiry. A missing row means someone else took the
// lease; transient errors are retried a few times before giving up.
func (l *Lease) renew() error {
	var lastErr error
	for attempt := range renewAttempts {
		if attempt > 0 {
			if err := pause(l.Context, renewRetryDelay, 0); err != nil {
				return err
			}
		}
		ctx, cancel := context.WithTimeout(l.Context, renewTimeout)
		var got string
		err := l.client.db.QueryRow(ctx, renewSQL, l.Key, l.Token, l.ttlMs).Scan(&got)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLost
		}
		lastErr = err
	}
	return errors.Join(ErrLost, lastErr)
}

func pause(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter) + 1))
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const tryAcquireSQL = `
INSERT INTO tenant_leases (lease_key, holder, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (lease_key) DO UPDATE
SET holder     = EXCLUDED.holder,
    expires_at = EXCLUDED.expires_at
WHERE tenant_leases.expires_at < now()
   OR tenant_leases.holder = EXCLUDED.holder
RETURNING lease_key;
`

const renewSQL = `
UPDATE tenant_leases
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE lease_key = $1 AND holder = $2
RETURNING lease_key;
`

const releaseSQL = `
DELETE FROM tenant_leases
WHERE lease_key = $1 AND holder = $2;
`
