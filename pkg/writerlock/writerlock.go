// Package writerlock enforces at-most-one-writer-per-document across worker
// processes. Locks live in Postgres as leases with an expiry, so a crashed
// worker's lock frees itself once the TTL passes instead of wedging the
// document forever.
package writerlock

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
	// ErrBusy means another worker holds the document's write lease.
	ErrBusy = errors.New("document write lease busy")
	// ErrLost means the lease expired or was taken over mid-write. The
	// holder's context is cancelled with this cause.
	ErrLost = errors.New("document write lease lost")
)

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client acquires write leases keyed by document ID.
type Client struct {
	db dbConn
}

// Options tunes lease behavior. Zero values get sensible defaults: a 2
// minute TTL renewed at half-life, no waiting.
type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration

	// Wait retries acquisition instead of returning ErrBusy.
	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration
}

// Lease is one held write lease. Context is cancelled with ErrLost as cause
// if renewal fails, so a long write aborts instead of racing a new holder.
type Lease struct {
	DocumentID string
	Token      string

	Context context.Context

	client *Client
	cancel context.CancelCauseFunc

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(pool *pgxpool.Pool) *Client {
	return &Client{db: pool}
}

// WithLease runs fn while holding the document's write lease and releases it
// afterwards. fn receives the lease context and must stop writing once it is
// cancelled.
func (c *Client) WithLease(ctx context.Context, documentID string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, documentID, opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = lease.Release(context.Background())
	}()
	return fn(lease.Context)
}

// Acquire takes the write lease for a document and starts renewing it in the
// background until released.
func (c *Client) Acquire(ctx context.Context, documentID string, opts Options) (*Lease, error) {
	if documentID == "" {
		return nil, errors.New("document ID is empty")
	}

	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Minute
	}
	ttlMs := opts.TTL.Milliseconds()
	if opts.RenewEvery <= 0 || opts.RenewEvery >= opts.TTL {
		opts.RenewEvery = max(opts.TTL/2, time.Second)
	}
	if opts.WaitInterval <= 0 {
		opts.WaitInterval = 250 * time.Millisecond
	}
	if opts.WaitJitter < 0 {
		opts.WaitJitter = 0
	}

	token, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	acquireOnce := func(ctx context.Context) (bool, error) {
		var returned string
		err := c.db.QueryRow(ctx, tryAcquireSQL, documentID, token, ttlMs).Scan(&returned)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return false, nil
			}
			return false, err
		}
		return returned != "", nil
	}

	for {
		ok, err := acquireOnce(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if !opts.Wait {
			return nil, ErrBusy
		}
		if err := sleepWithJitter(ctx, opts.WaitInterval, opts.WaitJitter); err != nil {
			return nil, err
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		DocumentID: documentID,
		Token:      token,
		Context:    leaseCtx,
		client:     c,
		cancel:     cancel,
		stopCh:     make(chan struct{}),
	}

	go l.renewLoop(opts, ttlMs)

	return l, nil
}

// Release drops the lease and stops the renew loop. Safe to call more than
// once.
func (l *Lease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.cancel(context.Canceled)
	})

	_, err := l.client.db.Exec(ctx, releaseSQL, l.DocumentID, l.Token)
	return err
}

func (l *Lease) renewLoop(opts Options, ttlMs int64) {
	t := time.NewTicker(opts.RenewEvery)
	defer t.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-l.Context.Done():
			return
		case <-t.C:
			if err := l.renewOnce(ttlMs); err != nil {
				l.cancel(err)
				return
			}
		}
	}
}

func (l *Lease) renewOnce(ttlMs int64) error {
	for attempt := range 3 {
		renewCtx, cancel := context.WithTimeout(l.Context, 15*time.Second)
		var returned string
		err := l.client.db.QueryRow(renewCtx, renewSQL, l.DocumentID, l.Token, ttlMs).Scan(&returned)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLost
		}
		if attempt == 2 {
			return err
		}
		if err := sleepWithJitter(l.Context, 200*time.Millisecond, 0); err != nil {
			return err
		}
	}
	return ErrLost
}

func sleepWithJitter(ctx context.Context, base, jitter time.Duration) error {
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
INSERT INTO document_write_locks (document_id, locked_by, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (document_id) DO UPDATE
SET locked_by  = EXCLUDED.locked_by,
    expires_at = EXCLUDED.expires_at
WHERE document_write_locks.expires_at < now()
   OR document_write_locks.locked_by = EXCLUDED.locked_by
RETURNING document_id;
`

const renewSQL = `
UPDATE document_write_locks
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE document_id = $1 AND locked_by = $2
RETURNING document_id;
`

const releaseSQL = `
DELETE FROM document_write_locks
WHERE document_id = $1 AND locked_by = $2;
`
