package db

import "context"

// Session is one pooled connection held until Release. Session-level state such as
// advisory locks lives on it, not on the pool.
type Session interface {
	Querier
	Release()
}

type SessionSource interface {
	AcquireSession(ctx context.Context) (Session, error)
}

// AcquireSession checks out a dedicated connection. *pgxpool.Conn already satisfies Session.
func (p *Pool) AcquireSession(ctx context.Context) (Session, error) {
	c, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// TryAdvisoryLock takes the session-level lock key on s without waiting.
func TryAdvisoryLock(ctx context.Context, s Session, key int64) (bool, error) {
	var locked bool
	err := s.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&locked)
	return locked, err
}

func AdvisoryUnlock(ctx context.Context, s Session, key int64) error {
	_, err := s.Exec(ctx, `SELECT pg_advisory_unlock($1)`, key)
	return err
}
