package payment

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/upachar/libs/db"
)

// CheckoutStatus is the provider's current view of a checkout session.
type CheckoutStatus struct {
	SessionID     string
	Status        string
	PaymentStatus string
	AmountTotal   int64
}

type SessionLookup interface {
	LookupSession(ctx context.Context, sessionID string) (CheckoutStatus, error)
}

// PendingSessions lists checkout session ids held by unpaid pending appointments that were
// last touched before the cutoff.
type PendingSessions interface {
	StaleCardSessions(ctx context.Context, before time.Time, limit int) ([]string, error)
}

type ReconcilerConfig struct {
	// MinAge keeps the reconciler away from sessions the patient may still be completing.
	MinAge          time.Duration
	BatchSize       int
	AdvisoryLockKey int64
	Now             func() time.Time
}

// Reconciler settles card payments whose checkout.session.completed webhook was lost. It
// polls the provider for stale sessions and applies paid ones through the same path as the
// webhook, keyed by a synthetic provider event id so each session settles once.
type Reconciler struct {
	svc      *Service
	pending  PendingSessions
	lookup   SessionLookup
	sessions db.SessionSource
	logger   *slog.Logger
	cfg      ReconcilerConfig
}

func NewReconciler(svc *Service, pending PendingSessions, lookup SessionLookup, sessions db.SessionSource, logger *slog.Logger, cfg ReconcilerConfig) *Reconciler {
	if cfg.MinAge <= 0 {
		cfg.MinAge = 30 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.AdvisoryLockKey == 0 {
		cfg.AdvisoryLockKey = 4242001
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{svc: svc, pending: pending, lookup: lookup, sessions: sessions, logger: logger, cfg: cfg}
}

// Run reconciles every interval while holding a postgres advisory lock, so only one booking
// instance polls the provider. The lock lives on a dedicated connection held for as long as
// this instance leads; losing that connection drops leadership and Run competes again.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	for {
		wait := r.lead(ctx, interval)
		if ctx.Err() != nil || !sleep(ctx, wait) {
			return
		}
	}
}

// lead reconciles while it holds the lock and returns how long to back off before trying
// again.
func (r *Reconciler) lead(ctx context.Context, interval time.Duration) time.Duration {
	sess, err := r.sessions.AcquireSession(ctx)
	if err != nil {
		r.logger.Error("stripe reconcile: acquire connection failed", "err", err)
		return 5 * time.Second
	}
	defer sess.Release()

	locked, err := db.TryAdvisoryLock(ctx, sess, r.cfg.AdvisoryLockKey)
	if err != nil {
		r.logger.Error("stripe reconcile: advisory lock failed", "err", err)
		return 5 * time.Second
	}
	if !locked {
		return 30 * time.Second
	}
	r.logger.Info("stripe reconcile: advisory lock acquired", "lock_key", r.cfg.AdvisoryLockKey)
	defer func() {
		_ = db.AdvisoryUnlock(context.Background(), sess, r.cfg.AdvisoryLockKey)
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	r.ReconcileOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return 0
		case <-ticker.C:
			if _, err := sess.Exec(ctx, `SELECT 1`); err != nil {
				if ctx.Err() != nil {
					return 0
				}
				r.logger.Warn("stripe reconcile: lock connection lost", "err", err)
				return 5 * time.Second
			}
			r.ReconcileOnce(ctx)
		}
	}
}

// ReconcileOnce checks one batch of stale sessions and returns how many were booked.
func (r *Reconciler) ReconcileOnce(ctx context.Context) int {
	ids, err := r.pending.StaleCardSessions(ctx, r.cfg.Now().Add(-r.cfg.MinAge), r.cfg.BatchSize)
	if err != nil {
		r.logger.Error("stripe reconcile: list sessions failed", "err", err)
		return 0
	}
	paid := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return paid
		}
		st, err := r.lookup.LookupSession(ctx, id)
		if err != nil {
			r.logger.Warn("stripe reconcile: lookup failed", "err", err, "session_id", id)
			continue
		}
		if st.PaymentStatus != "paid" {
			continue
		}
		res, err := r.svc.settleCheckout(ctx, WebhookEvent{
			ID:            "reconcile:" + id,
			Type:          EventCheckoutCompleted,
			SessionID:     id,
			PaymentStatus: st.PaymentStatus,
			AmountTotal:   st.AmountTotal,
		}, []byte(`{"source":"reconcile"}`))
		if err != nil {
			r.logger.Warn("stripe reconcile: settle failed", "err", err, "session_id", id)
			continue
		}
		r.svc.metrics.ObservePayment(stripeMethod, "reconcile", string(res.Outcome))
		if res.Outcome == SettlePaid {
			paid++
			r.logger.Info("stripe reconcile: appointment booked", "appointment_id", res.AppointmentID, "session_id", id)
		}
	}
	return paid
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
