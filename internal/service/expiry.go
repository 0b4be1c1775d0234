package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/upkab/approval-api/internal/database"
	"github.com/upkab/approval-api/internal/enum"
	"github.com/upkab/approval-api/internal/metrics"
	"github.com/upkab/approval-api/internal/workflow"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotExpirable means the entity no longer qualifies for expiry, e.g.
	// a recipient status was recorded or it was already canceled.
	ErrNotExpirable = errors.New("not expirable")
	// ErrSweepInProgress means another instance holds the sweep lock.
	ErrSweepInProgress = errors.New("expiry sweep already running")
)

// EntityRef names one entity of one workflow kind.
type EntityRef struct {
	Kind enum.Kind `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

// Expire cancels an overdue booking order on behalf of the system principal.
// It is idempotent: an entity that no longer qualifies returns
// ErrNotExpirable and nothing is written.
func (s *ApprovalService) Expire(ctx context.Context, ref EntityRef, systemActor uuid.UUID) (*TransitionResult, error) {
	req := TransitionRequest{Kind: ref.Kind, EntityID: ref.ID, ActorID: systemActor}
	who := actor{id: systemActor, system: true}
	now := s.now()
	return s.execute(ctx, enum.ActionExpire, req, who, func(def *workflow.Definition, cur database.Approvable, _ actor) (change, error) {
		return planExpire(def, cur, now)
	})
}

func planExpire(def *workflow.Definition, cur database.Approvable, now time.Time) (change, error) {
	switch {
	case !def.Cancelable:
		return change{}, fmt.Errorf("%w: %s entries cannot be canceled", ErrNotExpirable, def.Kind)
	case cur.ApprovalStatus != "" && cur.ApprovalStatus != enum.StatusDraft:
		return change{}, fmt.Errorf("%w: %s is %s", ErrNotExpirable, def.Kind, cur.ApprovalStatus)
	case cur.IsExpired:
		return change{}, fmt.Errorf("%w: %s already expired", ErrNotExpirable, def.Kind)
	case cur.HasRecipient:
		return change{}, fmt.Errorf("%w: %s has a recipient status", ErrNotExpirable, def.Kind)
	case cur.ExpiredAt == nil || cur.ExpiredAt.After(now):
		return change{}, fmt.Errorf("%w: %s is not overdue", ErrNotExpirable, def.Kind)
	}
	return change{
		action: enum.ActionExpire,
		role:   enum.RoleSuperAdmin,
		to:     enum.StatusCanceled,
		logged: enum.StatusCanceled,
		expire: true,
		notes:  fmt.Sprintf("%s expired without a recipient status and was canceled by the system.", kindLabel(def.Kind)),
	}, nil
}

// ExpiryStore defines the DB methods the sweep needs outside a transition.
// Satisfied by *database.Queries.
type ExpiryStore interface {
	ListExpirableBookings(ctx context.Context, arg database.ListExpirableBookingsParams) ([]uuid.UUID, error)
	GetSystemPrincipal(ctx context.Context) (uuid.UUID, error)
}

// Expirer is the transition the sweep applies per entity.
// Satisfied by *ApprovalService.
type Expirer interface {
	Expire(ctx context.Context, ref EntityRef, systemActor uuid.UUID) (*TransitionResult, error)
}

// Lock is a held sweep lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker takes the cluster-wide sweep lock.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// RedisLocker adapts redislock to Locker.
type RedisLocker struct {
	client *redislock.Client
}

func NewRedisLocker(client *redislock.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrSweepInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("%w: obtain sweep lock: %w", ErrDependencyUnavailable, err)
	}
	return lock, nil
}

const sweepLockKey = "approvals:expiry-sweep"

// SweepReport summarizes one sweep run.
type SweepReport struct {
	Found   int `json:"found"`
	Expired int `json:"expired"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// ExpiryService finds overdue booking orders and expires each in its own
// transaction.
type ExpiryService struct {
	expirer     Expirer
	store       ExpiryStore
	locker      Locker
	lockTTL     time.Duration
	concurrency int
	batch       int32
	log         zerolog.Logger
	now         func() time.Time
}

// ExpiryOption configures an ExpiryService.
type ExpiryOption func(*ExpiryService)

// WithLocker makes Sweep exclusive across instances.
func WithLocker(l Locker, ttl time.Duration) ExpiryOption {
	return func(e *ExpiryService) {
		e.locker = l
		e.lockTTL = ttl
	}
}

func WithConcurrency(n int) ExpiryOption {
	return func(e *ExpiryService) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func WithBatchSize(n int) ExpiryOption {
	return func(e *ExpiryService) {
		if n > 0 {
			e.batch = int32(n)
		}
	}
}

func WithExpiryLogger(l zerolog.Logger) ExpiryOption {
	return func(e *ExpiryService) { e.log = l }
}

func WithExpiryClock(now func() time.Time) ExpiryOption {
	return func(e *ExpiryService) { e.now = now }
}

// NewExpiryService creates a new ExpiryService.
func NewExpiryService(expirer Expirer, store ExpiryStore, opts ...ExpiryOption) *ExpiryService {
	e := &ExpiryService{
		expirer:     expirer,
		store:       store,
		concurrency: 4,
		batch:       500,
		log:         zerolog.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FindExpirable returns booking orders that are overdue as of now.
func (e *ExpiryService) FindExpirable(ctx context.Context) ([]EntityRef, error) {
	ids, err := e.store.ListExpirableBookings(ctx, database.ListExpirableBookingsParams{
		Now:   e.now(),
		Limit: e.batch,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list expirable: %w", ErrDependencyUnavailable, err)
	}
	refs := make([]EntityRef, len(ids))
	for i, id := range ids {
		refs[i] = EntityRef{Kind: enum.KindBookingOrder, ID: id}
	}
	return refs, nil
}

// Sweep expires every overdue entity. One entity failing does not stop the
// others; entities that changed since they were listed are skipped.
func (e *ExpiryService) Sweep(ctx context.Context) (report SweepReport, err error) {
	defer func() {
		result := "ok"
		switch {
		case errors.Is(err, ErrSweepInProgress):
			result = "locked"
		case err != nil:
			result = "error"
		}
		metrics.SweepRuns.WithLabelValues(result).Inc()
	}()

	if e.locker != nil {
		lock, err := e.locker.Obtain(ctx, sweepLockKey, e.lockTTL)
		if err != nil {
			return report, err
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				e.log.Warn().Err(err).Msg("release sweep lock")
			}
		}()
	}

	system, err := e.store.GetSystemPrincipal(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: system principal: %w", ErrDependencyUnavailable, err)
	}

	refs, err := e.FindExpirable(ctx)
	if err != nil {
		return report, err
	}
	report.Found = len(refs)

	var expired, skipped, failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for _, ref := range refs {
		g.Go(func() error {
			_, err := e.expirer.Expire(ctx, ref, system)
			switch {
			case err == nil:
				expired.Add(1)
				metrics.SweepEntities.WithLabelValues("expired").Inc()
			case errors.Is(err, ErrNotExpirable), errors.Is(err, ErrConcurrentModification), errors.Is(err, ErrNotFound):
				skipped.Add(1)
				metrics.SweepEntities.WithLabelValues("skipped").Inc()
			default:
				failed.Add(1)
				metrics.SweepEntities.WithLabelValues("failed").Inc()
				e.log.Error().Err(err).Str("entity_id", ref.ID.String()).Msg("expire entity")
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Expired = int(expired.Load())
	report.Skipped = int(skipped.Load())
	report.Failed = int(failed.Load())

	e.log.Info().
		Int("found", report.Found).
		Int("expired", report.Expired).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("expiry sweep finished")
	return report, nil
}

// Run sweeps every interval until ctx is done.
func (e *ExpiryService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Sweep(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
				e.log.Error().Err(err).Msg("expiry sweep failed")
			}
		}
	}
}
