package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"shopledger/backend/internal/collection"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/lock"
	"shopledger/backend/internal/metrics"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/xid"
)

var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo        store.Repository
	collections *collection.Engine
	locker      lock.ShopLocker
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// New wires the service. collections, locker, m and logger may be nil.
func New(repo store.Repository, collections *collection.Engine, locker lock.ShopLocker, m *metrics.Metrics, logger *zap.Logger) *Service {
	if collections == nil {
		collections = collection.NewEngine(nil, 0)
	}
	if locker == nil {
		locker = lock.NoopLocker{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:        repo,
		collections: collections,
		locker:      locker,
		metrics:     m,
		logger:      logger.Named("service"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

// scope rejects a missing shop id and, when a session actor is present, any
// shop other than the actor's own. The latter reads as not found.
func scope(ctx context.Context, shopID string) error {
	if strings.TrimSpace(shopID) == "" {
		return domain.Invalid("shop_id", "is required")
	}
	if actor, ok := ActorFromContext(ctx); ok && actor.ShopID != "" && actor.ShopID != shopID {
		return store.ErrNotFound
	}
	return nil
}

func requireRole(ctx context.Context, roles ...string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || !slices.Contains(roles, actor.Role) {
		return ErrForbidden
	}
	return nil
}

func (s *Service) observe(operation string, started time.Time, err error) {
	s.metrics.Observe(operation, started, outcome(err))
	if err != nil && outcome(err) == "error" {
		s.logger.Error("operation failed", zap.String("operation", operation), zap.Error(err))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrInsufficientCases),
		errors.Is(err, store.ErrCreditLimitExceeded),
		errors.Is(err, store.ErrPaymentExceedsBalance),
		errors.Is(err, store.ErrDuplicateInvoice),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, lock.ErrLocked),
		errors.Is(err, ErrForbidden):
		return "rejected"
	default:
		return "error"
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, shopID string, date string, limit int) ([]domain.AuditLog, error) {
	if err := scope(ctx, shopID); err != nil {
		return nil, err
	}
	if err := requireRole(ctx, domain.RoleOwner, domain.RoleManager); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Truncate(24 * time.Hour)
	} else {
		parsed, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return nil, domain.Invalid("date", "must be a date in 2006-01-02 format")
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, shopID, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, shopID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ShopID:        shopID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err))
	}
}

func (s *Service) invalidateCollections(ctx context.Context, shopID string) {
	if err := s.collections.Invalidate(ctx, shopID); err != nil {
		s.logger.Warn("failed to invalidate collection queue", zap.String("shop_id", shopID), zap.Error(err))
	}
}
