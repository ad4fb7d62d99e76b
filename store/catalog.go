package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/3moredev/climasys/cache"
	"github.com/3moredev/climasys/clinical"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Querier is the part of pgxpool.Pool the catalog store needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const uniqueViolation = "23505"

// CatalogStore serves the per doctor and clinic reference catalogs from
// Postgres, with a Redis cache in front of List.
type CatalogStore struct {
	db     Querier
	cache  *cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCatalogStore creates a CatalogStore. A nil cache disables caching.
func NewCatalogStore(db Querier, c *cache.Cache, ttl time.Duration, logger *zap.Logger) *CatalogStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogStore{db: db, cache: c, ttl: ttl, logger: logger}
}

func catalogKey(scope clinical.Scope, kind clinical.Kind) string {
	return fmt.Sprintf("%s:%s:%s", scope.DoctorID, scope.ClinicID, kind)
}

// List returns the catalog of kind ordered by priority, then label.
func (s *CatalogStore) List(ctx context.Context, scope clinical.Scope, kind clinical.Kind) ([]clinical.Option, error) {
	key := catalogKey(scope, kind)
	return cache.Load(ctx, s.cache, key, s.ttl, func(ctx context.Context) ([]clinical.Option, error) {
		query := `
			SELECT short_code, label, COALESCE(priority, 999) AS priority
			FROM reference_catalog
			WHERE doctor_id = $1 AND clinic_id = $2 AND kind = $3
			ORDER BY COALESCE(priority, 999), label
		`
		opts, err := s.collect(ctx, query, scope.DoctorID, scope.ClinicID, string(kind))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list %s catalog", kind)
		}
		s.logger.Debug("catalog loaded from database",
			zap.String("kind", string(kind)),
			zap.Int("count", len(opts)))
		return opts, nil
	}, func(err error) {
		s.logger.Warn("catalog cache unavailable", zap.String("key", key), zap.Error(err))
	})
}

// Search matches term against codes and labels of kind, for type-ahead pickers.
func (s *CatalogStore) Search(ctx context.Context, scope clinical.Scope, kind clinical.Kind, term string, limit int) ([]clinical.Option, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	query := `
		SELECT short_code, label, COALESCE(priority, 999) AS priority
		FROM reference_catalog
		WHERE doctor_id = $1 AND clinic_id = $2 AND kind = $3
			AND (label ILIKE $4 ESCAPE '\' OR short_code ILIKE $4 ESCAPE '\')
		ORDER BY COALESCE(priority, 999), label
		LIMIT $5
	`
	pattern := "%" + likeEscaper.Replace(term) + "%"
	opts, err := s.collect(ctx, query, scope.DoctorID, scope.ClinicID, string(kind), pattern, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to search %s catalog", kind)
	}
	return opts, nil
}

// likeEscaper makes type-ahead input match literally inside an ILIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *CatalogStore) collect(ctx context.Context, query string, args ...any) ([]clinical.Option, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	opts := make([]clinical.Option, 0)
	for rows.Next() {
		var (
			code, label string
			priority    int
		)
		if err := rows.Scan(&code, &label, &priority); err != nil {
			return nil, err
		}
		p := priority
		opts = append(opts, clinical.Option{Value: code, Label: label, Priority: &p})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return opts, nil
}

// Create inserts a custom catalog entry. An entry that already exists yields
// clinical.ErrCatalogConflict.
func (s *CatalogStore) Create(ctx context.Context, scope clinical.Scope, kind clinical.Kind, opt clinical.Option) (clinical.Option, error) {
	query := `
		INSERT INTO reference_catalog (doctor_id, clinic_id, kind, short_code, label, priority)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING COALESCE(priority, 999)
	`
	var priority int
	err := s.db.QueryRow(ctx, query,
		scope.DoctorID, scope.ClinicID, string(kind), opt.Value, opt.Label, opt.Priority).Scan(&priority)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return clinical.Option{}, clinical.ErrCatalogConflict
		}
		return clinical.Option{}, errors.Wrapf(err, "failed to create %s catalog entry", kind)
	}

	if err := s.cache.Delete(ctx, catalogKey(scope, kind)); err != nil {
		s.logger.Warn("catalog cache invalidation failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	s.logger.Info("custom catalog entry created",
		zap.String("kind", string(kind)),
		zap.String("short_code", opt.Value))

	opt.Priority = &priority
	return opt, nil
}
