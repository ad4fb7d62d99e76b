package store

import (
	"context"
	"testing"
	"time"

	"github.com/3moredev/climasys/cache"
	"github.com/3moredev/climasys/clinical"
	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scope = clinical.Scope{DoctorID: "DR-1", ClinicID: "CL-1"}

func newMockStore(t *testing.T) (*CatalogStore, pgxmock.PgxPoolIface, *cache.Cache) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mr := miniredis.RunT(t)
	rds := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rds.Close() })
	c := cache.NewCache(rds, "catalog:")

	return NewCatalogStore(mock, c, time.Minute, nil), mock, c
}

func TestCatalogListIsCached(t *testing.T) {
	store, mock, _ := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT short_code, label").
		WithArgs("DR-1", "CL-1", "complaint").
		WillReturnRows(pgxmock.NewRows([]string{"short_code", "label", "priority"}).
			AddRow("C1", "Fever", 1).
			AddRow("C3", "Headache", 999))

	opts, err := store.List(ctx, scope, clinical.KindComplaint)
	require.NoError(t, err)
	require.Len(t, opts, 2)
	assert.Equal(t, "C1", opts[0].Value)
	assert.Equal(t, 1, *opts[0].Priority)
	assert.Equal(t, clinical.DefaultPriority, *opts[1].Priority)

	// served from Redis, no second query
	again, err := store.List(ctx, scope, clinical.KindComplaint)
	require.NoError(t, err)
	assert.Equal(t, opts, again)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogListError(t *testing.T) {
	store, mock, c := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT short_code, label").
		WithArgs("DR-1", "CL-1", "medicine").
		WillReturnError(errors.New("connection refused"))

	_, err := store.List(ctx, scope, clinical.KindMedicine)
	require.Error(t, err)

	exists, err := c.Exists(ctx, "DR-1:CL-1:medicine")
	require.NoError(t, err)
	assert.False(t, exists, "failures are not cached")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogSearch(t *testing.T) {
	store, mock, _ := newMockStore(t)

	mock.ExpectQuery("ILIKE").
		WithArgs("DR-1", "CL-1", "diagnosis", "%asth%", 50).
		WillReturnRows(pgxmock.NewRows([]string{"short_code", "label", "priority"}).
			AddRow("D1", "Asthma", 3))

	opts, err := store.Search(context.Background(), scope, clinical.KindDiagnosis, "asth", 0)
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.Equal(t, "Asthma", opts[0].Label)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogSearchMatchesWildcardsLiterally(t *testing.T) {
	store, mock, _ := newMockStore(t)

	mock.ExpectQuery("ILIKE").
		WithArgs("DR-1", "CL-1", "medicine", `%50\%\_w\\v%`, 10).
		WillReturnRows(pgxmock.NewRows([]string{"short_code", "label", "priority"}))

	opts, err := store.Search(context.Background(), scope, clinical.KindMedicine, `50%_w\v`, 10)
	require.NoError(t, err)
	assert.Empty(t, opts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogCreateInvalidatesCache(t *testing.T) {
	store, mock, c := newMockStore(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "DR-1:CL-1:complaint", []clinical.Option{{Value: "C1", Label: "Fever"}}, time.Minute))

	mock.ExpectQuery("INSERT INTO reference_catalog").
		WithArgs("DR-1", "CL-1", "complaint", "BP", "Back pain", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"priority"}).AddRow(999))

	opt, err := store.Create(ctx, scope, clinical.KindComplaint, clinical.Option{Value: "BP", Label: "Back pain"})
	require.NoError(t, err)
	require.NotNil(t, opt.Priority)
	assert.Equal(t, 999, *opt.Priority)

	exists, err := c.Exists(ctx, "DR-1:CL-1:complaint")
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogCreateConflict(t *testing.T) {
	store, mock, _ := newMockStore(t)

	mock.ExpectQuery("INSERT INTO reference_catalog").
		WithArgs("DR-1", "CL-1", "diagnosis", "D1", "Asthma", pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})

	_, err := store.Create(context.Background(), scope, clinical.KindDiagnosis, clinical.Option{Value: "D1", Label: "Asthma"})
	assert.ErrorIs(t, err, clinical.ErrCatalogConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogWithoutCache(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := NewCatalogStore(mock, nil, 0, nil)

	for i := 0; i < 2; i++ {
		mock.ExpectQuery("SELECT short_code, label").
			WithArgs("DR-1", "CL-1", "investigation").
			WillReturnRows(pgxmock.NewRows([]string{"short_code", "label", "priority"}))
		opts, err := store.List(context.Background(), scope, clinical.KindInvestigation)
		require.NoError(t, err)
		assert.Empty(t, opts)
		assert.NotNil(t, opts)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}
