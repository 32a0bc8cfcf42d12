package pgmark

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/MarkBox/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPGMark_RepoFlow(t *testing.T) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "markbox_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/markbox_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	now := time.Now().UTC()
	orderID := "ORD-1"
	created, err := st.CreateMarks(ctx, []models.MarkCreateInput{
		{
			Code: "MB04607177964080-AAAAAAAAAAAAAAA1", ProductCode: "04607177964080",
			ProductionDate: now, ExpiryDate: now.Add(24 * time.Hour),
			OrderID: &orderID, Metadata: map[string]string{"line": "7"},
		},
		{
			Code: "MB04607177964080-AAAAAAAAAAAAAAA2", ProductCode: "04607177964080",
			ProductionDate: now, ExpiryDate: now.Add(-time.Hour),
		},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	for _, m := range created {
		require.Equal(t, models.MarkStatusActive, m.Status)
		require.Zero(t, m.ValidationCount)
	}

	// Уникальный индекс по code — повторная вставка того же кода падает.
	_, err = st.CreateMarks(ctx, []models.MarkCreateInput{
		{Code: "MB04607177964080-AAAAAAAAAAAAAAA1", ProductCode: "04607177964080",
			ProductionDate: now, ExpiryDate: now.Add(time.Hour)},
	})
	require.Error(t, err)

	// Bulk-проверка существования для генератора.
	existing, err := st.FilterExistingCodes(ctx, []string{
		"MB04607177964080-AAAAAAAAAAAAAAA1",
		"MB04607177964080-NOPE000000000000",
	})
	require.NoError(t, err)
	require.Len(t, existing, 1)
	require.Contains(t, existing, "MB04607177964080-AAAAAAAAAAAAAAA1")

	m, err := st.GetMarkByCode(ctx, "MB04607177964080-AAAAAAAAAAAAAAA1")
	require.NoError(t, err)
	require.Equal(t, "7", m.Metadata["line"])
	require.Equal(t, "ORD-1", *m.OrderID)

	_, err = st.GetMarkByCode(ctx, "NONEXISTENT")
	require.ErrorIs(t, err, models.ErrNotFound)

	// Атомарный инкремент счётчика валидаций.
	n, err := st.IncrementValidation(ctx, m.Code, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	n, err = st.IncrementValidation(ctx, m.Code, now)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	// Блокировка через ApplyTransition.
	reason := "recall"
	actor := "qa"
	blocked, err := st.ApplyTransition(ctx, MarkTransition{
		Code: m.Code, Status: models.MarkStatusBlocked,
		BlockReason: &reason, BlockedBy: &actor, BlockedAt: &now,
	})
	require.NoError(t, err)
	require.Equal(t, models.MarkStatusBlocked, blocked.Status)
	require.Equal(t, "recall", *blocked.BlockReason)

	// Снятие блокировки обнуляет поля блокировки.
	unblocked, err := st.ApplyTransition(ctx, MarkTransition{
		Code: m.Code, Status: models.MarkStatusActive,
	})
	require.NoError(t, err)
	require.Nil(t, unblocked.BlockReason)
	require.Nil(t, unblocked.BlockedAt)

	// Свип: просроченная марка уходит в EXPIRED, живая — нет.
	due, err := st.FindDueForExpiry(ctx, now, 100)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "MB04607177964080-AAAAAAAAAAAAAAA2", due[0].Code)

	affected, err := st.ExpireMarks(ctx, []string{due[0].Code})
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)

	// Повторный свип идемпотентен.
	affected, err = st.ExpireMarks(ctx, []string{due[0].Code})
	require.NoError(t, err)
	require.Zero(t, affected)

	// Листинг с фильтром по статусу.
	page, total, err := st.ListMarks(ctx, models.ListFilter{
		Status: models.MarkStatusExpired, Page: 1, PerPage: 10,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, page, 1)

	// Окно истечения: живая марка истекает в ближайшие сутки.
	exp, total, err := st.ListExpiring(ctx, now, now.Add(48*time.Hour), 10, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, "MB04607177964080-AAAAAAAAAAAAAAA1", exp[0].Code)
}
