//go:build integration

package sqlxrepos

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/loyalty"
	"github.com/trezcool/roofest/core/pricing"
	"github.com/trezcool/roofest/core/project"
	"github.com/trezcool/roofest/core/user"
	"github.com/trezcool/roofest/storage/database"
	testutil "github.com/trezcool/roofest/tests"
)

func startPostgres(t *testing.T) *core.Config {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "postgres",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	conf := core.NewTestConfig()
	conf.Database.Engine = database.EnginePostgres
	conf.Database.Host = host
	conf.Database.Port = port.Port()
	conf.Database.DisableTLS = true
	return conf
}

func TestPostgres_Repositories(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping container-based test in short mode")
	}
	conf := startPostgres(t)
	ctx := context.Background()

	require.NoError(t, database.CreateIfNotExist(conf))
	db, err := database.Open(conf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(ctx, db))

	users := NewUserRepository(db)
	testutil.CreateUser(t, users, "Jane", "jane", "jane@roofest.test", "Pass1234!", user.RoleEstimator, true)
	_, err = users.CreateUser(ctx, user.User{ID: core.NewID(), Name: "Dup", Email: "jane@roofest.test", Role: user.RoleUser})
	assert.Equal(t, user.ErrEmailExists, err)

	clients := NewClientRepository(db)
	c := testutil.CreateClient(t, clients, "Acme", pricing.NOK, "Europe/Oslo", loyalty.TierPro)
	require.NoError(t, clients.AddMonthlyRecord(ctx, c.ID, loyalty.MonthlyRecord{Month: "2024-01", Units: 7, Tier: loyalty.TierPro}))
	err = clients.AddMonthlyRecord(ctx, c.ID, loyalty.MonthlyRecord{Month: "2024-01", Units: 1, Tier: loyalty.TierCasual})
	assert.True(t, errors.Is(err, loyalty.ErrMonthRecorded))

	projects := NewProjectRepository(db)
	p := testutil.CreateProject(t, projects, c.ID, "Storgata 1", pricing.PlanStandard, 3)
	p.EstimateStatus = project.StatusSent
	p.PricingSnapshot = &project.PricingSnapshot{PlanType: pricing.PlanStandard, Qty: 3, Currency: pricing.NOK, CapturedAt: time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)}

	tx := database.NewTransactor(db)
	err = tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		if _, err := projects.UpdateProject(ctx, p, exec); err != nil {
			return err
		}
		return NewOutboxRepository(db).AddEvent(ctx, core.Event{AggregateType: "project", AggregateID: p.ID, EventType: "project.estimate_sent", Payload: []byte(`{}`)}, exec)
	})
	require.NoError(t, err)

	units, err := projects.SumSentUnits(ctx, c.ID, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 3, units)

	_, err = projects.UpdateProject(ctx, p)
	assert.True(t, errors.Is(err, project.ErrConcurrentUpdate))
}
