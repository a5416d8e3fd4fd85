package database

import (
	"context"
	stdsql "database/sql"
	"os"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tarsy-bot/tarsy/ent"
	"github.com/tarsy-bot/tarsy/pkg/config"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

// newTestClient creates a test database client with CI/local detection.
// In CI (CI_DATABASE_URL set) it connects to the external service container;
// locally it spins up a PostgreSQL testcontainer.
func newTestClient(t *testing.T) *Client {
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	ctx := context.Background()

	connStr := os.Getenv("CI_DATABASE_URL")
	if connStr == "" {
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)

		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	db, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	drv := entsql.OpenDB(dialect.Postgres, db)
	entClient := ent.NewClient(ent.Driver(drv))

	// Auto-migration for tests; production uses the embedded SQL files
	require.NoError(t, entClient.Schema.Create(ctx))
	require.NoError(t, CreateGINIndexes(ctx, drv))

	client := NewClientFromEnt(entClient, db)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClientConnectionPool(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.DB().PingContext(ctx))

	health, err := Health(ctx, client.DB())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Greater(t, health.MaxOpenConns, 0)
	assert.GreaterOrEqual(t, health.ResponseTime, int64(0))
}

func TestFullTextSearch(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	session1, err := client.AlertSession.Create().
		SetID("search-1").
		SetAlertID("alert-1").
		SetAlertData(map[string]interface{}{"message": "Critical error in production cluster with pod failures"}).
		SetAgentType("kubernetes-agent-chain").
		SetStartedAtUs(models.NowUS()).
		Save(ctx)
	require.NoError(t, err)

	session2, err := client.AlertSession.Create().
		SetID("search-2").
		SetAlertID("alert-2").
		SetAlertData(map[string]interface{}{"message": "Warning: high memory usage detected"}).
		SetAgentType("kubernetes-agent-chain").
		SetStartedAtUs(models.NowUS()).
		Save(ctx)
	require.NoError(t, err)

	rows, err := client.DB().QueryContext(ctx,
		`SELECT session_id FROM alert_sessions
		WHERE to_tsvector('english', alert_data) @@ to_tsquery('english', $1)`,
		"error & production",
	)
	require.NoError(t, err)
	defer rows.Close()

	var results []string
	for rows.Next() {
		var sessionID string
		require.NoError(t, rows.Scan(&sessionID))
		results = append(results, sessionID)
	}
	require.Len(t, results, 1)
	assert.Equal(t, session1.ID, results[0])

	rows2, err := client.DB().QueryContext(ctx,
		`SELECT session_id FROM alert_sessions
		WHERE to_tsvector('english', alert_data) @@ to_tsquery('english', $1)`,
		"memory",
	)
	require.NoError(t, err)
	defer rows2.Close()

	var results2 []string
	for rows2.Next() {
		var sessionID string
		require.NoError(t, rows2.Scan(&sessionID))
		results2 = append(results2, sessionID)
	}
	require.Len(t, results2, 1)
	assert.Equal(t, session2.ID, results2[0])
}

func TestCascadeDelete(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	session, err := client.AlertSession.Create().
		SetID("cascade-1").
		SetAlertID("alert-cascade").
		SetAlertData(map[string]interface{}{"message": "test"}).
		SetAgentType("kubernetes-agent-chain").
		SetStartedAtUs(models.NowUS()).
		Save(ctx)
	require.NoError(t, err)

	parent, err := client.StageExecution.Create().
		SetID("exec-parent").
		SetSessionID(session.ID).
		SetStageName("fan-out").
		SetStageIndex(0).
		SetStageID("fan-out").
		SetAgent("parallel").
		SetStartedAtUs(models.NowUS()).
		Save(ctx)
	require.NoError(t, err)

	_, err = client.StageExecution.Create().
		SetID("exec-child").
		SetSessionID(session.ID).
		SetParentStageExecutionID(parent.ID).
		SetStageName("fan-out").
		SetStageIndex(0).
		SetStageID("fan-out").
		SetAgent("KubernetesAgent").
		SetStartedAtUs(models.NowUS()).
		Save(ctx)
	require.NoError(t, err)

	_, err = client.LLMInteraction.Create().
		SetID("llm-1").
		SetSessionID(session.ID).
		SetStageExecutionID("exec-child").
		SetRequestID("req-1").
		SetProvider("google-default").
		SetModelName("gemini-2.5-pro").
		SetConversation([]models.ConversationMessage{{Role: models.RoleUser, Content: "hi"}}).
		SetTimestampUs(models.NowUS()).
		SetStartTimeUs(models.NowUS()).
		Save(ctx)
	require.NoError(t, err)

	// Deleting the session must take executions and interactions with it
	require.NoError(t, client.AlertSession.DeleteOneID(session.ID).Exec(ctx))

	execCount, err := client.StageExecution.Query().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, execCount)

	llmCount, err := client.LLMInteraction.Query().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, llmCount)
}

func TestConfigFromSettings(t *testing.T) {
	settings, err := config.LoadSettings()
	require.NoError(t, err)

	cfg := FromSettings(settings)
	assert.Equal(t, 15, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.True(t, cfg.PrePing)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "valid",
			cfg: Config{
				URL:            "postgres://u:p@localhost:5432/db",
				MaxOpenConns:   10,
				MaxIdleConns:   5,
				ConnectTimeout: time.Second,
			},
		},
		{
			name:    "missing URL",
			cfg:     Config{MaxOpenConns: 10, ConnectTimeout: time.Second},
			wantErr: "database URL is required",
		},
		{
			name: "idle exceeds open",
			cfg: Config{
				URL:            "postgres://u:p@localhost:5432/db",
				MaxOpenConns:   5,
				MaxIdleConns:   10,
				ConnectTimeout: time.Second,
			},
			wantErr: "must not exceed",
		},
		{
			name: "zero open conns",
			cfg: Config{
				URL:            "postgres://u:p@localhost:5432/db",
				ConnectTimeout: time.Second,
			},
			wantErr: "MaxOpenConns",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfigDatabaseName(t *testing.T) {
	assert.Equal(t, "tarsy", Config{URL: "postgres://u:p@localhost:5432/tarsy?sslmode=disable"}.DatabaseName())
	assert.Equal(t, "postgres", Config{URL: "not a url ::"}.DatabaseName())
	assert.Equal(t, "postgres", Config{URL: "postgres://u:p@localhost:5432"}.DatabaseName())
}
