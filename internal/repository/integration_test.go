package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/noah-isme/sma-edo-api/internal/models"
	"github.com/noah-isme/sma-edo-api/internal/workflow"
	"github.com/noah-isme/sma-edo-api/pkg/config"
	"github.com/noah-isme/sma-edo-api/pkg/database"
)

// setupPostgres starts a disposable PostgreSQL container with migrations applied.
func setupPostgres(t *testing.T) *sqlx.DB {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("set TEST_INTEGRATION=1 to run PostgreSQL integration tests")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:16-alpine",
		postgres.WithDatabase("edo_test"),
		postgres.WithUsername("edo"),
		postgres.WithPassword("edo-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := config.DatabaseConfig{
		Host:     host,
		Port:     port.Int(),
		User:     "edo",
		Password: "edo-password",
		Name:     "edo_test",
		SSLMode:  "disable",
	}
	require.NoError(t, database.Migrate(cfg, 0, nil))

	db, err := database.NewPostgres(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestIntegrationConcurrentFinalApprovals(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	docs := NewDocumentRepository(db)
	comments := NewCommentRepository(db)

	doc := &models.Document{Title: "Leave request", Type: models.DocumentTypeCertificate, Status: models.DocumentStatusDraft, Content: "...", CreatedBy: "creator", FileRefs: []string{"scan-1"}}
	require.NoError(t, docs.Create(ctx, doc))

	n := 0
	_, err := docs.Update(ctx, doc.ID, func(agg *models.DocumentAggregate) error {
		_, err := workflow.Send(agg, []string{"A", "B"}, time.Now().UTC(), func() string {
			n++
			return [...]string{"00000000-0000-0000-0000-00000000000a", "00000000-0000-0000-0000-00000000000b"}[n-1]
		})
		return err
	})
	require.NoError(t, err)

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		transitions int
	)
	for _, approver := range []string{"A", "B"} {
		wg.Add(1)
		go func(approver string) {
			defer wg.Done()
			var out workflow.Outcome
			_, err := docs.Update(ctx, doc.ID, func(agg *models.DocumentAggregate) error {
				var err error
				out, err = workflow.Approve(agg, approver, nil, time.Now().UTC())
				return err
			})
			assert.NoError(t, err)
			if out.To == models.DocumentStatusApproved && out.Transitioned() {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}(approver)
	}
	wg.Wait()

	agg, err := docs.FindByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusApproved, agg.Document.Status)
	assert.Equal(t, 1, transitions)
	assert.Equal(t, []string{"scan-1"}, agg.Document.FileRefs)
	require.NoError(t, workflow.Validate(agg))

	require.NoError(t, comments.Create(ctx, &models.Comment{DocumentID: doc.ID, AuthorID: "A", Content: "filed"}))
	list, err := comments.ListByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
