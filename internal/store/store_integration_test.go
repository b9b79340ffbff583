package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mohammad-safakhou/issuesense/internal/similarity"
	"github.com/mohammad-safakhou/issuesense/models"
)

func startPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "issuesense",
			"POSTGRES_PASSWORD": "issuesense",
			"POSTGRES_DB":       "issuesense",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("failed to start postgres: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	port, err := pg.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("failed to get mapped port: %v", err)
	}
	host, err := pg.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get host: %v", err)
	}
	return fmt.Sprintf("postgres://issuesense:issuesense@%s:%s/issuesense?sslmode=disable", host, port.Port())
}

func findMigrationsDir(t *testing.T) string {
	t.Helper()
	cwd, _ := os.Getwd()
	for i := 0; i < 6; i++ {
		candidate := filepath.Join(cwd, "migrations")
		if st, err := os.Stat(candidate); err == nil && st.IsDir() {
			return "file://" + candidate
		}
		cwd = filepath.Dir(cwd)
	}
	t.Fatalf("could not locate migrations directory from test cwd")
	return ""
}

func unitVector(hot int) []float32 {
	vec := make([]float32, DefaultEmbeddingDimensions)
	vec[hot] = 1
	return vec
}

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires docker")
	}
	ctx := context.Background()
	dsn := startPostgres(t, ctx)

	var migErr error
	for i := 0; i < 6; i++ {
		if migErr = Migrate(findMigrationsDir(t), dsn, "up", 0); migErr == nil {
			break
		}
		time.Sleep(300 * time.Millisecond)
	}
	if migErr != nil {
		t.Fatalf("migrate up failed after retries: %v", migErr)
	}

	st, err := NewWithDSN(ctx, dsn, DefaultEmbeddingDimensions)
	if err != nil {
		t.Fatalf("NewWithDSN: %v", err)
	}
	defer st.Close()

	now := time.Now().UTC().Truncate(time.Second)
	body := "Build fails on startup due to missing config"
	for i, id := range []string{"old", "new", "other"} {
		md := body
		doc := models.Document{
			ID: id, Kind: models.KindIssue, Owner: "acme", Repo: "app", Number: i + 1,
			Markdown: &md, AuthorID: int64(i), AuthorKind: models.AuthorHuman,
			EmbeddingStatus: models.EmbeddingPending, CreatedAt: now, ModifiedAt: now.Add(time.Duration(i) * time.Second),
		}
		if err := st.Upsert(ctx, doc); err != nil {
			t.Fatalf("Upsert %s: %v", id, err)
		}
	}

	pending, err := st.ListPending(ctx, PendingFilter{Owner: "acme"}, 10)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 3 || pending[0].ID != "old" {
		t.Fatalf("unexpected pending order: %+v", pending)
	}

	if err := st.SetEmbedding(ctx, "old", unitVector(0)); err != nil {
		t.Fatalf("SetEmbedding old: %v", err)
	}
	if err := st.SetEmbedding(ctx, "other", unitVector(1)); err != nil {
		t.Fatalf("SetEmbedding other: %v", err)
	}

	res, err := st.Search(ctx, SearchQuery{
		Embedding: unitVector(0),
		ExcludeID: "new",
		Threshold: 0.75,
		TopK:      5,
		Weights:   similarity.MatchWeights,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 || res[0].Document.ID != "old" || res[0].Score < 0.99 {
		t.Fatalf("unexpected search results: %+v", res)
	}

	if err := st.SoftDelete(ctx, "old", now); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	got, err := st.Get(ctx, "old")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Deleted() || got.EmbeddingStatus != models.EmbeddingReady {
		t.Fatalf("unexpected document after delete: %+v", got)
	}
}
