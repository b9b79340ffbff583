package queue

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/mohammad-safakhou/issuesense/models"
)

type enqueued struct {
	job   Job
	delay time.Duration
}

// memQueue mirrors RedisQueue ordering: runAt, then suffix.
type memQueue struct {
	jobs     []Job
	history  []enqueued
	now      time.Time
	seq      int
	popErrs  []error
	popCalls int
}

func (q *memQueue) Enqueue(_ context.Context, job Job, delay time.Duration) error {
	q.seq++
	job.Suffix = fmt.Sprintf("%04d", q.seq)
	job.RunAt = q.now.Add(delay)
	q.jobs = append(q.jobs, job)
	q.history = append(q.history, enqueued{job: job, delay: delay})
	return nil
}

func (q *memQueue) sort() {
	slices.SortFunc(q.jobs, func(a, b Job) int {
		if c := a.RunAt.Compare(b.RunAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Suffix, b.Suffix)
	})
}

func (q *memQueue) PopDue(_ context.Context, now time.Time) (Job, bool, error) {
	q.popCalls++
	if len(q.popErrs) > 0 {
		err := q.popErrs[0]
		q.popErrs = q.popErrs[1:]
		return Job{}, false, err
	}
	q.sort()
	if len(q.jobs) == 0 || q.jobs[0].RunAt.After(now) {
		return Job{}, false, nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, true, nil
}

func (q *memQueue) HasDue(_ context.Context, now time.Time) (bool, error) {
	for _, j := range q.jobs {
		if !j.RunAt.After(now) {
			return true, nil
		}
	}
	return false, nil
}

type memStore struct {
	docs     map[string]models.Document
	embedded map[string][]float32
	failed   []string
}

func newMemStore(docs ...models.Document) *memStore {
	s := &memStore{docs: map[string]models.Document{}, embedded: map[string][]float32{}}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *memStore) Get(_ context.Context, id string) (models.Document, error) {
	d, ok := s.docs[id]
	if !ok {
		return models.Document{}, fmt.Errorf("get %s: %w", id, models.ErrDocumentNotFound)
	}
	return d, nil
}

func (s *memStore) SetEmbedding(_ context.Context, id string, vec []float32) error {
	s.embedded[id] = vec
	d := s.docs[id]
	v := pgvector.NewVector(vec)
	d.Embedding = &v
	d.EmbeddingStatus = models.EmbeddingReady
	s.docs[id] = d
	return nil
}

func (s *memStore) MarkEmbeddingFailed(_ context.Context, id string) error {
	s.failed = append(s.failed, id)
	d := s.docs[id]
	d.EmbeddingStatus = models.EmbeddingFailed
	s.docs[id] = d
	return nil
}

type embedFunc func(ctx context.Context, text string) ([]float32, error)

func (f embedFunc) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

func pendingDoc(id, body string) models.Document {
	return models.Document{
		ID:              id,
		Kind:            models.KindIssue,
		Markdown:        &body,
		EmbeddingStatus: models.EmbeddingPending,
	}
}
