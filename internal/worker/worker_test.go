package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/2php/iffse/internal/crawler"
	"github.com/2php/iffse/internal/dispatcher"
	queuemem "github.com/2php/iffse/internal/queue/memory"
	storemem "github.com/2php/iffse/internal/storage/memory"
	"github.com/2php/iffse/internal/storage/postgres"
)

func TestWorkerReportsEveryOutcome(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(8)
	posts := storemem.NewPostStore()
	proc := &fakeProcessor{byKey: map[string]processResult{
		"face":   {vectors: [][]float32{{1, 2}, {3, 4}}},
		"noface": {err: crawler.Skip(crawler.SkipNoFace, nil)},
		"broken": {err: errors.New("unexpected")},
	}}
	results := make(chan crawler.Result, 8)
	w := New(queue, proc, posts, &seqIDs{}, fixedClock{}, results, nil, Config{ID: 1}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	for _, key := range []string{"face", "noface", "broken", "face"} {
		require.NoError(t, queue.Enqueue(ctx, crawler.Candidate{ItemKey: key, MediaURL: "https://cdn.test/" + key, Topic: "selfie"}))
	}

	got := collect(t, results, 4)
	require.Equal(t, crawler.OutcomeCreated, got[0].Outcome)
	require.Equal(t, 2, got[0].Faces)
	require.Equal(t, "id-1", got[0].PostID)

	require.Equal(t, crawler.OutcomeSkipped, got[1].Outcome)
	require.Equal(t, crawler.SkipNoFace, got[1].Reason)

	require.Equal(t, crawler.OutcomeFailed, got[2].Outcome)
	require.Error(t, got[2].Err)

	require.Equal(t, crawler.OutcomeAlreadyExists, got[3].Outcome)
	require.Empty(t, got[3].PostID)

	require.Equal(t, 1, posts.Count())
	require.Len(t, posts.Embeddings("face"), 2)

	queue.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}

func TestWorkerSkipKnownAvoidsPipeline(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(2)
	posts := storemem.NewPostStore()
	_, err := posts.Commit(context.Background(), crawler.Post{ID: "p0", ItemKey: "abc123"}, [][]float32{{1}})
	require.NoError(t, err)

	proc := &fakeProcessor{}
	results := make(chan crawler.Result, 1)
	w := New(queue, proc, posts, &seqIDs{}, fixedClock{}, results, nil, Config{SkipKnown: true}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, queue.Enqueue(ctx, crawler.Candidate{ItemKey: "abc123", Topic: "selfie"}))
	res := collect(t, results, 1)[0]
	require.Equal(t, crawler.OutcomeAlreadyExists, res.Outcome)
	require.Zero(t, proc.calls.Load())
}

func TestWorkerStoreUnavailableIsReported(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(1)
	posts := storemem.NewPostStore()
	posts.FailCommits = fmt.Errorf("%w: connection refused", crawler.ErrStoreUnavailable)
	proc := &fakeProcessor{byKey: map[string]processResult{"k": {vectors: [][]float32{{1}}}}}
	results := make(chan crawler.Result, 1)
	w := New(queue, proc, posts, &seqIDs{}, fixedClock{}, results, nil, Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, queue.Enqueue(ctx, crawler.Candidate{ItemKey: "k"}))
	res := collect(t, results, 1)[0]
	require.Equal(t, crawler.OutcomeFailed, res.Outcome)
	require.ErrorIs(t, res.Err, crawler.ErrStoreUnavailable)
}

func TestSkipKnownAgainstDownStoreHaltsDispatcher(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	for i := 0; i < 3; i++ {
		mock.ExpectQuery("SELECT EXISTS").WillReturnError(errors.New("connection refused"))
	}
	posts, err := postgres.NewPostStore(mock)
	require.NoError(t, err)

	queue := queuemem.NewQueue(3)
	for _, key := range []string{"k1", "k2", "k3"} {
		require.NoError(t, queue.Enqueue(context.Background(), crawler.Candidate{ItemKey: key, Topic: "selfie"}))
	}

	proc := &fakeProcessor{}
	results := make(chan crawler.Result)
	w := New(queue, proc, posts, &seqIDs{}, fixedClock{}, results, nil, Config{SkipKnown: true}, nil)
	dispatch := dispatcher.New(queue, []dispatcher.Runner{w}, results, dispatcher.Config{MaxStoreFailures: 3}, nil)

	done := make(chan error, 1)
	go func() { done <- dispatch.Run(context.Background()) }()

	select {
	case err := <-done:
		require.ErrorIs(t, err, crawler.ErrStoreUnavailable)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not halt")
	}
	require.Equal(t, int64(3), dispatch.Stats().Failed)
	require.Zero(t, proc.calls.Load())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkersRacingOnOneItemCreateOnePost(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(16)
	posts := storemem.NewPostStore()
	proc := &fakeProcessor{
		byKey: map[string]processResult{"abc123": {vectors: [][]float32{{0.5, 0.5}}}},
		delay: 5 * time.Millisecond,
	}
	results := make(chan crawler.Result, 16)
	ids := &seqIDs{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < 4; i++ {
		go New(queue, proc, posts, ids, fixedClock{}, results, nil, Config{ID: i}, nil).Run(ctx)
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, queue.Enqueue(ctx, crawler.Candidate{ItemKey: "abc123", Topic: fmt.Sprintf("t%d", i)}))
	}

	created := 0
	for _, res := range collect(t, results, 4) {
		switch res.Outcome {
		case crawler.OutcomeCreated:
			created++
		case crawler.OutcomeAlreadyExists:
		default:
			t.Fatalf("unexpected outcome %s", res.Outcome)
		}
	}
	require.Equal(t, 1, created)
	require.Equal(t, 1, posts.Count())
	require.Len(t, posts.Embeddings("abc123"), 1)
}

func TestWorkerStopsOnCancelWithoutResult(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(1)
	proc := &fakeProcessor{block: true}
	results := make(chan crawler.Result, 1)
	w := New(queue, proc, storemem.NewPostStore(), &seqIDs{}, fixedClock{}, results, nil, Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	require.NoError(t, queue.Enqueue(ctx, crawler.Candidate{ItemKey: "slow"}))
	require.Eventually(t, func() bool { return proc.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
	require.Empty(t, results)
}

func collect(t *testing.T, results <-chan crawler.Result, n int) []crawler.Result {
	t.Helper()
	out := make([]crawler.Result, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case res := <-results:
			out = append(out, res)
		case <-timeout:
			t.Fatalf("got %d of %d results", len(out), n)
		}
	}
	return out
}

// --- fakes ---

type processResult struct {
	vectors [][]float32
	err     error
}

type fakeProcessor struct {
	byKey map[string]processResult
	delay time.Duration
	block bool
	calls atomic.Int32
}

func (p *fakeProcessor) Process(ctx context.Context, c crawler.Candidate) (crawler.Extraction, error) {
	p.calls.Add(1)
	if p.block {
		<-ctx.Done()
		return crawler.Extraction{}, ctx.Err()
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	r, ok := p.byKey[c.ItemKey]
	if !ok {
		return crawler.Extraction{}, crawler.Skip(crawler.SkipFetchFailed, errors.New("unknown item"))
	}
	if r.err != nil {
		return crawler.Extraction{}, r.err
	}
	return crawler.Extraction{Candidate: c, ImageHash: "h-" + c.ItemKey, Vectors: r.vectors}, nil
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type fixedClock struct{}

func (fixedClock) Now() time.Time {
	return time.Unix(1700000000, 0)
}
