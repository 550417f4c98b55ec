package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hochfrequenz/porkchop/internal/catalog"
	"github.com/hochfrequenz/porkchop/internal/dispatch"
	"github.com/hochfrequenz/porkchop/internal/domain"
	"github.com/hochfrequenz/porkchop/internal/generate"
	"github.com/hochfrequenz/porkchop/internal/notify"
	"github.com/hochfrequenz/porkchop/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	text string
	err  error
}

func (c stubClient) Model() string { return "stub" }

func (c stubClient) Generate(context.Context, string, generate.Options) (*generate.Result, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &generate.Result{Text: c.text}, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Send(n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

const oneIssue = `[{"severity":"medium","description":"pin the image tag","lines":[3],"type":"portability"}]`

func newService(t *testing.T, client generate.Client) (*Service, *store.Store, *recordingNotifier) {
	t.Helper()
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	n := &recordingNotifier{}
	svc := New(Config{
		Store:    st,
		Catalog:  catalog.New(nil),
		Client:   client,
		Options:  generate.DefaultOptions(),
		Pool:     dispatch.NewPool(2),
		Limits:   Limits{MaxFiles: 3, MaxFileSize: 64},
		Notifier: n,
	})
	t.Cleanup(svc.Close)
	return svc, st, n
}

func key(s string) domain.PromptKey {
	k, err := domain.ParsePromptKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

func validSubmission() Submission {
	return Submission{
		Name:    "ci check",
		Files:   []FileInput{{Name: "workflow.cwl", Content: []byte("cwlVersion: v1.2")}},
		Prompts: []domain.PromptKey{key("pipeline_validity::all"), key("artifacts_validity::secrets")},
	}
}

func TestSubmit_ZeroFilesPersistsNothing(t *testing.T) {
	svc, st, _ := newService(t, stubClient{text: "[]"})

	sub := validSubmission()
	sub.Files = nil
	b, err := svc.Submit(t.Context(), sub)
	require.Error(t, err)
	assert.Nil(t, b)

	var inputErr *domain.InputError
	require.True(t, errors.As(err, &inputErr))
	assert.Equal(t, "files", inputErr.Field)

	_, total, err := st.ListBatches(store.ListOptions{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSubmit_InputErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Submission)
		field  string
	}{
		{"too many files", func(s *Submission) {
			for i := 0; i < 3; i++ {
				s.Files = append(s.Files, FileInput{Name: fmt.Sprintf("f%d", i), Content: []byte("x")})
			}
		}, "files"},
		{"file too large", func(s *Submission) { s.Files[0].Content = []byte(strings.Repeat("x", 65)) }, "files"},
		{"invalid utf8", func(s *Submission) { s.Files[0].Content = []byte{0xff, 0xfe} }, "files"},
		{"missing file name", func(s *Submission) { s.Files[0].Name = "" }, "files"},
		{"no prompts", func(s *Submission) { s.Prompts = nil }, "prompts"},
		{"duplicate prompt", func(s *Submission) { s.Prompts = append(s.Prompts, s.Prompts[0]) }, "prompts"},
		{"unknown category", func(s *Submission) {
			s.Prompts = []domain.PromptKey{{Category: "cooking", Name: "all"}}
		}, "prompts"},
		{"name too long", func(s *Submission) { s.Name = strings.Repeat("n", 256) }, "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st, _ := newService(t, stubClient{text: "[]"})
			sub := validSubmission()
			tt.mutate(&sub)

			_, err := svc.Submit(t.Context(), sub)
			var inputErr *domain.InputError
			require.True(t, errors.As(err, &inputErr), "got %v", err)
			assert.Equal(t, tt.field, inputErr.Field)

			_, total, err := st.ListBatches(store.ListOptions{})
			require.NoError(t, err)
			assert.Zero(t, total)
		})
	}
}

func TestSubmit_RunsToCompletion(t *testing.T) {
	svc, _, notifier := newService(t, stubClient{text: oneIssue})
	events, unsubscribe := svc.Events().Subscribe()
	defer unsubscribe()

	b, err := svc.Submit(t.Context(), validSubmission())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, b.Status)
	require.Len(t, b.Files, 1)
	assert.NotZero(t, b.Files[0].ID)

	svc.Wait()

	got, err := svc.Batch(b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.CompletedTasks)
	for _, task := range got.Tasks {
		assert.Equal(t, domain.StatusCompleted, task.Status)
		assert.Equal(t, 1, task.IssueCount(domain.SeverityMedium))
		assert.NotEmpty(t, task.Prompt.SHA256)
	}
	assert.Equal(t, 1, notifier.count())

	sawCompleted := false
	for i := 0; i < 3; i++ {
		select {
		case ev := <-events:
			assert.Equal(t, EventBatchUpdate, ev.Type)
			assert.Equal(t, b.ID, ev.BatchID)
			if ev.Status == domain.StatusCompleted {
				sawCompleted = true
				assert.Equal(t, 2, ev.CompletedTasks)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
	assert.True(t, sawCompleted)
}

func TestSubmit_DefaultName(t *testing.T) {
	svc, _, _ := newService(t, stubClient{text: "[]"})
	svc.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	sub := validSubmission()
	sub.Name = ""
	b, err := svc.Submit(t.Context(), sub)
	require.NoError(t, err)
	assert.Equal(t, "batch-20260304-050607", b.Name)
}

func TestSubmit_TaskFailuresStillComplete(t *testing.T) {
	svc, _, notifier := newService(t, stubClient{err: fmt.Errorf("%w: refused", generate.ErrTransport)})

	sub := validSubmission()
	sub.Prompts = append(sub.Prompts, key("pipeline_usability::does_not_exist"))
	b, err := svc.Submit(t.Context(), sub)
	require.NoError(t, err)
	svc.Wait()

	got, err := svc.Batch(b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, 3, got.FailedTasks())
	assert.Equal(t, domain.ErrorKindTransport, got.Tasks[0].ErrorKind)
	assert.Equal(t, domain.ErrorKindCatalog, got.Tasks[2].ErrorKind)

	require.Equal(t, 1, notifier.count())
	assert.Equal(t, notify.LevelError, notifier.sent[0].Level)
}

func TestSubmit_DispatchFailureMarksBatchFailed(t *testing.T) {
	svc, st, notifier := newService(t, stubClient{text: "[]"})
	svc.dispatcher.Close()

	b, err := svc.Submit(t.Context(), validSubmission())
	require.ErrorIs(t, err, ErrDispatch)
	require.NotNil(t, b)
	assert.Equal(t, domain.StatusFailed, b.Status)

	persisted, err := st.GetBatch(b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, persisted.Status)
	assert.Zero(t, persisted.CompletedTasks)
	assert.Equal(t, 1, notifier.count())
}

func TestClose_ConcurrentWithSubmit(t *testing.T) {
	svc, st, _ := newService(t, stubClient{text: oneIssue})

	var wg sync.WaitGroup
	accepted := make(chan string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := svc.Submit(context.Background(), validSubmission())
			if err != nil {
				assert.ErrorIs(t, err, ErrDispatch)
				return
			}
			accepted <- b.ID
		}()
	}
	svc.Close()
	wg.Wait()
	close(accepted)

	for id := range accepted {
		b, err := st.GetBatch(id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, b.Status, "batch %s", id)
		assert.Equal(t, len(b.Tasks), b.CompletedTasks)
	}
}

func TestLogs_Paging(t *testing.T) {
	svc, _, _ := newService(t, stubClient{text: "[]"})
	for i := 0; i < 5; i++ {
		sub := validSubmission()
		sub.Name = fmt.Sprintf("b%d", i)
		sub.Files[0].Name = fmt.Sprintf("file%d.yaml", i)
		_, err := svc.Submit(t.Context(), sub)
		require.NoError(t, err)
	}
	svc.Wait()

	page, err := svc.Logs(LogQuery{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 2, page.CurrPage)
	assert.Equal(t, 2, page.PerPage)
	assert.True(t, page.HasNext)
	assert.True(t, page.HasPrev)
	require.Len(t, page.Logs, 2)
	assert.Equal(t, "b2", page.Logs[0].Name)

	page, err = svc.Logs(LogQuery{Search: "file4"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.False(t, page.HasNext)
	assert.False(t, page.HasPrev)

	page, err = svc.Logs(LogQuery{Page: 9})
	require.NoError(t, err)
	assert.Empty(t, page.Logs)
	assert.NotNil(t, page.Logs)

	for _, q := range []LogQuery{{Page: -1}, {Limit: 101}, {Limit: -5}} {
		_, err := svc.Logs(q)
		var inputErr *domain.InputError
		assert.True(t, errors.As(err, &inputErr), "query %+v", q)
	}
}

func TestRecoverInterrupted(t *testing.T) {
	svc, st, _ := newService(t, stubClient{text: "[]"})
	infos := []domain.PromptInfo{
		{Category: domain.CategoryPipelineValidity, Name: "all"},
		{Category: domain.CategoryArtifactsValidity, Name: "all"},
	}

	orphan, err := st.CreateBatch("orphan", []domain.File{domain.NewFile("a.sh", "ls")}, infos)
	require.NoError(t, err)
	_, err = st.SetBatchStatus(orphan.ID, domain.StatusProcessing)
	require.NoError(t, err)
	done := orphan.Tasks[0]
	done.Complete(nil, domain.Metrics{})
	_, err = st.CommitTask(orphan.ID, 0, done)
	require.NoError(t, err)

	neverStarted, err := st.CreateBatch("never", nil, infos)
	require.NoError(t, err)

	n, err := svc.RecoverInterrupted()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := st.GetBatch(orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.CompletedTasks)
	assert.Equal(t, domain.StatusCompleted, got.Tasks[0].Status)
	assert.Equal(t, domain.ErrorKindInterrupted, got.Tasks[1].ErrorKind)

	got, err = st.GetBatch(neverStarted.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)

	n, err = svc.RecoverInterrupted()
	require.NoError(t, err)
	assert.Zero(t, n, "recovery is idempotent")
}

func TestParsePrompts(t *testing.T) {
	keys, err := ParsePrompts([]string{"pipeline_validity::all", "artifacts_anonymity::names"})
	require.NoError(t, err)
	assert.Equal(t, []domain.PromptKey{
		{Category: domain.CategoryPipelineValidity, Name: "all"},
		{Category: domain.CategoryArtifactsAnonymity, Name: "names"},
	}, keys)

	_, err = ParsePrompts([]string{"pipeline_validity"})
	var inputErr *domain.InputError
	assert.True(t, errors.As(err, &inputErr))
}

func TestBroker(t *testing.T) {
	b := NewBroker()
	ch, unsubscribe := b.Subscribe()
	assert.Equal(t, 1, b.Subscribers())

	b.Publish(Event{BatchID: "x"})
	assert.Equal(t, "x", (<-ch).BatchID)

	// a full buffer drops rather than blocks
	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(Event{})
	}

	unsubscribe()
	unsubscribe()
	assert.Zero(t, b.Subscribers())

	b.Close()
	late, _ := b.Subscribe()
	_, ok := <-late
	assert.False(t, ok, "subscriptions after close are already closed")
}
