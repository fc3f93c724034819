package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"today/internal/model"
	"today/internal/refresh"
	"today/internal/rtm"
)

var london = mustLoad("Europe/London")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func TestClassify(t *testing.T) {
	// 00:30 BST on 3 June.
	now := time.Date(2024, time.June, 3, 0, 30, 0, 0, london)

	raw := []rtm.RawTask{
		{Name: "late", Due: "2024-06-01T12:00:00Z"},
		// 23:30 UTC on the 2nd is already the 3rd in London.
		{Name: "tonight", Due: "2024-06-02T23:30:00Z"},
		{Name: "tomorrow", Due: "2024-06-04T08:00:00Z"},
		{Name: "someday"},
		{Name: "garbage", Due: "next week"},
	}

	got := Classify(raw, now, london)
	assert.Equal(t, []model.Task{
		{Name: "late", Due: "2024-06-01", Status: model.TaskOverdue},
		{Name: "tonight", Due: "2024-06-03", Status: model.TaskToday},
		{Name: "tomorrow", Due: "2024-06-04", Status: model.TaskFuture},
	}, got)
}

func TestStatusIsExhaustive(t *testing.T) {
	today := model.Date{Year: 2024, Month: time.June, Day: 3}
	for offset := -40; offset <= 40; offset++ {
		due := today.AddDays(offset)
		s := Status(due, today)
		switch {
		case offset < 0:
			assert.Equal(t, model.TaskOverdue, s)
		case offset == 0:
			assert.Equal(t, model.TaskToday, s)
		default:
			assert.Equal(t, model.TaskFuture, s)
		}
	}
}

func TestPartitionAndOldest(t *testing.T) {
	tasks := []model.Task{
		{Name: "b", Due: "2024-06-05", Status: model.TaskFuture},
		{Name: "z", Due: "2024-05-30", Status: model.TaskOverdue},
		{Name: "a", Due: "2024-06-03", Status: model.TaskToday},
		{Name: "a", Due: "2024-05-30", Status: model.TaskOverdue},
		{Name: "m", Due: "2024-06-01", Status: model.TaskOverdue},
	}

	overdue, upcoming := Partition(tasks)
	assert.Equal(t, []string{"a", "z", "m"}, names(overdue))
	assert.Equal(t, []string{"a", "b"}, names(upcoming))

	today := model.Date{Year: 2024, Month: time.June, Day: 3}
	assert.Equal(t, 4, OldestOverdueDays(tasks, today))
	assert.Equal(t, 0, OldestOverdueDays(upcoming, today))
}

func names(tasks []model.Task) []string {
	var out []string
	for _, t := range tasks {
		out = append(out, t.Name)
	}
	return out
}

type fakeSource struct {
	mu       sync.Mutex
	listsErr error
	lists    map[string]string
	tasks    map[string][]rtm.RawTask
	errs     map[string]error
	calls    []string
}

func (s *fakeSource) Lists(context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "lists")
	if s.listsErr != nil {
		return nil, s.listsErr
	}
	return s.lists, nil
}

func (s *fakeSource) Tasks(_ context.Context, filter, listID string) ([]rtm.RawTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if filter != DueFilter {
		return nil, errors.New("unexpected filter " + filter)
	}
	s.calls = append(s.calls, "tasks:"+listID)
	if err := s.errs[listID]; err != nil {
		return nil, err
	}
	return s.tasks[listID], nil
}

func (s *fakeSource) with(fn func(s *fakeSource)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *fakeSource) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func newFetcher(src *fakeSource, lists ...string) *Fetcher {
	now := time.Date(2024, time.June, 3, 12, 0, 0, 0, time.UTC)
	return &Fetcher{
		opts: Options{
			Source:        src,
			RequiredLists: lists,
			Location:      time.UTC,
			Now:           func() time.Time { return now },
		},
		cache: refresh.NewCache[[]model.Task](AllTasks),
	}
}

func TestRefreshCycle(t *testing.T) {
	src := &fakeSource{
		listsErr: errors.New("offline"),
		tasks: map[string][]rtm.RawTask{
			"":    {{Name: "all-1", Due: "2024-06-03T10:00:00Z"}},
			"200": {{Name: "work-1", Due: "2024-06-01T10:00:00Z"}},
		},
		errs: map[string]error{},
	}
	f := newFetcher(src, "Work", "Missing")
	ctx := context.Background()

	require.NoError(t, f.refreshAll(ctx))
	assert.True(t, f.HasError())
	assert.Equal(t, []string{"all-1"}, names(f.Tasks("")))
	assert.Empty(t, f.Tasks("Work"))

	src.with(func(s *fakeSource) {
		s.listsErr = nil
		s.lists = map[string]string{"Inbox": "100", "Work": "200"}
	})
	require.NoError(t, f.refreshAll(ctx))
	assert.False(t, f.HasError())
	assert.Equal(t, []string{"work-1"}, names(f.Tasks("Work")))
	assert.Equal(t, model.TaskOverdue, f.Tasks("Work")[0].Status)
	assert.NotNil(t, f.Tasks("Missing"))
	assert.Empty(t, f.Tasks("Missing"))
	assert.Empty(t, f.Tasks("Inbox"))

	// Lists are resolved once.
	require.NoError(t, f.refreshAll(ctx))
	assert.Equal(t, []string{
		"lists", "tasks:",
		"lists", "tasks:", "tasks:200",
		"tasks:", "tasks:200",
	}, src.callLog())

	// A failing list keeps its previous tasks and flags the error.
	src.with(func(s *fakeSource) { s.errs["200"] = errors.New("rate limited") })
	require.NoError(t, f.refreshAll(ctx))
	assert.True(t, f.HasError())
	assert.Equal(t, []string{"work-1"}, names(f.Tasks("Work")))
	assert.Equal(t, []string{"all-1"}, names(f.Tasks("")))
}

func TestTasksReturnsCopy(t *testing.T) {
	src := &fakeSource{
		lists: map[string]string{},
		tasks: map[string][]rtm.RawTask{"": {{Name: "x", Due: "2024-06-03T10:00:00Z"}}},
		errs:  map[string]error{},
	}
	f := newFetcher(src)
	require.NoError(t, f.refreshAll(context.Background()))

	got := f.Tasks("")
	got[0].Name = "mutated"
	assert.Equal(t, "x", f.Tasks("")[0].Name)
}

func TestFetcherLoop(t *testing.T) {
	src := &fakeSource{
		lists: map[string]string{"Work": "200"},
		tasks: map[string][]rtm.RawTask{"200": {{Name: "w", Due: "2024-06-03T10:00:00Z"}}},
		errs:  map[string]error{},
	}
	f := New(context.Background(), Options{
		Source:        src,
		RequiredLists: []string{"Work"},
		Schedule:      cron.Every(time.Hour),
		Location:      time.UTC,
	})

	require.Eventually(t, func() bool { return len(f.Tasks("Work")) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"Work"}, f.RequiredLists())
	require.NoError(t, f.Stop())
}
