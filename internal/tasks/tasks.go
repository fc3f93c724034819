// Package tasks keeps incomplete tasks due within the next month refreshed
// in the background and classifies them against the local calendar day.
package tasks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "today/internal/log"
	"today/internal/model"
	"today/internal/refresh"
	"today/internal/rtm"
)

const (
	// AllTasks is the cache key of the unfiltered task fetch.
	AllTasks = "_all"
	// DueFilter selects incomplete tasks due within a rolling month.
	DueFilter = `status:incomplete AND dueBefore:"1 month of today"`
)

// Source is the subset of the task API the fetcher uses.
type Source interface {
	Lists(ctx context.Context) (map[string]string, error)
	Tasks(ctx context.Context, filter, listID string) ([]rtm.RawTask, error)
}

type Options struct {
	Source        Source
	RequiredLists []string
	// Schedule defaults to every minute.
	Schedule cron.Schedule
	Location *time.Location
	Now      func() time.Time
}

// Fetcher refreshes all tasks plus each required list in the background.
type Fetcher struct {
	opts   Options
	cache  *refresh.Cache[[]model.Task]
	worker *refresh.Worker
	log    appLog.Logger

	mu      sync.Mutex
	lists   map[string]string
	listErr error
}

// New creates the Fetcher and starts its refresh loop.
func New(ctx context.Context, opts Options) *Fetcher {
	if opts.Schedule == nil {
		opts.Schedule = cron.Every(time.Minute)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.RequiredLists = append([]string(nil), opts.RequiredLists...)

	f := &Fetcher{
		opts:  opts,
		cache: refresh.NewCache[[]model.Task](AllTasks),
		log:   appLog.With("component", "tasks"),
	}
	f.worker = refresh.StartWorker(ctx, func(ctx context.Context) error {
		return refresh.Run(ctx, opts.Schedule, f.refreshAll, opts.Now)
	})
	return f
}

func (f *Fetcher) refreshAll(ctx context.Context) error {
	f.resolveLists(ctx)

	f.fetch(ctx, AllTasks, "")
	for _, name := range f.opts.RequiredLists {
		if ctx.Err() != nil {
			return nil
		}
		id, ok := f.listID(name)
		if !ok {
			continue
		}
		f.fetch(ctx, id, id)
	}
	return nil
}

// resolveLists maps list names to ids. It succeeds once; until then it is
// retried at the start of every cycle.
func (f *Fetcher) resolveLists(ctx context.Context) {
	f.mu.Lock()
	resolved := f.lists != nil
	f.mu.Unlock()
	if resolved {
		return
	}

	lists, err := f.opts.Source.Lists(ctx)
	if err != nil {
		if ctx.Err() == nil {
			f.log.Error("resolve task lists failed", err)
		}
		f.mu.Lock()
		f.listErr = err
		f.mu.Unlock()
		return
	}

	f.mu.Lock()
	f.lists = lists
	f.listErr = nil
	f.mu.Unlock()
	f.log.Info("task lists resolved", "lists", len(lists))
}

func (f *Fetcher) fetch(ctx context.Context, key, listID string) {
	raw, err := f.opts.Source.Tasks(ctx, DueFilter, listID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		f.log.Error("task refresh failed", err, "list", key)
		f.cache.Fail(key, err, f.opts.Now())
		return
	}

	now := f.opts.Now()
	tasks := Classify(raw, now, f.opts.Location)
	f.cache.Succeed(key, tasks, now)
	f.log.Debug("tasks refreshed", "list", key, "tasks", len(tasks))
}

func (f *Fetcher) listID(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.lists[name]
	return id, ok
}

// Tasks returns the cached tasks of the named list in the order they were
// received. An empty name means all tasks. A list whose id is not known
// yields an empty result.
func (f *Fetcher) Tasks(listName string) []model.Task {
	key := AllTasks
	if listName != "" {
		id, ok := f.listID(listName)
		if !ok {
			return []model.Task{}
		}
		key = id
	}

	e, ok := f.cache.Get(key)
	if !ok || !e.HasData {
		return []model.Task{}
	}
	return append([]model.Task(nil), e.Data...)
}

func (f *Fetcher) RequiredLists() []string {
	return append([]string(nil), f.opts.RequiredLists...)
}

// HasError reports whether list resolution or any list's latest refresh
// failed.
func (f *Fetcher) HasError() bool {
	f.mu.Lock()
	listErr := f.listErr
	f.mu.Unlock()
	return listErr != nil || f.cache.HasError()
}

// Stop cancels the refresh loop and waits for it to exit.
func (f *Fetcher) Stop() error {
	return f.worker.Stop()
}

// Classify converts raw tasks into model.Tasks. The due timestamp's civil
// date in loc is compared with today in loc. Tasks without a parseable due
// date are skipped.
func Classify(raw []rtm.RawTask, now time.Time, loc *time.Location) []model.Task {
	if loc == nil {
		loc = time.Local
	}
	today := model.DateOf(now.In(loc))

	out := make([]model.Task, 0, len(raw))
	for _, r := range raw {
		if r.Due == "" {
			continue
		}
		due, err := time.Parse(time.RFC3339, r.Due)
		if err != nil {
			appLog.Debug("skipping task with bad due date", "task", r.Name, "due", r.Due)
			continue
		}
		d := model.DateOf(due.In(loc))
		out = append(out, model.Task{Name: r.Name, Due: d.String(), Status: Status(d, today)})
	}
	return out
}

// Status places due relative to today.
func Status(due, today model.Date) model.TaskStatus {
	switch due.Compare(today) {
	case -1:
		return model.TaskOverdue
	case 0:
		return model.TaskToday
	default:
		return model.TaskFuture
	}
}

// SortByDue orders tasks by due date, then name.
func SortByDue(tasks []model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Due != tasks[j].Due {
			return tasks[i].Due < tasks[j].Due
		}
		return tasks[i].Name < tasks[j].Name
	})
}

// Partition splits tasks into overdue and today-or-later, each sorted.
func Partition(tasks []model.Task) (overdue, upcoming []model.Task) {
	for _, t := range tasks {
		if t.Status == model.TaskOverdue {
			overdue = append(overdue, t)
		} else {
			upcoming = append(upcoming, t)
		}
	}
	SortByDue(overdue)
	SortByDue(upcoming)
	return overdue, upcoming
}

// OldestOverdueDays is the age in days of the oldest overdue task, or 0.
func OldestOverdueDays(tasks []model.Task, today model.Date) int {
	oldest := 0
	for _, t := range tasks {
		if t.Status != model.TaskOverdue {
			continue
		}
		due, err := t.DueDate()
		if err != nil {
			continue
		}
		if days := today.DaysSince(due); days > oldest {
			oldest = days
		}
	}
	return oldest
}
