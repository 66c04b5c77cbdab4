package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/satyaki-up/trendboard/internal/issues"
	"github.com/satyaki-up/trendboard/internal/progress"
)

var ErrAlreadyRunning = errors.New("snapshot already running")

type Walker interface {
	Themes(ctx context.Context, fragment string) ([]issues.Issue, error)
	Issue(ctx context.Context, key string) (*issues.Issue, error)
	Children(ctx context.Context, parent issues.Issue, level issues.Level) ([]issues.Issue, error)
}

type ActivityFetcher interface {
	DevActivity(ctx context.Context, issueID string) (*issues.Activity, error)
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

type Orchestrator struct {
	walker  Walker
	dev     ActivityFetcher
	store   Store
	log     zerolog.Logger
	hub     *Hub
	now     func() time.Time
	workers int

	running atomic.Bool
}

func New(walker Walker, dev ActivityFetcher, store Store, log zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		walker:  walker,
		dev:     dev,
		store:   store,
		log:     log,
		hub:     NewHub(),
		now:     time.Now,
		workers: 1,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Status() Progress {
	return o.hub.Current()
}

func (o *Orchestrator) Subscribe() (<-chan Progress, func()) {
	return o.hub.Subscribe()
}

func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Start runs in the background. The run outlives ctx cancellation.
func (o *Orchestrator) Start(ctx context.Context, jql string, mode Mode) (string, error) {
	if !o.running.CompareAndSwap(false, true) {
		return "", ErrAlreadyRunning
	}
	runID := uuid.NewString()
	o.begin(runID)
	go func() {
		defer o.running.Store(false)
		_, _ = o.execute(context.WithoutCancel(ctx), runID, jql, mode)
	}()
	return runID, nil
}

func (o *Orchestrator) Run(ctx context.Context, jql string, mode Mode) (*Result, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer o.running.Store(false)
	runID := uuid.NewString()
	o.begin(runID)
	return o.execute(ctx, runID, jql, mode)
}

func (o *Orchestrator) begin(runID string) {
	o.hub.Publish(Progress{RunID: runID, Phase: PhaseThemes, Message: "Starting snapshot"})
}

func (o *Orchestrator) execute(ctx context.Context, runID, jql string, mode Mode) (*Result, error) {
	started := o.now()
	log := o.log.With().Str("run_id", runID).Str("mode", string(mode)).Logger()
	log.Info().Str("jql", jql).Msg("snapshot started")

	r := &run{
		o:       o,
		id:      runID,
		log:     log,
		mode:    mode,
		days:    progress.Window(started, progress.RetentionDays),
		started: started,
		visited: map[string]bool{},
		memo:    map[memoKey]*memoEntry{},
		res: &Result{
			RunID:    runID,
			Mode:     mode,
			Trend:    map[string]progress.Daily{},
			Activity: map[string]issues.Activity{},
			Roster:   map[string]issues.Roster{},
		},
	}
	r.res.Days = r.days

	o.hub.Publish(Progress{RunID: runID, Phase: PhaseThemes, Message: "Fetching themes"})
	themes, err := o.walker.Themes(ctx, jql)
	if err != nil {
		return nil, o.fail(log, runID, fmt.Errorf("list themes: %w", err))
	}
	r.total.Add(int64(len(themes)))

	if _, err := r.visitAll(ctx, themes, issues.LevelTheme); err != nil {
		return nil, o.fail(log, runID, err)
	}

	o.hub.Publish(Progress{
		RunID:   runID,
		Phase:   PhaseSaving,
		Current: int(r.current.Load()),
		Total:   int(r.total.Load()),
		Message: "Saving snapshot",
	})
	r.res.At = o.now()
	if err := o.store.Save(ctx, r.res); err != nil {
		return nil, o.fail(log, runID, fmt.Errorf("save snapshot: %w", err))
	}

	n := r.issueCount()
	o.hub.Publish(Progress{
		RunID:       runID,
		Phase:       PhaseDone,
		Current:     int(r.current.Load()),
		Total:       int(r.total.Load()),
		Message:     fmt.Sprintf("Snapshot complete: %d issues", n),
		Done:        true,
		TotalIssues: n,
	})
	log.Info().Int("issues", n).Dur("duration", o.now().Sub(started)).Msg("snapshot finished")
	return r.res, nil
}

func (o *Orchestrator) fail(log zerolog.Logger, runID string, err error) error {
	log.Error().Err(err).Msg("snapshot failed")
	o.hub.Publish(Progress{RunID: runID, Phase: PhaseError, Message: "Snapshot failed", Error: err.Error()})
	return err
}

type nodeValue struct {
	trend    progress.Daily
	activity *issues.Activity
	roster   issues.Roster
}

type run struct {
	o       *Orchestrator
	id      string
	log     zerolog.Logger
	mode    Mode
	days    []string
	started time.Time

	current atomic.Int64
	total   atomic.Int64

	mu      sync.Mutex
	res     *Result
	visited map[string]bool
	memo    map[memoKey]*memoEntry
}

type memoKey struct {
	level issues.Level
	key   string
}

type memoEntry struct {
	done chan struct{}
	v    nodeValue
	err  error
}

func (r *run) visitAll(ctx context.Context, nodes []issues.Issue, level issues.Level) ([]nodeValue, error) {
	out := make([]nodeValue, len(nodes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.o.workers)
	for i := range nodes {
		g.Go(func() error {
			v, err := r.visit(gctx, nodes[i], level)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// visit computes a node once per level. Only context cancellation is returned.
func (r *run) visit(ctx context.Context, listed issues.Issue, level issues.Level) (nodeValue, error) {
	if err := ctx.Err(); err != nil {
		return nodeValue{}, err
	}
	cur := r.current.Add(1)
	r.o.hub.Publish(Progress{
		RunID:   r.id,
		Phase:   phaseOf(level),
		Current: int(cur),
		Total:   int(r.total.Load()),
		Message: fmt.Sprintf("Processing %s %s (%d links): %s", level, listed.Key, issues.ChildCount(listed), listed.Summary),
	})

	k := memoKey{level: level, key: listed.Key}
	r.mu.Lock()
	if e, ok := r.memo[k]; ok {
		r.mu.Unlock()
		select {
		case <-e.done:
		case <-ctx.Done():
			return nodeValue{}, ctx.Err()
		}
		return e.v, e.err
	}
	e := &memoEntry{done: make(chan struct{})}
	r.memo[k] = e
	r.mu.Unlock()

	e.v, e.err = r.compute(ctx, listed, level)
	close(e.done)
	return e.v, e.err
}

func (r *run) compute(ctx context.Context, listed issues.Issue, level issues.Level) (nodeValue, error) {
	is := listed
	full, err := r.o.walker.Issue(ctx, listed.Key)
	if err != nil {
		if ctx.Err() != nil {
			return nodeValue{}, ctx.Err()
		}
		r.log.Warn().Str("issue", listed.Key).Err(err).Msg("fetch issue failed")
	} else {
		is = *full
	}

	var children []issues.Issue
	if childLevel, _, ok := issues.ChildLevel(level); ok {
		children, err = r.o.walker.Children(ctx, is, level)
		if err != nil {
			if ctx.Err() != nil {
				return nodeValue{}, ctx.Err()
			}
			r.log.Warn().Str("issue", is.Key).Str("level", string(childLevel)).Err(err).Msg("fetch children failed")
			children = nil
		}
	}

	var v nodeValue
	if len(children) > 0 {
		r.total.Add(int64(len(children)))
		childLevel, _, _ := issues.ChildLevel(level)
		vals, err := r.visitAll(ctx, children, childLevel)
		if err != nil {
			return nodeValue{}, err
		}
		v = r.aggregate(vals)
	} else {
		v, err = r.leaf(ctx, is)
		if err != nil {
			return nodeValue{}, err
		}
	}

	r.record(is.Key, v)
	return v, nil
}

func (r *run) aggregate(children []nodeValue) nodeValue {
	var v nodeValue
	if r.mode.Trend() {
		trends := make([]progress.Daily, 0, len(children))
		rosters := make([]issues.Roster, 0, len(children))
		for _, c := range children {
			if c.trend != nil {
				trends = append(trends, c.trend)
			}
			if c.roster != nil {
				rosters = append(rosters, c.roster)
			}
		}
		v.trend = progress.AverageDaily(trends, r.days)
		v.roster = progress.AggregateRoster(rosters)
	}
	if r.mode.Git() {
		acts := make([]*issues.Activity, 0, len(children))
		for _, c := range children {
			acts = append(acts, c.activity)
		}
		v.activity = progress.AggregateActivity(acts)
	}
	return v
}

func (r *run) leaf(ctx context.Context, is issues.Issue) (nodeValue, error) {
	var v nodeValue
	if r.mode.Trend() {
		trend, err := progress.BuildTimeline(is, r.days)
		if err != nil {
			r.log.Warn().Str("issue", is.Key).Err(err).Msg("build timeline failed")
		} else {
			v.trend = trend
		}
		roster, err := progress.ExtractContributors(is, r.started)
		if err != nil {
			r.log.Warn().Str("issue", is.Key).Err(err).Msg("extract contributors failed")
		} else {
			v.roster = roster
		}
	}
	if r.mode.Git() && r.o.dev != nil {
		act, err := r.o.dev.DevActivity(ctx, is.ID)
		switch {
		case err != nil && ctx.Err() != nil:
			return nodeValue{}, ctx.Err()
		case err != nil:
			r.log.Warn().Str("issue", is.Key).Err(err).Msg("fetch dev activity failed")
		case act != nil && !act.Empty():
			v.activity = act
		}
	}
	return v, nil
}

func (r *run) record(key string, v nodeValue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.visited[key] = true
	if v.trend != nil {
		r.res.Trend[key] = v.trend
	}
	if v.roster != nil {
		r.res.Roster[key] = v.roster
	}
	if v.activity != nil {
		r.res.Activity[key] = *v.activity
	}
}

func (r *run) issueCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.visited)
}
