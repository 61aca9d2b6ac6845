package server

import (
	"sort"
	"sync"
	"time"

	"sitemap-ingestor/internal/ingest"
)

type RunState string

const (
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// Run is the status of one ingestion run as reported by GET /ingest/:id.
type Run struct {
	ID         string          `json:"id"`
	SitemapURL string          `json:"sitemap_url"`
	MaxURLs    int             `json:"max_urls"`
	State      RunState        `json:"state"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Progress   ingest.Progress `json:"progress"`
	Summary    *ingest.Summary `json:"summary,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Runs tracks every run started by this process.
type Runs struct {
	mu   sync.RWMutex
	runs map[string]*Run
	now  func() time.Time
}

func NewRuns() *Runs {
	return &Runs{runs: make(map[string]*Run), now: time.Now}
}

func (r *Runs) start(id, sitemapURL string, maxURLs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[id] = &Run{
		ID:         id,
		SitemapURL: sitemapURL,
		MaxURLs:    maxURLs,
		State:      RunRunning,
		StartedAt:  r.now(),
		Progress:   ingest.Progress{RunID: id},
	}
}

// Progress records pipeline progress. It is meant to be passed to the orchestrator.
func (r *Runs) Progress(p ingest.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[p.RunID]; ok {
		run.Progress = p
	}
}

func (r *Runs) finish(id string, sum ingest.Summary, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return
	}
	now := r.now()
	run.FinishedAt = &now
	if err != nil {
		run.State = RunFailed
		run.Error = err.Error()
		return
	}
	run.State = RunCompleted
	run.Summary = &sum
}

// Get returns a copy of the run.
func (r *Runs) Get(id string) (Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// List returns every run, newest first.
func (r *Runs) List() []Run {
	r.mu.RLock()
	out := make([]Run, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, *run)
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}
