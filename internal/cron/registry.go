package cron

import (
	"context"
	"fmt"
	"time"
)

// Job is one sweep run by the cron worker. Jobs must be safe to rerun: every
// sweep re-derives its work from durable state.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry pairs a job with its cadence. A zero Every runs the job each cycle.
type Entry struct {
	Job   Job
	Every time.Duration
}

// Registry holds the scheduled jobs in registration order.
type Registry struct {
	entries []Entry
	names   map[string]struct{}
}

// NewRegistry registers jobs that run every cycle. It panics on a duplicate
// job name, which is a wiring mistake.
func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{names: map[string]struct{}{}}
	for _, job := range jobs {
		if err := registry.Register(job, 0); err != nil {
			panic(err)
		}
	}
	return registry
}

// Register adds a job; names must be unique since they key metrics and logs.
func (r *Registry) Register(job Job, every time.Duration) error {
	if job == nil {
		return nil
	}
	if r.names == nil {
		r.names = map[string]struct{}{}
	}
	if _, dup := r.names[job.Name()]; dup {
		return fmt.Errorf("cron job %q already registered", job.Name())
	}
	if every < 0 {
		every = 0
	}
	r.names[job.Name()] = struct{}{}
	r.entries = append(r.entries, Entry{Job: job, Every: every})
	return nil
}

func (r *Registry) Entries() []Entry {
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	return entries
}

// Jobs returns the registered jobs in the order they were added.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, 0, len(r.entries))
	for _, entry := range r.entries {
		jobs = append(jobs, entry.Job)
	}
	return jobs
}
