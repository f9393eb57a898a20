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

package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dlorenc/pkgr/pkg/job"
)

func TestExitCodeZeroWhenAllDone(t *testing.T) {
	results := []Result{
		{Job: &job.Job{State: job.StateDone}},
		{Job: &job.Job{State: job.StateDone}},
	}
	assert.Equal(t, 0, ExitCode(results))
}

func TestExitCodeOneWhenAnyFailed(t *testing.T) {
	results := []Result{
		{Job: &job.Job{State: job.StateDone}},
		{Job: &job.Job{State: job.StateFailed}},
	}
	assert.Equal(t, 1, ExitCode(results))
}

func TestExitCodeOneWhenAnyCancelled(t *testing.T) {
	results := []Result{
		{Job: &job.Job{State: job.StateCancelled}},
	}
	assert.Equal(t, 1, ExitCode(results))
}
