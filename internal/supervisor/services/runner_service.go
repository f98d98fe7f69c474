// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

package services

import (
	"context"
)

// Runner matches components whose Serve method already follows the
// suture.Service pattern, such as the prewarm scheduler.
type Runner interface {
	Serve(ctx context.Context) error
}

// RunnerService wraps a Runner with a stable name for supervisor logging.
type RunnerService struct {
	runner Runner
	name   string
}

// NewRunnerService creates a named wrapper around a Runner.
func NewRunnerService(runner Runner, name string) *RunnerService {
	return &RunnerService{runner: runner, name: name}
}

// Serve implements suture.Service by delegating to the wrapped runner.
func (s *RunnerService) Serve(ctx context.Context) error {
	return s.runner.Serve(ctx)
}

// String implements fmt.Stringer for logging.
func (s *RunnerService) String() string {
	return s.name
}
