/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type checkFunc func(ctx context.Context) (HealthCheck, error)

type checkSpec struct {
	name string
	typ  CheckType
	fn   checkFunc
}

type outcome struct {
	check HealthCheck
	err   error
}

// checkRunner executes each check on a worker pool so that a check which
// hangs past its timeout is abandoned instead of stalling the cycle.
type checkRunner struct {
	pool    *ants.Pool
	timeout time.Duration
	tracer  trace.Tracer
	now     func() time.Time
}

func newCheckRunner(size int, timeout time.Duration, tracer trace.Tracer, now func() time.Time) (*checkRunner, error) {
	pool, err := ants.NewPool(size, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("health: create check pool: %w", err)
	}
	return &checkRunner{pool: pool, timeout: timeout, tracer: tracer, now: now}, nil
}

// execute runs one check and returns its result, or an error when the check
// failed, panicked, could not be scheduled or ran out of time.
func (r *checkRunner) execute(ctx context.Context, cs checkSpec) (HealthCheck, error) {
	ctx, span := r.tracer.Start(ctx, "health.check", trace.WithAttributes(
		attribute.String("check.name", cs.name),
		attribute.String("check.type", string(cs.typ)),
	))
	defer span.End()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	task := func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		hc, err := cs.fn(ctx)
		done <- outcome{check: hc, err: err}
	}

	var res outcome
	if err := r.pool.Submit(task); err != nil {
		res.err = fmt.Errorf("schedule check: %w", err)
	} else {
		select {
		case res = <-done:
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				res.err = fmt.Errorf("%w after %s", ErrCheckTimeout, r.timeout)
			} else {
				res.err = ctx.Err()
			}
		}
	}

	if res.err != nil && ctx.Err() == context.DeadlineExceeded && !errors.Is(res.err, ErrCheckTimeout) {
		res.err = fmt.Errorf("%w after %s: %v", ErrCheckTimeout, r.timeout, res.err)
	}
	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
		return HealthCheck{}, res.err
	}

	hc := res.check
	if hc.Name == "" {
		hc.Name = cs.name
	}
	if !hc.Type.Valid() {
		hc.Type = cs.typ
	}
	if hc.Timestamp.IsZero() {
		hc.Timestamp = r.now()
	}
	hc.DurationMS = float64(time.Since(start).Microseconds()) / 1000
	span.SetAttributes(attribute.String("check.status", hc.Status.String()))
	return hc, nil
}

// run is execute for built-in checks: any failure becomes an unhealthy result
// carrying the error text.
func (r *checkRunner) run(ctx context.Context, cs checkSpec) HealthCheck {
	start := time.Now()
	hc, err := r.execute(ctx, cs)
	if err == nil {
		return hc
	}
	return HealthCheck{
		Name:       cs.name,
		Type:       cs.typ,
		Status:     StatusUnhealthy,
		Message:    fmt.Sprintf("%s check failed: %v", cs.name, err),
		Details:    map[string]any{"error": err.Error()},
		Timestamp:  r.now(),
		DurationMS: float64(time.Since(start).Microseconds()) / 1000,
	}
}

func (r *checkRunner) release() {
	r.pool.Release()
}
