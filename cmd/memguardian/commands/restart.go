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

package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/srediag/memory-guardian/pkg/lifecycle"
)

var errNoStateFile = errors.New("restart.state_file is not configured")

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool
	var history int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print restart statistics from the state file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Restart.StateFile == "" {
				return errNoStateFile
			}
			p, err := a.protection()
			if err != nil {
				return err
			}
			defer p.Transitions().Close()
			st := p.Statistics()
			recent := p.RestartHistory(history)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Statistics lifecycle.RestartStatistics `json:"statistics"`
					History    []lifecycle.RestartRecord   `json:"restart_history"`
				}{st, recent})
			}
			return printStatus(cmd.OutOrStdout(), st, p.Circuit(), recent)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print statistics as JSON")
	cmd.Flags().IntVar(&history, "history", 5, "number of recent restarts to list (0 for all)")
	return cmd
}

func printStatus(w io.Writer, st lifecycle.RestartStatistics, c lifecycle.CircuitStatus, recent []lifecycle.RestartRecord) error {
	fmt.Fprintf(w, "restarts:             %d (%d ok, %d failed, %.0f%% success)\n",
		st.TotalRestarts, st.SuccessfulRestarts, st.FailedRestarts, st.SuccessRate()*100)
	fmt.Fprintf(w, "consecutive failures: %d\n", st.ConsecutiveFailures)
	fmt.Fprintf(w, "circuit:              %s (tripped %d times)\n", c.State, c.Trips)
	if c.State == lifecycle.CircuitOpen {
		fmt.Fprintf(w, "retry at:             %s\n", c.RetryAt.Local().Format(time.RFC3339))
	}
	if !st.LastRestartTime.IsZero() {
		fmt.Fprintf(w, "last restart:         %s\n", st.LastRestartTime.Local().Format(time.RFC3339))
		fmt.Fprintf(w, "interval avg/min:     %.1f / %.1f minutes\n",
			st.AverageRestartIntervalMinutes, st.ShortestRestartIntervalMinutes)
	}
	if t := st.MemoryTrend; t != nil {
		fmt.Fprintf(w, "memory trend:         %+.2f MB/min, R² %.2f over %d samples (leak suspected: %t)\n",
			t.SlopeMBPerMin, t.RSquared, t.SampleCount, t.IsLeakSuspected())
	}
	for _, r := range recent {
		outcome := "ok"
		if !r.Success {
			outcome = "failed"
		}
		fmt.Fprintf(w, "  %s  %-6s  %7.1f MB  backoff %5.1fs  %s\n",
			r.Timestamp.Local().Format(time.RFC3339), outcome, r.MemoryMB, r.BackoffSeconds, r.Reason)
	}
	return nil
}

func newResetCircuitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-circuit",
		Short: "Close the restart circuit breaker and persist it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Restart.StateFile == "" {
				return errNoStateFile
			}
			p, err := a.protection()
			if err != nil {
				return err
			}
			defer p.Transitions().Close()
			// Start claims the state file so a running serve is not overwritten.
			if err := p.Start(cmd.Context()); err != nil {
				return err
			}
			before := p.Circuit().State
			p.ResetCircuitBreaker()
			if err := p.Stop(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "circuit %s -> %s\n", before, p.Circuit().State)
			return nil
		},
	}
}

func newBackoffCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backoff <attempt>",
		Short: "Print the delay before a restart attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			attempt, err := strconv.Atoi(args[0])
			if err != nil || attempt < 1 {
				return fmt.Errorf("attempt must be a positive integer, got %q", args[0])
			}
			p, err := a.protection(lifecycle.WithStateStore(nil))
			if err != nil {
				return err
			}
			defer p.Transitions().Close()
			base := time.Duration(a.cfg.Restart.BaseBackoffSeconds * float64(time.Second))
			max := time.Duration(a.cfg.Restart.MaxBackoffSeconds * float64(time.Second))
			fmt.Fprintf(cmd.OutOrStdout(), "attempt %d: %s (nominal %s)\n",
				attempt, p.BackoffDuration(attempt).Round(time.Millisecond), lifecycle.UnjitteredBackoff(attempt, base, max))
			return nil
		},
	}
}
