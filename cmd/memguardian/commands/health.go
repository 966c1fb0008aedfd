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
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/srediag/memory-guardian/pkg/health"
)

var errPreflightFailed = errors.New("pre-flight validation failed")

func newCheckCmd(a *app) *cobra.Command {
	var asJSON, verbose bool
	var pid int32
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one health cycle and print the verdict",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.monitor()
			if err != nil {
				return err
			}
			defer m.Close()
			if pid > 0 && !m.SetMonitoredProcess(cmd.Context(), pid) {
				return fmt.Errorf("process %d not found", pid)
			}
			sh := m.CheckHealth(cmd.Context())
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sh)
			}
			return printHealth(cmd.OutOrStdout(), sh, verbose)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the verdict as JSON")
	cmd.Flags().Int32Var(&pid, "pid", 0, "also check this process")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print check details")
	return cmd
}

func printHealth(w io.Writer, sh health.SystemHealth, verbose bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "CHECK\tTYPE\tSTATUS\tTIME\tMESSAGE\n")
	for _, c := range sh.Checks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1fms\t%s\n", c.Name, c.Type, c.Status, c.DurationMS, c.Message)
		if !verbose {
			continue
		}
		for _, k := range sortedKeys(c.Details) {
			fmt.Fprintf(tw, "\t\t\t\t  %s=%v\n", k, c.Details[k])
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\noverall: %s (%d/%d healthy, %.0f%%)\n",
		sh.Status, sh.HealthyChecks(), sh.TotalChecks(), sh.HealthPercentage())
	return err
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that the host can take a process start",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.monitor()
			if err != nil {
				return err
			}
			defer m.Close()
			ok, msg := m.ValidateBeforeStart(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			if !ok {
				return errPreflightFailed
			}
			return nil
		},
	}
}

// sortedKeys is used for stable output of detail maps.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
