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

// Package commands implements the memguardian command line.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/srediag/memory-guardian/internal/config"
	inthealth "github.com/srediag/memory-guardian/internal/health"
	"github.com/srediag/memory-guardian/internal/logger"
	"github.com/srediag/memory-guardian/pkg/health"
	"github.com/srediag/memory-guardian/pkg/lifecycle"
)

// DefaultConfigPath is read when --config is not given. A missing file means
// built-in defaults.
const DefaultConfigPath = "/etc/memguardian/memguardian.yaml"

// app is the state shared by every subcommand once the root has run.
type app struct {
	configPath string
	cfg        config.Config
	log        *zap.Logger

	// newSampler is replaced in tests.
	newSampler func() health.Sampler
}

func (a *app) monitor(opts ...health.Option) (*health.Monitor, error) {
	opts = append([]health.Option{health.WithLogger(a.log)}, opts...)
	return health.NewMonitor(a.cfg.Health, a.newSampler(), opts...)
}

func (a *app) protection(opts ...lifecycle.Option) (*lifecycle.RestartProtection, error) {
	opts = append([]lifecycle.Option{lifecycle.WithLogger(a.log)}, opts...)
	return lifecycle.New(a.cfg.Restart, opts...)
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{
		newSampler: func() health.Sampler { return inthealth.NewSampler(inthealth.DefaultCPUInterval) },
	})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "memguardian",
		Short: "Host health monitor and restart guard for supervised processes",
		Long: `memguardian samples host and process health and decides whether a
supervised process may be restarted. Restarts are gated by a circuit breaker,
an hourly rate limit and a memory-leak trend detector; what it learns is kept
in a state file across runs.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			if a.log == nil {
				l, err := logger.New(cfg.Logging)
				if err != nil {
					return fmt.Errorf("build logger: %w", err)
				}
				a.log = l
			}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", DefaultConfigPath, "path to the YAML configuration file")

	root.AddCommand(
		newCheckCmd(a),
		newValidateCmd(a),
		newStatusCmd(a),
		newResetCircuitCmd(a),
		newBackoffCmd(a),
		newConfigCmd(a),
		newServeCmd(a),
	)
	root.CompletionOptions.DisableDescriptions = true
	return root
}
