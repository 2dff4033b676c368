/*
 * Copyright 2025 tomoncle.
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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/tomoncle/txorm"
	"github.com/tomoncle/txorm/async"
	"github.com/tomoncle/txorm/database"
	"github.com/tomoncle/txorm/session"
	"github.com/tomoncle/txorm/utils"
	"gopkg.in/yaml.v3"
)

type rootOptions struct {
	config  string
	profile string
	dbType  string
	dbName  string
	url     string
	variant string
	format  string
	timeout time.Duration
}

// NewRootCommand builds the txorm command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "txorm",
		Short:        "Inspect and prepare txorm connection pools",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.config, "config", "c", "", "Profile file (yaml, json or toml)")
	flags.StringVarP(&opts.profile, "profile", "p", "", "Profile name; defaults to default_profile")
	flags.StringVar(&opts.dbType, "type", "", "Database type when no profile file is given")
	flags.StringVar(&opts.dbName, "dbname", "", "Database name when no profile file is given")
	flags.StringVar(&opts.url, "url", "", "Connection URL; overrides every other connection option")
	flags.StringVar(&opts.variant, "variant", "", "Driver stack (sync, async); defaults to the profile's")
	flags.StringVarP(&opts.format, "format", "f", "yaml", "Output format (json, yaml)")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Timeout for the whole command")

	root.AddCommand(
		newPingCommand(opts),
		newStatusCommand(opts),
		newSeedCommand(opts),
		newProfileCommand(opts),
	)
	return root
}

func newPingCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the database answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withBackend(cmd, func(ctx context.Context, client txorm.Backend) error {
				if !client.Ping(ctx) {
					return fmt.Errorf("database did not answer")
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return err
			})
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print pool occupancy and health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withBackend(cmd, func(ctx context.Context, client txorm.Backend) error {
				doc := map[string]any{"pool": client.PoolStatus()}
				switch c := client.(type) {
				case *txorm.Client:
					doc["variant"] = session.VariantSync
					doc["health"] = c.Manager().HealthCheck(ctx)
				case *txorm.AsyncClient:
					doc["variant"] = async.VariantAsync
				}
				return opts.write(cmd.OutOrStdout(), doc)
			})
		},
	}
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	var environment string
	cmd := &cobra.Command{
		Use:   "seed <dir>",
		Short: "Apply SQL seed files in one transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, client *txorm.Client) error {
				results, err := client.Seed(ctx, args[0], environment)
				if err != nil {
					return err
				}
				return opts.write(cmd.OutOrStdout(), results)
			})
		},
	}
	cmd.Flags().StringVarP(&environment, "env", "e",
		utils.EnvDefaultString("APP_ENV", "development"), "Seed environment directory")
	return cmd
}

func newProfileCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage connection profiles",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init <name>",
		Short: "Write a profile file holding the current connection options",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.config == "" {
				return fmt.Errorf("--config is required")
			}
			cfg := opts.adHocConfig()
			database.OverrideFromEnv(cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			profiles := map[string]*database.ConnectionConfig{args[0]: cfg}
			if err := database.SaveProfiles(opts.config, args[0], profiles); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote profile %s to %s\n", args[0], opts.config)
			return err
		},
	})
	return cmd
}

func (o *rootOptions) adHocConfig() *database.ConnectionConfig {
	cfg := database.DefaultConnectionConfig()
	if o.dbType != "" {
		cfg.Type = o.dbType
	}
	if o.dbName != "" {
		cfg.DBName = o.dbName
	}
	if o.url != "" {
		cfg.URL = o.url
	}
	if o.variant != "" {
		cfg.Variant = o.variant
	}
	return cfg
}

// loadConfig reads the selected profile, or builds one from the flags when
// no profile file is given. --variant overrides the profile's variant.
func (o *rootOptions) loadConfig() (*database.ConnectionConfig, error) {
	switch o.variant {
	case "", session.VariantSync, async.VariantAsync:
	default:
		return nil, fmt.Errorf("unsupported variant %q", o.variant)
	}
	if o.config == "" {
		return o.adHocConfig(), nil
	}
	cfg, err := database.LoadProfile(o.config, o.profile)
	if err != nil {
		return nil, err
	}
	if o.variant != "" {
		cfg.Variant = o.variant
	}
	return cfg, nil
}

func (o *rootOptions) withBackend(cmd *cobra.Command, fn func(ctx context.Context, client txorm.Backend) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	client, err := txorm.OpenBackend(ctx, cfg, txorm.WithLogger(database.NopLogger()))
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(ctx, client)
}

// withClient opens the sync client; seeding runs through bun.
func (o *rootOptions) withClient(cmd *cobra.Command, fn func(ctx context.Context, client *txorm.Client) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Variant == async.VariantAsync {
		return fmt.Errorf("%s needs the %s variant", cmd.Name(), session.VariantSync)
	}
	client, err := txorm.Open(ctx, cfg, txorm.WithLogger(database.NopLogger()))
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(ctx, client)
}

func (o *rootOptions) write(w io.Writer, v any) error {
	switch o.format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unsupported format %q", o.format)
	}
}
