// Copyright Istio Authors
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

// Package app builds the ztunnel proxy's cobra command tree, the way
// istioctl's cmd package builds istioctl's.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"istio.io/pkg/log"

	"istio.io/ztunnel/pkg/agent"
	"istio.io/ztunnel/pkg/config"
	"istio.io/ztunnel/pkg/identity"
	"istio.io/ztunnel/pkg/state"
)

const (
	flagConfigFile = "config"
	flagCertFile   = "cert-file"
	flagKeyFile    = "key-file"
	flagRootFile   = "root-file"
)

// NewRootCommand builds the "ztunnel" root command: it reads Config from
// the environment (pkg/config.FromEnv), overlays flags and an optional
// config file via viper, then runs pkg/agent.Agent until terminated.
func NewRootCommand() *cobra.Command {
	loggingOptions := log.DefaultOptions()

	cmd := &cobra.Command{
		Use:          "ztunnel",
		Short:        "ztunnel is the per-node service mesh data-plane proxy",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return log.Configure(loggingOptions)
		},
		RunE: func(c *cobra.Command, _ []string) error {
			return runProxy(c.Flags())
		},
	}

	cmd.PersistentFlags().String(flagConfigFile, "", "path to a YAML config file overlaying environment-derived settings")
	cmd.PersistentFlags().String(flagCertFile, "", "path to the workload's mTLS certificate, for standalone file-mounted certs")
	cmd.PersistentFlags().String(flagKeyFile, "", "path to the workload's mTLS private key")
	cmd.PersistentFlags().String(flagRootFile, "", "path to the trust bundle verifying peer certificates")
	loggingOptions.AttachCobraFlags(cmd)

	cmd.AddCommand(newVersionCommand())
	return cmd
}

func runProxy(flags *pflag.FlagSet) error {
	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	if cfgFile := v.GetString(flagConfigFile); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	}

	cfg := config.FromEnv()
	overlayViper(&cfg, v)

	store := state.NewMemoryStore()
	var certs identity.Manager = identity.NewFileManager(v.GetString(flagCertFile), v.GetString(flagKeyFile), v.GetString(flagRootFile))

	a, err := agent.New(agent.Options{Config: cfg, Store: store, Certs: certs})
	if err != nil {
		return fmt.Errorf("constructing agent: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	wait, err := a.Run(ctx)
	if err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}
	wait()
	a.Close()
	return nil
}

// overlayViper applies any flag or config-file value that was explicitly
// set, leaving pkg/config.FromEnv's environment-derived defaults alone
// otherwise, matching the teacher's environment-is-authoritative-unless-
// overridden convention for pilot-agent's CLI (pilot/cmd/pilot-agent).
func overlayViper(cfg *config.Config, v *viper.Viper) {
	if v.IsSet("tls") {
		cfg.TLS = v.GetBool("tls")
	}
	if v.IsSet("inboundAddr") {
		cfg.InboundAddr = v.GetString("inboundAddr")
	}
	if v.IsSet("outboundAddr") {
		cfg.OutboundAddr = v.GetString("outboundAddr")
	}
	if v.IsSet("network") {
		cfg.Network = v.GetString("network")
	}
	if v.IsSet("localNode") {
		cfg.LocalNode = v.GetString("localNode")
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()
	return ctx, cancel
}
