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

// Command ztunnel-redirect installs or removes the TPROXY iptables rules
// that hand a node's pod traffic to the ztunnel proxy's inbound and
// outbound listeners, playing the same role tools/istio-iptables plays
// for sidecar REDIRECT-based capture.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	cfg := defaultRedirectConfig()
	dryRun := false

	root := &cobra.Command{
		Use:   "ztunnel-redirect",
		Short: "install or remove ztunnel's TPROXY traffic capture rules",
	}
	root.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "print commands without executing them")
	root.PersistentFlags().IntVar(&cfg.InboundPlaintextPort, "inbound-plaintext-port", cfg.InboundPlaintextPort, "ztunnel inbound plaintext port")
	root.PersistentFlags().IntVar(&cfg.InboundOverlayPort, "inbound-overlay-port", cfg.InboundOverlayPort, "ztunnel inbound overlay (HBONE) port")
	root.PersistentFlags().IntVar(&cfg.OutboundPort, "outbound-port", cfg.OutboundPort, "ztunnel outbound interception port")
	root.PersistentFlags().IntVar(&cfg.ProxyUID, "proxy-uid", cfg.ProxyUID, "UID the ztunnel process runs as, excluded from outbound capture")

	root.AddCommand(&cobra.Command{
		Use:   "in",
		Short: "install the redirect rules",
		RunE: func(*cobra.Command, []string) error {
			return apply(&runner{dryRun: dryRun}, cfg)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "clean",
		Short: "remove the redirect rules",
		RunE: func(*cobra.Command, []string) error {
			clean(&runner{dryRun: dryRun}, cfg)
			return nil
		},
	})

	return root
}
