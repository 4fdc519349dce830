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

package main

import "strconv"

// redirectConfig names the ports pkg/config.Default binds and the
// fwmark/route table used to loop marked packets back through the local
// TPROXY rule, matching the ports ztunnel's proxy listens on.
type redirectConfig struct {
	InboundPlaintextPort int
	InboundOverlayPort   int
	OutboundPort         int
	Mark                 int
	RouteTable           int
	ProxyUID             int
}

func defaultRedirectConfig() redirectConfig {
	return redirectConfig{
		InboundPlaintextPort: 15006,
		InboundOverlayPort:   15008,
		OutboundPort:         15001,
		Mark:                 0x539,
		RouteTable:           100,
		ProxyUID:             1337,
	}
}

const (
	inboundChain  = "ZTUNNEL_INBOUND"
	outboundChain = "ZTUNNEL_OUTBOUND"
)

// apply installs the TPROXY rule set: inbound PREROUTING traffic is
// intercepted into the plaintext port (the overlay port excepted, since
// that is where peers connect directly), and outbound traffic from local
// processes other than the proxy itself is fwmark'd, routed back over lo
// via a dedicated table, and caught by the same TPROXY machinery in
// mangle PREROUTING.
func apply(r *runner, cfg redirectConfig) error {
	mark := strconv.Itoa(cfg.Mark)
	table := strconv.Itoa(cfg.RouteTable)
	uid := strconv.Itoa(cfg.ProxyUID)

	steps := [][]string{
		{"ip", "rule", "add", "fwmark", mark, "lookup", table},
		{"ip", "route", "add", "local", "0.0.0.0/0", "dev", "lo", "table", table},

		{"iptables", "-t", "mangle", "-N", inboundChain},
		{"iptables", "-t", "mangle", "-A", "PREROUTING", "-p", "tcp", "-j", inboundChain},
		{"iptables", "-t", "mangle", "-A", inboundChain, "-p", "tcp", "--dport", strconv.Itoa(cfg.InboundOverlayPort), "-j", "RETURN"},
		{
			"iptables", "-t", "mangle", "-A", inboundChain, "-p", "tcp",
			"-j", "TPROXY", "--tproxy-mark", mark + "/0xffffffff", "--on-port", strconv.Itoa(cfg.InboundPlaintextPort),
		},

		{"iptables", "-t", "mangle", "-N", outboundChain},
		{"iptables", "-t", "mangle", "-A", "OUTPUT", "-p", "tcp", "-j", outboundChain},
		{"iptables", "-t", "mangle", "-A", outboundChain, "-m", "owner", "--uid-owner", uid, "-j", "RETURN"},
		{"iptables", "-t", "mangle", "-A", outboundChain, "-p", "tcp", "-j", "MARK", "--set-mark", mark},
		{
			"iptables", "-t", "mangle", "-A", "PREROUTING", "-p", "tcp", "-m", "mark", "--mark", mark,
			"-j", "TPROXY", "--tproxy-mark", mark + "/0xffffffff", "--on-port", strconv.Itoa(cfg.OutboundPort),
		},
	}
	for _, args := range steps {
		if err := r.run(args[0], args[1:]...); err != nil {
			return err
		}
	}
	return nil
}

// clean removes every rule apply installs, in reverse dependency order,
// ignoring errors for rules that were never installed.
func clean(r *runner, cfg redirectConfig) {
	mark := strconv.Itoa(cfg.Mark)
	table := strconv.Itoa(cfg.RouteTable)

	steps := [][]string{
		{"iptables", "-t", "mangle", "-F", outboundChain},
		{"iptables", "-t", "mangle", "-D", "OUTPUT", "-p", "tcp", "-j", outboundChain},
		{"iptables", "-t", "mangle", "-X", outboundChain},

		{"iptables", "-t", "mangle", "-F", inboundChain},
		{"iptables", "-t", "mangle", "-D", "PREROUTING", "-p", "tcp", "-j", inboundChain},
		{"iptables", "-t", "mangle", "-X", inboundChain},

		{
			"iptables", "-t", "mangle", "-D", "PREROUTING", "-p", "tcp", "-m", "mark", "--mark", mark,
			"-j", "TPROXY", "--tproxy-mark", mark + "/0xffffffff", "--on-port", strconv.Itoa(cfg.OutboundPort),
		},

		{"ip", "route", "del", "local", "0.0.0.0/0", "dev", "lo", "table", table},
		{"ip", "rule", "del", "fwmark", mark, "lookup", table},
	}
	for _, args := range steps {
		_ = r.run(args[0], args[1:]...)
	}
}
