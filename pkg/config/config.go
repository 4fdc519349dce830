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

// Package config holds the single configuration object the core reads
// (spec.md §6). Loading happens two ways, matching
// pilot/cmd/pilot-agent/options' layering: environment variables
// registered with istio.io/pkg/env, overlaid by an optional config file
// read through viper from cmd/ztunnel.
package config

import (
	"time"

	"istio.io/pkg/env"
)

// Config is the loaded configuration struct the core proxy reads
// (spec.md §6). The core never reads environment variables or files
// directly; only this struct.
type Config struct {
	// TLS: whether outbound overlay dials use TLS. Must be true in
	// production (spec.md §6).
	TLS bool

	WindowSize           uint32
	ConnectionWindowSize uint32
	FrameSize            uint32

	InboundAddr           string
	InboundPlaintextAddr string
	OutboundAddr          string

	// Network is this proxy's own network id; inbound destinations must
	// resolve on this network (spec.md §3 invariant 2).
	Network string

	// LocalNode, when set, enables the DirectLocal outbound routing rule
	// (spec.md §4.4) for upstreams scheduled on this node.
	LocalNode string

	// EnableOriginalSource is not set or read anywhere in the proxy.
	// Whether the kernel granted transparent mode at bind time is recorded
	// by socket.Factory.Bind in the factory itself and read through
	// socket.Factory.EnableOriginalSource.
	EnableOriginalSource bool

	// DisablePooling forces one overlay connection per outbound flow,
	// the original single-shot behavior, instead of the pooled default
	// (SPEC_FULL.md §9).
	DisablePooling bool

	// PoolIdleTimeout bounds how long an unused pooled overlay connection
	// is kept before eviction.
	PoolIdleTimeout time.Duration

	// CertCacheSize / CertCacheTTL bound pkg/identity.CertCache.
	CertCacheSize int
	CertCacheTTL  time.Duration
}

// Default returns the configuration defaults from spec.md §6.
func Default() Config {
	return Config{
		TLS:                  true,
		WindowSize:           4 << 20,
		ConnectionWindowSize: 4 << 20,
		FrameSize:            1 << 20,
		InboundAddr:          "[::]:15008",
		InboundPlaintextAddr: "[::]:15006",
		OutboundAddr:         "[::]:15001",
		Network:              "default",
		DisablePooling:       false,
		PoolIdleTimeout:      5 * time.Minute,
		CertCacheSize:        512,
		CertCacheTTL:         20 * time.Minute,
	}
}

var (
	tlsVar       = env.RegisterBoolVar("ZTUNNEL_TLS", true, "enable TLS on outbound overlay dials")
	windowVar    = env.RegisterIntVar("ZTUNNEL_WINDOW_SIZE", 4<<20, "HTTP/2 initial stream window size")
	connWindow   = env.RegisterIntVar("ZTUNNEL_CONNECTION_WINDOW_SIZE", 4<<20, "HTTP/2 initial connection window size")
	frameVar     = env.RegisterIntVar("ZTUNNEL_FRAME_SIZE", 1<<20, "HTTP/2 max frame size")
	inboundVar   = env.RegisterStringVar("ZTUNNEL_INBOUND_ADDR", "[::]:15008", "inbound overlay listen address")
	inboundPlain = env.RegisterStringVar("ZTUNNEL_INBOUND_PLAINTEXT_ADDR", "[::]:15006", "inbound plaintext listen address")
	outboundVar  = env.RegisterStringVar("ZTUNNEL_OUTBOUND_ADDR", "[::]:15001", "outbound interception listen address")
	networkVar   = env.RegisterStringVar("ZTUNNEL_NETWORK", "default", "this proxy's own network id")
	localNodeVar = env.RegisterStringVar("ZTUNNEL_LOCAL_NODE", "", "name of the node this proxy runs on")
	disablePool  = env.RegisterBoolVar("ZTUNNEL_DISABLE_POOLING", false, "disable outbound overlay connection pooling")
)

// FromEnv loads Config from registered environment variables, the way
// pkg/envoy/proxy.go's istioBootstrapOverrideVar is read in the teacher.
func FromEnv() Config {
	return Config{
		TLS:                  tlsVar.Get(),
		WindowSize:           uint32(windowVar.Get()),
		ConnectionWindowSize: uint32(connWindow.Get()),
		FrameSize:            uint32(frameVar.Get()),
		InboundAddr:          inboundVar.Get(),
		InboundPlaintextAddr: inboundPlain.Get(),
		OutboundAddr:         outboundVar.Get(),
		Network:              networkVar.Get(),
		LocalNode:            localNodeVar.Get(),
		DisablePooling:       disablePool.Get(),
		PoolIdleTimeout:      5 * time.Minute,
		CertCacheSize:        512,
		CertCacheTTL:         20 * time.Minute,
	}
}
