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

//go:build !linux

package socket

import (
	"errors"
	"net"
	"syscall"
)

// ErrTransparentUnsupported is returned by probeTransparent on platforms
// with no IP_TRANSPARENT equivalent wired up (spec.md §6: non-Linux
// builds fall back to a no-op transparent flag).
var ErrTransparentUnsupported = errors.New("socket: transparent mode not supported on this platform")

func controlTransparent(network, address string, c syscall.RawConn) error {
	return nil
}

func controlFreebind(network, address string, c syscall.RawConn) error {
	return nil
}

func controlNoDelay(network, address string, c syscall.RawConn) error {
	return nil
}

func probeTransparent(ln net.Listener) error {
	return ErrTransparentUnsupported
}
