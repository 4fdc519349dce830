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

//go:build linux

package socket

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// controlTransparent sets IP_TRANSPARENT so a listening socket can
// accept connections addressed to IPs the host doesn't own, required
// for the TPROXY-style redirect tools/ztunnel-redirect installs.
func controlTransparent(network, address string, c syscall.RawConn) error {
	var setErr error
	err := c.Control(func(fd uintptr) {
		if setErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_TRANSPARENT, 1); setErr != nil {
			return
		}
		setErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_FREEBIND, 1)
	})
	if err != nil {
		return err
	}
	return setErr
}

// controlFreebind sets IP_FREEBIND so Dial can bind its local endpoint
// to the original client's source address even though that address is
// not assigned to any local interface (original_source/src/proxy/outbound.rs
// connect()'s SO_ORIGINAL_DST-derived source binding).
func controlFreebind(network, address string, c syscall.RawConn) error {
	var setErr error
	err := c.Control(func(fd uintptr) {
		setErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_FREEBIND, 1)
	})
	if err != nil {
		return err
	}
	return setErr
}

// controlNoDelay disables Nagle's algorithm on outbound dials, matching
// the teacher's TCP proxy defaults.
func controlNoDelay(network, address string, c syscall.RawConn) error {
	var setErr error
	err := c.Control(func(fd uintptr) {
		setErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	})
	if err != nil {
		return err
	}
	return setErr
}

// probeTransparent reports whether the listener's socket actually
// carries IP_TRANSPARENT, since an unprivileged process can request it
// and have the kernel silently decline.
func probeTransparent(ln net.Listener) error {
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		return nil
	}
	raw, err := tcpLn.SyscallConn()
	if err != nil {
		return err
	}
	var val int
	var getErr error
	err = raw.Control(func(fd uintptr) {
		val, getErr = unix.GetsockoptInt(int(fd), unix.SOL_IP, unix.IP_TRANSPARENT)
	})
	if err != nil {
		return err
	}
	if getErr != nil {
		return getErr
	}
	if val == 0 {
		return syscall.EPERM
	}
	return nil
}
