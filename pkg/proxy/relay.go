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

package proxy

import (
	"context"
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// HalfCloser is implemented by connections that can shut down their
// write side independently, e.g. *net.TCPConn, so TCP passthrough can
// propagate EOF in one direction while the other direction still has
// data in flight (spec.md §4.4 "half-close propagation").
type HalfCloser interface {
	CloseWrite() error
}

// Relay bidirectionally copies between a and b until both directions
// have reached EOF or errored, reporting byte counts via
// onBytes(sent, received) where "sent" is b->a and "received" is a->b,
// matching the metrics Sink's convention when a is the connection's
// source and b its upstream, as Inbound and Outbound call it
// (spec.md §8 invariant 5). Unlike a simple errgroup, both directions
// always run to completion and their errors are combined, mirroring the
// combined error try_join! produces in original_source's proxy copy
// loop rather than silently dropping whichever side finished second.
func Relay(ctx context.Context, a, b io.ReadWriter, onBytes func(sent, received int64)) error {
	var sent, received int64
	var wg sync.WaitGroup
	var mu sync.Mutex
	var result *multierror.Error

	wg.Add(2)
	go func() {
		defer wg.Done()
		n, err := copyHalf(a, b)
		sent = n
		if hc, ok := a.(HalfCloser); ok {
			_ = hc.CloseWrite()
		}
		if err := ignoreClosedPipe(err); err != nil {
			mu.Lock()
			result = multierror.Append(result, err)
			mu.Unlock()
		}
	}()
	go func() {
		defer wg.Done()
		n, err := copyHalf(b, a)
		received = n
		if hc, ok := b.(HalfCloser); ok {
			_ = hc.CloseWrite()
		}
		if err := ignoreClosedPipe(err); err != nil {
			mu.Lock()
			result = multierror.Append(result, err)
			mu.Unlock()
		}
	}()
	wg.Wait()

	if onBytes != nil {
		onBytes(sent, received)
	}
	return result.ErrorOrNil()
}

func copyHalf(dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, src)
}

// ignoreClosedPipe swallows io.ErrClosedPipe, which CloseWrite on the
// opposite leg routinely produces once the other half finishes.
func ignoreClosedPipe(err error) error {
	if err == io.ErrClosedPipe {
		return nil
	}
	return err
}
