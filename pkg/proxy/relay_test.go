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
	"errors"
	"io"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// duplexPipe adapts a separate reader/writer pair into a single
// io.ReadWriter, letting a test drive each direction independently.
type duplexPipe struct {
	r io.Reader
	w io.Writer
}

func (d *duplexPipe) Read(p []byte) (int, error)  { return d.r.Read(p) }
func (d *duplexPipe) Write(p []byte) (int, error) { return d.w.Write(p) }

func TestRelayCopiesBothDirectionsAndReportsBytes(t *testing.T) {
	aIn, aInW := io.Pipe()
	aOutR, aOut := io.Pipe()
	bIn, bInW := io.Pipe()
	bOutR, bOut := io.Pipe()

	a := &duplexPipe{r: aIn, w: aOut}
	b := &duplexPipe{r: bIn, w: bOut}

	var sentBytes, receivedBytes int64
	done := make(chan error, 1)
	go func() {
		done <- Relay(context.Background(), a, b, func(sent, received int64) {
			sentBytes = sent
			receivedBytes = received
		})
	}()

	aToB := make(chan []byte, 1)
	bToA := make(chan []byte, 1)
	go func() { buf, _ := io.ReadAll(bOutR); aToB <- buf }()
	go func() { buf, _ := io.ReadAll(aOutR); bToA <- buf }()

	_, err := aInW.Write([]byte("hello-from-a"))
	require.NoError(t, err)
	require.NoError(t, aInW.Close())

	_, err = bInW.Write([]byte("hi-from-b"))
	require.NoError(t, err)
	require.NoError(t, bInW.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Relay did not return after both sides reached EOF")
	}
	// duplexPipe is not a HalfCloser, so Relay leaves the output pipes
	// open; close them so the readers see EOF.
	_ = aOut.Close()
	_ = bOut.Close()

	assert.Equal(t, "hello-from-a", string(<-aToB))
	assert.Equal(t, "hi-from-b", string(<-bToA))
	assert.Equal(t, int64(len("hello-from-a")), receivedBytes)
	assert.Equal(t, int64(len("hi-from-b")), sentBytes)
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

func TestRelayCombinesErrorsFromBothDirections(t *testing.T) {
	errA := errors.New("a side broke")
	errB := errors.New("b side broke")
	a := &duplexPipe{r: errReader{errA}, w: io.Discard}
	b := &duplexPipe{r: errReader{errB}, w: io.Discard}

	err := Relay(context.Background(), a, b, nil)
	require.Error(t, err)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 2)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestRelayIgnoresClosedPipeError(t *testing.T) {
	a := &duplexPipe{r: errReader{io.ErrClosedPipe}, w: io.Discard}
	b := &duplexPipe{r: errReader{io.ErrClosedPipe}, w: io.Discard}

	assert.NoError(t, Relay(context.Background(), a, b, nil))
}
