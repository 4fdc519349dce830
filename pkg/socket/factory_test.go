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

package socket

import (
	"bufio"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindNonTransparentDoesNotEnableOriginalSource(t *testing.T) {
	f := New()
	ln, err := f.Bind(context.Background(), "127.0.0.1:0", false)
	require.NoError(t, err)
	defer ln.Close()

	assert.False(t, f.EnableOriginalSource())
}

func TestDialConnectsToListener(t *testing.T) {
	f := New()
	ln, err := f.Bind(context.Background(), "127.0.0.1:0", false)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			accepted <- ""
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		accepted <- line
	}()

	conn, err := f.Dial(context.Background(), "tcp", ln.Addr().String(), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping\n"))
	require.NoError(t, err)

	assert.Equal(t, "ping\n", <-accepted)
}
