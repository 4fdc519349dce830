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

package identity

import (
	"crypto/tls"
	"fmt"
	"os"
)

// FileManager is a Manager backed by a single key/cert/root bundle
// mounted on disk, every identity resolving to the same files. This
// mirrors the teacher's FileMountedCerts path (referenced from
// pkg/istio-agent/agent.go's newSecretManager, "Workload is using file
// mounted certificates. Skipping connecting to CA"): it exists so a
// standalone deployment has a working CertManager without a CA
// connection, not as a replacement for one.
type FileManager struct {
	certPath string
	keyPath  string
	rootPath string
}

// NewFileManager constructs a FileManager reading certPath/keyPath/
// rootPath on every FetchCertificate call so a rotated file is picked up
// without a restart.
func NewFileManager(certPath, keyPath, rootPath string) *FileManager {
	return &FileManager{certPath: certPath, keyPath: keyPath, rootPath: rootPath}
}

// FetchCertificate implements Manager.
func (f *FileManager) FetchCertificate(id Identity) (*Cert, error) {
	pair, err := tls.LoadX509KeyPair(f.certPath, f.keyPath)
	if err != nil {
		return nil, fmt.Errorf("identity: loading file-mounted cert/key: %w", err)
	}
	var root []byte
	if f.rootPath != "" {
		root, err = os.ReadFile(f.rootPath)
		if err != nil {
			return nil, fmt.Errorf("identity: loading file-mounted root: %w", err)
		}
	}
	return &Cert{Identity: id, Certificate: pair, RootCAs: root}, nil
}
