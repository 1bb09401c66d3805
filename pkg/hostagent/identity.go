/*
Copyright 2024 The Pinacle Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package hostagent

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/rogeriochaves/pinacle/pkg/idgen"
)

// identityFile is where the host agent persists its stable server ID, so
// restarts keep re-registering under the same identity instead of minting a
// fresh host row every boot.
type identityFile struct {
	ServerID string `json:"serverId"`
}

// LoadOrCreateServerID reads path, minting and persisting a fresh
// sortable "server_" ID (idgen.NewServerID) on first boot.
func LoadOrCreateServerID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		var f identityFile
		if jsonErr := json.Unmarshal(data, &f); jsonErr == nil && f.ServerID != "" {
			return f.ServerID, nil
		}
	} else if !os.IsNotExist(err) {
		return "", errors.Wrapf(err, "read %s", path)
	}

	id := idgen.NewServerID()
	f := identityFile{ServerID: id}
	data, err = json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "marshal identity file")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", errors.Wrapf(err, "write %s", path)
	}
	return id, nil
}
