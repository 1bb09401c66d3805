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

// Command snapshot-restore runs colocated with a freshly-provisioned
// container, downloading a previously-created snapshot archive and
// extracting its volumes into place, then printing exactly one JSON line
// describing the outcome.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/rogeriochaves/pinacle/pkg/hostagent"
	"github.com/rogeriochaves/pinacle/pkg/runtimeadapter"
	"github.com/rogeriochaves/pinacle/pkg/snapshot"
	"github.com/rogeriochaves/pinacle/pkg/snapshot/storage"
)

type result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func main() {
	var snapshotID, containerID, storageType, storagePath string
	var s3Endpoint, s3Bucket, s3Region, s3AccessKey, s3SecretKey string
	var timeout time.Duration

	pflag.StringVar(&snapshotID, "snapshot-id", "", "snapshot to restore")
	pflag.StringVar(&containerID, "pod-id", "", "live container to restore volumes into")
	pflag.StringVar(&storageType, "storage-type", "filesystem", "s3 or filesystem")
	pflag.StringVar(&storagePath, "storage-path", "./snapshots", "root directory for storage-type=filesystem")
	pflag.StringVar(&s3Endpoint, "s3-endpoint", "", "s3-compatible endpoint for storage-type=s3")
	pflag.StringVar(&s3Bucket, "s3-bucket", "", "bucket for storage-type=s3")
	pflag.StringVar(&s3Region, "s3-region", "", "region for storage-type=s3")
	pflag.StringVar(&s3AccessKey, "s3-access-key", "", "access key for storage-type=s3")
	pflag.StringVar(&s3SecretKey, "s3-secret-key", "", "secret key for storage-type=s3")
	pflag.DurationVar(&timeout, "timeout", 10*time.Minute, "overall deadline for the download+extract")
	pflag.Parse()

	if snapshotID == "" || containerID == "" {
		emit(result{Success: false, Error: "--snapshot-id and --pod-id are required"})
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	provider, err := buildProvider(ctx, storageType, storagePath, s3Endpoint, s3Bucket, s3Region, s3AccessKey, s3SecretKey)
	if err != nil {
		emit(result{Success: false, Error: err.Error()})
		os.Exit(1)
	}

	adapter, ok := hostagent.NewAdapter(runtimeadapter.Runsc)
	if !ok {
		emit(result{Success: false, Error: "runtime adapter unavailable"})
		os.Exit(1)
	}

	key := fmt.Sprintf("snapshots/cli/%s.tar.gz", snapshotID)
	rc, err := provider.Download(ctx, key)
	if err != nil {
		emit(result{Success: false, Error: err.Error()})
		os.Exit(1)
	}
	defer rc.Close()

	err = snapshot.ImportContainer(ctx, adapter, containerID, rc)

	if ctx.Err() == context.DeadlineExceeded {
		emit(result{Success: false, Error: "timed out"})
		os.Exit(124)
	}
	if err != nil {
		emit(result{Success: false, Error: err.Error()})
		os.Exit(1)
	}

	emit(result{Success: true})
}

// buildProvider selects the storage backend named by storageType, mirroring
// pkg/config.Snapshot's env-driven selection but sourced from CLI flags
// instead -- this binary runs standalone, outside the control plane
// process.
func buildProvider(ctx context.Context, storageType, storagePath, s3Endpoint, s3Bucket, s3Region, s3AccessKey, s3SecretKey string) (storage.Provider, error) {
	switch storage.Kind(storageType) {
	case storage.KindS3:
		return storage.NewS3(ctx, storage.S3Config{
			Endpoint:  s3Endpoint,
			Bucket:    s3Bucket,
			Region:    s3Region,
			AccessKey: s3AccessKey,
			SecretKey: s3SecretKey,
		})
	case storage.KindFilesystem:
		return storage.NewFilesystem(storagePath)
	default:
		return nil, fmt.Errorf("unknown --storage-type %q", storageType)
	}
}

func emit(r result) {
	_ = json.NewEncoder(os.Stdout).Encode(r)
}
