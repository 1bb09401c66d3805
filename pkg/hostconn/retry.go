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

package hostconn

import (
	"context"
	"math/rand"
	"time"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
)

// WithRetry calls fn up to 3 times in total (2 retries) with exponential backoff
// and jitter whenever it returns a Transient-kind error. Any other error, or
// success, returns immediately.
func WithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	const attempts = 3
	const base = 200 * time.Millisecond

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !apierrors.Is(err, apierrors.KindTransient) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		backoff := base * time.Duration(1<<uint(attempt))
		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}
	return err
}
