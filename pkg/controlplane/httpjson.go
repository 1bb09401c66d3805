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

package controlplane

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
	"github.com/rogeriochaves/pinacle/pkg/store"
)

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeError maps an error to an HTTP status using its apierrors.Kind (or
// the store's own not-found/conflict sentinels), and logs server-side
// failures.
func (s *Server) writeError(w http.ResponseWriter, log string, err error) {
	status := http.StatusInternalServerError
	kind := apierrors.KindOf(err)

	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	case kind == apierrors.KindNotFound:
		status = http.StatusNotFound
	case kind == apierrors.KindConflict:
		status = http.StatusConflict
	case kind == apierrors.KindUnauthorized:
		status = http.StatusUnauthorized
	case kind == apierrors.KindForbidden:
		status = http.StatusForbidden
	case kind == apierrors.KindExhausted:
		status = http.StatusServiceUnavailable
	case kind == apierrors.KindInvariant, kind == apierrors.KindStepFailure:
		status = http.StatusUnprocessableEntity
	case kind == apierrors.KindTransient:
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		s.log.Errorw(log, zap.Error(err))
	} else {
		s.log.Debugw(log, zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: string(kind)})
}
