// Package httpx holds the JSON response helpers shared by every handler.
package httpx

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Code is the machine-readable error code carried in error payloads.
type Code string

// Error codes.
const (
	CodeInternal            Code = "ERR_INTERNAL_PROCESS_FAILURE"
	CodeEngineFailure       Code = "ERR_ENGINE_PROCESS_FAILURE"
	CodeEngineBuild         Code = "ERR_ENGINE_BUILD_FAILED"
	CodeJobTimeout          Code = "ERR_JOB_TIMEOUT"
	CodeBadRequest          Code = "ERR_INVALID_REQUEST_BODY"
	CodeNotFound            Code = "ERR_RESOURCE_NOT_FOUND"
	CodeIsDirectory         Code = "ERR_RESOURCE_IS_A_DIRECTORY"
	CodePathInvalid         Code = "ERR_RESOURCE_PATH_INVALID"
	CodeConflict            Code = "ERR_RESOURCE_ALREADY_EXISTS"
	CodeListingFailed       Code = "ERR_DIRECTORY_LISTING_FAILED"
	CodePersistence         Code = "ERR_PERSISTENCE_FAILURE"
	CodeUnsupportedMedia    Code = "ERR_UNSUPPORTED_CONTENT_TYPE"
	CodePayloadTooLarge     Code = "ERR_PAYLOAD_TOO_LARGE"
	CodeServiceUnavailable  Code = "ERR_SERVICE_UNAVAILABLE"
	CodeMultipartBoundary   Code = "ERR_MULTIPART_BOUNDARY_NOT_FOUND"
	CodeMethodNotAllowed    Code = "ERR_METHOD_NOT_ALLOWED"
	CodeMissingContentType  Code = "ERR_MISSING_CONTENT_TYPE"
	CodeTemplateInvalid     Code = "ERR_TEMPLATE_INVALID"
	CodeWorkspaceRootLocked Code = "ERR_WORKSPACE_ROOT_LOCKED"
	CodeTooManyRequests     Code = "ERR_TOO_MANY_REQUESTS"
)

// Error is the body of every error response.
type Error struct {
	Code    Code   `json:"code"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Envelope wraps payloads stamped with the serving gateway.
type Envelope struct {
	ServerID  string `json:"serverId"`
	Data      any    `json:"data"`
	Birthtime int64  `json:"birthtime"`
}

// NewEnvelope stamps data with serverID and the current time in milliseconds.
func NewEnvelope(serverID string, data any) Envelope {
	return Envelope{ServerID: serverID, Data: data, Birthtime: time.Now().UnixMilli()}
}

// List is the body of collection responses.
type List[T any] struct {
	Data []T `json:"data"`
}

// WriteJSON writes payload with status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

// WriteError writes an Error payload.
func WriteError(w http.ResponseWriter, status int, code Code, msg string) {
	WriteJSON(w, status, Error{Code: code, Status: status, Message: msg})
}

// WriteList writes items as {"data":[...]}; a nil slice is written as [].
func WriteList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	WriteJSON(w, http.StatusOK, List[T]{Data: items})
}
