package errors

import (
	"fmt"
	"net/http"
)

// Code represents an error code with HTTP status, message and API slug
type Code struct {
	Code    int    // Business error code
	Status  int    // HTTP status code
	Message string // Error message
	Slug    string // Stable machine-readable identifier returned to API clients
}

// Error codes for different modules
const (
	// Success
	Success = 0

	// Common errors (1000-1999)
	ErrInternalServer  = 1000
	ErrInvalidParams   = 1001
	ErrNotFound        = 1002
	ErrUnauthorized    = 1003
	ErrForbidden       = 1004
	ErrConflict        = 1005
	ErrTooManyRequests = 1006
	ErrBadRequest      = 1007
	ErrServiceUnavail  = 1008

	// Asset errors (2000-2999)
	ErrAssetNotFound    = 2000
	ErrAssetNoContent   = 2001
	ErrAssetInvalidID   = 2002

	// Checkout errors (3000-3999)
	ErrNotVisible       = 3000
	ErrNotApproved      = 3001
	ErrInsufficientRole = 3002
	ErrTokenNotFound    = 3003
	ErrTokenExpired     = 3004
	ErrTokenUsed        = 3005
	ErrBadSignature     = 3006

	// Identity errors (4000-4999)
	ErrSubjectNotFound  = 4000
	ErrSubjectDisabled  = 4001
	ErrOrgNotFound      = 4002

	// Sync errors (5000-5999)
	ErrSyncCycleRunning    = 5000
	ErrSyncUpstream        = 5001
	ErrSyncUnknownClass    = 5002
	ErrReferenceDBNotFound = 5003
)

// codeMap maps error codes to their details
var codeMap = map[int]Code{
	Success: {Success, http.StatusOK, "Success", "ok"},

	// Common errors
	ErrInternalServer:  {ErrInternalServer, http.StatusInternalServerError, "Internal server error", "internal_error"},
	ErrInvalidParams:   {ErrInvalidParams, http.StatusBadRequest, "Invalid parameters", "invalid_params"},
	ErrNotFound:        {ErrNotFound, http.StatusNotFound, "Resource not found", "not_found"},
	ErrUnauthorized:    {ErrUnauthorized, http.StatusUnauthorized, "Unauthorized", "unauthorized"},
	ErrForbidden:       {ErrForbidden, http.StatusForbidden, "Forbidden", "forbidden"},
	ErrConflict:        {ErrConflict, http.StatusConflict, "Resource conflict", "conflict"},
	ErrTooManyRequests: {ErrTooManyRequests, http.StatusTooManyRequests, "Too many requests", "too_many_requests"},
	ErrBadRequest:      {ErrBadRequest, http.StatusBadRequest, "Bad request", "bad_request"},
	ErrServiceUnavail:  {ErrServiceUnavail, http.StatusServiceUnavailable, "Service unavailable", "service_unavailable"},

	// Asset errors
	ErrAssetNotFound:  {ErrAssetNotFound, http.StatusNotFound, "Asset not found", "asset_not_found"},
	ErrAssetNoContent: {ErrAssetNoContent, http.StatusNotFound, "Asset content not available on this node", "content_unavailable"},
	ErrAssetInvalidID: {ErrAssetInvalidID, http.StatusBadRequest, "Invalid asset id", "invalid_asset_id"},

	// Checkout errors
	ErrNotVisible:       {ErrNotVisible, http.StatusForbidden, "Asset is not visible to this subject", "not_visible"},
	ErrNotApproved:      {ErrNotApproved, http.StatusConflict, "Asset is not approved for checkout", "not_approved"},
	ErrInsufficientRole: {ErrInsufficientRole, http.StatusForbidden, "Subject role does not permit fast-track checkout", "insufficient_role"},
	ErrTokenNotFound:    {ErrTokenNotFound, http.StatusNotFound, "Checkout token not found", "token_not_found"},
	ErrTokenExpired:     {ErrTokenExpired, http.StatusGone, "Checkout token has expired", "token_expired"},
	ErrTokenUsed:        {ErrTokenUsed, http.StatusGone, "Checkout token has already been used", "token_used"},
	ErrBadSignature:     {ErrBadSignature, http.StatusForbidden, "Download signature is invalid", "bad_signature"},

	// Identity errors
	ErrSubjectNotFound: {ErrSubjectNotFound, http.StatusNotFound, "Subject not found", "subject_not_found"},
	ErrSubjectDisabled: {ErrSubjectDisabled, http.StatusForbidden, "Subject account is disabled", "subject_disabled"},
	ErrOrgNotFound:     {ErrOrgNotFound, http.StatusNotFound, "Organization not found", "org_not_found"},

	// Sync errors
	ErrSyncCycleRunning:    {ErrSyncCycleRunning, http.StatusConflict, "A sync cycle for this resource class is already running", "sync_cycle_running"},
	ErrSyncUpstream:        {ErrSyncUpstream, http.StatusBadGateway, "Upstream node is unavailable", "upstream_unavailable"},
	ErrSyncUnknownClass:    {ErrSyncUnknownClass, http.StatusBadRequest, "Unknown sync resource class", "unknown_resource_class"},
	ErrReferenceDBNotFound: {ErrReferenceDBNotFound, http.StatusNotFound, "Reference database not found", "refdb_not_found"},
}

// GetCode returns the Code for a given error code
func GetCode(code int) Code {
	if c, ok := codeMap[code]; ok {
		return c
	}
	return codeMap[ErrInternalServer]
}

// GetHTTPStatus returns HTTP status for a given error code
func GetHTTPStatus(code int) int {
	return GetCode(code).Status
}

// GetMessage returns the message for a given error code
func GetMessage(code int) string {
	return GetCode(code).Message
}

// GetSlug returns the machine-readable slug for a given error code
func GetSlug(code int) string {
	return GetCode(code).Slug
}

// IsSuccess checks if the code represents success
func IsSuccess(code int) bool {
	return code == Success
}

// IsClientError checks if the code represents a client error (4xx)
func IsClientError(code int) bool {
	status := GetHTTPStatus(code)
	return status >= 400 && status < 500
}

// IsServerError checks if the code represents a server error (5xx)
func IsServerError(code int) bool {
	status := GetHTTPStatus(code)
	return status >= 500
}

// FormatError formats an error message with code
func FormatError(code int, details ...string) string {
	msg := GetMessage(code)
	if len(details) > 0 && details[0] != "" {
		return fmt.Sprintf("%s: %s", msg, details[0])
	}
	return msg
}
