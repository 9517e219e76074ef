package errors

const (
	HttpInternalError         = "internal_error"
	HttpInvalidJsonError      = "invalid_json"
	HttpInvalidIntervalError  = "invalid_interval"
	HttpDatabaseUnavailable   = "database_unavailable"
	HttpCollectionUnavailable = "collection_unavailable"
)

// ErrorResponse is the error response body of the operator API.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
