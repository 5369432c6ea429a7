package metrics

import "strconv"

// Error metric names
const (
	ErrorsTotalName      = "errors_total"
	PanicsTotalName      = "panics_total"
	ErrorsByEndpointName = "errors_by_endpoint"
)

// RecordError counts an error response. endpoint must be a route pattern,
// never a raw path, so target ids stay out of label values.
func RecordError(errorCode string, httpStatus int, endpoint string) {
	count(ErrorsTotalName, map[string]string{
		"error_code":  errorCode,
		"http_status": strconv.Itoa(httpStatus),
	})
	if endpoint != "" {
		count(ErrorsByEndpointName, map[string]string{
			"endpoint":   endpoint,
			"error_code": errorCode,
		})
	}
}

// RecordPanic counts a recovered handler panic.
func RecordPanic(endpoint string) {
	count(PanicsTotalName, map[string]string{"endpoint": endpoint})
}
