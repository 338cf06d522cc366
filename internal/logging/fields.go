package logging

// Standard field names for consistent logging across the application.
const (
	// FieldRequestID is a unique identifier for each HTTP request.
	FieldRequestID = "request_id"

	// FieldProjectID is the project the authenticated caller acts for.
	FieldProjectID = "project_id"

	// FieldHardwareUUID is the unique identifier of a hardware item.
	FieldHardwareUUID = "hardware_uuid"

	// FieldWorkerType is the name of a worker driver.
	FieldWorkerType = "worker_type"

	// FieldTaskUUID is the unique identifier of a worker task.
	FieldTaskUUID = "task_uuid"

	// FieldHardwareType is the name of a hardware type driver.
	FieldHardwareType = "hardware_type"

	// FieldDuration is the duration of an operation.
	FieldDuration = "duration"

	// FieldStatusCode is the HTTP status code of a response.
	FieldStatusCode = "status_code"

	// FieldMethod is the HTTP method of a request.
	FieldMethod = "method"

	// FieldPath is the URL path of an HTTP request.
	FieldPath = "path"

	// FieldRemoteAddr is the client's remote address.
	FieldRemoteAddr = "remote_addr"

	// FieldUserAgent is the client's user agent string.
	FieldUserAgent = "user_agent"

	// FieldError is the error message or description.
	FieldError = "error"

	// FieldComponent identifies the component or service generating the log.
	FieldComponent = "component"
)
