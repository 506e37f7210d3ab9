// Package logging provides a small structured-fields builder layered over
// zap, giving every component (scanner, reasoner, supervisor, dispatcher,
// fixer, executor) a consistent vocabulary of log keys.
package logging

import "time"

// Fields is a chainable builder of structured log fields.
type Fields map[string]interface{}

// NewFields returns an empty Fields builder.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

func (f Fields) Resource(resourceType, name string) Fields {
	f["resource_type"] = resourceType
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) UserID(id string) Fields {
	if id != "" {
		f["user_id"] = id
	}
	return f
}

func (f Fields) RequestID(id string) Fields {
	f["request_id"] = id
	return f
}

func (f Fields) TraceID(id string) Fields {
	f["trace_id"] = id
	return f
}

func (f Fields) StatusCode(code int) Fields {
	f["status_code"] = code
	return f
}

func (f Fields) Method(method string) Fields {
	f["method"] = method
	return f
}

func (f Fields) URL(url string) Fields {
	f["url"] = url
	return f
}

func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}

func (f Fields) Size(bytes int64) Fields {
	f["size_bytes"] = bytes
	return f
}

func (f Fields) Version(v string) Fields {
	f["version"] = v
	return f
}

// Service tags a (service, region) pair, the coordinate the scanner,
// reasoner, dispatcher, and executor all key their work by.
func (f Fields) Service(service, region string) Fields {
	f["service"] = service
	if region != "" {
		f["region"] = region
	}
	return f
}

// Incident tags the incident id a log line pertains to.
func (f Fields) Incident(id string) Fields {
	if id != "" {
		f["incident_id"] = id
	}
	return f
}

func (f Fields) Custom(key string, value interface{}) Fields {
	f[key] = value
	return f
}

// ToLogrus returns the fields as a plain map, the shape logrus.WithFields
// and zap.Any both accept.
func (f Fields) ToLogrus() map[string]interface{} {
	return map[string]interface{}(f)
}

// DatabaseFields is a shorthand for a store operation against a table.
func DatabaseFields(operation, table string) Fields {
	return NewFields().Component("database").Operation(operation).Resource("table", table)
}

// HTTPFields is a shorthand for an inbound/outbound HTTP call.
func HTTPFields(method, url string, statusCode int) Fields {
	return NewFields().Component("http").Method(method).URL(url).StatusCode(statusCode)
}

// WorkflowFields is a shorthand for a supervisor scan/remediation step.
func WorkflowFields(operation, workflowID string) Fields {
	return NewFields().Component("workflow").Operation(operation).Resource("workflow", workflowID)
}

// PlatformFields is a shorthand for a control-plane mutation against a
// managed service in a region.
func PlatformFields(operation, service, region string) Fields {
	return NewFields().Component("platform").Operation(operation).Resource("service", service).Custom("region", region)
}

// AIFields is a shorthand for a generative-model call.
func AIFields(operation, model string) Fields {
	return NewFields().Component("ai").Operation(operation).Custom("model", model)
}

// MetricsFields is a shorthand for a telemetry-signal read.
func MetricsFields(operation, metricName string, value float64) Fields {
	return NewFields().Component("metrics").Operation(operation).Custom("metric_name", metricName).Custom("value", value)
}

// SecurityFields is a shorthand for an auth-adjacent event.
func SecurityFields(operation, subject string) Fields {
	return NewFields().Component("security").Operation(operation).Custom("subject", subject)
}

// PerformanceFields is a shorthand for timing a named step.
func PerformanceFields(operation string, d time.Duration, success bool) Fields {
	return NewFields().Component("performance").Operation(operation).Duration(d).Custom("success", success)
}
