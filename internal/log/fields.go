package log

// Common field names for structured logging
const (
	FieldComponent      = "component"
	FieldRequestID      = "request_id"
	FieldClientIP       = "client_ip"
	FieldMethod         = "method"
	FieldPath           = "path"
	FieldQuery          = "query"
	FieldStatusCode     = "status_code"
	FieldDuration       = "duration_ms"
	FieldUserAgent      = "user_agent"
	FieldSuccess        = "success"
	FieldError          = "error"
	FieldOperation      = "operation"
	FieldYear           = "year"
	FieldMonth          = "month"
	FieldDate           = "date"
	FieldItemID         = "item_id"
	FieldRecordID       = "record_id"
	FieldOfferingCode   = "offering_code"
	FieldOfferingNumber = "offering_number"
	FieldDonorName      = "donor_name"
	FieldAmountCents    = "amount_cents"
	FieldCount          = "count"
	FieldPending        = "pending"
	FieldTransport      = "transport"
	FieldConfirmed      = "confirmed"
)

// Component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentLedger  = "ledger"
	ComponentCommit  = "commit"
	ComponentSync    = "sync"
	ComponentStorage = "storage"
	ComponentStaging = "staging"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentSheets  = "sheets"
	ComponentReport  = "report"
	ComponentBackend = "backend"
)

// Operation names
const (
	OpAdd      = "add"
	OpRemove   = "remove"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpList     = "list"
	OpCommit   = "commit"
	OpSync     = "sync"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)

// LogFields is a builder for structured log attributes.
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithOffering adds the fields describing one offering line.
func (f LogFields) WithOffering(code string, amountCents int64, donorName string) LogFields {
	f[FieldOfferingCode] = code
	f[FieldAmountCents] = amountCents
	f[FieldDonorName] = donorName
	return f
}

func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode < 400
	return f
}

// ToSlice converts the fields into slog key/value arguments.
func (f LogFields) ToSlice() []any {
	out := make([]any, 0, len(f)*2)
	for k, v := range f {
		out = append(out, k, v)
	}
	return out
}
