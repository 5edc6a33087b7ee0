package http

// Envelope is the response shape shared by every endpoint. Endpoint payloads
// embed it so their fields sit next to success.
type Envelope struct {
	Success   bool              `json:"success"`
	Code      string            `json:"code,omitempty"`
	Processed *int              `json:"processed,omitempty"`
	Catalysts *int              `json:"catalysts,omitempty"`
	Error     string            `json:"error,omitempty"`
	Message   string            `json:"message,omitempty"`
	Details   []ValidationError `json:"details,omitempty"`
}

// OKEnvelope is a success envelope with an optional message.
func OKEnvelope(message string) Envelope {
	return Envelope{Success: true, Message: message}
}

// Counts sets processed and catalysts.
func (e Envelope) Counts(processed, catalysts int) Envelope {
	e.Processed = &processed
	e.Catalysts = &catalysts
	return e
}

// WithProcessed sets processed only.
func (e Envelope) WithProcessed(n int) Envelope {
	e.Processed = &n
	return e
}

// ValidationError represents validation error detail.
type ValidationError struct {
	Code    string                 `json:"code,omitempty" example:"ERR_REQUIRED"`
	Field   string                 `json:"field,omitempty" example:"ticker"`
	Message string                 `json:"message,omitempty" example:"Ticker is required"`
	Params  map[string]interface{} `json:"params,omitempty"`
}
