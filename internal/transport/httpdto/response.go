package httpdto

// Envelope wraps every JSON body the phone API returns. Data is set on
// success; Error and Code are set on failure, Code being one of the
// phone error codes (INVALID_STATE, CALL_NOT_FOUND, RATE_LIMITED, ...).
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func NewSuccessResponse[T any](data T) Envelope[T] {
	return Envelope[T]{Success: true, Data: data}
}

// NewErrorResponse builds a failed envelope. message is shown to the
// operator, code is what clients branch on.
func NewErrorResponse(message, code string) Envelope[any] {
	return Envelope[any]{Error: message, Code: code}
}
