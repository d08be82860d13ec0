package errs

// Error codes for the delivery core. 1xx admission, 2xx store, 3xx queue,
// 4xx hub surface.
var (
	ErrMalformedTarget   = NewCodeError(100, "malformed target id")
	ErrAudienceLookup    = NewCodeError(101, "audience lookup failed")
	ErrFastStoreDown     = NewCodeError(200, "fast store unavailable")
	ErrDurableStoreDown  = NewCodeError(201, "durable store unavailable")
	ErrRecordNotFound    = NewCodeError(202, "record not found")
	ErrJobNotFound       = NewCodeError(300, "job not found")
	ErrRetriesExhausted  = NewCodeError(301, "send retries exhausted")
	ErrUnauthorized      = NewCodeError(400, "connection not authorized")
	ErrEditWindowClosed  = NewCodeError(401, "edit window closed")
	ErrTextRejected      = NewCodeError(402, "text rejected by validator")
	ErrConnectionClosed  = NewCodeError(403, "connection closed")
	ErrUnknownFrameType  = NewCodeError(404, "unknown frame type")
)
