package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrSchema          = "E_SCHEMA"
	ErrUnknownType     = "E_UNKNOWN_TYPE"
	ErrNotReady        = "E_NOT_READY"
	ErrRateLimit       = "E_RATE_LIMIT"

	// Detector layer.
	ErrUnknownSetting = "E_UNKNOWN_SETTING"
	ErrDenied         = "E_DENIED"
	ErrInternal       = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrSchema:          {},
	ErrUnknownType:     {},
	ErrNotReady:        {},
	ErrRateLimit:       {},
	ErrUnknownSetting:  {},
	ErrDenied:          {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Error carries a protocol error code back to the transport.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }
