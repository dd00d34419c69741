package protocol

import "encoding/json"

const Version = "1.0"

// Message types, host -> detector.
const (
	TypeHello     = "HELLO"
	TypeState     = "STATE"
	TypeEvent     = "EVENT"
	TypeSetOption = "SET_OPTION"
	TypeAutoban   = "AUTOBAN"
	TypeInspect   = "INSPECT"
)

// Message types, detector -> host.
const (
	TypeWelcome       = "WELCOME"
	TypeChat          = "CHAT"
	TypeDisplay       = "DISPLAY"
	TypeBan           = "BAN"
	TypeInspectResult = "INSPECT_RESULT"
	TypeAck           = "ACK"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
