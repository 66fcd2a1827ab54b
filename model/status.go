package model

// Status is the broker connection status. The zero value is Connecting.
type Status int32

const (
	StatusConnecting Status = iota
	StatusReconnecting
	StatusConnected
	StatusDisconnecting
	StatusDisconnected
)

var statusNames = [...]string{
	StatusConnecting:    "Connecting",
	StatusReconnecting:  "Reconnecting",
	StatusConnected:     "Connected",
	StatusDisconnecting: "Disconnecting",
	StatusDisconnected:  "Disconnected",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "Unknown"
	}
	return statusNames[s]
}
