package feed

// Status is the connection state shown by the dashboard indicator.
type Status int32

const (
	Disconnected Status = iota
	Connected
	Errored
)

func (s Status) String() string {
	switch s {
	case Connected:
		return "connected"
	case Errored:
		return "errored"
	default:
		return "disconnected"
	}
}

// Label is the short indicator text ("connected", "disconnected", "error").
func (s Status) Label() string {
	if s == Errored {
		return "error"
	}
	return s.String()
}
