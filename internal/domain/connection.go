package domain

type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
	StatusReconnecting ConnectionStatus = "reconnecting"
)

var statusEdges = map[ConnectionStatus][]ConnectionStatus{
	StatusConnecting:   {StatusConnected, StatusDisconnected, StatusError},
	StatusConnected:    {StatusDisconnected, StatusError, StatusReconnecting},
	StatusDisconnected: {StatusReconnecting, StatusConnecting},
	StatusError:        {StatusReconnecting, StatusConnecting},
	StatusReconnecting: {StatusConnecting, StatusDisconnected, StatusError},
}

// CanTransition reports whether from -> to is an edge of the connection
// state machine. Staying in the same status is not a transition.
func (s ConnectionStatus) CanTransition(to ConnectionStatus) bool {
	for _, next := range statusEdges[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s ConnectionStatus) Valid() bool {
	_, ok := statusEdges[s]
	return ok
}

type ConnectionState struct {
	Status   ConnectionStatus `json:"status"`
	IsSynced bool             `json:"isSynced"`
	Users    int              `json:"users"`
}

// Ready reports whether the session accepts task submissions.
func (s ConnectionState) Ready() bool {
	return s.Status == StatusConnected && s.IsSynced
}
