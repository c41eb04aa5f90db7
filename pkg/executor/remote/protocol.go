package remote

// NegotiateRecord is one JSON line of a /negotiate response. Progress lines
// set Current and Total; the last line sets HaveMemory or Error.
type NegotiateRecord struct {
	Current    uint64 `json:"current,omitempty"`
	Total      uint64 `json:"total,omitempty"`
	Session    string `json:"session,omitempty"`
	HaveMemory *bool  `json:"haveMemory,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ExitRecord is the /wait response, sent once the remote VM exited.
type ExitRecord struct {
	Error string `json:"error,omitempty"`
}

const sessionQuery = "session"
