package define

import "fmt"

// Credentials are handed to the executor as-is. Nothing here is validated.
type Credentials struct {
	Scheme   string `json:"scheme,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// String never prints the password.
func (c Credentials) String() string {
	pass := ""
	if c.Password != "" {
		pass = "***"
	}
	return fmt.Sprintf("{scheme: %q, username: %q, password: %q}", c.Scheme, c.Username, pass)
}

func (c Credentials) IsZero() bool {
	return c == Credentials{}
}
