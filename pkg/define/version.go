package define

// Set at build time with -ldflags "-X vmcontroller/pkg/define.Version=...".
var (
	Version  string
	CommitID string
)
