package define

import "time"

const (
	VMConfigFile   = "vmconfig.json"
	LockFile       = ".lock"
	SessionDirName = "sessions"
	SSHKeyPair     = "ssh_keypair"

	DefaultVfkitBinary   = "vfkit"
	DefaultMemoryInMB    = 512
	MinimumMemoryInMB    = 128
	DefaultCPUs          = 1
	DefaultKernelCmdline = "console=hvc0"

	// DefaultStopTimeout bounds a graceful stop before the hypervisor is killed.
	DefaultStopTimeout    = 10 * time.Second
	DefaultStartupTimeout = 2 * time.Minute
)

const (
	SchemeUnix  = "unix"
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeLocal = "local"
)

const (
	FlagVerbose        = "verbose"
	FlagRestAPIAddr    = "rest-api"
	FlagReportURL      = "report-url"
	FlagConfig         = "config"
	FlagWorkdir        = "workdir"
	FlagCPUS           = "cpus"
	FlagMemory         = "memory"
	FlagKernel         = "kernel"
	FlagInitrd         = "initrd"
	FlagKernelCmdline  = "kernel-cmdline"
	FlagDisk           = "disk"
	FlagVfkit          = "vfkit"
	FlagSimulate       = "simulate"
	FlagScheme         = "scheme"
	FlagUsername       = "username"
	FlagPassword       = "password"
	FlagEndpoint       = "endpoint"
	FlagStopTimeout    = "stop-timeout"
	FlagStartupTimeout = "startup-timeout"
)

const (
	EnvUsername = "VMCTL_USERNAME"
	EnvPassword = "VMCTL_PASSWORD"
)

// Management API routes.
const (
	RestAPIHealthzURL    = "/healthz"
	RestAPIStateURL      = "/state"
	RestAPIVMConfigURL   = "/vmconfig"
	RestAPIInitializeURL = "/initialize"
	RestAPIStartURL      = "/start"
	RestAPIStopURL       = "/stop"
	RestAPICancelURL     = "/cancel"
	RestAPIShutdownURL   = "/shutdown"
	RestAPIEventsURL     = "/events"
	RestAPIMetricsURL    = "/metrics"
)

// Remote orchestrator routes.
const (
	RemoteNegotiateURL = "/negotiate"
	RemoteLaunchURL    = "/launch"
	RemoteTerminateURL = "/terminate"
	RemoteReleaseURL   = "/release"
	RemoteWaitURL      = "/wait"
)
