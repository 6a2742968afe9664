package warmpool

import "time"

// Entry tracks one workspace's running warm container.
type Entry struct {
	ContainerID   string
	WorkspaceName string
	ImageTag      string
	PortBindings  map[string]int // port label -> host port
	LastUsed      time.Time
}

// DeclaredPort is a kit-requested container port awaiting host
// allocation, mirroring kitstore.Port without importing that package
// into warmpool's public surface.
type DeclaredPort struct {
	Number int
	Label  string
}

// ExecRequest describes one tool invocation to run inside a workspace's
// warm container.
type ExecRequest struct {
	WorkspaceName  string
	ImageTag       string
	KitActionsDir  string // host path mounted read-only at /module
	DeclaredPorts  []DeclaredPort
	EnvVars        map[string]string
	FileRelPath    string // action file path, relative to actions/
	FunctionName   string
	ParametersJSON []byte
}

// ToolResult is the decoded outcome of a successful tool execution. The
// driver script writes JSON (not the original engine's cloudpickle),
// since results cross the Platform Bridge's JSON-RPC wire from here on.
type ToolResult struct {
	ResultJSON []byte
}
