// Package agentrunner implements the Agent Runner: one-shot, single-use
// containers that load a kit's agent class, run it against a profile's
// user input, and return its normalized response.
package agentrunner

import "time"

// AgentContext names one agent invocation: which module, which profile
// slot, the user's input, and the conversation session it belongs to.
type AgentContext struct {
	ModuleID  string
	Profile   string
	UserInput string
	SessionID string
}

// RunOptions carries per-invocation overrides and the Platform Bridge
// address the spawned container should call back into.
type RunOptions struct {
	// Timeout overrides the Runner's default per-invocation timeout when
	// non-zero.
	Timeout time.Duration
	// Keep leaves the exited container in place instead of removing it,
	// for post-mortem debugging.
	Keep       bool
	BridgeHost string
	BridgePort int
}

// RunResult is an agent's normalized output: a human-facing response plus
// any structured side results (tool calls made, artifacts produced, ...).
type RunResult struct {
	Response string        `json:"response"`
	Results  []interface{} `json:"results"`
}
