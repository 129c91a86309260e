package config

import (
	"time"

	"github.com/danmuck/promisectl/internal/agent"
)

// Spec converts the entry into a launch description for the driver.
// Entries are validated on load, so an unparsable timeout is treated as
// no timeout.
func (m ModuleEntry) Spec() agent.ModuleSpec {
	timeout, _ := time.ParseDuration(m.Timeout)
	return agent.ModuleSpec{
		Name:        m.Name,
		Path:        m.Path,
		Interpreter: m.Interpreter,
		Args:        append([]string(nil), m.Args...),
		Dir:         m.Dir,
		Env:         append([]string(nil), m.Env...),
		RecordFile:  m.RecordFile,
		Timeout:     timeout,
	}
}

// Options returns the agent identity used when talking to modules.
func (c AgentConfig) Options() agent.Options {
	return agent.Options{
		AgentName:    c.AgentName,
		AgentVersion: c.AgentVersion,
		LogLevel:     c.LogLevel,
	}
}
