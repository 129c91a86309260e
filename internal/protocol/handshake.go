package protocol

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/promisectl/internal/protocol/frame"
)

const (
	// ProtocolVersion is the only protocol revision modules speak.
	ProtocolVersion = "v1"
	// JSONBased is the capability flag announced in the module greeting.
	JSONBased = "json_based"
	// LineBased is the older capability some modules still announce.
	LineBased = "line_based"

	agentVersionPrefix    = "3."
	protocolVersionPrefix = "v"
)

// AgentHeader is the agent's first line.
type AgentHeader struct {
	Name            string
	Version         string
	ProtocolVersion string
	Flags           []string
}

// ParseAgentHeader validates "<name> <version> <protocol> [flags...]".
func ParseAgentHeader(line string) (AgentHeader, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return AgentHeader{}, fatal("handshake", fmt.Errorf("%w: %q", ErrMalformedHeader, line))
	}
	h := AgentHeader{
		Name:            fields[0],
		Version:         fields[1],
		ProtocolVersion: fields[2],
		Flags:           fields[3:],
	}
	if !strings.HasPrefix(h.Version, agentVersionPrefix) {
		return AgentHeader{}, fatal("handshake", fmt.Errorf("%w: %q", ErrUnsupportedAgent, h.Version))
	}
	if !strings.HasPrefix(h.ProtocolVersion, protocolVersionPrefix) {
		return AgentHeader{}, fatal("handshake", fmt.Errorf("%w: %q", ErrUnsupportedProtocol, h.ProtocolVersion))
	}
	return h, nil
}

func (h AgentHeader) String() string {
	parts := append([]string{h.Name, h.Version, h.ProtocolVersion}, h.Flags...)
	return strings.Join(parts, " ")
}

// ReadAgentHeader consumes the agent's first line and the header block
// that follows it, up to and including the first blank line.
func ReadAgentHeader(r *frame.Reader) (AgentHeader, error) {
	line, err := r.ReadLine()
	if err != nil {
		return AgentHeader{}, fatal("handshake", eofAware(err))
	}
	h, err := ParseAgentHeader(line)
	if err != nil {
		return AgentHeader{}, err
	}
	for {
		line, err := r.ReadLine()
		if err != nil {
			return AgentHeader{}, fatal("handshake", eofAware(err))
		}
		if strings.TrimSpace(line) == "" {
			return h, nil
		}
	}
}

// Greeting is the module's header line.
func Greeting(name, version string) string {
	return name + " " + version + " " + ProtocolVersion + " " + JSONBased
}

// WriteGreeting sends the module header followed by the empty header block.
func WriteGreeting(w *frame.Writer, name, version string) error {
	if err := w.WriteFrame(Greeting(name, version)); err != nil {
		return fatal("handshake", err)
	}
	return nil
}

// ModuleHeader is the module's greeting as seen by the agent.
type ModuleHeader struct {
	Name            string
	Version         string
	ProtocolVersion string
	Flags           []string
}

// JSON reports whether the module announced json_based.
func (h ModuleHeader) JSON() bool {
	for _, f := range h.Flags {
		if f == JSONBased {
			return true
		}
	}
	return false
}

// ParseModuleHeader validates "<name> <version> v1 [flags...]".
func ParseModuleHeader(line string) (ModuleHeader, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return ModuleHeader{}, fatal("handshake", fmt.Errorf("%w: %q", ErrMalformedHeader, line))
	}
	h := ModuleHeader{
		Name:            fields[0],
		Version:         fields[1],
		ProtocolVersion: fields[2],
		Flags:           fields[3:],
	}
	if h.ProtocolVersion != ProtocolVersion {
		return ModuleHeader{}, fatal("handshake", fmt.Errorf("%w: %q", ErrUnsupportedProtocol, h.ProtocolVersion))
	}
	return h, nil
}

// ReadModuleHeader consumes the module greeting and its header block.
func ReadModuleHeader(r *frame.Reader) (ModuleHeader, error) {
	line, err := r.ReadLine()
	if err != nil {
		return ModuleHeader{}, fatal("handshake", eofAware(err))
	}
	h, err := ParseModuleHeader(line)
	if err != nil {
		return ModuleHeader{}, err
	}
	for {
		line, err := r.ReadLine()
		if err != nil {
			return ModuleHeader{}, fatal("handshake", eofAware(err))
		}
		if strings.TrimSpace(line) == "" {
			return h, nil
		}
	}
}

// AgentGreeting is the header line an agent of the given name and
// version sends to a module.
func AgentGreeting(name, version string) string {
	return name + " " + version + " " + ProtocolVersion
}

// WriteAgentGreeting sends the agent header with an empty header block.
func WriteAgentGreeting(w *frame.Writer, name, version string) error {
	if err := w.WriteFrame(AgentGreeting(name, version)); err != nil {
		return fatal("handshake", err)
	}
	return nil
}

func eofAware(err error) error {
	if errors.Is(err, io.EOF) {
		return ErrUnexpectedEOF
	}
	return err
}
