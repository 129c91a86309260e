// Package agent drives promise modules from the agent side of the
// protocol. It exists for debugging modules and replaying transcripts;
// it is not a policy agent.
//
// Ownership boundary:
// - spawning module processes and pumping their stderr
// - agent handshake and request/response exchange
// - transcript parsing and replay comparison
package agent
