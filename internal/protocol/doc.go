// Package protocol owns the promise module wire contract.
//
// Ownership boundary:
// - agent/module header negotiation
// - request/response records and result vocabulary
// - tagged attribute values as decoded from JSON
package protocol
