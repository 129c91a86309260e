// Package promise runs a promise module: it negotiates the agent
// handshake, then answers one request at a time until terminate.
//
// Ownership boundary:
// - lifecycle dispatch of init, validate, evaluate, and terminate requests
// - containment of module failures into well formed responses
// - schema driven coercion, validation, and defaulting of attributes
// - module configuration, transcript recording, and metrics export
package promise
