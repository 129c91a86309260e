// Package tools provides host helpers shared by promise modules.
//
// Ownership boundary:
// - external command execution with captured output
package tools
