// Package api defines the core domain types shared by the vibe service.
//
// Projects own an ordered list of messages. Sending a user message starts a
// background code-agent run whose outcome is persisted as exactly one
// assistant message, optionally carrying a [Fragment] that describes the
// generated sandbox preview.
//
// The package has no external dependencies and performs no I/O. All types
// produce the JSON used by the HTTP API.
//
// Core types:
//   - [Project]: a user-owned container for a conversation
//   - [Message]: one USER or ASSISTANT turn, of type RESULT or ERROR
//   - [Fragment]: sandbox URL, title and file map produced by a run
//   - [RunInput] and [RunResult]: the payload and return value of a run
//   - [APIError]: structured error with type, code, param, and message
package api
