// Package codeagent is the workflow function that turns a user request
// into a working preview.
//
// A run provisions a sandbox, lets a tool-using agent edit files and run
// commands in it until the agent reports a <task_summary>, derives a
// fragment title and a user-facing reply from that summary, and persists
// exactly one assistant message: a RESULT carrying a fragment with the
// preview URL and the final file map, or an ERROR with a fixed text. Every
// side effect runs as a durable step, so a retried run replays completed
// work instead of repeating it.
package codeagent
