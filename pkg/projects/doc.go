// Package projects implements the user-facing operations on projects and
// their conversations. Creating a project or sending a message persists the
// user's prompt and starts a code-agent run for it.
package projects
