// Package mcp offers tools from Model Context Protocol servers to the code
// agent.
//
// A Toolset connects to each configured server (SSE or streamable HTTP,
// optionally authenticated with static headers or OAuth client credentials),
// discovers its tools and exposes every allowed tool as an agent.Tool. Tool
// calls run as durable steps, so a retried run replays earlier MCP results
// instead of calling the server again.
package mcp
