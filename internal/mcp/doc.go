// Package mcp exposes the generation pipeline as an MCP server.
//
// The server uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and registers a single tool, generate_code, which runs a user story
// through the orchestrator and returns the task result as structured
// content. Runs are serialized: one story is processed at a time per
// server.
package mcp
