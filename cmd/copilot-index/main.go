// Command copilot-index builds and queries a semantic index of a markdown
// vault, and serves it to MCP clients.
package main

func main() {
	Execute()
}
