// Package mcp implements the Model Context Protocol (MCP) server for a vault
// index.
//
// The server exposes six tools to MCP clients:
//   - index_vault: embed notes changed since the last pass (or all, with overwrite)
//   - index_note: re-index a single note
//   - retrieve: return the chunks most relevant to a question
//   - collect_garbage: drop chunks of deleted or excluded notes
//   - clear_index: empty the index
//   - get_status: report statistics and whether a rebuild is needed
//
// # Protocol Overview
//
// MCP is JSON-RPC 2.0 over stdio. Stdout carries protocol messages only, so
// all logging goes to stderr.
//
//	copilot-index serve
//
// # Tool: retrieve
//
//	Request:
//	{
//	  "name": "retrieve",
//	  "arguments": {"query": "where did I see the heron?", "k": 3}
//	}
//
//	Response:
//	{
//	  "query": "where did I see the heron?",
//	  "count": 1,
//	  "chunks": [
//	    {"text": "Saw a grey heron by the river.", "path": "birds.md",
//	     "title": "birds", "chunk_index": 0, "score": 0.82, "rank": 1}
//	  ],
//	  "candidates": 12,
//	  "cache_hit": false,
//	  "duration_ms": 4
//	}
//
// # Tool: index_vault
//
// The response keeps successes and failures apart:
//
//	{
//	  "indexed_count": 41,
//	  "error_count": 2,
//	  "errors": ["a.md (embed): rate limited", "b.md (embed): rate limited"],
//	  "total": 43,
//	  "rebuilt": false,
//	  "message": "Indexed 41 notes, 2 failed"
//	}
//
// At most five error messages are included. Failed notes are retried on the
// next pass.
//
// # Error Codes
//
//	-32602  invalid parameters (bad k, unknown or excluded note)
//	-32603  internal error (storage, provider)
//	-32002  an indexing pass is already running
//	-32003  index built with another embedding model, re-index required
//	-32004  empty query
//	-32005  no embedding provider configured
package mcp
