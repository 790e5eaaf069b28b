// Package messages provides the provider-agnostic data model for LLM
// invocations: content parts, conversation entries, tool declarations,
// responses with candidates and finish reasons, and token usage metadata.
//
// No provider or API code is included — messages is a foundation layer
// that adapters and the client build on. All types serialize to JSON
// deterministically, so re-serializing an unchanged conversation yields
// byte-identical output.
package messages
