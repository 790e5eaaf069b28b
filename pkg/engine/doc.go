// Package engine is the composition root that turns full model identifiers
// into ready-to-use clients. Get memoizes one client per "provider:model",
// so every caller asking for the same model shares its usage tracker, cache
// and rate-limit window. Configure installs process-wide defaults from a
// YAML config and re-applies them to clients already handed out.
package engine
