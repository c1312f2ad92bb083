// Package logging provides a small leveled logging layer over log/slog.
//
// Every log helper takes a subsystem tag so that output from the registry,
// credential store, and OAuth flow can be filtered independently. Secret
// material (API keys, tokens, code verifiers) is never passed to this
// package; callers log names, scopes, and issuer URLs only.
package logging
