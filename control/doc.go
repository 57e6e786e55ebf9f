// Package control
// Author: momentics <momentics@gmail.com>
//
// Process configuration, runtime metrics and debug introspection.
//
// Provides:
//   - TOML configuration files layered over built-in defaults
//   - A live configuration store with reload listeners
//   - Prometheus collectors for allocators and event loops
//   - Named debug probes
package control
