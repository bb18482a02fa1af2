// Package instrumentation wires OpenTelemetry metrics and tracing into the
// authorization server engine and its storage backends. When disabled it
// installs no-op providers, so instrumented code paths carry no overhead and
// callers never need nil checks.
package instrumentation
