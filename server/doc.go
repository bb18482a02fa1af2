// Package server implements the core authorization server engine: the token
// endpoint grant pipelines (authorization_code, client_credentials,
// refresh_token, password), the two-phase consent-driven authorization flow,
// and administrative client management.
//
// The engine carries no HTTP layer. Callers parse requests, render consent
// pages, and perform redirects; the engine validates, decides, persists, and
// hands back tokens, redirect URLs, and structured errors.
package server
