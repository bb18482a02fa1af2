package server

import (
	"strings"

	"github.com/verdantlabs/oauth2core/storage"
)

// parseScope splits a space-separated scope string into its values.
func parseScope(scope string) []string {
	return strings.Fields(scope)
}

// joinScope renders scope values back to the space-separated wire form.
func joinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}

// scopeAllowed reports whether every requested scope value appears in the
// allowed set. An empty allowed set permits everything.
func scopeAllowed(requested []string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, sc := range allowed {
		allowedSet[sc] = struct{}{}
	}
	for _, sc := range requested {
		if _, ok := allowedSet[sc]; !ok {
			return false
		}
	}
	return true
}

// validateRequestedScope checks a requested scope against the server's
// supported set and the client's registration. Returns the granted scope
// string and whether the request was acceptable. An empty request grants an
// empty scope.
func (s *Server) validateRequestedScope(requested string, client *storage.Client) (string, bool) {
	values := parseScope(requested)
	if len(values) == 0 {
		return "", true
	}
	if !scopeAllowed(values, s.Config.SupportedScopes) {
		return "", false
	}
	if client != nil && !scopeAllowed(values, client.Scopes) {
		return "", false
	}
	return joinScope(values), true
}

// resolveRedirectURI resolves and verifies the redirect URI for a client.
// An omitted URI falls back to the client's sole registered URI; a supplied
// URI must exactly match one of the registered URIs. Partial or prefix
// matches never pass.
func resolveRedirectURI(client *storage.Client, requested string) (string, bool) {
	if requested == "" {
		if len(client.RedirectURIs) == 1 {
			return client.RedirectURIs[0], true
		}
		return "", false
	}
	for _, uri := range client.RedirectURIs {
		if uri == requested {
			return requested, true
		}
	}
	return "", false
}
