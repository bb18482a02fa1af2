package server

import (
	"context"
	"errors"
	"net/url"

	"github.com/verdantlabs/oauth2core/storage"
)

// AuthorizeRequest carries the parsed parameters of an authorization
// endpoint request.
type AuthorizeRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	Scope        string
	State        string
}

// AuthorizeParams is the validated form of an authorization request. The
// caller renders these into the consent page (Values gives the hidden form
// fields) and echoes them back to FinishAuthorization after the resource
// owner decides. The engine holds no state between the two phases, so the
// echoed parameters are untrusted and re-validated at finish time.
type AuthorizeParams struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	Scope        string
	State        string
}

// Values renders the parameters as form values for the consent page.
func (p *AuthorizeParams) Values() url.Values {
	v := url.Values{}
	v.Set("response_type", p.ResponseType)
	v.Set("client_id", p.ClientID)
	v.Set("redirect_uri", p.RedirectURI)
	if p.Scope != "" {
		v.Set("scope", p.Scope)
	}
	if p.State != "" {
		v.Set("state", p.State)
	}
	return v
}

// AuthorizeParams validates an authorization request and returns the
// parameters to carry through the consent page.
//
// Validation order matters for where the error can safely go: client and
// redirect URI problems are displayable only (never redirected, since the
// target is unverified), while response type and scope failures redirect
// back to the already-verified URI with the client's state echoed.
func (s *Server) AuthorizeParams(ctx context.Context, req *AuthorizeRequest) (*AuthorizeParams, error) {
	if req == nil || req.ClientID == "" {
		return nil, newError(ErrorInvalidClient, "client_id is required")
	}

	client, redirectURI, err := s.validateClientAndRedirect(ctx, req.ClientID, req.RedirectURI)
	if err != nil {
		return nil, err
	}

	if req.ResponseType != ResponseTypeCode {
		return nil, newRedirectError(ErrorUnsupportedResponseType,
			"only the code response type is supported", redirectURI, req.State)
	}

	scope, ok := s.validateRequestedScope(req.Scope, client)
	if !ok {
		return nil, newRedirectError(ErrorInvalidScope,
			"requested scope is not allowed", redirectURI, req.State)
	}

	if m := s.metrics(); m != nil {
		m.RecordAuthorizationRequested(ctx, req.ClientID)
	}
	s.Logger.Debug("authorization request validated",
		"client_id", req.ClientID,
		"scope", scope)

	return &AuthorizeParams{
		ResponseType: req.ResponseType,
		ClientID:     req.ClientID,
		RedirectURI:  redirectURI,
		Scope:        scope,
		State:        req.State,
	}, nil
}

// FinishAuthorization completes the flow after the resource owner decided.
// The echoed params are re-validated against storage before anything is
// issued. On acceptance it returns the redirect URL carrying the freshly
// minted code and the state; on denial it returns a *Error whose
// RedirectURL carries access_denied back to the client, and no code is
// persisted.
func (s *Server) FinishAuthorization(ctx context.Context, accepted bool, userID string, p *AuthorizeParams) (string, error) {
	if p == nil || p.ClientID == "" {
		return "", newError(ErrorInvalidClient, "client_id is required")
	}

	client, redirectURI, err := s.validateClientAndRedirect(ctx, p.ClientID, p.RedirectURI)
	if err != nil {
		return "", err
	}
	if p.ResponseType != ResponseTypeCode {
		return "", newRedirectError(ErrorUnsupportedResponseType,
			"only the code response type is supported", redirectURI, p.State)
	}
	scope, ok := s.validateRequestedScope(p.Scope, client)
	if !ok {
		return "", newRedirectError(ErrorInvalidScope,
			"requested scope is not allowed", redirectURI, p.State)
	}

	if m := s.metrics(); m != nil {
		m.RecordAuthorizationDecided(ctx, p.ClientID, accepted)
	}
	s.Auditor.LogAuthorizationDecision(userID, p.ClientID, scope, accepted)

	if !accepted {
		s.Logger.Info("authorization denied",
			"client_id", p.ClientID)
		return "", newRedirectError(ErrorAccessDenied,
			"the resource owner denied the request", redirectURI, p.State)
	}

	if userID == "" {
		return "", newError(ErrorServerError, "authenticated user is required")
	}

	code, err := s.mintAuthorizationCode(ctx, p.ClientID, userID, redirectURI, scope)
	if err != nil {
		s.Logger.Error("failed to mint authorization code", "error", err)
		return "", newError(ErrorServerError, "failed to issue authorization code")
	}

	if m := s.metrics(); m != nil {
		m.RecordCodeIssued(ctx, p.ClientID)
	}
	s.Auditor.LogCodeIssued(userID, p.ClientID, scope)
	s.Logger.Info("authorization code issued",
		"client_id", p.ClientID,
		"code_prefix", safeTruncate(code.Code, tokenIDLogLength))

	return buildCodeRedirect(redirectURI, code.Code, p.State)
}

// validateClientAndRedirect loads the client and verifies the redirect URI,
// returning displayable errors: neither failure may redirect anywhere.
func (s *Server) validateClientAndRedirect(ctx context.Context, clientID, requestedURI string) (*storage.Client, string, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, "", newError(ErrorInvalidClient, "unknown client")
		}
		s.Logger.Error("client lookup failed", "error", err)
		return nil, "", newError(ErrorServerError, "temporary failure")
	}

	redirectURI, ok := resolveRedirectURI(client, requestedURI)
	if !ok {
		s.logSecurityEvent(clientID, "redirect URI rejected",
			"requested", requestedURI)
		return nil, "", newError(ErrorRedirectURIMismatch,
			"redirect_uri does not match a registered URI")
	}

	return client, redirectURI, nil
}

// buildCodeRedirect assembles the success redirect with code and state.
func buildCodeRedirect(redirectURI, code, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", newError(ErrorServerError, "invalid redirect URI")
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
