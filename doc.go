// Package oauth is the root facade of the oauth2core module. It re-exports
// the error taxonomy and wire types and wires the grant engine together with
// its security and instrumentation collaborators.
//
// The engine itself lives in the server package; storage backends live under
// storage/memory and storage/valkey. Hosts embed the engine behind their own
// HTTP layer:
//
//	store := memory.NewStore(logger)
//	srv, err := oauth.New(store, &oauth.Options{Logger: logger})
//	...
//	tok, scope, err := srv.Token(ctx, req)
//	resp := oauth.NewTokenResponse(tok, scope)
package oauth
