// Package providers defines the interface crashlink uses to run the OAuth
// authorization-code flow against an identity provider and to resolve the
// identity behind the resulting access token.
//
// The GitHub OAuth App implementation lives in providers/github; a
// function-field mock for tests lives in providers/mock.
package providers
