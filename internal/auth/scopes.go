package auth

import "net/http"

// Scopes requested during login and enforced on bearer tokens. Read covers
// inspection of workflows and history; write covers everything that can
// create, advance, halt, or approve a workflow.
const (
	ScopeOpenID       = "openid"
	ScopeProfile      = "profile"
	ScopeEmail        = "email"
	ScopeFoundryRead  = "foundry:read"
	ScopeFoundryWrite = "foundry:write"
)

// AllScopes is the full set requested during the authorization code flow.
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeFoundryRead,
	ScopeFoundryWrite,
}

// requiredScope maps an HTTP method to the scope it needs.
func requiredScope(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return ScopeFoundryRead
	default:
		return ScopeFoundryWrite
	}
}

// hasScope reports whether granted contains need. Write access implies read.
func hasScope(granted []string, need string) bool {
	for _, s := range granted {
		if s == need || (need == ScopeFoundryRead && s == ScopeFoundryWrite) {
			return true
		}
	}
	return false
}
