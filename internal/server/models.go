package server

// AuthSignupRequest is the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest is the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries the signed JWT.
type TokenResponse struct {
	Token string `json:"token"`
}

// CreateSessionRequest starts a research session.
type CreateSessionRequest struct {
	Question string `json:"question"`
}

// SessionCommandRequest delivers a planning command to a suspended session.
type SessionCommandRequest struct {
	Command string `json:"command"`
}

// HTTPError is the unified error body.
type HTTPError struct {
	Error string `json:"error"`
}
