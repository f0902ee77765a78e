package apimodel

// AuthResponse is returned by the login and register endpoints.
type AuthResponse struct {
	// AccessToken is sent as "Authorization: Bearer <access_token>" on every
	// API call. Short lived (default 900 seconds).
	AccessToken string `json:"access_token"`

	// RefreshToken is posted to the refresh endpoint to obtain a new access
	// token. May be absent.
	RefreshToken *string `json:"refresh_token,omitempty"`

	// ExpiresIn is the access token lifetime in seconds. Zero means the
	// server did not declare one and the client default applies.
	ExpiresIn int `json:"expires_in,omitempty"`

	// Identity of the authenticated user
	ID    UserID `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// RefreshResponse is returned by the refresh endpoint. RefreshToken is only
// present when the server rotates it.
type RefreshResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken *string `json:"refresh_token,omitempty"`
	ExpiresIn    int     `json:"expires_in,omitempty"`
}
