package auth

// User is the authenticated principal as carried by an access token
type User struct {
	ID      string `json:"id"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	IsAdmin bool   `json:"is_admin"`
}

// AuthContext holds authenticated user information for a request
type AuthContext struct {
	User   *User
	Claims *Claims
}

// UserID returns the authenticated user's ID, or "" for a nil context
func (ac *AuthContext) UserID() string {
	if ac == nil || ac.User == nil {
		return ""
	}
	return ac.User.ID
}

// IsAdmin reports whether the caller is a platform administrator allowed to
// edit templates and overrides
func (ac *AuthContext) IsAdmin() bool {
	if ac == nil || ac.User == nil {
		return false
	}
	return ac.User.IsAdmin
}
