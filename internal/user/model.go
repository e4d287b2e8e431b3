package user

// User is a stored account. Password holds the bcrypt hash, never the
// plaintext.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Password string `json:"-"`
}

// RegisterRequest doubles as the login payload; both endpoints take
// username + password.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ID          int    `json:"id"`
	Username    string `json:"username"`
}
