package models

// SessionMarker is the signed-in identity kept under the userData key. The
// same shape describes the principal of an authenticated request.
type SessionMarker struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}
