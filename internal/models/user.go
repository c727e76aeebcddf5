package models

// User is the read-only directory view of an account owned by the
// surrounding platform.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}
