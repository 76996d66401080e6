package app

// User is the profile shape surfaced to the UI. Populated from verified
// ID-token claims plus user metadata held by the auth backend.
type User struct {
	// Unique user ID assigned by the auth backend.
	ID string `json:"id"`

	// User's email address.
	Email string `json:"email"`

	// User's display name, held in auth metadata.
	Name string `json:"name"`

	// Avatar URL, if the auth backend provides one.
	Picture string `json:"picture"`

	// Whether the email address has been verified.
	Verified bool `json:"verified"`
}
