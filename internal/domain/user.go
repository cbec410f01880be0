package domain

// Identity is the authenticated user supplied by the auth boundary.
// Only ID is consumed by the core, and it is sanitised before use.
type Identity struct {
	ID    string
	Email string
	Phone string
	Name  string
}
