package models

// Actor is the already-authenticated identity performing an operation.
// Every mutating workflow call takes one explicitly; there is no ambient
// "current user" lookup anywhere in the core.
type Actor struct {
	Ref  string // stable identifier, e.g. staff number or member number
	Role Role
}

// IsZero reports whether the actor is missing.
func (a Actor) IsZero() bool {
	return a.Ref == ""
}
