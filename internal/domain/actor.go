package domain

// Actor is the authenticated caller as seen by the services.
// Role is already normalized (see constants.NormalizeRole).
type Actor struct {
	UserID         int64
	Username       string
	Role           string
	OrganizationID *int64
	TeamID         *int64
}

// ActorID returns a pointer suitable for nullable actor columns.
func (a *Actor) ActorID() *int64 {
	if a == nil || a.UserID == 0 {
		return nil
	}
	id := a.UserID
	return &id
}
