package configctl

// Identity describes the caller of a configuration operation as the
// surrounding application knows them. Role carries the application's
// own role string; the service maps it onto an access-control role the
// first time the identity is seen.
type Identity struct {
	ID           string
	Email        string
	Role         string
	IsAdmin      bool
	IsSuperAdmin bool
}
