package replication

import (
	"errors"
	"fmt"
)

var (
	ErrIDsExhausted    = errors.New("identifier space exhausted")
	ErrOwnerMismatch   = errors.New("networked components disagree on owner")
	ErrAlreadyAttached = errors.New("networked component already attached")
	ErrDuplicatePrefab = errors.New("prefab already registered")
)

// Things a LookupError can fail to find.
const (
	LookupPrefab    = "prefab"
	LookupEntity    = "entity"
	LookupComponent = "component"
	LookupMethod    = "method"
)

// LookupError is returned when a name or id does not resolve to anything.
type LookupError struct {
	What string
	Name string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("unknown %s %s", e.What, e.Name)
}

// IsUnknownEntity reports whether err is a LookupError for a missing entity.
func IsUnknownEntity(err error) bool {
	var lookupErr *LookupError
	return errors.As(err, &lookupErr) && lookupErr.What == LookupEntity
}
