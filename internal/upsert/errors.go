package upsert

import "errors"

// ErrIdentityMismatch means a stored entity found by its natural key carries
// a different id than the one derived from that key.
var ErrIdentityMismatch = errors.New("stored id does not match derived id")

// ErrMissingKey is returned for drafts without a data source or origin id.
var ErrMissingKey = errors.New("draft needs data source and origin id")
