package knowledge

import "errors"

// ErrInvalidQueryContext is returned for malformed query contexts. It is the
// only query error surfaced to callers.
var ErrInvalidQueryContext = errors.New("invalid query context")
