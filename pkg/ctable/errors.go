package ctable

import "errors"

// Error taxonomy per spec §7: KeyPresent/KeyAbsent are caller bugs,
// propagated as values (never panics); only allocation failure and
// invariant violation abort the process.
var (
	ErrKeyPresent = errors.New("ctable: key already present")
	ErrKeyAbsent  = errors.New("ctable: key not present")
)
