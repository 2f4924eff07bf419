package shared

import "errors"

// ErrInvalidPeriod indicates a period that is not YYYY-MM.
var ErrInvalidPeriod = errors.New("period must use YYYY-MM")
