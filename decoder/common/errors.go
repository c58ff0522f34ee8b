package common

import "errors"

// ErrAccountTooShort is wrapped by every venue layout decoder when the account
// buffer is smaller than the layout's minimum size.
var ErrAccountTooShort = errors.New("account data too short")
