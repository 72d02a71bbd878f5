package receiptscan

import "errors"

// ErrNoAmount is returned when no plausible monetary amount can be
// extracted from a receipt image.
var ErrNoAmount = errors.New("no amount detected")
