package recursor

import "errors"

var ErrUnsupportedType = errors.New("recursor: unsupported record type")
var ErrDepthExceeded = errors.New("recursor: delegation too deep")
var ErrTooManyQueries = errors.New("recursor: too many queries, possible loop")
var ErrNoResponse = errors.New("recursor: no response from any nameserver")
