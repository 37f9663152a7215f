package health

import "errors"

var errMetadataMissing = errors.New("metadata collection missing")
