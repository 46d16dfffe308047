package writer

import "errors"

var (
	errMissingDataset = errors.New("audit entry requires a dataset id")
	errUnknownAction  = errors.New("audit entry has unknown action")
)
