package redmap

import "errors"

// ErrNotFound is returned when no model exists under the requested key, or
// a query matched nothing where one result was required.
var ErrNotFound = errors.New("redmap: model not found")

// ErrMissingPrimaryKey is returned when a model arrives without a primary
// key in an operation that cannot generate one.
var ErrMissingPrimaryKey = errors.New("redmap: model has no primary key")
