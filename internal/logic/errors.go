package logic

import "errors"

// ErrNilSession is returned when a decision is requested without session metrics.
var ErrNilSession = errors.New("session metrics are nil")
