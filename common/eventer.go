package common

import "time"

// Eventer delivers named events to an annotation or chat backend.
// Now and At are points in time, Interval spans [begin, end].
type Eventer interface {
	Now(name string, attributes map[string]string) error
	At(name string, attributes map[string]string, when time.Time) error
	Interval(name string, attributes map[string]string, begin, end time.Time) error
	Stop()
}
