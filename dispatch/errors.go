package dispatch

import "github.com/cockroachdb/errors"

var (
	// ErrNoDevice is a router lookup miss with no fallback available.
	ErrNoDevice = errors.New("handle has no recorded owner")
	// ErrAggregationPartial records that some drivers failed to produce a
	// native instance in aggregated mode. The meta instance still works with
	// the drivers that succeeded.
	ErrAggregationPartial = errors.New("some ICDs failed instance creation")
	// ErrNoInstance means instance creation failed on every loaded driver.
	ErrNoInstance = errors.New("no ICD produced a native instance")
)
