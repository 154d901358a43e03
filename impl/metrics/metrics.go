package metrics

import (
	"sync"
)

var initOnce sync.Once

// Init creates the pullgather metrics and registers them with the default
// prometheus registry, which already carries the go runtime and process
// collectors. Until Init is called all the metric functions exposed by the
// package are NOP functions. Calling Init more than once has no effect.
func Init() {
	initOnce.Do(addPullgatherMetrics)
}
