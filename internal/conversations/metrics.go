package conversations

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeAllocated = "allocated"
	outcomeDuplicate = "duplicate"
	outcomeRetry     = "retry"
	outcomeConflict  = "conflict"
	outcomeNotFound  = "not_found"
)

var allocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "metadata",
	Subsystem: "sequence",
	Name:      "allocations_total",
	Help:      "Sequence allocation attempts by outcome.",
}, []string{"outcome"})
