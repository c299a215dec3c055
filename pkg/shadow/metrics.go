package shadow

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// subgraphsExtracted counts successful subgraph extractions.
	subgraphsExtracted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nshadows_subgraphs_extracted_total",
			Help: "Total number of subgraph units extracted for shadowing",
		},
	)

	// extractFailures counts subgraphs that could not be shadowed.
	extractFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nshadows_extract_failures_total",
			Help: "Total number of subgraphs skipped due to extraction failures",
		},
	)

	// candidatesBuilt counts fully instrumented candidate units.
	candidatesBuilt = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nshadows_candidates_built_total",
			Help: "Total number of instrumented candidate units built",
		},
	)

	// comparisonsRecorded counts logger comparison observations.
	comparisonsRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nshadows_comparisons_recorded_total",
			Help: "Total number of comparison values recorded during calibration",
		},
	)
)

func init() {
	// Register metrics with the default registry
	prometheus.MustRegister(subgraphsExtracted)
	prometheus.MustRegister(extractFailures)
	prometheus.MustRegister(candidatesBuilt)
	prometheus.MustRegister(comparisonsRecorded)
}
