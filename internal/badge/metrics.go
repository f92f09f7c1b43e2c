package badge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// lookupTotal counts badge lookups by how they were answered.
	lookupTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overlay_badge_lookups_total",
		Help: "Badge count lookups by outcome (rejected, cache_hit, canceled, fetched)",
	}, []string{"outcome"})

	// fetchTotal counts network fetches by result.
	fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overlay_badge_fetches_total",
		Help: "Badge API requests by result",
	}, []string{"result"})
)
