package game

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	roundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crash_rounds_total",
		Help: "rounds created",
	})
	betsPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crash_bets_placed_total",
		Help: "bets accepted, by currency",
	}, []string{"currency"})
	cashouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crash_cashouts_total",
		Help: "successful cash-outs, by currency",
	}, []string{"currency"})
	betsLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crash_bets_lost_total",
		Help: "bets settled as lost at crash",
	})
	rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crash_rejections_total",
		Help: "rejected ledger calls, by code",
	}, []string{"code"})
	phaseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crash_phase_errors_total",
		Help: "failed round phase transitions, by phase",
	}, []string{"phase"})
	crashPoints = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crash_point",
		Help:    "distribution of crash points",
		Buckets: []float64{1, 1.01, 1.1, 1.25, 1.5, 2, 3, 5, 7.5, 10, 100},
	})
)
