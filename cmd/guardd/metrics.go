package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	samplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardd_samples_total",
		Help: "Submitted samples by outcome.",
	}, []string{"result"})

	sampleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "guardd_sample_duration_seconds",
		Help:    "End-to-end sample scoring latency.",
		Buckets: prometheus.DefBuckets,
	})

	assessmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardd_risk_assessments_total",
		Help: "Risk assessments by required action.",
	}, []string{"action"})
)
