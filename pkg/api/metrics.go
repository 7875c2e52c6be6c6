package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type metrics struct {
	registry *prometheus.Registry

	ordersCreated   *prometheus.CounterVec
	ordersRejected  prometheus.Counter
	ordersCancelled prometheus.Counter
	positionsClosed *prometheus.CounterVec
	timeSteps       prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perpsim",
			Name:      "orders_created_total",
			Help:      "Orders accepted by the engine, by side.",
		}, []string{"side"}),
		ordersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "perpsim",
			Name:      "orders_rejected_total",
			Help:      "Order requests rejected before any state change.",
		}),
		ordersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "perpsim",
			Name:      "orders_cancelled_total",
			Help:      "Pending orders cancelled by request.",
		}),
		positionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perpsim",
			Name:      "positions_closed_total",
			Help:      "Positions closed by TP or SL triggers, by kind.",
		}, []string{"kind"}),
		timeSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "perpsim",
			Name:      "clock_steps_total",
			Help:      "Virtual clock steps advanced.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.ordersCreated, m.ordersRejected, m.ordersCancelled,
		m.positionsClosed, m.timeSteps,
	)
	return m
}
