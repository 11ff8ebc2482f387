// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	flowCode    = "code"
	flowRefresh = "refresh"

	resultSuccess = "success"
	resultFailure = "failure"
)

// Metrics are the prometheus collectors updated by a Provider and its
// KeyProvider.  A nil *Metrics records nothing.
type Metrics struct {
	flowResults  *prometheus.CounterVec
	flowDuration *prometheus.HistogramVec
	retries      *prometheus.CounterVec
	keyFetches   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.  A nil reg
// uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	const op = "oidc.NewMetrics"
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		flowResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capflow_flow_results_total",
			Help: "Code and refresh flow outcomes by flow and result.",
		}, []string{"flow", "result"}),
		flowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capflow_flow_duration_seconds",
			Help:    "Duration of code and refresh flows, including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"flow"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capflow_transport_retries_total",
			Help: "Requests resent after the provider couldn't be reached.",
		}, []string{"operation"}),
		keyFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capflow_key_fetches_total",
			Help: "JWKS fetches by result.",
		}, []string{"result"}),
	}
	for _, c := range []prometheus.Collector{m.flowResults, m.flowDuration, m.retries, m.keyFetches} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("%s: unable to register collector: %w", op, err)
		}
	}
	return m, nil
}

func (m *Metrics) flowResult(flow string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := resultSuccess
	if err != nil {
		result = resultFailure
	}
	m.flowResults.WithLabelValues(flow, result).Inc()
	m.flowDuration.WithLabelValues(flow).Observe(time.Since(start).Seconds())
}

func (m *Metrics) retry(operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}

func (m *Metrics) keyFetch(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.keyFetches.WithLabelValues(resultFailure).Inc()
		return
	}
	m.keyFetches.WithLabelValues(resultSuccess).Inc()
}
