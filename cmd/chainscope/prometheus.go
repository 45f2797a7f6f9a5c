// Copyright 2019 The klaytn Authors
// This file is part of the chainscope library.
//
// The chainscope library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The chainscope library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the chainscope library. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcrowley/go-metrics"
)

const prometheusRefreshInterval = 3 * time.Second

// startMetricsExporter bridges the go-metrics registry into Prometheus
// gauges and serves them on /metrics.
func startMetricsExporter(port int) {
	gauges := map[string]prometheus.Gauge{}
	ensure := func(name string) prometheus.Gauge {
		if g, ok := gauges[name]; ok {
			return g
		}
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chainscope",
			Name:      promName(name),
		})
		prometheus.MustRegister(g)
		gauges[name] = g
		return g
	}

	go func() {
		for range time.Tick(prometheusRefreshInterval) {
			metrics.DefaultRegistry.Each(func(name string, metric interface{}) {
				switch m := metric.(type) {
				case metrics.Gauge:
					ensure(name).Set(float64(m.Value()))
				case metrics.Counter:
					ensure(name).Set(float64(m.Count()))
				case metrics.Meter:
					ensure(name + "/rate1m").Set(m.Rate1())
					ensure(name + "/count").Set(float64(m.Count()))
				case metrics.Timer:
					ensure(name + "/mean_ms").Set(m.Mean() / float64(time.Millisecond))
					ensure(name + "/count").Set(float64(m.Count()))
				}
			})
		}
	}()

	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), nil); err != nil {
			logger.Error("prometheus exporter failed", "port", port, "err", err)
		}
	}()
	logger.Info("prometheus exporter started", "port", port)
}

func promName(name string) string {
	replacer := strings.NewReplacer("/", "_", ".", "_", "-", "_")
	return replacer.Replace(strings.TrimPrefix(name, "chainscope/"))
}
