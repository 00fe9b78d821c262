// Copyright 2024 the qptrie authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package qptrie

import "github.com/prometheus/client_golang/prometheus"

// MultiCollector adapts a Multi's Memusage counters into a
// prometheus.Collector, so a host process can register one trie (or
// several, each under its own constant "trie" label) alongside its
// other metrics, the way erigon registers its own store-level gauges.
// This is supplemented, not spec.md-required: spec.md's own interface
// stops at memusage() -> stats, and Non-goals never mention metrics
// export, so this is purely additive plumbing around that call.
type MultiCollector struct {
	m *Multi

	leaves *prometheus.Desc
	used   *prometheus.Desc
	free   *prometheus.Desc
	hold   *prometheus.Desc
	chunks *prometheus.Desc
}

// NewMultiCollector wraps m for registration with a prometheus.Registry.
func NewMultiCollector(m *Multi) *MultiCollector {
	labels := prometheus.Labels{"trie": m.name}
	constLabels := func(extra prometheus.Labels) prometheus.Labels {
		out := make(prometheus.Labels, len(labels))
		for k, v := range labels {
			out[k] = v
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}
	return &MultiCollector{
		m:      m,
		leaves: prometheus.NewDesc("qptrie_leaves", "Number of leaves reachable from the trie's current root.", nil, constLabels(nil)),
		used:   prometheus.NewDesc("qptrie_cells_used", "Cells currently allocated across all chunks.", nil, constLabels(nil)),
		free:   prometheus.NewDesc("qptrie_cells_free", "Cells freed but not yet reclaimed.", nil, constLabels(nil)),
		hold:   prometheus.NewDesc("qptrie_cells_held", "Cells excluded from auto-GC slack: the free count at transaction open plus cells freed while immutable since.", nil, constLabels(nil)),
		chunks: prometheus.NewDesc("qptrie_chunk_count", "Chunk directory slots ever allocated.", nil, constLabels(nil)),
	}
}

// Describe implements prometheus.Collector.
func (c *MultiCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.leaves
	ch <- c.used
	ch <- c.free
	ch <- c.hold
	ch <- c.chunks
}

// Collect implements prometheus.Collector.
func (c *MultiCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.m.Memusage()
	ch <- prometheus.MustNewConstMetric(c.leaves, prometheus.GaugeValue, float64(stats.LeafCount))
	ch <- prometheus.MustNewConstMetric(c.used, prometheus.GaugeValue, float64(stats.UsedCount))
	ch <- prometheus.MustNewConstMetric(c.free, prometheus.GaugeValue, float64(stats.FreeCount))
	ch <- prometheus.MustNewConstMetric(c.hold, prometheus.GaugeValue, float64(stats.HoldCount))
	ch <- prometheus.MustNewConstMetric(c.chunks, prometheus.GaugeValue, float64(stats.ChunkCount))
}
