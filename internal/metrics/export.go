// Copyright 2026 R5 Labs
// This file is part of the r5peer library.
//
// This software is provided "as is", without warranty of any kind,
// express or implied, including but not limited to the warranties
// of merchantability, fitness for a particular purpose and
// noninfringement. In no event shall the authors or copyright
// holders be liable for any claim, damages, or other liability,
// whether in an action of contract, tort or otherwise, arising
// from, out of or in connection with the software or the use or
// other dealings in the software.

package metrics

import (
	"bytes"
	"fmt"
	"sort"
)

// ContentType is the stable Prometheus exposition content-type
// returned by GET /metrics.
const ContentType = "text/plain; version=0.0.4"

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b bytes.Buffer
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", k, labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

func writeCounter(buf *bytes.Buffer, name, help string, lines []metricLine) {
	fmt.Fprintf(buf, "# HELP %s %s\n# TYPE %s counter\n", name, help, name)
	for _, l := range lines {
		fmt.Fprintf(buf, "%s%s %v\n", name, formatLabels(l.labels), l.value)
	}
}

func writeGauge(buf *bytes.Buffer, name, help string, lines []metricLine) {
	fmt.Fprintf(buf, "# HELP %s %s\n# TYPE %s gauge\n", name, help, name)
	for _, l := range lines {
		fmt.Fprintf(buf, "%s%s %v\n", name, formatLabels(l.labels), l.value)
	}
}

// bucketBounds are the fixed histogram bucket upper bounds shared by
// every histogram series in this sink.
var bucketBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100}

type histogram struct {
	counts []uint64 // per-bucket, non-cumulative, parallel to bucketBounds plus one +Inf overflow bucket
	sum    float64
	count  uint64
}

func newHistogram() *histogram {
	return &histogram{counts: make([]uint64, len(bucketBounds)+1)}
}

func (h *histogram) observe(v float64) {
	h.sum += v
	h.count++
	for i, bound := range bucketBounds {
		if v <= bound {
			h.counts[i]++
			return
		}
	}
	h.counts[len(bucketBounds)]++
}

func writeHistogramFamily(buf *bytes.Buffer, name, help string, series map[string]*histogram) {
	fmt.Fprintf(buf, "# HELP %s %s\n# TYPE %s histogram\n", name, help, name)
	labels := make([]string, 0, len(series))
	for l := range series {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		h := series[l]
		var cumulative uint64
		prefix := name
		if l != "" {
			prefix = fmt.Sprintf("%s{%s", name, l)
		}
		for i, bound := range bucketBounds {
			cumulative += h.counts[i]
			if l != "" {
				fmt.Fprintf(buf, "%s,le=%q} %d\n", prefix, fmt.Sprint(bound), cumulative)
			} else {
				fmt.Fprintf(buf, "%s{le=%q} %d\n", prefix, fmt.Sprint(bound), cumulative)
			}
		}
		cumulative += h.counts[len(bucketBounds)]
		if l != "" {
			fmt.Fprintf(buf, "%s,le=\"+Inf\"} %d\n", prefix, cumulative)
			fmt.Fprintf(buf, "%s_sum{%s} %v\n", name, l, h.sum)
			fmt.Fprintf(buf, "%s_count{%s} %d\n", name, l, h.count)
		} else {
			fmt.Fprintf(buf, "%s{le=\"+Inf\"} %d\n", prefix, cumulative)
			fmt.Fprintf(buf, "%s_sum %v\n", name, h.sum)
			fmt.Fprintf(buf, "%s_count %d\n", name, h.count)
		}
	}
}
