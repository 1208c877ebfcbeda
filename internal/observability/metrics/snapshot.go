package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Snapshot is the admin view of the collectors above.
type Snapshot struct {
	WatchConnections    int                `json:"watch_connections"`
	ActiveSubscriptions map[string]int     `json:"active_subscriptions"`
	APICalls            map[string]int     `json:"api_calls"`
	APIErrors           map[string]int     `json:"api_errors"`
	APIMeanLatencyMs    map[string]float64 `json:"api_mean_latency_ms"`
	CalendarSync        map[string]int     `json:"calendar_sync"`
	Ops                 []string           `json:"ops"`
}

// Gather reads the current values from gatherer. Missing families yield
// empty maps.
func Gather(gatherer prometheus.Gatherer) (Snapshot, error) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	snap := Snapshot{
		ActiveSubscriptions: map[string]int{},
		APICalls:            map[string]int{},
		APIErrors:           map[string]int{},
		APIMeanLatencyMs:    map[string]float64{},
		CalendarSync:        map[string]int{},
	}
	families, err := gatherer.Gather()
	if err != nil {
		return snap, err
	}
	ops := map[string]struct{}{}
	for _, family := range families {
		switch family.GetName() {
		case namespace + "_watch_connections":
			for _, m := range family.GetMetric() {
				snap.WatchConnections += int(m.GetGauge().GetValue())
			}
		case namespace + "_live_active_subscriptions":
			for _, m := range family.GetMetric() {
				snap.ActiveSubscriptions[label(m, "feed")] = int(m.GetGauge().GetValue())
			}
		case namespace + "_medapi_calls_total":
			for _, m := range family.GetMetric() {
				op := label(m, "op")
				ops[op] = struct{}{}
				n := int(m.GetCounter().GetValue())
				snap.APICalls[op] += n
				if label(m, "outcome") == "error" {
					snap.APIErrors[op] += n
				}
			}
		case namespace + "_medapi_call_latency_seconds":
			for _, m := range family.GetMetric() {
				h := m.GetHistogram()
				if h.GetSampleCount() == 0 {
					continue
				}
				snap.APIMeanLatencyMs[label(m, "op")] = h.GetSampleSum() / float64(h.GetSampleCount()) * 1000
			}
		case namespace + "_calendar_sync_jobs_total":
			for _, m := range family.GetMetric() {
				snap.CalendarSync[label(m, "outcome")] = int(m.GetCounter().GetValue())
			}
		}
	}
	for op := range ops {
		snap.Ops = append(snap.Ops, op)
	}
	sort.Strings(snap.Ops)
	return snap, nil
}

func label(metric *dto.Metric, name string) string {
	for _, l := range metric.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}
