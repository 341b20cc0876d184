// Package metrics exports the bus counters of nodes to prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robotalks/chainbus/pkg/bus/link"
	"github.com/robotalks/chainbus/pkg/bus/router"
	"github.com/robotalks/chainbus/pkg/node"
)

// NewRegistry creates a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

var (
	queueLength = prometheus.NewDesc("chainbus_queue_length",
		"Packets stored in a queue.", []string{"node", "queue"}, nil)
	queueCapacity = prometheus.NewDesc("chainbus_queue_capacity",
		"Maximum packets a queue holds.", []string{"node", "queue"}, nil)
	queueDropped = prometheus.NewDesc("chainbus_queue_dropped_total",
		"Packets discarded by drop-oldest queues.", []string{"node", "queue"}, nil)
	routed = prometheus.NewDesc("chainbus_route_total",
		"Routing decisions by result.", []string{"node", "result"}, nil)
	linkEvents = prometheus.NewDesc("chainbus_link_events_total",
		"Link transactions and their outcomes.", []string{"node", "link", "event"}, nil)
	radioCredits = prometheus.NewDesc("chainbus_radio_credits",
		"Notification buffers available to the radio bridge.", []string{"node"}, nil)
	radioPackets = prometheus.NewDesc("chainbus_radio_packets_total",
		"Packets through the radio bridge.", []string{"node", "dir"}, nil)
)

// BusCollector collects the counters of nodes at scrape time.
type BusCollector struct {
	Nodes []*node.Node
}

// NewBusCollector creates a BusCollector.
func NewBusCollector(nodes ...*node.Node) *BusCollector {
	return &BusCollector{Nodes: nodes}
}

// Describe implements prometheus.Collector.
func (c *BusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range []*prometheus.Desc{
		queueLength, queueCapacity, queueDropped, routed, linkEvents, radioCredits, radioPackets,
	} {
		ch <- desc
	}
}

// Collect implements prometheus.Collector.
func (c *BusCollector) Collect(ch chan<- prometheus.Metric) {
	for _, n := range c.Nodes {
		name := strconv.Itoa(int(n.Config.Local))
		for _, q := range n.Queues() {
			ch <- prometheus.MustNewConstMetric(queueLength, prometheus.GaugeValue, float64(q.Len()), name, q.Name())
			ch <- prometheus.MustNewConstMetric(queueCapacity, prometheus.GaugeValue, float64(q.Cap()), name, q.Name())
			ch <- prometheus.MustNewConstMetric(queueDropped, prometheus.CounterValue, float64(q.Dropped()), name, q.Name())
		}
		for res := router.Result(0); res < router.NumResults; res++ {
			ch <- prometheus.MustNewConstMetric(routed, prometheus.CounterValue, float64(n.Router.Count(res)), name, res.String())
		}
		if n.Slave != nil {
			collectLink(ch, name, n.Slave.Name, n.Slave.Stats.Snapshot())
		}
		if n.Master != nil {
			collectLink(ch, name, n.Master.Name, n.Master.Stats.Snapshot())
		}
		if b := n.Bridge; b != nil {
			sent, received, rejected := b.Counters()
			ch <- prometheus.MustNewConstMetric(radioCredits, prometheus.GaugeValue, float64(b.Credits()), name)
			ch <- prometheus.MustNewConstMetric(radioPackets, prometheus.CounterValue, float64(sent), name, "sent")
			ch <- prometheus.MustNewConstMetric(radioPackets, prometheus.CounterValue, float64(received), name, "received")
			ch <- prometheus.MustNewConstMetric(radioPackets, prometheus.CounterValue, float64(rejected), name, "rejected")
		}
	}
}

func collectLink(ch chan<- prometheus.Metric, nodeName, linkName string, s link.StatsSnapshot) {
	for event, val := range map[string]uint64{
		"transaction": s.Transactions,
		"sent":        s.Sent,
		"received":    s.Received,
		"invalid":     s.Invalid,
		"timeout":     s.Timeouts,
		"refused":     s.Refused,
	} {
		ch <- prometheus.MustNewConstMetric(linkEvents, prometheus.CounterValue, float64(val), nodeName, linkName, event)
	}
}
