package replication

import "github.com/prometheus/client_golang/prometheus"

// Namespace prefixes every metric exported by this module.
const Namespace = "blobrepl"

// Metrics counts replication activity. One Metrics value is normally shared
// by every session of a process and registered once.
type Metrics struct {
	Sessions       prometheus.Counter // sessions started
	SessionsFailed prometheus.Counter // sessions aborted by an error
	Offered        prometheus.Counter // names announced in local have sets
	Wanted         prometheus.Counter // names requested from peers
	BlobsSent      prometheus.Counter // blobs pushed to peers
	BlobsReceived  prometheus.Counter // blobs stored from peers
	BytesSent      prometheus.Counter // blob content bytes pushed
	BytesReceived  prometheus.Counter // blob content bytes stored
	Anomalies      prometheus.Counter // unexpected frames tolerated or rejected
}

// NewMetrics builds an unregistered set of counters.
func NewMetrics() *Metrics {
	subsystem := "replication"

	return &Metrics{
		Sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "sessions_total",
			Help:      "Total replication sessions started.",
		}),
		SessionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "sessions_failed_total",
			Help:      "Total replication sessions aborted by an error.",
		}),
		Offered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "names_offered_total",
			Help:      "Total entry names announced to peers.",
		}),
		Wanted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "names_wanted_total",
			Help:      "Total entry names requested from peers.",
		}),
		BlobsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "blobs_sent_total",
			Help:      "Total blobs pushed to peers.",
		}),
		BlobsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "blobs_received_total",
			Help:      "Total blobs received and stored.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "blob_bytes_sent_total",
			Help:      "Total blob content bytes pushed to peers.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "blob_bytes_received_total",
			Help:      "Total blob content bytes received and stored.",
		}),
		Anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "protocol_anomalies_total",
			Help:      "Total unexpected inbound frames.",
		}),
	}
}

// Collectors returns every counter for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Sessions,
		m.SessionsFailed,
		m.Offered,
		m.Wanted,
		m.BlobsSent,
		m.BlobsReceived,
		m.BytesSent,
		m.BytesReceived,
		m.Anomalies,
	}
}
