package monitoring

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type StoreOutcome string

const (
	StoreCreated   StoreOutcome = "created"
	StoreRecovered StoreOutcome = "recovered"
)

type nodePromMetrics struct {
	nodeUpUnixSeconds prometheus.Gauge
	storeOpens        *prometheus.CounterVec
	chainHeight       prometheus.Gauge
	peersResolved     *prometheus.GaugeVec
	peerCount         prometheus.Gauge
	headersImported   prometheus.Counter
	panicCount        prometheus.Counter
}

func newNodePromMetrics() *nodePromMetrics {
	return &nodePromMetrics{
		nodeUpUnixSeconds: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "headerd_node_up_timestamp_unix_seconds",
				Help: "Unix timestamp of the node start",
			},
		),
		storeOpens: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "headerd_store_opens_total",
				Help: "Header store opens by outcome (created on first run or recovered from disk)",
			},
			[]string{"outcome"},
		),
		chainHeight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "headerd_chain_height",
				Help: "Height of the best known header",
			},
		),
		peersResolved: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "headerd_peers_resolved",
				Help: "Size of the startup peer set by source",
			},
			[]string{"source"},
		),
		peerCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "headerd_peer_count",
				Help: "The total number of live peer connections",
			},
		),
		headersImported: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "headerd_headers_imported_total",
				Help: "Headers received from peers and appended to the chain",
			},
		),
		panicCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "headerd_panic_count",
				Help: "Recovered panics in background goroutines",
			},
		),
	}
}

var (
	metricsOnce sync.Once
	nodeMetrics *nodePromMetrics
)

func metrics() *nodePromMetrics {
	metricsOnce.Do(func() {
		nodeMetrics = newNodePromMetrics()
	})
	return nodeMetrics
}

// InitMetrics registers the node metrics and stamps the start time.
func InitMetrics() {
	metrics().nodeUpUnixSeconds.SetToCurrentTime()
}

func Handler() http.Handler {
	metrics()
	return promhttp.Handler()
}

func RecordStoreOpen(outcome StoreOutcome) {
	metrics().storeOpens.With(prometheus.Labels{
		"outcome": string(outcome),
	}).Inc()
}

func SetChainHeight(height uint32) {
	metrics().chainHeight.Set(float64(height))
}

func SetPeersResolved(source string, count int) {
	metrics().peersResolved.With(prometheus.Labels{
		"source": source,
	}).Set(float64(count))
}

func SetPeerCount(peers int) {
	metrics().peerCount.Set(float64(peers))
}

func AddHeadersImported(n int) {
	metrics().headersImported.Add(float64(n))
}

func IncreasePanicCount() {
	metrics().panicCount.Inc()
}
