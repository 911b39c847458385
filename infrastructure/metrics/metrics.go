// Package metrics exports node metrics to prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "selfd"

// Registry holds every metric of the node.
var Registry = prometheus.NewRegistry()

var (
	tipHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tip_height",
		Help:      "Block number of the current tip.",
	})
	treeSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tree_nodes",
		Help:      "Number of nodes in the chain tree.",
	})
	cascadeTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cascade_finalized_blocks",
		Help:      "Number of blocks finalized into the cascade.",
	})
	mempoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mempool_transactions",
		Help:      "Number of transactions in the mempool.",
	})
	pendingUnits = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_units",
		Help:      "Units waiting for a parent or for transactions.",
	})
	unitOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "units_processed_total",
		Help:      "Processed units by outcome.",
	}, []string{"outcome"})
	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_processing_seconds",
		Help:      "Time spent applying a trusted batch.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})
	bytesServed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_bytes_served_total",
		Help:      "Bytes of history served to syncing peers.",
	})
	throttleWaits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_throttle_waits_total",
		Help:      "Sync responses delayed by the bandwidth limit.",
	})
	peers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "peers",
		Help:      "Number of connected peers.",
	})
)

func init() {
	Registry.MustRegister(tipHeight, treeSize, cascadeTotal, mempoolSize, pendingUnits,
		unitOutcomes, batchDuration, bytesServed, throttleWaits, peers)
}

// SetChainState records the tip height and tree and cascade sizes.
func SetChainState(height uint64, nodes int, finalized uint64) {
	tipHeight.Set(float64(height))
	treeSize.Set(float64(nodes))
	cascadeTotal.Set(float64(finalized))
}

// SetMempoolSize records the mempool size.
func SetMempoolSize(size int) { mempoolSize.Set(float64(size)) }

// SetPendingUnits records the pending index size.
func SetPendingUnits(count int) { pendingUnits.Set(float64(count)) }

// UnitProcessed counts one unit with its outcome.
func UnitProcessed(outcome string) { unitOutcomes.WithLabelValues(outcome).Inc() }

// ObserveBatch records the duration of a trusted batch.
func ObserveBatch(duration time.Duration) { batchDuration.Observe(duration.Seconds()) }

// BytesServed counts history bytes sent to a peer.
func BytesServed(count int) { bytesServed.Add(float64(count)) }

// ThrottleWait counts a throttled sync response.
func ThrottleWait() { throttleWaits.Inc() }

// SetPeers records the number of connected peers.
func SetPeers(count int) { peers.Set(float64(count)) }

// Server serves /metrics.
type Server struct {
	httpServer *http.Server
}

// NewServer returns a metrics server for listen.
func NewServer(listen string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
	return &Server{httpServer: &http.Server{Addr: listen, Handler: mux}}
}

// Start begins serving in the background.
func (s *Server) Start() {
	log.Infof("Prometheus exporter started on %s/metrics", s.httpServer.Addr)
	spawn("metrics.Server.Start", func() {
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server stopped: %s", err)
		}
	})
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
