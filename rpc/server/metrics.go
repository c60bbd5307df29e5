package server

import (
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	vmetrics "github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/lhartmann/kedis/lib/store"
	"github.com/lhartmann/kedis/rpc/common"
	"github.com/lhartmann/kedis/rpc/proto"
)

// serverStats aggregates observability state. Byte counters are striped
// because every connection goroutine hits them; the live-connection gauge is
// a plain atomic, and the keyspace gauges are plain atomics written only by
// the store loop.
type serverStats struct {
	bytesIn  *xsync.Counter
	bytesOut *xsync.Counter

	connsActive atomic.Int64
	keysLive    atomic.Int64
	ttlsLive    atomic.Int64

	connsTotal   *vmetrics.Counter
	expiredTotal *vmetrics.Counter
	errorsTotal  *vmetrics.Counter

	latency gometrics.Timer
	proc    *process.Process
}

func newServerStats() *serverStats {
	st := &serverStats{
		bytesIn:      xsync.NewCounter(),
		bytesOut:     xsync.NewCounter(),
		connsTotal:   vmetrics.GetOrCreateCounter("kedis_connections_total"),
		expiredTotal: vmetrics.GetOrCreateCounter("kedis_expired_keys_total"),
		errorsTotal:  vmetrics.GetOrCreateCounter("kedis_command_errors_total"),
		latency:      gometrics.NewRegisteredTimer("request.latency", gometrics.NewRegistry()),
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		st.proc = proc
	}
	return st
}

func (st *serverStats) connOpened() {
	st.connsTotal.Inc()
	st.connsActive.Add(1)
}

func (st *serverStats) connClosed() {
	st.connsActive.Add(-1)
}

func (st *serverStats) expired(n int) {
	st.expiredTotal.Add(n)
}

// observeStore snapshots keyspace gauges; called only from the store loop.
func (st *serverStats) observeStore(s *store.Store) {
	st.keysLive.Store(int64(s.Len()))
	st.ttlsLive.Store(int64(s.TTLCount()))
}

// observeRequest records one executed command.
func (st *serverStats) observeRequest(cmd string, status uint32, start time.Time) {
	st.latency.UpdateSince(start)
	vmetrics.GetOrCreateCounter(fmt.Sprintf(`kedis_commands_total{cmd=%q}`, cmd)).Inc()
	if status == proto.StatusErr {
		st.errorsTotal.Inc()
	}
}

// start launches the optional metrics endpoint and the periodic stats log
// line. The returned function stops both.
func (st *serverStats) start(config common.ServerConfig) func() {
	done := make(chan struct{})

	var httpSrv *http.Server
	if config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			vmetrics.WritePrometheus(w, true)
		})
		httpSrv = &http.Server{Addr: config.MetricsAddr, Handler: mux}
		go func() {
			Logger.Infof("metrics on http://%s/metrics", config.MetricsAddr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				Logger.Errorf("metrics endpoint: %v", err)
			}
		}()
	}

	if config.StatsIntervalSec > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(config.StatsIntervalSec) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					st.logLine()
				case <-done:
					return
				}
			}
		}()
	}

	return func() {
		close(done)
		if httpSrv != nil {
			_ = httpSrv.Close()
		}
	}
}

// logLine emits the periodic stats summary.
func (st *serverStats) logLine() {
	snap := st.latency.Snapshot()
	rss := uint64(0)
	if st.proc != nil {
		if mem, err := st.proc.MemoryInfo(); err == nil {
			rss = mem.RSS
		}
	}
	Logger.Infof(
		"stats: conns=%d keys=%d ttls=%d in=%dB out=%dB reqs=%d p99=%.2fms rss=%dMiB",
		st.connsActive.Load(), st.keysLive.Load(), st.ttlsLive.Load(),
		st.bytesIn.Value(), st.bytesOut.Value(),
		snap.Count(), snap.Percentile(0.99)/float64(time.Millisecond),
		rss>>20,
	)
}
