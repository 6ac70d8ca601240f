package server

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMetricsRegistry builds a Prometheus registry whose collectors read the
// server's live counters and directories at scrape time.
func (s *Server) NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	m := s.metrics

	counter := func(name, help string, v interface{ Load() int64 }) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "ruchat",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}
	gauge := func(name, help string, f func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "ruchat",
			Name:      name,
			Help:      help,
		}, f)
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		counter("connections_total", "TCP connections accepted.", &m.TotalConnections),
		counter("disconnects_total", "Connections closed for any reason.", &m.TotalDisconnects),
		counter("auth_success_total", "Successful sign-ups and sign-ins.", &m.SuccessfulAuths),
		counter("auth_failures_total", "Failed sign-up and sign-in attempts.", &m.FailedAuths),
		counter("evictions_total", "Sessions replaced by a newer login of the same user.", &m.Evictions),
		counter("chat_messages_total", "Chat lines broadcast to a room.", &m.ChatMessages),
		counter("deliveries_total", "Per-recipient chat deliveries queued.", &m.Deliveries),
		counter("delivery_failures_total", "Recipients closed after a failed delivery.", &m.DeliveryFailures),
		counter("rooms_created_total", "Rooms created by users.", &m.RoomsCreated),
		counter("room_switches_total", "Successful room switches.", &m.RoomSwitches),
		gauge("connections_active", "Currently open connections.", func() float64 {
			return float64(m.ActiveConnections.Load())
		}),
		gauge("sessions_signed_in", "Identities currently bound to a session.", func() float64 {
			return float64(s.sessions.Count())
		}),
		gauge("rooms", "Rooms in the directory.", func() float64 {
			return float64(len(s.rooms.ListRooms()))
		}),
		gauge("uptime_seconds", "Seconds since the server started.", func() float64 {
			return time.Since(m.startTime).Seconds()
		}),
	)
	return reg
}

// MetricsHandler serves /metrics and /healthz.
func (s *Server) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.NewMetricsRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// StartMetricsHTTP exposes the metrics handler on Config.MetricsAddr. It
// runs in the background and stops when the server context is cancelled.
// An empty address disables it.
func (s *Server) StartMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("metrics HTTP listen", "addr", addr, "err", err)
		return
	}

	srv := &http.Server{
		Handler:           s.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}
