// Package metrics exposes ambient, observational-only counters over HTTP.
// Nothing in the protocol state machines reads these back — this project
// deliberately has no congestion control, and a metrics exporter that fed
// back into the session logic would reintroduce it through the back door.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sender holds the sender session's counters.
type Sender struct {
	registry        *prometheus.Registry
	PacketsSent     prometheus.Counter
	Retransmits     prometheus.Counter
	AcksReceived    prometheus.Counter
	StaleAcks       prometheus.Counter
	FilesSkipped    prometheus.Counter
	WindowOccupancy prometheus.Gauge
}

// NewSender builds a registered Sender metric bundle. Construction is
// always cheap; whether it is ever served over HTTP is a separate choice.
func NewSender() *Sender {
	reg := prometheus.NewRegistry()
	s := &Sender{
		registry: reg,
		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filerelay_sender_packets_sent_total",
			Help: "DATA packets handed to the transport on first transmission; retransmits are counted separately.",
		}),
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filerelay_sender_retransmits_total",
			Help: "DATA packets resent by go-back-N whole-window retransmission, one per packet resent.",
		}),
		AcksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filerelay_sender_acks_received_total",
			Help: "ACK packets classified from the wire, stale or not.",
		}),
		StaleAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filerelay_sender_stale_acks_total",
			Help: "ACKs whose ack_seq_n fell outside the current window.",
		}),
		FilesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filerelay_sender_files_skipped_total",
			Help: "Files skipped because they were unreadable or too large to packetize.",
		}),
		WindowOccupancy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "filerelay_sender_window_occupancy",
			Help: "Current number of outstanding unacknowledged DATA packets.",
		}),
	}
	reg.MustRegister(s.PacketsSent, s.Retransmits, s.AcksReceived, s.StaleAcks, s.FilesSkipped, s.WindowOccupancy)
	return s
}

// Serve starts an HTTP server exposing /metrics on addr. The caller is
// responsible for shutting it down.
func (s *Sender) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Receiver holds the receiver session's counters.
type Receiver struct {
	registry         *prometheus.Registry
	PacketsClassified prometheus.Counter
	InvalidDropped   prometheus.Counter
	Duplicates       prometheus.Counter
	Delivered        prometheus.Counter
	OutOfWindow      prometheus.Counter
	AcksSent         prometheus.Counter
	MatchesFound     prometheus.Counter
	MatchesUnknown   prometheus.Counter
}

// NewReceiver builds a registered Receiver metric bundle.
func NewReceiver() *Receiver {
	reg := prometheus.NewRegistry()
	r := &Receiver{
		registry: reg,
		PacketsClassified: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filerelay_receiver_packets_classified_total",
			Help: "Datagrams successfully classified, any kind.",
		}),
		InvalidDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filerelay_receiver_invalid_dropped_total",
			Help: "Datagrams that failed wire validation and were dropped.",
		}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filerelay_receiver_duplicates_total",
			Help: "DATA packets matching last_delivered_seq_n, re-ACKed without redelivery.",
		}),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filerelay_receiver_delivered_total",
			Help: "Next-expected DATA packets advanced past, including those whose malformed payload skips the search.",
		}),
		OutOfWindow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filerelay_receiver_out_of_window_total",
			Help: "DATA packets silently dropped (neither duplicate nor next-expected).",
		}),
		AcksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filerelay_receiver_acks_sent_total",
			Help: "ACK packets transmitted.",
		}),
		MatchesFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filerelay_receiver_matches_found_total",
			Help: "Search collaborator invocations that found a byte-identical local file.",
		}),
		MatchesUnknown: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filerelay_receiver_matches_unknown_total",
			Help: "Search collaborator invocations that found no match.",
		}),
	}
	reg.MustRegister(r.PacketsClassified, r.InvalidDropped, r.Duplicates, r.Delivered,
		r.OutOfWindow, r.AcksSent, r.MatchesFound, r.MatchesUnknown)
	return r
}

// Serve starts an HTTP server exposing /metrics on addr.
func (r *Receiver) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Shutdown is a small helper shared by both binaries' graceful-shutdown path.
func Shutdown(ctx context.Context, srv *http.Server) {
	if srv == nil {
		return
	}
	_ = srv.Shutdown(ctx)
}
