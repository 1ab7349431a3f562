package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the coordination core.
type Metrics struct {
	rigCommands       *prometheus.CounterVec
	pttEvents         *prometheus.CounterVec
	syncPushes        *prometheus.CounterVec
	frequencyHz       prometheus.Gauge
	pttActive         prometheus.Gauge
	bridgeConnections prometheus.Gauge
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		rigCommands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rigmuxd_rig_commands_total",
				Help: "Hardware transactions issued by RigLink, by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		pttEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rigmuxd_ptt_events_total",
				Help: "PTT grant transitions, by event type",
			},
			[]string{"event"},
		),
		syncPushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rigmuxd_sync_pushes_total",
				Help: "Frequency pushes by the sync engine, by direction",
			},
			[]string{"direction"},
		),
		frequencyHz: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rigmuxd_frequency_hz",
				Help: "Last observed rig dial frequency in Hz",
			},
		),
		pttActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rigmuxd_ptt_active",
				Help: "1 while a PTT grant is outstanding",
			},
		),
		bridgeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rigmuxd_bridge_connections",
				Help: "Currently connected control bridge clients",
			},
		),
	}
}

// RecordRigCommand counts one hardware transaction.
func (m *Metrics) RecordRigCommand(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.rigCommands.WithLabelValues(op, outcome).Inc()
}

// RecordPTTEvent counts one grant transition and tracks the active gauge.
func (m *Metrics) RecordPTTEvent(event string) {
	m.pttEvents.WithLabelValues(event).Inc()
	switch event {
	case "Granted":
		m.pttActive.Set(1)
	case "Released", "TimedOutWarning", "RevokedOnDisconnect":
		m.pttActive.Set(0)
	}
}

// RecordSyncPush counts one sync engine push and updates the frequency.
func (m *Metrics) RecordSyncPush(direction string, hz uint64) {
	m.syncPushes.WithLabelValues(direction).Inc()
	m.frequencyHz.Set(float64(hz))
}

// SetFrequency updates the frequency gauge.
func (m *Metrics) SetFrequency(hz uint64) {
	m.frequencyHz.Set(float64(hz))
}

// AddBridgeConnections adjusts the connected-clients gauge.
func (m *Metrics) AddBridgeConnections(delta int) {
	m.bridgeConnections.Add(float64(delta))
}
