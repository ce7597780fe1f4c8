package monitoring

import (
	"officemesh/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Gauges sampled from orchestrator stats
	usersConnected  prometheus.Gauge
	meetingsActive  prometheus.Gauge
	promptsPending  prometheus.Gauge
	actionsQueued   prometheus.Gauge
	proximityPairs  *prometheus.GaugeVec

	// Counters
	proximityEventsTotal *prometheus.CounterVec
	actionsEnqueuedTotal *prometheus.CounterVec
	meetingPromptsTotal  prometheus.Counter
	meetingStartsTotal   prometheus.Counter
	meetingDeclinesTotal prometheus.Counter
	meetingTimeoutsTotal prometheus.Counter
	keyframesTotal       prometheus.Counter
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		usersConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "officemesh_users_connected",
			Help: "Number of users with an active session",
		}),

		meetingsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "officemesh_meetings_active",
			Help: "Number of active two-party meetings",
		}),

		promptsPending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "officemesh_meeting_prompts_pending",
			Help: "Number of outstanding meeting prompts",
		}),

		actionsQueued: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "officemesh_actions_queued",
			Help: "Actions waiting in user queues across all users",
		}),

		proximityPairs: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "officemesh_proximity_pairs",
			Help: "User pairs currently in range",
		}, []string{"media"}),

		proximityEventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "officemesh_proximity_events_total",
			Help: "Proximity transitions applied",
		}, []string{"media", "event"}),

		actionsEnqueuedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "officemesh_actions_enqueued_total",
			Help: "Actions pushed to user queues",
		}, []string{"type"}),

		meetingPromptsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "officemesh_meeting_prompts_total",
			Help: "Meeting prompts issued",
		}),

		meetingStartsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "officemesh_meeting_starts_total",
			Help: "Meetings that reached the active phase",
		}),

		meetingDeclinesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "officemesh_meeting_declines_total",
			Help: "Meeting prompts declined",
		}),

		meetingTimeoutsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "officemesh_meeting_timeouts_total",
			Help: "Meeting prompts that expired unanswered",
		}),

		keyframesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "officemesh_keyframe_requests_total",
			Help: "Keyframe requests forwarded to producers",
		}),
	}
}

// RecordStats publishes an orchestrator stats snapshot.
func (p *PrometheusCollector) RecordStats(stats domain.SessionStats) {
	p.usersConnected.Set(float64(stats.ConnectedUsers))
	p.meetingsActive.Set(float64(stats.ActiveMeetings))
	p.promptsPending.Set(float64(stats.PendingPrompts))
	p.actionsQueued.Set(float64(stats.QueuedActions))
	p.proximityPairs.WithLabelValues(string(domain.MediaAudio)).Set(float64(stats.AudioPairs))
	p.proximityPairs.WithLabelValues(string(domain.MediaVideo)).Set(float64(stats.VideoPairs))
}

func (p *PrometheusCollector) RecordProximityEvent(media domain.MediaKind, event domain.ProximityEventType) {
	p.proximityEventsTotal.WithLabelValues(string(media), string(event)).Inc()
}

func (p *PrometheusCollector) RecordActionEnqueued(actionType domain.ActionType) {
	p.actionsEnqueuedTotal.WithLabelValues(string(actionType)).Inc()
}

func (p *PrometheusCollector) RecordMeetingPrompt()  { p.meetingPromptsTotal.Inc() }
func (p *PrometheusCollector) RecordMeetingStart()   { p.meetingStartsTotal.Inc() }
func (p *PrometheusCollector) RecordMeetingDecline() { p.meetingDeclinesTotal.Inc() }
func (p *PrometheusCollector) RecordMeetingTimeout() { p.meetingTimeoutsTotal.Inc() }
func (p *PrometheusCollector) RecordKeyframe()       { p.keyframesTotal.Inc() }
