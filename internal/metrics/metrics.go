// Package metrics exports session authority activity as prometheus collectors.
package metrics

import (
	"github.com/jrsteele09/go-session-authority/auth"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "session_authority"

// Recorder implements auth.Observer on top of prometheus counters.
type Recorder struct {
	loginsBegun             *prometheus.CounterVec
	loginsFinished          *prometheus.CounterVec
	loginsCancelled         *prometheus.CounterVec
	logouts                 *prometheus.CounterVec
	sessionChecks           *prometheus.CounterVec
	sessionsExpired         prometheus.Counter
	unauthenticatedRequests prometheus.Counter
}

var _ auth.Observer = (*Recorder)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		loginsBegun: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_begun_total",
			Help:      "First-factor login attempts by result.",
		}, []string{"result"}),
		loginsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_finished_total",
			Help:      "Second-factor login attempts by result.",
		}, []string{"result"}),
		loginsCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_cancelled_total",
			Help:      "CancelLogin calls by whether a pending login was removed.",
		}, []string{"removed"}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logouts_total",
			Help:      "Logout calls by whether a session was removed.",
		}, []string{"removed"}),
		sessionChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_checks_total",
			Help:      "IsAuthenticated calls by result.",
		}, []string{"result"}),
		sessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Sessions removed by the expiry sweep.",
		}),
		unauthenticatedRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unauthenticated_requests_total",
			Help:      "Protected requests rejected for lack of a live session.",
		}),
	}

	for _, c := range []prometheus.Collector{
		r.loginsBegun,
		r.loginsFinished,
		r.loginsCancelled,
		r.logouts,
		r.sessionChecks,
		r.sessionsExpired,
		r.unauthenticatedRequests,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// RegisterSessionGauges exports the current pending and authenticated counts.
// stats is called on every scrape.
func RegisterSessionGauges(reg prometheus.Registerer, stats func() auth.Stats) error {
	pending := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_pending",
		Help:      "Logins waiting for the second factor.",
	}, func() float64 { return float64(stats().Pending) })

	authenticated := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_authenticated",
		Help:      "Active authenticated sessions.",
	}, func() float64 { return float64(stats().Authenticated) })

	if err := reg.Register(pending); err != nil {
		return err
	}
	return reg.Register(authenticated)
}

func (r *Recorder) LoginBegun(ok bool) {
	r.loginsBegun.WithLabelValues(result(ok)).Inc()
}

func (r *Recorder) LoginFinished(ok bool) {
	r.loginsFinished.WithLabelValues(result(ok)).Inc()
}

func (r *Recorder) LoginCancelled(removed bool) {
	r.loginsCancelled.WithLabelValues(boolLabel(removed)).Inc()
}

func (r *Recorder) LoggedOut(removed bool) {
	r.logouts.WithLabelValues(boolLabel(removed)).Inc()
}

func (r *Recorder) SessionChecked(authenticated bool) {
	r.sessionChecks.WithLabelValues(result(authenticated)).Inc()
}

func (r *Recorder) SessionsExpired(n int) {
	r.sessionsExpired.Add(float64(n))
}

// UnauthenticatedRequest counts a protected request rejected by the service layer.
func (r *Recorder) UnauthenticatedRequest() {
	r.unauthenticatedRequests.Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
