package session

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/engagekit/pkg/kv"
	"github.com/dmitrymomot/engagekit/pkg/logger"
	"github.com/dmitrymomot/engagekit/pkg/queue"
	"github.com/dmitrymomot/engagekit/pkg/statemachine"
	"github.com/dmitrymomot/engagekit/pkg/telemetry"
)

// Manager owns the current session and drives its lifecycle.
type Manager struct {
	enq      Enqueuer
	store    kv.Store
	triggers TriggerSource
	props    PropertiesCollector
	config   Config
	now      func() time.Time
	logger   *slog.Logger
	onError  ErrorHandler

	fsm *statemachine.Machine[State, signal]

	// Written only inside transition actions, which the state machine
	// serializes.
	foregroundAt time.Time
	backgroundAt time.Time

	mu      sync.RWMutex
	current *Session
	screen  string

	obsMu     sync.RWMutex
	observers map[*observerEntry]struct{}

	ka     keepalive
	closed atomic.Bool
}

type observerEntry struct {
	fn Observer
}

// transition carries the signal time into guards and actions and collects
// the notifications to deliver once the transition has completed.
type transition struct {
	now   time.Time
	notes []Notification
}

// New creates a new session manager with the given options.
func New(enq Enqueuer, opts ...Option) (*Manager, error) {
	if enq == nil {
		return nil, ErrEnqueuerNil
	}

	m := &Manager{
		enq:       enq,
		store:     kv.NewMemoryStore(),
		config:    DefaultConfig(),
		now:       time.Now,
		logger:    slog.Default(),
		observers: make(map[*observerEntry]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	idle := func(_ context.Context, _ State, _ signal, data any) bool {
		tr := data.(*transition)
		return tr.now.Sub(m.backgroundAt) > m.config.IdleThreshold
	}

	m.fsm = statemachine.MustNew[State, signal](StateNoSession,
		// The very first foreground is a launch; no idle comparison applies.
		statemachine.WithTransition[State, signal](StateNoSession, StateForeground, signalLaunch,
			statemachine.WithAction[State, signal](m.onLaunch)),
		statemachine.WithTransition[State, signal](StateNoSession, StateForeground, signalForeground,
			statemachine.WithAction[State, signal](m.onLaunch)),
		statemachine.WithTransition[State, signal](StateForeground, StateBackground, signalBackground,
			statemachine.WithAction[State, signal](m.onBackground)),
		statemachine.WithTransition[State, signal](StateBackground, StateForeground, signalForeground,
			statemachine.WithGuard[State, signal](idle),
			statemachine.WithAction[State, signal](m.onRestart)),
		statemachine.WithTransition[State, signal](StateBackground, StateForeground, signalForeground,
			statemachine.WithAction[State, signal](m.onResume)),
	)

	return m, nil
}

// Launch handles an app cold start. A session interrupted by process death
// is concluded first, then a new session is started.
func (m *Manager) Launch(ctx context.Context) error {
	return m.fire(ctx, signalLaunch)
}

// EnterForeground handles the app coming to the foreground.
func (m *Manager) EnterForeground(ctx context.Context) error {
	return m.fire(ctx, signalForeground)
}

// EnterBackground handles the app going to the background.
func (m *Manager) EnterBackground(ctx context.Context) error {
	return m.fire(ctx, signalBackground)
}

func (m *Manager) fire(ctx context.Context, sig signal) error {
	if m.closed.Load() {
		return ErrClosed
	}

	tr := &transition{now: m.now()}
	err := m.fsm.Fire(ctx, sig, tr)
	if errors.Is(err, statemachine.ErrNoTransition) {
		m.logger.DebugContext(ctx, "lifecycle signal ignored",
			logger.Component("session"),
			slog.String("signal", string(sig)),
			slog.String("state", string(m.fsm.Current())))
		return nil
	}
	if err != nil {
		return err
	}

	m.notify(tr.notes)
	return nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return m.fsm.Current()
}

// Current returns the current session, if any.
func (m *Manager) Current() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

// SetCurrentScreen sets the screen name stamped onto subsequent events.
func (m *Manager) SetCurrentScreen(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.screen = name
}

func (m *Manager) CurrentScreen() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.screen
}

// Subscribe registers an observer. The returned function removes it.
func (m *Manager) Subscribe(o Observer) (unsubscribe func()) {
	if o == nil {
		return func() {}
	}

	e := &observerEntry{fn: o}
	m.obsMu.Lock()
	m.observers[e] = struct{}{}
	m.obsMu.Unlock()

	return func() {
		m.obsMu.Lock()
		delete(m.observers, e)
		m.obsMu.Unlock()
	}
}

// Close stops the keepalive timer and records the last-seen time. The
// session is not concluded; the next cold start does that.
func (m *Manager) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	m.ka.stop()

	if s, ok := m.Current(); ok {
		if err := touchDescriptor(ctx, m.store, s.ID, m.now()); err != nil {
			m.fail(ctx, "touch session", err)
			return err
		}
	}
	return nil
}

// SendEvent stamps e with the current session, screen, time and active
// triggers, then enqueues it.
func (m *Manager) SendEvent(ctx context.Context, e telemetry.Event) (uuid.UUID, error) {
	return m.enq.Enqueue(ctx, queue.TaskTypeEvent, m.stamp(ctx, e, m.now()))
}

// UpdateProfile enqueues a profile update tagged with the current session.
func (m *Manager) UpdateProfile(ctx context.Context, u telemetry.ProfileUpdate) (uuid.UUID, error) {
	if s, ok := m.Current(); ok && u.SessionID == "" {
		u.SessionID = s.ID
	}
	if u.Occurred.IsZero() {
		u.Occurred = m.now()
	}
	return m.enq.Enqueue(ctx, queue.TaskTypeProfile, u)
}

// SetPushToken enqueues the device's push token.
func (m *Manager) SetPushToken(ctx context.Context, token string) (uuid.UUID, error) {
	p := telemetry.PushToken{Token: token, Occurred: m.now()}
	if s, ok := m.Current(); ok {
		p.SessionID = s.ID
	}
	return m.enq.Enqueue(ctx, queue.TaskTypePushToken, p)
}

func (m *Manager) stamp(ctx context.Context, e telemetry.Event, now time.Time) telemetry.Event {
	m.mu.RLock()
	if m.current != nil {
		e.SessionID = m.current.ID
		e.SessionNumber = m.current.Number
	}
	if e.ScreenName == "" {
		e.ScreenName = m.screen
	}
	m.mu.RUnlock()

	if e.Occurred.IsZero() {
		e.Occurred = now
	}

	e.ActiveTriggers = []telemetry.ActiveTriggerRef{}
	if m.triggers != nil {
		refs, err := m.triggers.ActiveRefs(ctx)
		if err != nil {
			m.fail(ctx, "read active triggers", err)
		} else if refs != nil {
			e.ActiveTriggers = refs
		}
	}
	return e
}

// Transition actions. They run under the state machine's lock.

func (m *Manager) onLaunch(ctx context.Context, _, _ State, _ signal, data any) error {
	tr := data.(*transition)

	m.recoverInterrupted(ctx, tr)

	first, err := markFirstLaunch(ctx, m.store, tr.now)
	if err != nil {
		return err
	}

	name := telemetry.EventAppLaunched
	if first {
		name = telemetry.EventAppInstalled
	}
	if err := m.startSession(ctx, tr, name, first); err != nil {
		return err
	}

	m.foregroundAt = tr.now
	m.ka.start(ctx, m.config.KeepaliveInterval, m.keepaliveTick)
	return nil
}

func (m *Manager) onBackground(ctx context.Context, _, _ State, _ signal, data any) error {
	tr := data.(*transition)

	m.ka.stop()
	m.backgroundAt = tr.now
	fg := tr.now.Sub(m.foregroundAt)

	s, _ := m.Current()
	m.emit(ctx, telemetry.NewEvent(telemetry.EventAppBackground, nil).
		WithProperty(telemetry.PropDuration, telemetry.Seconds(fg)), tr.now)
	m.touch(ctx, s.ID, tr.now)

	tr.notes = append(tr.notes, Notification{Kind: Backgrounded, Session: s, Duration: fg, At: tr.now})
	return nil
}

func (m *Manager) onResume(ctx context.Context, _, _ State, _ signal, data any) error {
	tr := data.(*transition)
	bg := tr.now.Sub(m.backgroundAt)

	s, _ := m.Current()
	m.emit(ctx, telemetry.NewEvent(telemetry.EventAppForeground, nil).
		WithProperty(telemetry.PropDuration, telemetry.Seconds(bg)), tr.now)
	m.touch(ctx, s.ID, tr.now)

	m.foregroundAt = tr.now
	m.ka.start(ctx, m.config.KeepaliveInterval, m.keepaliveTick)

	tr.notes = append(tr.notes, Notification{Kind: Foregrounded, Session: s, Duration: bg, At: tr.now})
	return nil
}

func (m *Manager) onRestart(ctx context.Context, _, _ State, _ signal, data any) error {
	tr := data.(*transition)
	bg := tr.now.Sub(m.backgroundAt)

	m.logger.InfoContext(ctx, "idle threshold exceeded, starting new session",
		logger.Component("session"),
		logger.Duration(bg))

	if s, ok := m.Current(); ok {
		m.conclude(ctx, tr, s)
	}
	if err := m.startSession(ctx, tr, telemetry.EventAppLaunched, false); err != nil {
		return err
	}

	m.foregroundAt = tr.now
	m.ka.start(ctx, m.config.KeepaliveInterval, m.keepaliveTick)

	s, _ := m.Current()
	tr.notes = append(tr.notes, Notification{Kind: Foregrounded, Session: s, Duration: bg, At: tr.now})
	return nil
}

// recoverInterrupted concludes a session persisted by a previous process
// that never got to conclude it. Store failures are reported and do not stop
// the launch; the descriptor is overwritten when the new session starts.
func (m *Manager) recoverInterrupted(ctx context.Context, tr *transition) {
	d, ok, err := loadDescriptor(ctx, m.store)
	if err != nil {
		// A corrupt descriptor cannot be concluded; drop it.
		m.fail(ctx, "load session descriptor", err)
		m.dropDescriptor(ctx)
		return
	}
	if !ok {
		return
	}

	duration := time.UnixMilli(d.LastSeenAt).Sub(time.UnixMilli(d.StartedAt))
	m.logger.InfoContext(ctx, "concluding interrupted session",
		logger.Component("session"),
		logger.SessionID(d.ID),
		logger.SessionNumber(d.Number))

	m.enqueueConclusion(ctx, d.session(), duration, tr.now)
	m.dropDescriptor(ctx)
	tr.notes = append(tr.notes, Notification{Kind: SessionConcluded, Session: d.session(), Duration: duration, At: tr.now})
}

func (m *Manager) dropDescriptor(ctx context.Context) {
	if err := m.store.Delete(ctx, KeyCurrentSession); err != nil {
		m.fail(ctx, "delete session descriptor", err)
	}
}

func (m *Manager) conclude(ctx context.Context, tr *transition, s Session) {
	duration := tr.now.Sub(s.StartedAt)
	m.enqueueConclusion(ctx, s, duration, tr.now)
	m.dropDescriptor(ctx)

	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "session concluded",
		logger.Component("session"),
		logger.SessionID(s.ID),
		logger.SessionNumber(s.Number),
		logger.Duration(duration))

	tr.notes = append(tr.notes, Notification{Kind: SessionConcluded, Session: s, Duration: duration, At: tr.now})
}

func (m *Manager) enqueueConclusion(ctx context.Context, s Session, duration time.Duration, now time.Time) {
	_, err := m.enq.Enqueue(ctx, queue.TaskTypeSessionConcluded, telemetry.SessionConcluded{
		SessionID:     s.ID,
		SessionNumber: s.Number,
		Duration:      telemetry.Seconds(duration),
		Occurred:      now,
	})
	if err != nil {
		m.fail(ctx, "enqueue session conclusion", err)
	}
}

// startSession allocates the next number, persists the descriptor and
// enqueues the launch event and profile update.
func (m *Manager) startSession(ctx context.Context, tr *transition, launchEvent string, first bool) error {
	number, err := nextSessionNumber(ctx, m.store)
	if err != nil {
		return err
	}

	s := Session{ID: uuid.NewString(), Number: number, StartedAt: tr.now}
	err = saveDescriptor(ctx, m.store, descriptor{
		ID:         s.ID,
		Number:     s.Number,
		StartedAt:  tr.now.UnixMilli(),
		LastSeenAt: tr.now.UnixMilli(),
	})
	if err != nil {
		m.fail(ctx, "save session descriptor", err)
	}

	m.mu.Lock()
	m.current = &s
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "session started",
		logger.Component("session"),
		logger.SessionID(s.ID),
		logger.SessionNumber(s.Number))

	var device map[string]any
	if m.props != nil {
		device = m.props.DeviceProperties(ctx)
	}

	event := telemetry.NewEvent(launchEvent, nil)
	event.DeviceProps = device
	m.emit(ctx, event, tr.now)

	profile := make(map[string]any, len(device)+3)
	maps.Copy(profile, device)
	profile[telemetry.PropSessionCount] = s.Number
	if first {
		profile[telemetry.PropFirstLaunch] = tr.now
		profile[telemetry.PropInstalledAt] = tr.now
	}
	_, err = m.enq.Enqueue(ctx, queue.TaskTypeProfile, telemetry.ProfileUpdate{
		UserProperties: profile,
		SessionID:      s.ID,
		Occurred:       tr.now,
	})
	if err != nil {
		m.fail(ctx, "enqueue session profile", err)
	}

	tr.notes = append(tr.notes, Notification{Kind: SessionStarted, Session: s, At: tr.now})
	return nil
}

func (m *Manager) emit(ctx context.Context, e telemetry.Event, now time.Time) {
	if _, err := m.enq.Enqueue(ctx, queue.TaskTypeEvent, m.stamp(ctx, e, now)); err != nil {
		m.fail(ctx, "enqueue "+e.Name, err)
	}
}

func (m *Manager) touch(ctx context.Context, id string, at time.Time) {
	if id == "" {
		return
	}
	if err := touchDescriptor(ctx, m.store, id, at); err != nil {
		m.fail(ctx, "touch session", err)
	}
}

func (m *Manager) keepaliveTick(ctx context.Context) {
	s, ok := m.Current()
	if !ok {
		return
	}
	now := m.now()

	_, err := m.enq.Enqueue(ctx, queue.TaskTypeKeepAlive, telemetry.KeepAlive{
		SessionID:     s.ID,
		SessionNumber: s.Number,
		Occurred:      now,
	})
	if err != nil {
		m.fail(ctx, "enqueue keepalive", err)
	}
	m.touch(ctx, s.ID, now)
}

func (m *Manager) notify(notes []Notification) {
	if len(notes) == 0 {
		return
	}

	m.obsMu.RLock()
	fns := make([]Observer, 0, len(m.observers))
	for e := range m.observers {
		fns = append(fns, e.fn)
	}
	m.obsMu.RUnlock()

	for _, n := range notes {
		for _, fn := range fns {
			fn(n)
		}
	}
}

func (m *Manager) fail(ctx context.Context, op string, err error) {
	m.logger.ErrorContext(ctx, "session operation failed",
		logger.Component("session"),
		slog.String("op", op),
		logger.Error(err))
	if m.onError != nil {
		m.onError(ctx, op, err)
	}
}
