package consensus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/PlatformNetwork/subnet-validator/ids"
	"github.com/PlatformNetwork/subnet-validator/wrappers"
)

// Phase is the per-sequence-number state, spec.md §4.F: "Idle →
// PrePrepared → Prepared → Committed → Decided".
type Phase int

const (
	Idle Phase = iota
	PrePrepared
	Prepared
	Committed
	Decided
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case PrePrepared:
		return "pre_prepared"
	case Prepared:
		return "prepared"
	case Committed:
		return "committed"
	case Decided:
		return "decided"
	default:
		return "unknown"
	}
}

// ActiveValidatorsFunc returns the current sorted set of active validator
// hotkeys, used both for quorum math and leader selection.
type ActiveValidatorsFunc func() []ids.Hotkey

// Config parameterizes an Engine.
type Config struct {
	Self           ids.Hotkey
	ActiveVals     ActiveValidatorsFunc
	BaseTimeout    time.Duration
	MaxTimeout     time.Duration
	Logger         *zap.Logger
}

// slotState tracks one sequence number's agreement progress.
type slotState struct {
	phase      Phase
	view       View
	digest     Digest
	prepares   map[ids.Hotkey]Digest
	commits    map[ids.Hotkey]Digest
	decided    *Decision
}

func newSlotState() *slotState {
	return &slotState{
		prepares: make(map[ids.Hotkey]Digest),
		commits:  make(map[ids.Hotkey]Digest),
	}
}

// Engine implements the PBFT state machine described in spec.md §4.F. It
// keeps the teacher's outer lifecycle shape (Config / Start / Stop /
// HealthCheck) while implementing the actual agreement logic locally,
// since this protocol must live in-repo rather than be delegated to an
// opaque external library.
type Engine struct {
	cfg Config

	mu          sync.Mutex
	slots       map[Seq]*slotState
	view        View
	viewTimeout time.Duration
	faults      *wrappers.KindedErrs
	viewChanges map[View]*viewChangeTracker
}

// New constructs an Engine. The engine runs no timer of its own; callers
// drive view changes with ViewTimeout and NextView.
func New(cfg Config) (*Engine, error) {
	if cfg.ActiveVals == nil {
		return nil, fmt.Errorf("consensus: ActiveVals is required")
	}
	if cfg.BaseTimeout <= 0 {
		cfg.BaseTimeout = 10 * time.Second
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 160 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		cfg:         cfg,
		slots:       make(map[Seq]*slotState),
		viewTimeout: cfg.BaseTimeout,
		faults:      wrappers.NewKindedErrs(),
	}, nil
}

// Start logs that the engine has started; it starts no timer. Mirrors the teacher's lifecycle
// shape (engine/bft/wrapper.go's Start/Stop/HealthCheck).
func (e *Engine) Start(ctx context.Context) error {
	e.cfg.Logger.Info("consensus engine started", zap.Uint64("view", uint64(e.view)))
	return nil
}

// Stop is a no-op placeholder retained for lifecycle symmetry; timer
// cancellation is managed per-caller via context in this engine.
func (e *Engine) Stop(ctx context.Context) error {
	e.cfg.Logger.Info("consensus engine stopped")
	return nil
}

// HealthCheck reports the engine's current view and decided count.
func (e *Engine) HealthCheck(ctx context.Context) (map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	decided := 0
	for _, s := range e.slots {
		if s.phase == Decided {
			decided++
		}
	}
	return map[string]any{
		"view":    uint64(e.view),
		"decided": decided,
	}, nil
}

// quorum returns n-f for the current active validator set, per spec.md
// §4.F: f = floor((n-1)/3), quorum = n - f.
func (e *Engine) quorum() int {
	n := len(e.cfg.ActiveVals())
	if n == 0 {
		return 0
	}
	f := (n - 1) / 3
	return n - f
}

// Leader returns the validator who leads view v: active validators sorted
// by hotkey, leader = list[v mod n].
func (e *Engine) Leader(v View) (ids.Hotkey, error) {
	active := e.cfg.ActiveVals()
	if len(active) == 0 {
		return ids.Hotkey{}, fmt.Errorf("consensus: no active validators")
	}
	sorted := append([]ids.Hotkey(nil), active...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })
	return sorted[int(v)%len(sorted)], nil
}

// CurrentView returns the engine's current view number.
func (e *Engine) CurrentView() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

func (e *Engine) slotFor(seq Seq) *slotState {
	s, ok := e.slots[seq]
	if !ok {
		s = newSlotState()
		e.slots[seq] = s
	}
	return s
}

// HandleProposal processes a PrePrepare and returns the Prepare this node
// should broadcast in response, or nil if the proposal was rejected.
func (e *Engine) HandleProposal(pp PrePrepare) (*Prepare, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pp.View != e.view {
		return nil, fmt.Errorf("consensus: stale view %d, current %d", pp.View, e.view)
	}
	leader, err := e.Leader(pp.View)
	if err != nil {
		return nil, err
	}
	if pp.Proposer != leader {
		e.faults.Add(pp.Proposer, fmt.Errorf("consensus: proposal from non-leader %s", pp.Proposer))
		return nil, fmt.Errorf("consensus: proposer %s is not leader of view %d", pp.Proposer, pp.View)
	}

	slot := e.slotFor(pp.Seq)
	if slot.phase != Idle {
		if slot.phase >= PrePrepared && slot.digest != pp.Digest {
			// Double-proposing by the leader: per spec.md §4.F this forces
			// a view change, ignoring both conflicting proposals.
			e.faults.Add(pp.Proposer, fmt.Errorf("consensus: leader double-proposed seq %d", pp.Seq))
			slot.phase = Idle
			return nil, e.triggerViewChangeLocked()
		}
		// Idempotent re-delivery of the same proposal.
		return &Prepare{View: pp.View, Seq: pp.Seq, Digest: pp.Digest, Voter: e.cfg.Self}, nil
	}

	slot.phase = PrePrepared
	slot.view = pp.View
	slot.digest = pp.Digest
	return &Prepare{View: pp.View, Seq: pp.Seq, Digest: pp.Digest, Voter: e.cfg.Self}, nil
}

// HandlePrepare accumulates Prepare votes, emitting a Commit once quorum
// matching Prepares for the same (view, seq, digest) is reached.
func (e *Engine) HandlePrepare(p Prepare) (*Commit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	slot := e.slotFor(p.Seq)
	if existing, voted := slot.prepares[p.Voter]; voted {
		if existing != p.Digest {
			e.faults.Add(p.Voter, fmt.Errorf("consensus: contradicting prepare for seq %d view %d", p.Seq, p.View))
		}
		return nil, nil
	}
	slot.prepares[p.Voter] = p.Digest

	if slot.phase < Prepared && e.countMatching(slot.prepares, p.Digest) >= e.quorum() {
		slot.phase = Prepared
		slot.digest = p.Digest
		return &Commit{View: p.View, Seq: p.Seq, Digest: p.Digest, Voter: e.cfg.Self}, nil
	}
	return nil, nil
}

// HandleCommit accumulates Commit votes, emitting a Decision once quorum
// is reached. A Decided sequence number is never rolled back.
func (e *Engine) HandleCommit(c Commit) (*Decision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	slot := e.slotFor(c.Seq)
	if slot.decided != nil {
		return slot.decided, nil
	}
	if existing, voted := slot.commits[c.Voter]; voted {
		if existing != c.Digest {
			e.faults.Add(c.Voter, fmt.Errorf("consensus: contradicting commit for seq %d view %d", c.Seq, c.View))
		}
		return nil, nil
	}
	slot.commits[c.Voter] = c.Digest

	if e.countMatching(slot.commits, c.Digest) >= e.quorum() {
		slot.phase = Decided
		decision := &Decision{Seq: c.Seq, View: c.View, Digest: c.Digest}
		slot.decided = decision
		e.resetViewTimeoutLocked()
		return decision, nil
	}
	return nil, nil
}

func (e *Engine) countMatching(votes map[ids.Hotkey]Digest, digest Digest) int {
	n := 0
	for _, d := range votes {
		if d == digest {
			n++
		}
	}
	return n
}

// viewChangeTracker tracks accumulated ViewChange votes for the view being
// negotiated.
type viewChangeTracker struct {
	votes map[ids.Hotkey]ViewChange
}

// pendingViewChanges holds in-flight view-change votes, keyed by the
// target view.
func (e *Engine) pendingViewChanges() map[View]*viewChangeTracker {
	if e.viewChanges == nil {
		e.viewChanges = make(map[View]*viewChangeTracker)
	}
	return e.viewChanges
}

// HandleViewChange accumulates ViewChange votes; once this node is the
// next-view leader and sees quorum, it returns the NewView to broadcast.
func (e *Engine) HandleViewChange(vc ViewChange) (*NewView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tracker, ok := e.pendingViewChanges()[vc.NewView]
	if !ok {
		tracker = &viewChangeTracker{votes: make(map[ids.Hotkey]ViewChange)}
		e.pendingViewChanges()[vc.NewView] = tracker
	}
	tracker.votes[vc.Voter] = vc

	if len(tracker.votes) < e.quorum() {
		return nil, nil
	}
	leader, err := e.Leader(vc.NewView)
	if err != nil {
		return nil, err
	}
	if leader != e.cfg.Self {
		return nil, nil
	}

	all := make([]ViewChange, 0, len(tracker.votes))
	for _, v := range tracker.votes {
		all = append(all, v)
	}
	return &NewView{View: vc.NewView, ViewChanges: all, Leader: e.cfg.Self}, nil
}

// HandleNewView adopts the new view and resumes participation.
func (e *Engine) HandleNewView(nv NewView) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if nv.View <= e.view {
		return fmt.Errorf("consensus: stale new-view %d, current %d", nv.View, e.view)
	}
	e.view = nv.View
	delete(e.pendingViewChanges(), nv.View)
	e.resetViewTimeoutLocked()
	return nil
}

// triggerViewChangeLocked is called while holding mu; it produces the
// error signaling the caller should emit a ViewChange for view+1. The
// timeout backs off exponentially, capped at MaxTimeout, per spec.md §4.F.
func (e *Engine) triggerViewChangeLocked() error {
	e.viewTimeout *= 2
	if e.viewTimeout > e.cfg.MaxTimeout {
		e.viewTimeout = e.cfg.MaxTimeout
	}
	return fmt.Errorf("consensus: view change required, next timeout %s", e.viewTimeout)
}

func (e *Engine) resetViewTimeoutLocked() {
	e.viewTimeout = e.cfg.BaseTimeout
}

// ViewTimeout returns the current view-change timer duration (exposed for
// callers driving the actual wall-clock timer).
func (e *Engine) ViewTimeout() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewTimeout
}

// NextView advances to view+1 locally (called when this node's own timer
// fires) and returns the ViewChange to broadcast.
func (e *Engine) NextView(lastDecided Seq) ViewChange {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.view++
	e.viewTimeout *= 2
	if e.viewTimeout > e.cfg.MaxTimeout {
		e.viewTimeout = e.cfg.MaxTimeout
	}
	return ViewChange{NewView: e.view, Voter: e.cfg.Self, LastDecided: lastDecided}
}

// Faults returns the accumulated Byzantine-fault record for hotkey.
func (e *Engine) Faults(hotkey ids.Hotkey) []error {
	return e.faults.For(hotkey)
}

// Decision returns the Decided outcome for seq, if any.
func (e *Engine) Decision(seq Seq) (Decision, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	slot, ok := e.slots[seq]
	if !ok || slot.decided == nil {
		return Decision{}, false
	}
	return *slot.decided, true
}

// Phase returns the current phase for seq.
func (e *Engine) Phase(seq Seq) Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	slot, ok := e.slots[seq]
	if !ok {
		return Idle
	}
	return slot.phase
}
