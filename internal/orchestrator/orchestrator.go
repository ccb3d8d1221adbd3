// Package orchestrator runs one customer message through escalation,
// routing and specialist dispatch, and commits the resulting conversation
// state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orderguardian/internal/conversation"
	"github.com/orderguardian/internal/escalation"
	"github.com/orderguardian/internal/handoff"
	"github.com/orderguardian/internal/metrics"
	"github.com/orderguardian/internal/router"
	"github.com/orderguardian/internal/specialist"
	"github.com/orderguardian/internal/store"
)

var (
	// ErrInvalidInput is returned for turns the caller must correct.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStateInconsistent is returned when a stored state cannot be trusted.
	ErrStateInconsistent = errors.New("conversation state inconsistent")
)

// DefaultMaxTurns is the loop guard applied when Options.MaxTurns is unset.
const DefaultMaxTurns = 10

// MaxFollowupHops bounds specialist-to-specialist hand-offs per message.
const MaxFollowupHops = 1

// Turn is one incoming customer message.
type Turn struct {
	ConversationID string         `json:"conversation_id"`
	CustomerID     string         `json:"customer_id,omitempty"`
	OrderID        string         `json:"order_id,omitempty"`
	Message        string         `json:"message"`
	Context        map[string]any `json:"context,omitempty"`
	Image          []byte         `json:"-"`
}

// Step is the result of one specialist call within a turn.
type Step struct {
	Agent   conversation.AgentID `json:"agent"`
	Outcome specialist.Outcome   `json:"outcome"`
}

// Result describes a processed turn.
type Result struct {
	ConversationID   string               `json:"conversation_id"`
	Response         string               `json:"response"`
	Agent            conversation.AgentID `json:"agent"`
	Phase            Phase                `json:"phase"`
	Trace            []Phase              `json:"trace"`
	Routing          *router.Decision     `json:"routing,omitempty"`
	Escalation       escalation.Decision  `json:"escalation"`
	Steps            []Step               `json:"steps,omitempty"`
	TicketID         string               `json:"ticket_id,omitempty"`
	TurnCount        int                  `json:"turn_count"`
	TurnLimitReached bool                 `json:"turn_limit_reached,omitempty"`
	Degraded         bool                 `json:"degraded,omitempty"`
	Created          bool                 `json:"created,omitempty"`
}

// Options configures an Orchestrator. Every field is optional.
type Options struct {
	MaxTurns   int
	Orders     specialist.OrderLookup
	Handoff    handoff.Notifier
	Controller *Controller
	Metrics    *metrics.Metrics
	Now        func() time.Time
	// Locks is shared with anything else that writes conversations,
	// typically store.Manager.Locker().
	Locks      *store.KeyedLocker
}

// Orchestrator is safe for concurrent use. Turns of the same conversation
// are serialized; different conversations proceed in parallel.
type Orchestrator struct {
	store      store.StateStore
	locks      *store.KeyedLocker
	escalation *escalation.Evaluator
	router     router.Router
	registry   *specialist.Registry
	orders     specialist.OrderLookup
	handoff    handoff.Notifier
	controller *Controller
	metrics    *metrics.Metrics
	maxTurns   int
	now        func() time.Time
}

func New(st store.StateStore, ev *escalation.Evaluator, r router.Router, reg *specialist.Registry, opts Options) *Orchestrator {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Controller == nil {
		opts.Controller = NewController(nil, 0)
	}
	if reg == nil {
		reg = specialist.NewRegistry()
	}
	if opts.Locks == nil {
		opts.Locks = store.NewKeyedLocker()
	}
	return &Orchestrator{
		store:      st,
		locks:      opts.Locks,
		escalation: ev,
		router:     r,
		registry:   reg,
		orders:     opts.Orders,
		handoff:    opts.Handoff,
		controller: opts.Controller,
		metrics:    opts.Metrics,
		maxTurns:   opts.MaxTurns,
		now:        opts.Now,
	}
}

// turn carries the working state of one ProcessMessage call.
type turn struct {
	in      Turn
	state   *conversation.State
	machine *machine
	result  *Result
	replies []string
	offer   string // soft escalation offer made this turn
	outcome string
}

func (t *turn) reply(s string) {
	if s = strings.TrimSpace(s); s != "" {
		t.replies = append(t.replies, s)
	}
}

// ProcessMessage handles one customer message. The conversation state is
// saved once, after the turn has fully resolved.
func (o *Orchestrator) ProcessMessage(ctx context.Context, in Turn) (*Result, error) {
	started := o.now()
	if strings.TrimSpace(in.ConversationID) == "" {
		return nil, fmt.Errorf("%w: conversation_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Message) == "" && len(in.Image) == 0 {
		return nil, fmt.Errorf("%w: message is empty", ErrInvalidInput)
	}

	unlock, err := o.locks.Lock(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	loaded, created, err := o.load(ctx, in)
	if err != nil {
		o.metrics.ObserveTurn("error", o.now().Sub(started))
		return nil, err
	}

	t := &turn{
		in:      in,
		state:   loaded.Clone(),
		machine: newMachine(),
		result:  &Result{ConversationID: in.ConversationID, Created: created},
	}
	if err := o.begin(t); err != nil {
		o.metrics.ObserveTurn("invalid", o.now().Sub(started))
		return nil, err
	}

	if err := o.run(ctx, t); err != nil {
		o.metrics.ObserveTurn("error", o.now().Sub(started))
		return nil, err
	}

	// An abandoned turn leaves the stored state untouched.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := o.store.Save(ctx, in.ConversationID, t.state); err != nil {
		o.metrics.ObserveTurn("error", o.now().Sub(started))
		return nil, fmt.Errorf("failed to save conversation %s: %w", in.ConversationID, err)
	}

	t.result.Phase = t.machine.current()
	t.result.Trace = t.machine.Trace()
	t.result.TurnCount = t.state.Context.TurnCount
	o.metrics.ObserveTurn(t.outcome, o.now().Sub(started))

	log.Debug().
		Str("conversation_id", in.ConversationID).
		Str("agent", string(t.result.Agent)).
		Str("phase", string(t.result.Phase)).
		Str("outcome", t.outcome).
		Int("turn_count", t.result.TurnCount).
		Msg("Turn processed")
	return t.result, nil
}

func (o *Orchestrator) load(ctx context.Context, in Turn) (*conversation.State, bool, error) {
	st, err := o.store.Load(ctx, in.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		return conversation.New(in.ConversationID, in.CustomerID, in.OrderID, o.now()), true, nil
	}
	if errors.Is(err, store.ErrCorrupt) {
		return nil, false, fmt.Errorf("%w: conversation %s: %v", ErrStateInconsistent, in.ConversationID, err)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load conversation %s: %w", in.ConversationID, err)
	}
	if err := st.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStateInconsistent, err)
	}
	if st.ConversationID != in.ConversationID {
		return nil, false, fmt.Errorf("%w: stored id %q does not match %q", ErrStateInconsistent, st.ConversationID, in.ConversationID)
	}
	return st, false, nil
}

// begin records the customer message and the caller's context.
func (o *Orchestrator) begin(t *turn) error {
	st := t.state
	now := o.now()

	if st.CustomerID == "" {
		st.CustomerID = t.in.CustomerID
	}
	if t.in.OrderID != "" {
		st.OrderID = t.in.OrderID
	}

	// image_uploaded describes the current message only.
	st.Context.ImageUploaded = len(t.in.Image) > 0
	if err := st.Context.Merge(t.in.Context); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if st.OrderID == "" {
		if id, ok := st.Context.Text("order_id"); ok {
			st.OrderID = id
		}
	}

	st.AppendUser(t.in.Message, now)
	return nil
}

func (o *Orchestrator) run(ctx context.Context, t *turn) error {
	st := t.state
	if err := t.machine.to(PhaseRouting); err != nil {
		return err
	}

	if st.CurrentAgent == conversation.AgentHuman {
		t.reply(humanReply)
		t.outcome = "human"
		return o.finish(t, conversation.AgentHuman, conversation.ActionHuman)
	}

	if o.escalation != nil {
		d := o.escalation.Evaluate(t.in.Message, st.Context)
		t.result.Escalation = d
		switch {
		case d.ShouldEscalate:
			return o.escalate(ctx, t, d)
		case d.OfferEscalation && !st.Context.EscalationOffered:
			st.Context.EscalationOffered = true
			t.offer = d.Message
			o.metrics.ObserveEscalation(d.TriggerID, "offer")
		}
	}

	forced := st.Context.TurnCount+1 > o.maxTurns
	history := st.Messages[:len(st.Messages)-1]
	d := o.router.Route(ctx, router.Input{
		Message: t.in.Message,
		History: history,
		Context: st.Context,
		OrderID: st.OrderID,
	})
	t.result.Routing = &d
	st.Context.LastIntent = d.Intent
	st.Context.LastConfidence = d.Confidence
	o.metrics.ObserveRouting(string(d.Agent), string(d.Strategy))

	log.Debug().
		Str("conversation_id", st.ConversationID).
		Str("agent", string(d.Agent)).
		Float64("confidence", d.Confidence).
		Str("strategy", string(d.Strategy)).
		Bool("fallback", d.Fallback).
		Msg("Message routed")

	if !d.Specialist() {
		t.reply(o.controller.Respond(ctx, d, t.in.Message, history))
		t.outcome = "controller"
		if d.Fallback {
			t.outcome = "fallback"
		}
		t.reply(t.offer)
		return o.finish(t, conversation.AgentController, conversation.ActionEnd)
	}

	return o.dispatch(ctx, t, d, forced)
}

func (o *Orchestrator) escalate(ctx context.Context, t *turn, d escalation.Decision) error {
	st := t.state
	st.Context.Escalated = true
	st.Context.EscalationTier = d.Tier
	st.Context.EscalationReason = d.Reason
	o.metrics.ObserveEscalation(d.TriggerID, "escalate")

	ticket := handoff.NewTicket(st.ConversationID, d.Tier, d.Reason, d.TriggerID, o.now())
	ticket.CustomerID = st.CustomerID
	ticket.OrderID = st.OrderID
	ticket.LastMessage = t.in.Message
	if o.handoff != nil {
		if err := o.handoff.Notify(ctx, ticket); err != nil {
			// The conversation still belongs to the human queue.
			log.Error().Err(err).Str("conversation_id", st.ConversationID).Msg("Failed to enqueue handoff ticket")
		} else {
			t.result.TicketID = ticket.ID
		}
	}

	log.Info().
		Str("conversation_id", st.ConversationID).
		Str("trigger_id", d.TriggerID).
		Int("tier", d.Tier).
		Msg("Conversation escalated")

	msg := d.Message
	if msg == "" {
		msg = "I'm connecting you with a member of our support team who can help further."
	}
	t.reply(msg)
	t.outcome = "escalated"
	return o.finish(t, conversation.AgentHuman, conversation.ActionHuman)
}

// dispatch calls the selected specialist and at most MaxFollowupHops
// follow-ups. Only Success, Terminal and RequiresFollowup steer it.
func (o *Orchestrator) dispatch(ctx context.Context, t *turn, d router.Decision, forced bool) error {
	st := t.state
	agent := d.Agent
	req := specialist.Request{
		ConversationID: st.ConversationID,
		Message:        t.in.Message,
		Params:         d.Params,
		Context:        st.Context,
		Image:          t.in.Image,
		Now:            o.now(),
	}

	for hops := 0; ; hops++ {
		if err := t.machine.to(PhaseDispatching); err != nil {
			return err
		}
		if err := st.SetNextAction(conversation.NextAction(agent)); err != nil {
			return fmt.Errorf("%w: %v", ErrStateInconsistent, err)
		}

		out, err := o.call(ctx, agent, st.OrderID, req)
		if err := t.machine.to(PhaseAwaitingAgentResult); err != nil {
			return err
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Str("conversation_id", st.ConversationID).Str("agent", string(agent)).Msg("Specialist failed")
			t.reply(degradedReply)
			t.result.Degraded = true
			st.Context.EscalationOffered = true
			t.outcome = "degraded"
			return o.finish(t, agent, conversation.ActionEnd)
		}

		t.result.Steps = append(t.result.Steps, Step{Agent: agent, Outcome: out})
		if err := st.Context.Merge(out.Context); err != nil {
			log.Warn().Err(err).Str("agent", string(agent)).Msg("Ignoring specialist context update")
		}
		t.reply(out.Message)

		switch {
		case out.Terminal:
			t.outcome = "completed"
			t.reply(t.offer)
			return o.finish(t, agent, conversation.ActionEnd)
		case forced:
			t.result.TurnLimitReached = true
			st.Context.TurnLimitReached = true
			st.Context.EscalationOffered = true
			t.reply(turnLimitNote)
			t.outcome = "turn_limit"
			return o.finish(t, agent, conversation.ActionEnd)
		case out.RequiresFollowup != "" && out.RequiresFollowup != agent && hops < MaxFollowupHops:
			next, err := conversation.ActionFor(out.RequiresFollowup)
			if err != nil {
				return fmt.Errorf("%w: %s requested follow-up %q", ErrStateInconsistent, agent, out.RequiresFollowup)
			}
			if err := st.SetNextAction(next); err != nil {
				return fmt.Errorf("%w: %v", ErrStateInconsistent, err)
			}
			if err := t.machine.to(PhaseRouting); err != nil {
				return err
			}
			log.Debug().
				Str("conversation_id", st.ConversationID).
				Str("from", string(agent)).
				Str("to", string(out.RequiresFollowup)).
				Str("signal", out.Signal).
				Msg("Specialist follow-up")
			agent = out.RequiresFollowup
			req.Params = nil
			req.Trigger = out.Signal
			req.Context = st.Context
			req.Image = nil
		case out.RequiresFollowup != "":
			// Follow-up budget spent for this message.
			t.outcome = "hop_limit"
			t.reply(t.offer)
			return o.finish(t, agent, conversation.ActionEnd)
		default:
			// Waiting on the customer.
			t.outcome = "awaiting"
			t.reply(t.offer)
			return o.finish(t, agent, conversation.NoAction)
		}
	}
}

func (o *Orchestrator) call(ctx context.Context, agent conversation.AgentID, orderID string, req specialist.Request) (specialist.Outcome, error) {
	a, ok := o.registry.Lookup(agent)
	if !ok {
		return specialist.Outcome{}, fmt.Errorf("no adapter registered for %s", agent)
	}
	order, err := o.order(ctx, orderID, req.ConversationID)
	if err != nil {
		return specialist.Outcome{}, err
	}
	return a.Handle(ctx, order, req)
}

// order resolves the conversation's order. A missing order is not an
// error; the specialist asks the customer for it.
func (o *Orchestrator) order(ctx context.Context, orderID, conversationID string) (specialist.Order, error) {
	if o.orders == nil || orderID == "" {
		return specialist.Order{}, nil
	}
	order, err := o.orders.Order(ctx, orderID)
	if errors.Is(err, specialist.ErrOrderNotFound) {
		log.Debug().Str("conversation_id", conversationID).Str("order_id", orderID).Msg("Order not found")
		return specialist.Order{}, nil
	}
	if err != nil {
		return specialist.Order{}, fmt.Errorf("order lookup %s: %w", orderID, err)
	}
	return order, nil
}

// finish appends the single assistant message of the turn and consumes
// next_action.
func (o *Orchestrator) finish(t *turn, agent conversation.AgentID, action conversation.NextAction) error {
	st := t.state
	if action != conversation.NoAction {
		if err := t.machine.to(PhaseTerminal); err != nil {
			return err
		}
	}

	if len(t.replies) == 0 {
		t.reply(fallbackReply)
	}
	response := strings.Join(t.replies, "\n\n")
	st.AppendAssistant(response, agent, o.now())
	if err := st.SetCurrentAgent(agent); err != nil {
		return fmt.Errorf("%w: %v", ErrStateInconsistent, err)
	}
	// next_action is consumed by the turn that set it.
	if err := st.SetNextAction(conversation.NoAction); err != nil {
		return err
	}

	t.result.Response = response
	t.result.Agent = agent
	return nil
}
