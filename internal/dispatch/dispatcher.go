// Package dispatch sends message batches across a fleet of accounts. It
// apportions recipients, paces each account through the rate limiter, fails
// over between accounts on error and reports progress and billing.
package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/dispatch-orchestrator/internal/account"
	"github.com/dispatch-orchestrator/internal/adapter"
	"github.com/dispatch-orchestrator/internal/billing"
	"github.com/dispatch-orchestrator/internal/errors"
	"github.com/dispatch-orchestrator/internal/events"
	"github.com/dispatch-orchestrator/internal/job"
	"github.com/dispatch-orchestrator/internal/logging"
	"github.com/dispatch-orchestrator/internal/quota"
	"github.com/dispatch-orchestrator/internal/ratelimit"
	"github.com/dispatch-orchestrator/internal/retry"
	"github.com/dispatch-orchestrator/internal/stats"
	"github.com/dispatch-orchestrator/internal/types"
)

// Config bounds the retry and wait behavior of a dispatcher
type Config struct {
	MaxAttempts          int           // attempts per recipient
	ConversationAttempts int           // attempts per single conversation send
	PollInterval         time.Duration // re-check interval while waiting for an eligible account
	MaxWait              time.Duration // pacing wait budget per recipient across all attempts
}

// DefaultConfig returns the standard dispatch bounds
func DefaultConfig() Config {
	return Config{
		MaxAttempts:          4,
		ConversationAttempts: 3,
		PollInterval:         time.Second,
		MaxWait:              2 * time.Minute,
	}
}

// SleepFunc pauses for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deps are the collaborators a Dispatcher works with
type Deps struct {
	Registry  *account.Registry
	Limiter   *ratelimit.Limiter
	Jobs      *job.Manager
	Ledger    *billing.Ledger
	EventLog  stats.EventLog
	Publisher events.Publisher
	Client    adapter.Client
	Logger    *logging.Logger
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithSleep replaces the cancellable sleep
func WithSleep(fn SleepFunc) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.sleep = fn
		}
	}
}

// WithRandSource makes every batch draw from rand.New(src()).
func WithRandSource(src func() rand.Source) Option {
	return func(d *Dispatcher) {
		if src != nil {
			d.newRand = func() *rand.Rand { return rand.New(src()) }
		}
	}
}

// Dispatcher runs dispatch batches. Batches are independent sequential
// workers sharing the registry and limiter.
type Dispatcher struct {
	cfg      Config
	registry *account.Registry
	limiter  *ratelimit.Limiter
	jobs     *job.Manager
	ledger   *billing.Ledger
	log      stats.EventLog
	pub      events.Publisher
	client   adapter.Client
	logger   *logging.Logger
	sleep    SleepFunc
	newRand  func() *rand.Rand
}

// NewDispatcher creates a dispatcher. Zero fields of cfg take defaults.
func NewDispatcher(deps Deps, cfg Config, opts ...Option) *Dispatcher {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.ConversationAttempts <= 0 {
		cfg.ConversationAttempts = def.ConversationAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	pub := deps.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	log := deps.EventLog
	if log == nil {
		log = stats.NewMemoryLog()
	}

	d := &Dispatcher{
		cfg:      cfg,
		registry: deps.Registry,
		limiter:  deps.Limiter,
		jobs:     deps.Jobs,
		ledger:   deps.Ledger,
		log:      log,
		pub:      pub,
		client:   deps.Client,
		logger:   logger.WithField("component", "dispatcher"),
		sleep:    sleepContext,
		newRand:  func() *rand.Rand { return rand.New(rand.NewSource(time.Now().UnixNano())) },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// run is the state of one batch
type run struct {
	req       *normalized
	job       *job.Job
	rnd       *rand.Rand
	contact   *adapter.Media
	failovers int
	logger    *logging.Logger
}

// Dispatch validates req, truncates it to what the user's credit can pay for,
// splits it over the ready accounts and sends every recipient in order.
//
// Validation, credit and account errors are returned before any job exists.
// Once the job runs, a stop (credit ended, ctx cancelled) returns the partial
// response together with the error.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Response, error) {
	n, err := req.normalize()
	if err != nil {
		return nil, err
	}

	maxTargets, err := d.ledger.MaxTargets(ctx, n.user)
	if err != nil {
		return nil, storeError("credit lookup", err)
	}
	if maxTargets <= 0 {
		return nil, errors.NewInsufficientCreditError(n.user)
	}
	recipients := n.recipients
	if len(recipients) > maxTargets {
		recipients = recipients[:maxTargets]
	}

	ready := d.registry.ListReady()
	if len(ready) == 0 {
		return nil, errors.NewNoEligibleAccountsError()
	}
	batches, used := d.assign(n, recipients, ready)

	balance, err := d.ledger.Balance(ctx, n.user)
	if err != nil {
		return nil, storeError("credit lookup", err)
	}

	plan := Plan{
		User:               n.user,
		Mode:               n.mode,
		RequestedAccount:   n.accountID,
		RecipientsTotal:    len(n.all),
		RecipientsInBatch:  len(recipients),
		DelayFrom:          n.delayFrom,
		DelayTo:            n.delayTo,
		MessageCount:       len(n.messages),
		HasMedia:           n.media != nil,
		HasContact:         n.contact != nil,
		DefaultCountryCode: n.cc,
		ReadyAccounts:      ready,
		Quota:              used,
		SafeMode:           n.safeMode,
		CreditBefore:       billing.Dollars(balance),
		Billing:            d.ledger.Rate(),
	}

	j := d.jobs.Start(n.user, len(recipients))
	defer func() {
		if p := recover(); p != nil {
			j.Finish(types.JobError, fmt.Sprint(p))
			panic(p)
		}
	}()
	r := &run{
		req:    n,
		job:    j,
		rnd:    d.newRand(),
		logger: d.logger.WithFields(map[string]interface{}{"jobId": j.ID(), "user": n.user}),
	}
	if n.contact != nil {
		r.contact = n.contact.Media()
	}
	resp := &Response{Plan: plan, JobID: j.ID(), Results: make([]types.Outcome, 0, len(recipients))}

	index := 0
	for _, b := range batches {
		start := d.registry.Pick(b.AccountID)
		for _, raw := range b.Items {
			if err := ctx.Err(); err != nil {
				return d.stop(ctx, r, resp, types.JobStopped, ReasonCancelled, err)
			}
			ok, err := d.ledger.CanAfford(ctx, n.user)
			if err != nil {
				return d.stop(ctx, r, resp, types.JobError, "credit lookup failed", storeError("credit lookup", err))
			}
			if !ok {
				return d.stop(ctx, r, resp, types.JobStopped, ReasonCreditEnded,
					errors.NewInsufficientCreditError(n.user).WithDetail("jobId", j.ID()))
			}

			index++
			// a started recipient runs to completion; stops apply between recipients
			out := d.serve(context.WithoutCancel(ctx), r, start, raw, index)
			resp.Results = append(resp.Results, out)
			j.Record(out.Success)

			_ = d.pause(ctx, r.rnd, n.delayFrom, n.delayTo)
			if n.safeMode.Enabled {
				_ = d.pause(ctx, r.rnd, n.safeMode.ExtraDelayFrom, n.safeMode.ExtraDelayTo)
			}
		}
	}

	j.Finish(types.JobDone, "")
	d.complete(ctx, r, resp, types.JobDone, "")
	r.logger.WithFields(map[string]interface{}{
		"count":     resp.Count,
		"failovers": resp.FailoverCount,
	}).Info("Dispatch finished")
	return resp, nil
}

func (d *Dispatcher) stop(ctx context.Context, r *run, resp *Response, status types.JobStatus, reason string, cause error) (*Response, error) {
	r.job.Finish(status, reason)
	d.complete(ctx, r, resp, status, reason)
	r.logger.WithFields(map[string]interface{}{
		"status": string(status),
		"count":  resp.Count,
	}).Infof("Dispatch stopped: %s", reason)
	return resp, cause
}

func (d *Dispatcher) complete(ctx context.Context, r *run, resp *Response, status types.JobStatus, reason string) {
	resp.Status = status
	resp.Reason = reason
	resp.FailoverCount = r.failovers
	resp.Count = len(resp.Results)
	// ctx may already be cancelled here
	if bal, err := d.ledger.Balance(context.WithoutCancel(ctx), r.req.user); err == nil {
		after := billing.Dollars(bal)
		resp.Plan.CreditAfter = &after
	}
}

// assign splits recipients into per-account batches. Single mode sends
// everything from the requested account when it is ready, else from the
// first ready account.
func (d *Dispatcher) assign(n *normalized, recipients, ready []string) ([]quota.Batch, map[string]int) {
	if n.mode == types.ModeDistribute {
		q := quota.Apportion(len(recipients), ready, n.caps)
		return quota.Assign(recipients, ready, q), q
	}
	preferred := ready[0]
	for _, id := range ready {
		if id == n.accountID {
			preferred = id
			break
		}
	}
	return []quota.Batch{{AccountID: preferred, Items: recipients}}, map[string]int{preferred: len(recipients)}
}

type actionLog func(ok bool, kind types.ActionKind, detail string)

// serve runs the attempt loop for one recipient starting from st.
func (d *Dispatcher) serve(ctx context.Context, r *run, st *account.Record, raw string, index int) types.Outcome {
	out := types.Outcome{Number: raw, Actions: []types.Action{}}
	act := func(ok bool, kind types.ActionKind, detail string) {
		out.Actions = append(out.Actions, types.Action{At: d.registry.Now(), OK: ok, Kind: kind, Detail: detail})
	}
	sm := r.req.safeMode
	waitUntil := d.registry.Now().Add(d.cfg.MaxWait)

	address, ok := ResolveAddress(raw, r.req.cc)
	if !ok {
		detail := "missing_defaultCC_or_invalid_E164"
		if r.req.cc != "" {
			detail = "defaultCC=" + r.req.cc
		}
		act(false, types.ActionInvalidNumber, detail)
		d.record(ctx, types.EventFailed, raw, recordID(st))
		return out
	}
	out.Address = address

	text := ""
	if len(r.req.messages) > 0 {
		picked := r.rnd.Intn(len(r.req.messages))
		out.PickedIndex = &picked
		text = ApplyTemplate(r.req.messages[picked], TemplateContext{
			Number:  raw,
			Address: address,
			Index:   index,
			Rand:    randToken(r.rnd),
		})
	}

	switchTo := func(next *account.Record, kind types.ActionKind) {
		if next.ID() != recordID(st) {
			r.failovers++
			act(true, kind, "switched_to="+next.ID())
			r.logger.WithFields(map[string]interface{}{
				"from":   recordID(st),
				"to":     next.ID(),
				"number": raw,
			}).Debug("Failover switch")
		}
		st = next
	}

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if st == nil || !st.Eligible(d.registry.Now()) {
			next := d.registry.Next(recordID(st))
			if next == nil {
				act(false, types.ActionNoReadyAccounts, "")
				d.record(ctx, types.EventFailed, raw, out.AccountUsed)
				return out
			}
			switchTo(next, types.ActionFailoverSwitch)
		}

		if sm.Enabled {
			next, ok := d.safeWait(ctx, st, sm, waitUntil)
			switchTo(next, types.ActionSafeSwitch)
			if !ok {
				out.AccountUsed = st.ID()
				act(false, types.ActionSafeWaitTimeout, fmt.Sprintf("waited=%s", d.cfg.MaxWait))
				if attempt == d.cfg.MaxAttempts {
					break
				}
				if next := d.registry.Next(st.ID()); next != nil {
					switchTo(next, types.ActionFailoverSwitch)
				}
				continue
			}
		}

		out.AccountUsed = st.ID()
		err := d.deliver(ctx, r, st, address, raw, text, act)
		if err == nil {
			out.Success = true
			return out
		}

		msg := err.Error()
		act(false, types.ActionSendError, msg)
		d.limiter.NoteError(st, msg)
		if attempt == d.cfg.MaxAttempts {
			break
		}

		next := d.registry.Next(st.ID())
		if next == nil {
			break
		}
		switchTo(next, types.ActionFailoverSwitch)
	}

	d.record(ctx, types.EventFailed, raw, out.AccountUsed)
	return out
}

// safeWait polls until st may send under sm, moving to another account that
// becomes eligible first. It gives up at deadline or when ctx ends and
// returns false.
func (d *Dispatcher) safeWait(ctx context.Context, st *account.Record, sm types.SafeModeConfig, deadline time.Time) (*account.Record, bool) {
	for !d.limiter.CanSendNow(st, sm) {
		if next := d.registry.Next(st.ID()); next != nil && next.ID() != st.ID() && d.limiter.CanSendNow(next, sm) {
			return next, true
		}
		if !d.registry.Now().Before(deadline) {
			return st, false
		}
		if err := d.sleep(ctx, d.cfg.PollInterval); err != nil {
			return st, false
		}
	}
	return st, true
}

// deliver sends the contact card, then the media or text, from st.
func (d *Dispatcher) deliver(ctx context.Context, r *run, st *account.Record, address, raw, text string, act actionLog) error {
	var msgID string
	if r.contact != nil {
		id, err := d.client.Send(ctx, st.ID(), address, adapter.Payload{Media: r.contact})
		if err != nil {
			return err
		}
		msgID = id
		act(true, types.ActionSentContact, "")
		d.limiter.NoteSent(st)
		if sm := r.req.safeMode; sm.Enabled {
			if extra := randomBetween(r.rnd, sm.ExtraDelayFrom, sm.ExtraDelayTo); extra > 0 {
				act(true, types.ActionSafeExtraDelay, fmt.Sprintf("%ds", extra))
				_ = d.sleep(ctx, time.Duration(extra)*time.Second)
			}
		}
	}

	kind := types.ActionSentOnlyContact
	switch {
	case r.req.media != nil:
		id, err := d.client.Send(ctx, st.ID(), address, adapter.Payload{Text: text, Media: r.req.media})
		if err != nil {
			return err
		}
		msgID, kind = id, types.ActionSentMedia
	case text != "":
		id, err := d.client.Send(ctx, st.ID(), address, adapter.Payload{Text: text})
		if err != nil {
			return err
		}
		msgID, kind = id, types.ActionSentText
	}

	detail := ""
	if msgID != "" {
		detail = "msgId=" + msgID
		d.ledger.Track(msgID, billing.Owner{
			User:      r.req.user,
			Recipient: raw,
			AccountID: st.ID(),
			TrackedAt: d.registry.Now(),
		})
	}
	act(true, kind, detail)
	d.record(ctx, types.EventSent, raw, st.ID())
	d.limiter.NoteSent(st)
	return nil
}

// record appends to the event log and pushes the entry to listeners
func (d *Dispatcher) record(ctx context.Context, kind types.EventKind, recipient, accountID string) {
	e := types.Event{Kind: kind, At: d.registry.Now(), Recipient: recipient, AccountID: accountID}
	if err := d.log.Append(context.WithoutCancel(ctx), e); err != nil {
		d.logger.WithError(err).WithField("kind", string(kind)).Warn("Failed to append event")
	}
	d.pub.Publish(events.Event{Type: events.TypeLogEvent, At: e.At, Data: e})
}

func (d *Dispatcher) pause(ctx context.Context, rnd *rand.Rand, from, to int) error {
	s := randomBetween(rnd, from, to)
	if s <= 0 {
		return nil
	}
	return d.sleep(ctx, time.Duration(s)*time.Second)
}

// SendToConversation sends one text, failing over to the next ready account
// on error. It does not consult the rate limiter.
func (d *Dispatcher) SendToConversation(ctx context.Context, req ConversationRequest) (*ConversationResult, error) {
	if req.Address == "" {
		return nil, errors.NewInvalidParameterError("chatId", "chatId required")
	}
	if req.Message == "" {
		return nil, errors.NewInvalidParameterError("message", "message required")
	}
	if req.AccountID != "" && account.SanitizeID(req.AccountID) != req.AccountID {
		return nil, errors.NewInvalidParameterError("accountId", "only letters, digits, '_' and '-' are allowed")
	}

	st := d.registry.Pick(req.AccountID)
	if st == nil {
		return nil, errors.NewNoEligibleAccountsError()
	}

	res := &ConversationResult{}
	last := st.ID()
	outcome := retry.Run(ctx, retry.Immediate(d.cfg.ConversationAttempts), func(ctx context.Context, attempt int) error {
		last = st.ID()
		id, err := d.client.Send(ctx, st.ID(), req.Address, adapter.Payload{Text: req.Message})
		if err == nil {
			res.AccountID, res.MessageID = st.ID(), id
			return nil
		}
		d.limiter.NoteError(st, err.Error())
		next := d.registry.Next(st.ID())
		if next == nil {
			return retry.Permanent(err)
		}
		st = next
		return err
	})
	res.Attempts = outcome.Attempts
	if !outcome.Success {
		return nil, errors.NewTransportError(last, outcome.LastError)
	}
	return res, nil
}

func recordID(rec *account.Record) string {
	if rec == nil {
		return ""
	}
	return rec.ID()
}

func randomBetween(rnd *rand.Rand, from, to int) int {
	if to <= from {
		return from
	}
	return from + rnd.Intn(to-from+1)
}

func storeError(op string, err error) error {
	if ce := errors.Categorize(err); ce != nil && ce.Category != errors.CategorySystem {
		return ce
	}
	return errors.NewDatabaseError(op, err)
}
