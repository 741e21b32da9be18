package dispute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mbd888/chargeguard/internal/merchant"
	"github.com/mbd888/chargeguard/internal/syncutil"
	"github.com/mbd888/chargeguard/internal/traces"
)

// DefaultSweepConcurrency bounds parallel processor calls during a sweep.
const DefaultSweepConcurrency = 4

// DefaultDeflectionReason is recorded when the caller gives none.
const DefaultDeflectionReason = "merchant_refund"

// Service runs the decision engine against stored disputes and the
// processor. All read-modify-write cycles on a dispute hold its lock: an
// in-process lock per id, plus the store's lock when it implements Locker.
type Service struct {
	store            Store
	merchants        merchant.Store
	processor        Processor
	signals          SignalCounter
	notifier         Notifier
	locks            syncutil.KeyedMutex
	logger           *slog.Logger
	now              func() time.Time
	sweepConcurrency int
}

// NewService creates a new dispute service.
func NewService(store Store, merchants merchant.Store, processor Processor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:            store,
		merchants:        merchants,
		processor:        processor,
		logger:           logger,
		now:              time.Now,
		sweepConcurrency: DefaultSweepConcurrency,
	}
}

// WithSignals adds the alert/inquiry counter used by merchant metrics.
func (s *Service) WithSignals(sc SignalCounter) *Service {
	s.signals = sc
	return s
}

// WithNotifier adds a listener for persisted dispute changes.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithSweepConcurrency sets how many disputes a sweep processes at once.
func (s *Service) WithSweepConcurrency(n int) *Service {
	if n > 0 {
		s.sweepConcurrency = n
	}
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// EventOutcome is what happened to one inbound event.
type EventOutcome struct {
	Dispute  *Record  `json:"dispute"`
	Decision Decision `json:"decision"`
	// Ignored is set for created/updated events on a terminal record.
	Ignored bool `json:"ignored"`
	// Pushed reports whether evidence was sent to the processor.
	Pushed    bool   `json:"pushed"`
	PushError string `json:"pushError,omitempty"`
}

// HandleEvent reconciles a processor event into the stored record. On
// created/updated events for an actionable dispute, evidence is pushed to the
// processor with the submit flag set to the auto-submit decision and the
// outcome is recorded as an Attempt.
func (s *Service) HandleEvent(ctx context.Context, ev Event) (*EventOutcome, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.HandleEvent",
		traces.DisputeID(ev.ID), traces.EventKind(string(ev.Kind)), traces.Account(ev.Account))
	defer span.End()

	if ev.ID == "" {
		return nil, fmt.Errorf("%w: missing dispute id", ErrInvalidEvent)
	}
	m, err := s.resolveMerchant(ctx, ev)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(traces.MerchantID(m.ID), traces.ReasonCode(ev.ReasonCode), traces.Amount(ev.Amount))

	unlock, err := s.lock(ctx, ev.ID)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	defer unlock()

	existing, err := s.load(ctx, ev.ID)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	if existing != nil && existing.Status.Terminal() && ev.Kind != EventClosed {
		s.logger.Info("event for closed dispute ignored",
			"dispute_id", ev.ID, "merchant_id", m.ID, "kind", ev.Kind, "status", existing.Status)
		return &EventOutcome{Dispute: existing, Ignored: true}, nil
	}

	account := ev.Account
	if account == "" {
		account = m.StripeAccountID
	}
	if ev.Kind != EventClosed && ev.Charge == nil {
		ev.Charge = s.chargeContext(ctx, account, ev, existing)
	}

	now := s.now()
	rec, decision := Reconcile(ev, existing, m, now)
	out := &EventOutcome{Decision: decision}

	if ev.Kind != EventClosed {
		evidenceScore.Observe(float64(decision.Evidence.Score))
		if len(decision.Blockers) > 0 {
			readinessBlockedTotal.WithLabelValues(string(decision.Blockers[0])).Inc()
		}
		if rec.Open() && !rec.Submitted && !rec.Deflected {
			out.Pushed = true
			if pushErr := s.pushEvidence(ctx, account, rec, decision, now); pushErr != nil {
				out.PushError = pushErr.Error()
			}
		}
	}

	if err := s.store.Upsert(ctx, rec); err != nil {
		traces.RecordError(span, err)
		return nil, fmt.Errorf("save dispute: %w", err)
	}
	reconciledTotal.WithLabelValues(string(ev.Kind)).Inc()

	s.logger.Info("dispute reconciled",
		"dispute_id", rec.ID,
		"merchant_id", rec.MerchantID,
		"kind", ev.Kind,
		"status", rec.Status,
		"score", rec.EvidenceScore,
		"auto_submit", decision.ShouldAutoSubmit,
		"blockers", decision.Blockers,
		"submitted", rec.Submitted,
	)
	s.notify(rec)

	out.Dispute = rec
	return out, nil
}

func (s *Service) resolveMerchant(ctx context.Context, ev Event) (*merchant.Merchant, error) {
	if ev.MerchantID != "" {
		return s.merchants.Get(ctx, ev.MerchantID)
	}
	if ev.Account == "" {
		return nil, merchant.ErrMerchantNotFound
	}
	return s.merchants.GetByAccount(ctx, ev.Account)
}

// chargeContext fetches the disputed charge. A failed lookup degrades to
// no charge context rather than rejecting the event.
func (s *Service) chargeContext(ctx context.Context, account string, ev Event, existing *Record) *ChargeContext {
	chargeID := ev.ChargeID
	if chargeID == "" && existing != nil {
		chargeID = existing.ChargeID
	}
	if chargeID == "" || s.processor == nil {
		return nil
	}
	charge, err := s.processor.GetCharge(ctx, account, chargeID)
	if err != nil {
		s.logger.Warn("charge lookup failed", "dispute_id", ev.ID, "charge_id", chargeID, "error", err)
		return nil
	}
	return charge
}

func (s *Service) pushEvidence(ctx context.Context, account string, rec *Record, decision Decision, now time.Time) error {
	err := s.submit(ctx, account, rec.ID, decision.Evidence.Payload)
	attempt := Attempt{ID: uuid.NewString(), At: now, Trigger: TriggerWebhook, Success: err == nil}
	switch {
	case err != nil:
		attempt.Message = "evidence push failed: " + err.Error()
		s.logger.Warn("evidence push failed", "dispute_id", rec.ID, "auto_submit", decision.ShouldAutoSubmit, "error", err)
	case decision.ShouldAutoSubmit:
		attempt.Message = "auto-submitted"
		rec.Submitted = true
		rec.SubmittedAt = &now
	default:
		attempt.Message = "evidence staged; auto-submit blocked: " + joinReasons(decision.Blockers)
	}
	rec.AppendAttempt(attempt)
	submissionsTotal.WithLabelValues(TriggerWebhook, resultLabel(err == nil)).Inc()
	return err
}

// submit pushes evidence. A processor panic comes back as an error so the
// caller still records a failed Attempt.
func (s *Service) submit(ctx context.Context, account, disputeID string, payload EvidencePayload) (err error) {
	if s.processor == nil {
		return errors.New("no processor configured")
	}
	ctx, span := traces.StartSpan(ctx, "dispute.SubmitEvidence", traces.DisputeID(disputeID))
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic during evidence submission", "dispute_id", disputeID, "panic", fmt.Sprint(r))
			err = fmt.Errorf("processor panic: %v", r)
		}
		traces.RecordError(span, err)
		span.End()
	}()
	return s.processor.SubmitEvidence(ctx, account, disputeID, payload)
}

// ReadinessResult is the readiness of one stored dispute.
type ReadinessResult struct {
	DisputeID string `json:"disputeId"`
	Readiness
}

// Readiness evaluates a stored dispute against its merchant's current policy.
func (s *Service) Readiness(ctx context.Context, id string) (*ReadinessResult, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m, err := s.merchants.Get(ctx, rec.MerchantID)
	if err != nil {
		return nil, err
	}
	return &ReadinessResult{DisputeID: id, Readiness: Evaluate(rec, m.Policy, s.now())}, nil
}

// RetryResult is the outcome of a manual or sweep retry. Message is a
// readiness reason when blocked, "submitted" on success, or the processor
// error otherwise.
type RetryResult struct {
	DisputeID string    `json:"disputeId"`
	OK        bool      `json:"ok"`
	Message   string    `json:"message"`
	Readiness Readiness `json:"readiness"`
}

// Retry re-checks readiness and, when ready, submits the minimal retry
// payload. A processor failure is recorded and reported, never returned as
// an error.
func (s *Service) Retry(ctx context.Context, id, trigger string) (*RetryResult, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.Retry", traces.DisputeID(id), traces.Trigger(trigger))
	defer span.End()

	unlock, err := s.lock(ctx, id)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	defer unlock()

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m, err := s.merchants.Get(ctx, rec.MerchantID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(traces.MerchantID(m.ID))

	now := s.now()
	rd := Evaluate(rec, m.Policy, now)
	res := &RetryResult{DisputeID: id, Readiness: rd}
	if !rd.Ready {
		readinessBlockedTotal.WithLabelValues(string(rd.Reason)).Inc()
		res.Message = string(rd.Reason)
		return res, nil
	}

	submitErr := s.submit(ctx, m.StripeAccountID, id, ManualRetryPayload(rec))
	attempt := Attempt{ID: uuid.NewString(), At: now, Trigger: trigger, Success: submitErr == nil}
	if submitErr != nil {
		attempt.Message = submitErr.Error()
		res.Message = submitErr.Error()
		s.logger.Warn("evidence submission failed", "dispute_id", id, "trigger", trigger, "error", submitErr)
	} else {
		attempt.Message = "submitted"
		res.OK = true
		res.Message = "submitted"
		rec.Submitted = true
		rec.SubmittedAt = &now
	}
	rec.AppendAttempt(attempt)
	rec.UpdatedAt = now
	submissionsTotal.WithLabelValues(trigger, resultLabel(res.OK)).Inc()

	if err := s.store.Upsert(ctx, rec); err != nil {
		traces.RecordError(span, err)
		return nil, fmt.Errorf("save dispute: %w", err)
	}
	s.notify(rec)
	return res, nil
}

// SweepFailure names a dispute the sweep could not process.
type SweepFailure struct {
	DisputeID string `json:"disputeId"`
	Message   string `json:"message"`
}

// SweepReport summarizes one sweep run.
type SweepReport struct {
	Considered int                     `json:"considered"`
	Submitted  int                     `json:"submitted"`
	Blocked    map[ReadinessReason]int `json:"blocked"`
	Failed     []SweepFailure          `json:"failed"`
	Duration   time.Duration           `json:"duration"`
}

// Sweep retries every open dispute that is neither submitted nor deflected.
// Each dispute is processed independently; a failure or panic on one is
// recorded in the report and never stops the rest.
func (s *Service) Sweep(ctx context.Context) (*SweepReport, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.Sweep")
	defer span.End()

	start := time.Now()
	open, err := s.store.ListOpen(ctx)
	if err != nil {
		traces.RecordError(span, err)
		return nil, fmt.Errorf("list open disputes: %w", err)
	}

	report := &SweepReport{Blocked: make(map[ReadinessReason]int), Failed: []SweepFailure{}}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.sweepConcurrency)

	for _, rec := range open {
		if rec.Submitted || rec.Deflected {
			continue
		}
		report.Considered++
		id := rec.ID
		g.Go(func() error {
			res, err := s.sweepOne(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed = append(report.Failed, SweepFailure{DisputeID: id, Message: err.Error()})
			case res.OK:
				report.Submitted++
			case !res.Readiness.Ready:
				report.Blocked[res.Readiness.Reason]++
			default:
				report.Failed = append(report.Failed, SweepFailure{DisputeID: id, Message: res.Message})
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	sweepDuration.Observe(report.Duration.Seconds())
	s.logger.Info("sweep complete",
		"considered", report.Considered,
		"submitted", report.Submitted,
		"failed", len(report.Failed),
		"duration", report.Duration,
	)
	return report, nil
}

func (s *Service) sweepOne(ctx context.Context, id string) (res *RetryResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic during sweep", "dispute_id", id, "panic", fmt.Sprint(r))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Retry(ctx, id, TriggerSweep)
}

// DeflectResult is the outcome of a deflection request.
type DeflectResult struct {
	DisputeID        string `json:"disputeId"`
	OK               bool   `json:"ok"`
	AlreadyDeflected bool   `json:"alreadyDeflected"`
	RefundID         string `json:"refundId,omitempty"`
	Message          string `json:"message"`
}

// Deflect refunds the disputed charge. A dispute that is already deflected
// is a successful no-op; no second refund is issued. Submission state does
// not prevent deflection.
func (s *Service) Deflect(ctx context.Context, id, reason string) (*DeflectResult, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.Deflect", traces.DisputeID(id))
	defer span.End()

	unlock, err := s.lock(ctx, id)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	defer unlock()

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Deflected {
		return &DeflectResult{
			DisputeID:        id,
			OK:               true,
			AlreadyDeflected: true,
			RefundID:         rec.RefundID,
			Message:          "already deflected",
		}, nil
	}
	if !rec.Open() {
		return nil, ErrDisputeClosed
	}
	if rec.ChargeID == "" {
		return nil, ErrNoCharge
	}
	m, err := s.merchants.Get(ctx, rec.MerchantID)
	if err != nil {
		return nil, err
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultDeflectionReason
	}
	if s.processor == nil {
		return nil, errors.New("no processor configured")
	}
	refundID, refundErr := s.processor.Refund(ctx, m.StripeAccountID, rec.ChargeID, map[string]string{
		"dispute_id":        id,
		"merchant_id":       m.ID,
		"deflection_reason": reason,
	})

	now := s.now()
	res := &DeflectResult{DisputeID: id}
	attempt := Attempt{ID: uuid.NewString(), At: now, Trigger: TriggerDeflection, Success: refundErr == nil}
	if refundErr != nil {
		traces.RecordError(span, refundErr)
		s.logger.Warn("deflection refund failed", "dispute_id", id, "charge_id", rec.ChargeID, "error", refundErr)
		attempt.Message = "refund failed: " + refundErr.Error()
		res.Message = refundErr.Error()
	} else {
		attempt.Message = "refund issued " + refundID
		rec.Deflected = true
		rec.DeflectionReason = reason
		rec.DeflectedAt = &now
		rec.RefundID = refundID
		res.OK = true
		res.RefundID = refundID
		res.Message = "deflected"
	}
	rec.AppendAttempt(attempt)
	rec.UpdatedAt = now
	deflectionsTotal.WithLabelValues(resultLabel(res.OK)).Inc()

	if err := s.store.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("save dispute: %w", err)
	}
	s.notify(rec)
	return res, nil
}

// Queue returns a merchant's open disputes in working order.
func (s *Service) Queue(ctx context.Context, merchantID string) (*Queue, error) {
	m, err := s.merchants.Get(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	records, err := s.store.ListByMerchant(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("list disputes: %w", err)
	}
	return BuildQueue(records, m.Policy, s.now()), nil
}

// ProposeReasons runs the optimizer without writing the result.
func (s *Service) ProposeReasons(ctx context.Context, merchantID string, opts OptimizeOptions) (*OptimizeResult, error) {
	m, err := s.merchants.Get(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	records, err := s.store.ListByMerchant(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("list disputes: %w", err)
	}
	res := OptimizeReasons(AggregateReasonStats(records), m.Policy.AutoSubmitReasons, opts)
	return &res, nil
}

// OptimizeReasons runs the optimizer and writes a changed allow-list to the
// merchant. It never touches AutoSubmitEnabled.
func (s *Service) OptimizeReasons(ctx context.Context, merchantID string, opts OptimizeOptions) (*OptimizeResult, error) {
	res, err := s.ProposeReasons(ctx, merchantID, opts)
	if err != nil {
		return nil, err
	}
	if !res.Changed {
		return res, nil
	}

	m, err := s.merchants.Get(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	m.Policy.AutoSubmitReasons = append([]string(nil), res.AllowList...)
	if err := s.merchants.Upsert(ctx, m); err != nil {
		return nil, fmt.Errorf("save allow-list: %w", err)
	}
	s.logger.Info("auto-submit allow-list optimized",
		"merchant_id", merchantID, "allow_list", res.AllowList, "risky", res.RiskyReasons)
	return res, nil
}

// UpdateWorkflow applies a triage update. Processor status is untouched.
func (s *Service) UpdateWorkflow(ctx context.Context, id string, u WorkflowUpdate) (*Record, error) {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := u.Apply(rec); err != nil {
		return nil, err
	}
	rec.UpdatedAt = s.now()
	if err := s.store.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("save dispute: %w", err)
	}
	s.notify(rec)
	return rec, nil
}

// lock takes the in-process lock for id first so only one goroutine per
// process waits on the store's lock.
func (s *Service) lock(ctx context.Context, id string) (func(), error) {
	unlock := s.locks.Lock(id)
	l, ok := s.store.(Locker)
	if !ok {
		return unlock, nil
	}
	release, err := l.LockDispute(ctx, id)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("lock dispute %s: %w", id, err)
	}
	return func() {
		release()
		unlock()
	}, nil
}

// Get returns a dispute by processor id.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.store.Get(ctx, id)
}

// ListByMerchant returns a merchant's disputes.
func (s *Service) ListByMerchant(ctx context.Context, merchantID string) ([]*Record, error) {
	return s.store.ListByMerchant(ctx, merchantID)
}

// signalWindow is the look-back for alert and inquiry counts.
const signalWindow = 30 * 24 * time.Hour

// Metrics summarizes a merchant's disputes and recent signals.
func (s *Service) Metrics(ctx context.Context, merchantID string) (*MerchantMetrics, error) {
	m, err := s.merchants.Get(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	records, err := s.store.ListByMerchant(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("list disputes: %w", err)
	}
	now := s.now()
	var alerts, inquiries int
	if s.signals != nil {
		alerts, inquiries, err = s.signals.CountSince(ctx, merchantID, now.Add(-signalWindow))
		if err != nil {
			return nil, fmt.Errorf("count signals: %w", err)
		}
	}
	return ComputeMerchantMetrics(merchantID, records, m.Policy, alerts, inquiries, now), nil
}

func (s *Service) load(ctx context.Context, id string) (*Record, error) {
	rec, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrDisputeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load dispute: %w", err)
	}
	return rec, nil
}

func (s *Service) notify(rec *Record) {
	if s.notifier != nil {
		s.notifier.DisputeUpdated(rec.MerchantID, rec.Clone())
	}
}

func joinReasons(reasons []ReadinessReason) string {
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = string(r)
	}
	return strings.Join(parts, ", ")
}
