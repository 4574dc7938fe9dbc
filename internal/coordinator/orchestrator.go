package coordinator

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"time"

	"microgrid_simulator/internal/bus"
	"microgrid_simulator/internal/config"
	"microgrid_simulator/internal/eventlog"
	"microgrid_simulator/internal/model"
)

const statusPollInterval = 100 * time.Millisecond

// ledgerRetention keeps enough closed rounds around for one reporting
// window plus the round being built.
const ledgerRetention = 8

var errInboxClosed = errors.New("coordinator inbox closed")

// ExpectedCounts is the startup registration barrier: Run blocks until this
// many participants of each category have registered.
type ExpectedCounts struct {
	Households int
	Producers  int
	Storage    int
}

func (e ExpectedCounts) zero() bool {
	return e.Households == 0 && e.Producers == 0 && e.Storage == 0
}

// Options configures a Coordinator. Config and Bus are required; the rest
// default to a memory event sink, a no-op observer, and a time-seeded RNG.
type Options struct {
	Config   *config.Scenario
	Bus      *bus.Bus
	Events   eventlog.Sink
	Observer Observer
	RNG      *rand.Rand
	Expected ExpectedCounts
}

// Coordinator runs the market rounds. All mutable state is owned by the
// goroutine inside Run; the inbox is the only way in.
type Coordinator struct {
	cfg   *config.Scenario
	bus   *bus.Bus
	addr  string
	inbox <-chan bus.Message

	registry *Registry
	states   *StateStore
	clock    *RoundClock
	window   *LedgerWindow
	capacity *CapacityEnforcer
	auction  *AuctionEngine
	failures *FailureController
	grid     *ExternalGrid
	perf     *PerformanceTracker
	events   eventlog.Sink
	observer Observer

	expected ExpectedCounts
	now      func() time.Time

	// Per-round state, valid between round open and close.
	roundID       model.RoundID
	ledger        *RoundLedger
	roundDeadline time.Time
	recovered     []model.ParticipantID
}

func New(opts Options) *Coordinator {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	events := opts.Events
	if events == nil {
		events = eventlog.NewMemory()
	}
	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	rng := opts.RNG
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	capacity := NewCapacityEnforcer(cfg.Simulation, cfg.Households)
	tl := cfg.Simulation.TransmissionLimitKW

	c := &Coordinator{
		cfg:      cfg,
		bus:      opts.Bus,
		addr:     bus.CoordinatorAddr,
		registry: NewRegistry(),
		states:   NewStateStore(),
		clock:    NewRoundClock(),
		window:   NewLedgerWindow(ledgerRetention),
		capacity: capacity,
		events:   events,
		observer: observer,
		expected: opts.Expected,
		now:      time.Now,
	}
	// The inbox exists from construction so participants spawned before Run
	// starts cannot lose their one-shot registration message.
	c.inbox = opts.Bus.Register(c.addr)
	c.auction = NewAuctionEngine(opts.Bus, c.addr, capacity, tl, events, observer)
	c.failures = NewFailureController(
		cfg.Producers.FailureProb,
		cfg.Producers.FailureRoundsRange.Lo,
		cfg.Producers.FailureRoundsRange.Hi,
		rng, events)
	c.grid = NewExternalGrid(cfg.ExternalGrid, tl, rng, opts.Bus, c.addr, events, observer)
	c.perf = NewPerformanceTracker(cfg.Metrics.ReportIntervalRounds, observer)
	return c
}

// Registry exposes the participant registry for inspection after a run.
func (c *Coordinator) Registry() *Registry { return c.registry }

// States exposes the telemetry store for inspection after a run.
func (c *Coordinator) States() *StateStore { return c.states }

// Performance exposes the performance tracker for inspection after a run.
func (c *Coordinator) Performance() *PerformanceTracker { return c.perf }

// Ledger returns the retained ledger for round, if still in the window.
func (c *Coordinator) Ledger(round model.RoundID) (*RoundLedger, bool) {
	return c.window.Get(round)
}

// Run waits for the expected participants, then executes rounds until the
// count is reached or ctx is cancelled. rounds <= 0 runs until cancellation.
func (c *Coordinator) Run(ctx context.Context, rounds int) error {
	defer c.bus.Unregister(c.addr)

	if err := c.awaitRegistration(ctx); err != nil {
		return ignoreCancel(err)
	}

	for i := 0; rounds <= 0 || i < rounds; i++ {
		if err := c.RunRound(ctx); err != nil {
			return ignoreCancel(err)
		}
	}
	return nil
}

// ignoreCancel treats context cancellation as a clean shutdown.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// RunRound executes one full market round.
func (c *Coordinator) RunRound(ctx context.Context) error {
	c.openRound()

	// The environment reply drives the participants' telemetry, so the
	// request must go out after the round id is assigned or their status
	// reports count toward the previous round.
	c.requestEnvironmentUpdate()

	if err := c.awaitStatus(ctx); err != nil {
		return err
	}

	if id, ok := c.failures.Step(c.states, c.roundID); ok {
		log.Printf("round %d: producer %s fails", c.roundID, id)
	}
	anyFailed := c.states.AnyProducerFailed()

	sellers := c.auction.ClassifySellers(c.states, anyFailed)
	buyers := c.auction.ClassifyBuyers(c.states, anyFailed)
	for _, id := range sellers {
		c.ledger.Invited[id] = struct{}{}
	}
	log.Printf("round %d: %d potential sellers, %d potential buyers", c.roundID, len(sellers), len(buyers))

	c.roundDeadline = c.now().Add(seconds(c.cfg.Simulation.OffersTimeout))
	c.ledger.Deadline = c.roundDeadline
	c.auction.BroadcastCFP(c.roundID, c.roundDeadline, anyFailed, union(sellers, buyers))

	if err := c.drainUntil(ctx, c.roundDeadline); err != nil {
		return err
	}

	outcome := c.auction.Match(c.ledger, c.registry, c.states)

	var gridRes GridResult
	if c.cfg.ExternalGrid.IsEnabled() {
		gridRes = c.grid.Settle(c.ledger, &outcome, c.states)
	}

	data := c.assembleRoundData(outcome, gridRes)
	c.perf.RecordRound(c.clock.RoundCounter(), data)
	c.observer.OnRoundSummary(c.summarize(outcome, gridRes, data, len(sellers), len(buyers)))

	c.sweepRecoveries()

	return c.closeRound(ctx)
}

// openRound assigns the next round id, opens its ledger, and releases the
// bookkeeping of rounds that fell out of the retention window.
func (c *Coordinator) openRound() {
	c.roundID = c.clock.NextRound()
	c.roundDeadline = time.Time{}

	ledger, released := c.window.Open(c.roundID, c.now())
	c.ledger = ledger
	for _, old := range released {
		c.registry.ReleaseRound(old)
	}

	sim := c.clock.SimTime()
	log.Printf("=== round %d (day %d, %02d:00, %s) ===",
		c.roundID, sim.Day, sim.Hour, model.PeriodForHour(sim.Hour))
	c.observer.OnRoundStart(RoundInfo{
		Round:   c.roundID,
		Counter: c.clock.RoundCounter(),
		SimTime: sim,
		Env:     c.states.Ambient(),
	})
}

// awaitRegistration blocks until every expected participant has registered.
func (c *Coordinator) awaitRegistration(ctx context.Context) error {
	if c.expected.zero() {
		return nil
	}
	log.Printf("waiting for %d households, %d producers, %d storage units",
		c.expected.Households, c.expected.Producers, c.expected.Storage)
	for {
		hh, pr, st := c.registry.Counts()
		if hh >= c.expected.Households && pr >= c.expected.Producers && st >= c.expected.Storage {
			log.Printf("all %d participants registered", c.registry.Total())
			return nil
		}
		if err := c.drainUntil(ctx, c.now().Add(statusPollInterval)); err != nil {
			return err
		}
	}
}

// awaitStatus waits for status reports. It returns as soon as every
// registered participant has reported; after the grace period it settles
// for whatever arrived, as long as at least one participant reported.
func (c *Coordinator) awaitStatus(ctx context.Context) error {
	deadline := c.now().Add(seconds(c.cfg.Simulation.StatusGraceSeconds))
	for {
		if err := c.drainUntil(ctx, c.now().Add(statusPollInterval)); err != nil {
			return err
		}
		if c.registry.AllSeen(c.roundID) {
			return nil
		}
		if c.now().After(deadline) {
			if seen := c.registry.SeenCount(c.roundID); seen > 0 {
				log.Printf("round %d: proceeding with %d/%d status reports",
					c.roundID, seen, c.registry.Total())
				return nil
			}
			// Nobody reported: the environment request may have raced the
			// environment agent's own registration. Ask again and restart
			// the grace window.
			log.Printf("round %d: no status reports yet, repeating environment request", c.roundID)
			c.requestEnvironmentUpdate()
			deadline = c.now().Add(seconds(c.cfg.Simulation.StatusGraceSeconds))
		}
	}
}

// closeRound sleeps out the remainder of the round and advances simulated
// time. The inbox keeps draining during the sleep so telemetry is never
// lost; the next environment refresh goes out once the next round opens.
func (c *Coordinator) closeRound(ctx context.Context) error {
	sleep := seconds(c.cfg.Simulation.RoundSleepSeconds)
	if err := c.drainUntil(ctx, c.now().Add(sleep)); err != nil {
		return err
	}
	c.clock.Advance()
	return nil
}

// drainUntil processes inbox messages until the deadline passes or ctx is
// cancelled.
func (c *Coordinator) drainUntil(ctx context.Context, deadline time.Time) error {
	wait := time.Until(deadline)
	if wait <= 0 {
		c.drainPending()
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.inbox:
			if !ok {
				return errInboxClosed
			}
			c.handleMessage(msg)
		case <-timer.C:
			return nil
		}
	}
}

// drainPending handles whatever is already queued without blocking.
func (c *Coordinator) drainPending() {
	for {
		select {
		case msg, ok := <-c.inbox:
			if !ok {
				return
			}
			c.handleMessage(msg)
		default:
			return
		}
	}
}

func (c *Coordinator) requestEnvironmentUpdate() {
	body := bus.RequestEnvironmentUpdateBody{
		Command: "update",
		SimHour: c.clock.SimTime().Hour,
	}
	if err := c.bus.SendJSON(bus.PerformativeRequest, bus.TypeRequestEnvironmentUpdate, c.addr, bus.EnvironmentAddr, body); err != nil {
		log.Printf("coordinator: environment update request: %v", err)
	}
}

func (c *Coordinator) assembleRoundData(outcome MatchOutcome, gridRes GridResult) RoundData {
	// An empty fulfillment map scores zero, so a round without buyers
	// counts as a full blackout in the tracker.
	avg := 0.0
	if len(outcome.Fulfillment) > 0 {
		var sum float64
		for _, f := range outcome.Fulfillment {
			sum += f
		}
		avg = sum / float64(len(outcome.Fulfillment))
	}

	blackoutImpacted := 0
	for _, f := range outcome.Fulfillment {
		if f < fullFulfillmentPct {
			blackoutImpacted++
		}
	}

	emergencyUsed := false
	for _, alloc := range c.ledger.Matches {
		if st, ok := c.states.Storage(alloc.Seller); ok && st.EmergencyOnly {
			emergencyUsed = true
			break
		}
	}

	return RoundData{
		TotalDemand:       c.ledger.TotalDemand(),
		TotalSupplied:     outcome.TotalTraded + gridRes.ImportedKWh,
		MarketValue:       outcome.TotalValue + gridRes.ImportedValue,
		WastedEnergy:      c.ledger.WastedEnergy(),
		GridImportedKWh:   gridRes.ImportedKWh,
		GridExportedKWh:   gridRes.ExportedKWh,
		GridImportCost:    gridRes.ImportedValue,
		GridExportRevenue: gridRes.ExportedValue,
		BuyerFulfillment:  outcome.Fulfillment,
		AvgFulfillment:    avg,
		AnyProducerFailed: c.states.AnyProducerFailed(),
		EmergencyUsed:     emergencyUsed,
		Blackout:          blackoutImpacted > 0,
		BlackoutImpacted:  blackoutImpacted,
	}
}

func (c *Coordinator) summarize(outcome MatchOutcome, gridRes GridResult, data RoundData, sellers, buyers int) RoundSummary {
	avgPrice := 0.0
	if outcome.TotalTraded > 0 {
		avgPrice = outcome.TotalValue / outcome.TotalTraded
	}
	return RoundSummary{
		Round:             c.roundID,
		Counter:           c.clock.RoundCounter(),
		SimTime:           c.clock.SimTime(),
		Sellers:           sellers,
		Buyers:            buyers,
		MatchedCount:      outcome.MatchedCount,
		PartialCount:      outcome.PartialCount,
		UnmatchedCount:    outcome.UnmatchedCount,
		DeclinedCount:     len(c.ledger.Declined),
		TotalTraded:       outcome.TotalTraded,
		TotalValue:        outcome.TotalValue,
		AvgPrice:          avgPrice,
		AvgFulfillment:    data.AvgFulfillment,
		Blackout:          data.Blackout,
		BlackoutImpacted:  data.BlackoutImpacted,
		AnyProducerFailed: data.AnyProducerFailed,
		GridAvailable:     gridRes.Available,
		GridImportedKWh:   gridRes.ImportedKWh,
		GridExportedKWh:   gridRes.ExportedKWh,
	}
}

// sweepRecoveries logs the producers whose reports brought them back online
// this round and clears the list.
func (c *Coordinator) sweepRecoveries() {
	for _, id := range c.recovered {
		c.events.LogEvent("recovery", id, 0, 0, c.roundID)
		log.Printf("round %d: producer %s back online", c.roundID, id)
	}
	c.recovered = c.recovered[:0]
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// union concatenates two id lists, dropping duplicates while keeping the
// first occurrence order.
func union(a, b []model.ParticipantID) []model.ParticipantID {
	seen := make(map[model.ParticipantID]struct{}, len(a)+len(b))
	out := make([]model.ParticipantID, 0, len(a)+len(b))
	for _, list := range [][]model.ParticipantID{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
