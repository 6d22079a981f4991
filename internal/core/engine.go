package core

import (
	"encoding/json"
	"fmt"
	"time"

	"KasaLedger/internal/event"
	"KasaLedger/internal/index"
	"KasaLedger/internal/observability"
	"KasaLedger/internal/pool"
	"KasaLedger/internal/state"
	"KasaLedger/internal/token"

	"github.com/google/uuid"
)

// ProtocolCore is the single-threaded event processor. It owns the
// position ledger, the ordered index, the token ledger and the
// absorption pool, and drives them through the Kasa manager. All state
// transitions flow through ProcessEvent; nothing else mutates state.
type ProtocolCore struct {
	sequence          int64
	hasher            *StateHasher
	ledger            *state.PositionLedger
	index             *index.SortedIndex
	tokens            *token.DebtTokenLedger
	pool              *pool.AbsorptionPool
	manager           *KasaManager
	capability        Capability
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	// Last applied collateral price (Scalar scale). Zero until the first
	// price update lands; price-dependent operations reject until then.
	price         uint64
	priceSequence int64

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput carries a processed event to the persistence and
// projection workers. Result is the typed operation outcome that the
// envelope payload was marshaled from.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Result     any
	StateDelta []byte
}

// ClaimNotice reports a collateral payout from a claim operation.
type ClaimNotice struct {
	Account uuid.UUID `json:"account"`
	Amount  uint64    `json:"amount"`
}

// PoolNotice reports a staker's pool balance after a stake operation.
type PoolNotice struct {
	Staker uuid.UUID `json:"staker"`
	Stake  uint64    `json:"stake"`
}

func NewProtocolCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) (*ProtocolCore, error) {
	positionLedger := state.NewPositionLedger()
	sortedIndex := index.NewSortedIndex()
	tokenLedger := token.NewDebtTokenLedger()
	absorptionPool := pool.NewAbsorptionPool()

	manager, capability, err := NewKasaManager(
		positionLedger, sortedIndex, tokenLedger, absorptionPool,
		state.DefaultRiskParams(),
	)
	if err != nil {
		return nil, err
	}

	// Initialize with capacity of 1M entries (configurable)
	idempotencyChecker := NewIdempotencyChecker(1_000_000, dbChecker)
	sequenceValidator := NewSequenceValidator()

	return &ProtocolCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		ledger:            positionLedger,
		index:             sortedIndex,
		tokens:            tokenLedger,
		pool:              absorptionPool,
		manager:           manager,
		capability:        capability,
		idempotency:       idempotencyChecker,
		sequenceValidator: sequenceValidator,
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}, nil
}

// ProcessEvent is the main processing pipeline
func (c *ProtocolCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation. Price updates tolerate gaps; a stale
	// price is silently dropped without consuming a core sequence.
	if priceEvt, ok := evt.(*event.PriceUpdate); ok {
		if c.sequenceValidator.ValidatePriceSequence(priceEvt.PriceSequence) {
			c.rejected(eventType, "stale_price")
			return nil
		}
	} else {
		partition := c.getPartition(evt)
		if err := c.sequenceValidator.ValidateSequence(partition, evt.SourceSequence(), isDuplicate); err != nil {
			c.rejected(eventType, "sequence")
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	// If duplicate, skip processing
	if isDuplicate {
		c.rejected(eventType, "duplicate")
		return nil
	}

	// Step 3: Event dispatch
	result, err := c.dispatchEvent(evt)
	if err != nil {
		c.rejected(eventType, "invalid")
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 4: Compute state digest and extend the hash chain
	hashStart := time.Now()
	stateDigest := c.computeStateDigest()
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	// Step 5: Create envelope. The payload records the event INPUT in
	// wire format so replay can re-dispatch it; the typed result rides
	// alongside in CoreOutput for the projection bridge.
	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal event for %s: %v", eventType, err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Owner:          evt.Owner(),
		Timestamp:      c.getEventTimestamp(evt),
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:   envelope,
		Result:     result,
		StateDelta: stateDigest,
	}
	c.sequence++

	// Step 6: Emit outputs.
	// Persistence: blocking send — the core stalls until the persistence
	// worker drains. This guarantees no event is lost.
	c.persistChan <- output

	// Projections: non-blocking send — drop on full. Projection workers
	// can rebuild from the event log if they fall behind.
	select {
	case c.projectionChan <- output:
	default:
		// Silently dropped — projection will catch up via rebuild
	}

	// Step 7: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	// Record metrics
	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.DedupLRUSize.Set(float64(c.idempotency.lru.Size()))
		c.updateProtocolGauges()
	}

	return nil
}

func (c *ProtocolCore) dispatchEvent(evt event.Event) (any, error) {
	switch e := evt.(type) {
	case *event.PriceUpdate:
		c.price = e.Price
		c.priceSequence = e.PriceSequence
		return nil, nil

	case *event.OpenPosition:
		price, err := c.requirePrice()
		if err != nil {
			return nil, err
		}
		return c.manager.Open(c.capability, e.OwnerID, e.Collateral, e.Debt, price)

	case *event.AddCollateral:
		return c.manager.AddCollateral(c.capability, e.OwnerID, e.Amount)

	case *event.WithdrawCollateral:
		price, err := c.requirePrice()
		if err != nil {
			return nil, err
		}
		return c.manager.WithdrawCollateral(c.capability, e.OwnerID, e.Amount, price)

	case *event.MintDebt:
		price, err := c.requirePrice()
		if err != nil {
			return nil, err
		}
		return c.manager.MintDebt(c.capability, e.OwnerID, e.Amount, price)

	case *event.RepayDebt:
		return c.manager.RepayDebt(c.capability, e.OwnerID, e.Amount)

	case *event.ClosePosition:
		return c.manager.Close(c.capability, e.OwnerID)

	case *event.LiquidationRequest:
		price, err := c.requirePrice()
		if err != nil {
			return nil, err
		}
		result, err := c.manager.LiquidateBatch(c.capability, e.Candidates, price)
		if err != nil {
			return nil, err
		}
		if c.metrics != nil {
			c.metrics.PositionsLiquidated.Add(float64(len(result.Liquidated)))
			c.metrics.LiquidationsSkipped.Add(float64(len(result.Skipped)))
			for _, liq := range result.Liquidated {
				c.metrics.DebtAbsorbed.Add(float64(liq.AbsorbedDebt))
				c.metrics.DebtRedistributed.Add(float64(liq.RedistributedDebt))
			}
		}
		return result, nil

	case *event.RedemptionRequest:
		price, err := c.requirePrice()
		if err != nil {
			return nil, err
		}
		hints := RedemptionHints{First: e.FirstHint, Upper: e.UpperHint, Lower: e.LowerHint}
		result, err := c.manager.Redeem(c.capability, e.RedeemerID, e.Amount, price, hints)
		if err != nil {
			return nil, err
		}
		if c.metrics != nil {
			c.metrics.RedemptionsTotal.Inc()
			c.metrics.DebtRedeemed.Add(float64(result.Redeemed))
		}
		return result, nil

	case *event.PoolDeposit:
		if err := c.manager.PoolDeposit(c.capability, e.StakerID, e.Amount); err != nil {
			return nil, err
		}
		return &PoolNotice{Staker: e.StakerID, Stake: c.pool.StakeOf(e.StakerID)}, nil

	case *event.PoolWithdraw:
		if err := c.manager.PoolWithdraw(c.capability, e.StakerID, e.Amount); err != nil {
			return nil, err
		}
		return &PoolNotice{Staker: e.StakerID, Stake: c.pool.StakeOf(e.StakerID)}, nil

	case *event.ClaimPoolCollateral:
		amount, err := c.manager.ClaimPoolCollateral(c.capability, e.StakerID)
		if err != nil {
			return nil, err
		}
		return &ClaimNotice{Account: e.StakerID, Amount: amount}, nil

	case *event.ClaimSurplus:
		amount, err := c.manager.ClaimSurplus(c.capability, e.OwnerID)
		if err != nil {
			return nil, err
		}
		return &ClaimNotice{Account: e.OwnerID, Amount: amount}, nil

	case *event.RiskParamUpdate:
		params := state.RiskParams{
			MinCollateralRatioPct: e.MinCollateralRatioPct,
			RecoveryRatioPct:      e.RecoveryRatioPct,
		}
		if err := c.manager.UpdateRiskParams(c.capability, params); err != nil {
			return nil, err
		}
		return &params, nil

	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

// requirePrice guards price-dependent operations: the core rejects them
// until the first oracle price has been applied.
func (c *ProtocolCore) requirePrice() (uint64, error) {
	if c.price == 0 {
		return 0, fmt.Errorf("no collateral price applied yet")
	}
	return c.price, nil
}

// getPartition determines partition key for sequence validation
func (c *ProtocolCore) getPartition(evt event.Event) string {
	if owner := evt.Owner(); owner != nil {
		return fmt.Sprintf("owner:%s", *owner)
	}
	return "global"
}

// getEventTimestamp extracts the versioned timestamp from the event.
// The core never calls time.Now(); all timestamps are versioned inputs.
func (c *ProtocolCore) getEventTimestamp(evt event.Event) time.Time {
	switch e := evt.(type) {
	case *event.PriceUpdate:
		return time.UnixMicro(e.TimestampUs)
	case *event.OpenPosition:
		return time.UnixMicro(e.TimestampUs)
	case *event.AddCollateral:
		return time.UnixMicro(e.TimestampUs)
	case *event.WithdrawCollateral:
		return time.UnixMicro(e.TimestampUs)
	case *event.MintDebt:
		return time.UnixMicro(e.TimestampUs)
	case *event.RepayDebt:
		return time.UnixMicro(e.TimestampUs)
	case *event.ClosePosition:
		return time.UnixMicro(e.TimestampUs)
	case *event.LiquidationRequest:
		return time.UnixMicro(e.TimestampUs)
	case *event.RedemptionRequest:
		return time.UnixMicro(e.TimestampUs)
	case *event.PoolDeposit:
		return time.UnixMicro(e.TimestampUs)
	case *event.PoolWithdraw:
		return time.UnixMicro(e.TimestampUs)
	case *event.ClaimPoolCollateral:
		return time.UnixMicro(e.TimestampUs)
	case *event.ClaimSurplus:
		return time.UnixMicro(e.TimestampUs)
	case *event.RiskParamUpdate:
		return time.UnixMicro(e.TimestampUs)
	default:
		panic(fmt.Sprintf("FATAL: getEventTimestamp called with unhandled event type %T — deterministic core cannot use wall-clock time", evt))
	}
}

// computeStateDigest builds the canonical byte encoding of the full
// protocol state: price, risk params, every position, every token
// balance, the pool and the surplus book. All iteration is in canonical
// owner order so the digest is identical across replays.
func (c *ProtocolCore) computeStateDigest() []byte {
	digest := make([]byte, 0, 64+c.ledger.Len()*32)

	digest = appendUint64LE(digest, c.price)
	digest = appendUint64LE(digest, uint64(c.priceSequence))

	params := c.manager.RiskParams()
	digest = appendUint64LE(digest, params.MinCollateralRatioPct)
	digest = appendUint64LE(digest, params.RecoveryRatioPct)

	positions := c.ledger.AllPositions()
	digest = appendUint64LE(digest, uint64(len(positions)))
	for _, pos := range positions {
		digest = append(digest, pos.CanonicalBytes()...)
	}

	holders := c.tokens.SortedHolders()
	digest = appendUint64LE(digest, uint64(len(holders)))
	for _, holder := range holders {
		digest = append(digest, holder[:]...)
		digest = appendUint64LE(digest, c.tokens.BalanceOf(holder))
	}

	stakers := c.pool.SortedStakers()
	digest = appendUint64LE(digest, uint64(len(stakers)))
	for _, staker := range stakers {
		digest = append(digest, staker[:]...)
		digest = appendUint64LE(digest, c.pool.StakeOf(staker))
	}

	gainers := c.pool.SortedGainers()
	digest = appendUint64LE(digest, uint64(len(gainers)))
	for _, staker := range gainers {
		digest = append(digest, staker[:]...)
		digest = appendUint64LE(digest, c.pool.CollateralGain(staker))
	}

	surplusHolders := c.manager.SortedSurplusHolders()
	digest = appendUint64LE(digest, uint64(len(surplusHolders)))
	for _, owner := range surplusHolders {
		digest = append(digest, owner[:]...)
		digest = appendUint64LE(digest, c.manager.SurplusOf(owner))
	}

	digest = appendUint64LE(digest, c.manager.UnbackedDebt())
	digest = appendUint64LE(digest, c.manager.OrphanedCollateral())

	return digest
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func (c *ProtocolCore) rejected(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func (c *ProtocolCore) updateProtocolGauges() {
	totalColl, totalDebt := c.ledger.Totals()
	c.metrics.PositionsOpen.Set(float64(c.ledger.Len()))
	c.metrics.TotalCollateral.Set(float64(totalColl))
	c.metrics.TotalDebt.Set(float64(totalDebt))
	c.metrics.DebtTokenSupply.Set(float64(c.tokens.TotalSupply()))
	c.metrics.PoolStake.Set(float64(c.pool.AvailableStake()))
	c.metrics.CollateralPrice.Set(float64(c.price))
	if c.price > 0 && c.manager.RecoveryMode(c.price) {
		c.metrics.RecoveryMode.Set(1)
	} else {
		c.metrics.RecoveryMode.Set(0)
	}
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence           int64
	StateHash          [32]byte
	Positions          []*state.Position
	TokenBalances      map[uuid.UUID]uint64
	PoolStakes         map[uuid.UUID]uint64
	PoolGains          map[uuid.UUID]uint64
	Surplus            map[uuid.UUID]uint64
	UnbackedDebt       uint64
	OrphanedCollateral uint64
	Price              uint64
	PriceSequence      int64
	RiskParams         state.RiskParams
	SequenceState      map[string]int64
	IdempotencyKeys    []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *ProtocolCore) CreateSnapshotState() *SnapshotState {
	snap := &SnapshotState{
		Sequence:           c.sequence - 1, // Last processed sequence
		StateHash:          c.hasher.GetPrevHash(),
		Positions:          c.ledger.AllPositions(),
		TokenBalances:      make(map[uuid.UUID]uint64),
		PoolStakes:         make(map[uuid.UUID]uint64),
		PoolGains:          make(map[uuid.UUID]uint64),
		Surplus:            make(map[uuid.UUID]uint64),
		UnbackedDebt:       c.manager.UnbackedDebt(),
		OrphanedCollateral: c.manager.OrphanedCollateral(),
		Price:              c.price,
		PriceSequence:      c.priceSequence,
		RiskParams:         c.manager.RiskParams(),
		SequenceState:      c.sequenceValidator.ExportState(),
		IdempotencyKeys:    c.idempotency.lru.Keys(),
	}

	for _, holder := range c.tokens.SortedHolders() {
		snap.TokenBalances[holder] = c.tokens.BalanceOf(holder)
	}
	for _, staker := range c.pool.SortedStakers() {
		snap.PoolStakes[staker] = c.pool.StakeOf(staker)
	}
	for _, staker := range c.pool.SortedGainers() {
		snap.PoolGains[staker] = c.pool.CollateralGain(staker)
	}
	for _, owner := range c.manager.SortedSurplusHolders() {
		snap.Surplus[owner] = c.manager.SurplusOf(owner)
	}

	return snap
}

// RestoreFromSnapshot restores the core's in-memory state from a
// snapshot. On warm restart the caller loads the latest snapshot, calls
// this, then replays events from Sequence+1.
func (c *ProtocolCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1 // Next sequence to assign
	c.hasher.SetPrevHash(snap.StateHash)
	c.price = snap.Price
	c.priceSequence = snap.PriceSequence

	// Positions rebuild the ordered index from their nominal ratios.
	for _, pos := range snap.Positions {
		c.ledger.SetPosition(pos)
		nicr, err := c.ledger.NominalRatioOf(pos.Owner)
		if err != nil {
			panic(fmt.Sprintf("FATAL: restore nominal ratio for %s: %v", pos.Owner, err))
		}
		c.index.Insert(pos.Owner, nicr)
	}

	for holder, balance := range snap.TokenBalances {
		c.tokens.SetBalance(holder, balance)
	}
	for staker, stake := range snap.PoolStakes {
		c.pool.SetStake(staker, stake)
	}
	for staker, gain := range snap.PoolGains {
		c.pool.SetCollateralGain(staker, gain)
	}
	for owner, amount := range snap.Surplus {
		c.manager.RestoreSurplus(owner, amount)
	}
	c.manager.RestoreRemainders(snap.UnbackedDebt, snap.OrphanedCollateral)

	if err := c.manager.UpdateRiskParams(c.capability, snap.RiskParams); err != nil {
		panic(fmt.Sprintf("FATAL: restore risk params: %v", err))
	}

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.SetExpectedSequence(partition, nextSeq)
	}
}

// WarmLRU loads recent idempotency keys into the LRU cache, avoiding
// cold-path DB lookups for recently processed events.
func (c *ProtocolCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (c *ProtocolCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *ProtocolCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// Price returns the last applied collateral price.
func (c *ProtocolCore) Price() uint64 {
	return c.price
}
