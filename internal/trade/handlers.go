package trade

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/broker"
	"github.com/jnani1972/AMZF-sub010/internal/exitcheck"
	"github.com/jnani1972/AMZF-sub010/internal/model"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// onIntentApproved creates the trade for an approved intent and submits the
// entry order. Re-delivery of the same intent is harmless: the trade insert
// is idempotent on intent id and placement is skipped once the trade has
// moved past CREATED.
func (a *Actor) onIntentApproved(ctx context.Context, p *partition, intent *model.TradeIntent, sig *model.Signal) {
	now := time.Now().UTC()

	kind := model.EntryNewBuy
	n, err := a.store.CountActiveForUserSymbol(ctx, intent.UserID, intent.Symbol)
	if err != nil {
		log.Printf("[trade] intent %s: rebuy count: %v", intent.ID, err)
		return
	}
	if n > 0 {
		kind = model.EntryRebuy
	}

	t := &model.Trade{
		ID:           uuid.New(),
		IntentID:     intent.ID,
		SignalID:     intent.SignalID,
		UserID:       intent.UserID,
		UserBrokerID: intent.UserBrokerID,
		Symbol:       intent.Symbol,
		Direction:    intent.Direction,
		EntryKind:    kind,
		ProductType:  intent.ProductType,
		Status:       model.TradeCreated,
		EntryQty:     intent.Qty,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	t, err = a.store.InsertTrade(ctx, t)
	if err != nil {
		log.Printf("[trade] intent %s: insert trade: %v", intent.ID, err)
		return
	}

	a.mu.Lock()
	a.byTrade[t.ID] = p.id
	a.mu.Unlock()
	p.track(t)

	if t.Status != model.TradeCreated {
		return // already submitted in a previous delivery of this intent
	}
	created := map[string]any{"entry_kind": kind}
	if sig != nil {
		created["strength"] = sig.Strength
	}
	a.publishTrade(ctx, model.EventTradeCreated, t, created)

	t.Status = model.TradeEntrySubmitted
	t.UpdatedAt = now
	if err := a.store.UpdateTrade(ctx, t); err != nil {
		log.Printf("[trade] %s: persist ENTRY_SUBMITTED: %v", t.ID, err)
		return
	}

	st, err := a.placeWithRetry(ctx, t.UserBrokerID, broker.OrderRequest{
		ClientOrderID: intent.ID.String(),
		Symbol:        t.Symbol,
		Direction:     t.Direction,
		Qty:           t.EntryQty,
		OrderType:     intent.OrderType,
		ProductType:   intent.ProductType,
		LimitPrice:    intent.LimitPrice,
	})
	if err != nil {
		a.rejectTrade(ctx, p, t, model.KindOf(err), err)
		if uerr := a.store.UpdateIntentStatus(ctx, intent.ID, model.IntentFailed); uerr != nil {
			log.Printf("[trade] intent %s: mark FAILED: %v", intent.ID, uerr)
		}
		a.publishIntent(ctx, model.EventIntentFailed, intent, err.Error())
		return
	}

	t.BrokerOrderID = st.BrokerOrderID
	a.registerOrder(st.BrokerOrderID, p.id)
	a.applyEntryUpdate(ctx, p, t, st)

	if uerr := a.store.UpdateIntentStatus(ctx, intent.ID, model.IntentExecuted); uerr != nil {
		log.Printf("[trade] intent %s: mark EXECUTED: %v", intent.ID, uerr)
	}
}

// placeWithRetry submits an order, retrying transient broker errors with a
// doubling backoff. Retries reuse the same client order id, so a late
// success on the broker side cannot duplicate the order.
func (a *Actor) placeWithRetry(ctx context.Context, userBrokerID string, req broker.OrderRequest) (broker.OrderStatus, error) {
	adapter, err := a.brokers.AdapterFor(userBrokerID)
	if err != nil {
		return broker.OrderStatus{}, err
	}
	backoff := a.cfg.RetryBackoff
	var last error
	for attempt := 1; attempt <= a.cfg.MaxPlaceAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, broker.PlaceTimeout)
		st, err := adapter.PlaceOrder(callCtx, req)
		cancel()
		if err == nil {
			return st, nil
		}
		last = err
		if !model.IsTransient(err) {
			break
		}
		log.Printf("[trade] place %s attempt %d/%d: %v", req.ClientOrderID, attempt, a.cfg.MaxPlaceAttempts, err)
		if attempt < a.cfg.MaxPlaceAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return broker.OrderStatus{}, last
}

// onBrokerOrderUpdate applies a broker-reported order change to its trade.
// Terminal trades ignore further updates.
func (a *Actor) onBrokerOrderUpdate(ctx context.Context, p *partition, st broker.OrderStatus) {
	t, err := a.resolveTrade(ctx, st)
	if err != nil {
		log.Printf("[trade] order %s/%s: no trade: %v", st.BrokerOrderID, st.ClientOrderID, err)
		return
	}
	if t.Status.Terminal() {
		return
	}
	if t.Status == model.TradeExiting && (st.BrokerOrderID == t.ExitOrderID || st.ClientOrderID != t.IntentID.String()) {
		a.applyExitUpdate(ctx, p, t, st)
		return
	}
	a.applyEntryUpdate(ctx, p, t, st)
}

func (a *Actor) resolveTrade(ctx context.Context, st broker.OrderStatus) (*model.Trade, error) {
	if intentID, err := uuid.Parse(st.ClientOrderID); err == nil {
		if t, err := a.store.TradeByIntentID(ctx, intentID); err == nil {
			return t, nil
		}
	}
	if st.BrokerOrderID != "" {
		return a.store.TradeByBrokerOrderID(ctx, st.BrokerOrderID)
	}
	return nil, model.ErrNotFound
}

// applyEntryUpdate walks the entry side of the state machine.
func (a *Actor) applyEntryUpdate(ctx context.Context, p *partition, t *model.Trade, st broker.OrderStatus) {
	now := time.Now().UTC()
	if st.BrokerOrderID != "" && t.BrokerOrderID == "" {
		t.BrokerOrderID = st.BrokerOrderID
		a.registerOrder(st.BrokerOrderID, p.id)
	}

	switch st.State {
	case broker.OrderSubmitted, broker.OrderAccepted:
		if !model.CanTransition(t.Status, model.TradePending) {
			return
		}
		t.Status = model.TradePending
	case broker.OrderPartial:
		if model.CanTransition(t.Status, model.TradePending) {
			t.Status = model.TradePending
		}
		t.FilledQty = st.FilledQty
	case broker.OrderFilled:
		if !model.CanTransition(t.Status, model.TradeOpen) {
			return
		}
		t.Status = model.TradeOpen
		t.FilledQty = st.FilledQty
		t.EntryPrice = st.AvgFillPrice
		t.EntryTime = now
		if !st.UpdatedAt.IsZero() {
			t.EntryTime = st.UpdatedAt
		}
		a.armProtection(t)
	case broker.OrderRejected, broker.OrderCancelled:
		a.rejectTrade(ctx, p, t, model.KindBrokerRejection,
			model.NewError(model.KindBrokerRejection, string(st.State), st.Message))
		return
	default:
		return
	}

	t.UpdatedAt = now
	if err := a.store.UpdateTrade(ctx, t); err != nil {
		log.Printf("[trade] %s: persist %s: %v", t.ID, t.Status, err)
		return
	}
	if t.Status == model.TradeOpen {
		a.publishTrade(ctx, model.EventTradeOpened, t, map[string]any{
			"entry_price":  t.EntryPrice,
			"stop_price":   t.StopPrice,
			"target_price": t.TargetPrice,
		})
	} else {
		a.publishTrade(ctx, model.EventTradeUpdated, t, nil)
	}
	if a.OnStateChange != nil {
		a.OnStateChange(t)
	}
}

// armProtection derives the hard stop and target from the fill price.
func (a *Actor) armProtection(t *model.Trade) {
	stopFrac := a.cfg.StopLossPct.Div(hundred)
	var stop decimal.Decimal
	if t.Direction == model.DirectionBuy {
		stop = t.EntryPrice.Mul(one.Sub(stopFrac))
	} else {
		stop = t.EntryPrice.Mul(one.Add(stopFrac))
	}
	t.StopPrice = stop.Round(2)
	dist := t.EntryPrice.Sub(t.StopPrice).Abs()
	if t.Direction == model.DirectionBuy {
		t.TargetPrice = t.EntryPrice.Add(a.cfg.TargetR.Mul(dist)).Round(2)
	} else {
		t.TargetPrice = t.EntryPrice.Sub(a.cfg.TargetR.Mul(dist)).Round(2)
	}
	t.LastEvalPrice = t.EntryPrice
	t.Trailing = model.TrailingState{HighestPrice: t.EntryPrice}
}

func (a *Actor) rejectTrade(ctx context.Context, p *partition, t *model.Trade, kind model.ErrorKind, cause error) {
	if !model.CanTransition(t.Status, model.TradeRejected) {
		return
	}
	t.Status = model.TradeRejected
	t.ErrorCode = string(kind)
	if cause != nil {
		t.ErrorMessage = cause.Error()
	}
	t.UpdatedAt = time.Now().UTC()
	if err := a.store.UpdateTrade(ctx, t); err != nil {
		log.Printf("[trade] %s: persist REJECTED: %v", t.ID, err)
		return
	}
	p.untrack(t)
	a.publishTrade(ctx, model.EventTradeRejected, t, map[string]any{"error": t.ErrorMessage})
	if a.OnStateChange != nil {
		a.OnStateChange(t)
	}
}

// applyExitUpdate handles order updates for the exit leg.
func (a *Actor) applyExitUpdate(ctx context.Context, p *partition, t *model.Trade, st broker.OrderStatus) {
	now := time.Now().UTC()
	switch st.State {
	case broker.OrderFilled:
		a.closeTradeOnExitFill(ctx, p, t, st, now)
	case broker.OrderRejected, broker.OrderCancelled:
		// The exit order died; the position is still on. Fall back to OPEN so
		// the next price update can retry.
		if ei, err := a.store.OpenExitIntent(ctx, t.ID); err == nil {
			to := model.ExitIntentRejected
			if st.State == broker.OrderCancelled {
				to = model.ExitIntentCancelled
			}
			if uerr := a.store.UpdateExitIntentStatus(ctx, ei.ID, to, now); uerr != nil {
				log.Printf("[trade] %s: exit intent %s: %v", t.ID, to, uerr)
			}
		}
		if !model.CanTransition(t.Status, model.TradeOpen) {
			return
		}
		t.Status = model.TradeOpen
		t.ExitOrderID = ""
		t.ExitReason = ""
		t.UpdatedAt = now
		if err := a.store.UpdateTrade(ctx, t); err != nil {
			log.Printf("[trade] %s: persist exit fallback: %v", t.ID, err)
			return
		}
		a.publishTrade(ctx, model.EventTradeUpdated, t, map[string]any{"exit_failed": st.Message})
		if a.OnStateChange != nil {
			a.OnStateChange(t)
		}
	}
}

// closeTradeOnExitFill finalizes the trade's outcome metrics and closes it.
func (a *Actor) closeTradeOnExitFill(ctx context.Context, p *partition, t *model.Trade, st broker.OrderStatus, now time.Time) {
	if !model.CanTransition(t.Status, model.TradeClosed) {
		return
	}
	t.Status = model.TradeClosed
	t.ExitPrice = st.AvgFillPrice
	t.ExitQty = st.FilledQty
	t.ExitTime = now
	if !st.UpdatedAt.IsZero() {
		t.ExitTime = st.UpdatedAt
	}

	sign := decimal.NewFromInt(t.Direction.Sign())
	qty := decimal.NewFromInt(t.ExitQty)
	t.RealizedPnL = t.ExitPrice.Sub(t.EntryPrice).Mul(qty).Mul(sign).Round(2)
	if t.EntryPrice.IsPositive() && t.ExitPrice.IsPositive() {
		entryF, _ := t.EntryPrice.Float64()
		exitF, _ := t.ExitPrice.Float64()
		lr := math.Log(exitF / entryF) * float64(t.Direction.Sign())
		t.LogReturn = decimal.NewFromFloat(lr).Round(8)
	}
	if !t.EntryTime.IsZero() {
		t.HoldingPeriod = t.ExitTime.Sub(t.EntryTime)
	}
	t.UpdatedAt = now
	if err := a.store.UpdateTrade(ctx, t); err != nil {
		log.Printf("[trade] %s: persist CLOSED: %v", t.ID, err)
		return
	}
	p.untrack(t)

	if ei, err := a.store.OpenExitIntent(ctx, t.ID); err == nil {
		if uerr := a.store.UpdateExitIntentStatus(ctx, ei.ID, model.ExitIntentFilled, now); uerr != nil {
			log.Printf("[trade] %s: exit intent FILLED: %v", t.ID, uerr)
		}
	}
	a.publishTrade(ctx, model.EventTradeClosed, t, map[string]any{
		"exit_price":   t.ExitPrice,
		"exit_reason":  t.ExitReason,
		"realized_pnl": t.RealizedPnL,
		"log_return":   t.LogReturn,
	})
	if a.OnStateChange != nil {
		a.OnStateChange(t)
	}
}

// onPriceUpdate evaluates exits and trailing stops for every open trade the
// partition owns on the symbol. Protective stop checks run on every tick;
// the trailing ratchet honors the configured update frequency and minimum
// move filter.
func (a *Actor) onPriceUpdate(ctx context.Context, p *partition, pm priceMsg) {
	set := p.open[pm.symbol]
	if len(set) == 0 {
		return
	}
	tc := a.trailing()
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	for _, id := range ids {
		t, err := a.store.GetTrade(ctx, id)
		if err != nil {
			log.Printf("[trade] price eval %s: %v", id, err)
			continue
		}
		if t.Status != model.TradeOpen {
			if t.Status.Terminal() {
				p.untrack(t)
			}
			continue
		}
		a.evalOpenTrade(ctx, p, t, tc, pm)
	}
}

func (a *Actor) evalOpenTrade(ctx context.Context, p *partition, t *model.Trade, tc TrailingConfig, pm priceMsg) {
	ltp := pm.ltp
	now := pm.ts
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if reason, ok := protectiveBreach(t, ltp); ok {
		a.startExit(ctx, p, t, reason, ltp, now)
		return
	}
	if targetHit(t, ltp) {
		a.startExit(ctx, p, t, model.ExitTargetHit, ltp, now)
		return
	}
	if a.cfg.MaxHoldingPeriod > 0 && !t.EntryTime.IsZero() && now.Sub(t.EntryTime) >= a.cfg.MaxHoldingPeriod {
		a.startExit(ctx, p, t, model.ExitTimeBased, ltp, now)
		return
	}

	// The brick filter gates only the trailing ratchet. The protective
	// stop, target and time checks above run on every tick regardless of
	// move size.
	if tc.UpdateFrequency == FreqBrick && t.LastEvalPrice.IsPositive() {
		move := ltp.Sub(t.LastEvalPrice).Abs().Div(t.LastEvalPrice).Mul(hundred)
		if move.LessThan(tc.MinMovePercent) {
			return
		}
	}

	changed := a.ratchetTrailing(t, tc, ltp)
	t.LastEvalPrice = ltp
	t.UpdatedAt = time.Now().UTC()
	if err := a.store.UpdateTrade(ctx, t); err != nil {
		log.Printf("[trade] %s: persist trailing: %v", t.ID, err)
		return
	}
	if changed && a.OnStateChange != nil {
		a.OnStateChange(t)
	}
}

// protectiveBreach reports whether the price has crossed the hard stop or an
// active trailing stop.
func protectiveBreach(t *model.Trade, ltp decimal.Decimal) (model.ExitReason, bool) {
	long := t.Direction == model.DirectionBuy
	crossed := func(stop decimal.Decimal) bool {
		if stop.IsZero() {
			return false
		}
		if long {
			return ltp.LessThanOrEqual(stop)
		}
		return ltp.GreaterThanOrEqual(stop)
	}
	if t.Trailing.Active && crossed(t.Trailing.StopPrice) {
		return model.ExitTrailingStop, true
	}
	if crossed(t.StopPrice) {
		return model.ExitStopLoss, true
	}
	return "", false
}

func targetHit(t *model.Trade, ltp decimal.Decimal) bool {
	if t.TargetPrice.IsZero() {
		return false
	}
	if t.Direction == model.DirectionBuy {
		return ltp.GreaterThanOrEqual(t.TargetPrice)
	}
	return ltp.LessThanOrEqual(t.TargetPrice)
}

// ratchetTrailing activates and advances the trailing stop. The stop only
// ever moves in the trade's favor. For shorts, HighestPrice carries the best
// (lowest) price seen.
func (a *Actor) ratchetTrailing(t *model.Trade, tc TrailingConfig, ltp decimal.Decimal) bool {
	if t.EntryPrice.IsZero() {
		return false
	}
	long := t.Direction == model.DirectionBuy
	trailFrac := tc.TrailingPercent.Div(hundred)

	candidateStop := func(best decimal.Decimal) decimal.Decimal {
		if long {
			return best.Mul(one.Sub(trailFrac)).Round(3)
		}
		return best.Mul(one.Add(trailFrac)).Round(3)
	}

	if !t.Trailing.Active {
		profitPct := ltp.Sub(t.EntryPrice).Div(t.EntryPrice).Mul(hundred)
		if !long {
			profitPct = profitPct.Neg()
		}
		if profitPct.LessThan(tc.ActivationPercent) {
			return false
		}
		t.Trailing = model.TrailingState{
			Active:       true,
			HighestPrice: ltp,
			StopPrice:    candidateStop(ltp),
		}
		return true
	}

	improved := ltp.GreaterThan(t.Trailing.HighestPrice)
	if !long {
		improved = ltp.LessThan(t.Trailing.HighestPrice)
	}
	if !improved {
		return false
	}
	t.Trailing.HighestPrice = ltp
	cand := candidateStop(ltp)
	better := cand.GreaterThan(t.Trailing.StopPrice)
	if !long {
		better = cand.LessThan(t.Trailing.StopPrice)
	}
	if better {
		t.Trailing.StopPrice = cand
		return true
	}
	return false
}

// startExit qualifies and places an exit order for the trade. Failed
// qualification is recorded as a rejected exit intent; the trade stays OPEN.
func (a *Actor) startExit(ctx context.Context, p *partition, t *model.Trade, reason model.ExitReason, detected decimal.Decimal, now time.Time) {
	inFlight := false
	if _, err := a.store.OpenExitIntent(ctx, t.ID); err == nil {
		inFlight = true
	}
	adapter, aerr := a.brokers.AdapterFor(t.UserBrokerID)
	healthy := aerr == nil && adapter.IsConnected()

	res := exitcheck.Qualify(exitcheck.Request{
		Trade:         t,
		Reason:        reason,
		DetectedPrice: detected,
		Qty:           t.EntryQty,
		BrokerHealthy: healthy,
		ExitInFlight:  inFlight,
	}, now)

	episode, err := a.store.MaxExitEpisode(ctx, t.ID)
	if err != nil {
		log.Printf("[trade] %s: exit episode: %v", t.ID, err)
		return
	}
	ei := &model.ExitIntent{
		ID:         uuid.New(),
		TradeID:    t.ID,
		Reason:     reason,
		Episode:    episode + 1,
		Qty:        res.Qty,
		OrderType:  res.OrderType,
		LimitPrice: res.LimitPrice,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if !res.Passed {
		ei.Status = model.ExitIntentRejected
		ei.Errors = res.Errors
		if _, ierr := a.store.InsertExitIntent(ctx, ei); ierr != nil {
			log.Printf("[trade] %s: record rejected exit: %v", t.ID, ierr)
		}
		a.publishTrade(ctx, model.EventExitIntentRejected, t, map[string]any{
			"reason": reason,
			"errors": res.Errors,
		})
		return
	}

	ei.Status = model.ExitIntentApproved
	ei, err = a.store.InsertExitIntent(ctx, ei)
	if err != nil {
		log.Printf("[trade] %s: insert exit intent: %v", t.ID, err)
		return
	}

	exitDir := model.DirectionSell
	if t.Direction == model.DirectionSell {
		exitDir = model.DirectionBuy
	}
	// Register the client order id before placing so the adapter's async
	// order callback routes back to this partition.
	a.registerOrder(ei.ID.String(), p.id)

	st, err := a.placeWithRetry(ctx, t.UserBrokerID, broker.OrderRequest{
		ClientOrderID: ei.ID.String(),
		Symbol:        t.Symbol,
		Direction:     exitDir,
		Qty:           res.Qty,
		OrderType:     res.OrderType,
		ProductType:   t.ProductType,
		LimitPrice:    res.LimitPrice,
	})
	if err != nil {
		if uerr := a.store.UpdateExitIntentStatus(ctx, ei.ID, model.ExitIntentFailed, time.Now().UTC()); uerr != nil {
			log.Printf("[trade] %s: exit intent FAILED: %v", t.ID, uerr)
		}
		t.ErrorCode = string(model.KindOf(err))
		t.ErrorMessage = err.Error()
		t.UpdatedAt = time.Now().UTC()
		if perr := a.store.UpdateTrade(ctx, t); perr != nil {
			log.Printf("[trade] %s: persist exit failure: %v", t.ID, perr)
		}
		log.Printf("[trade] %s: exit placement: %v", t.ID, err)
		return
	}

	t.Status = model.TradeExiting
	t.ExitOrderID = st.BrokerOrderID
	t.ExitReason = reason
	t.UpdatedAt = time.Now().UTC()
	if err := a.store.UpdateTrade(ctx, t); err != nil {
		log.Printf("[trade] %s: persist EXITING: %v", t.ID, err)
		return
	}
	a.registerOrder(st.BrokerOrderID, p.id)
	if uerr := a.store.UpdateExitIntentStatus(ctx, ei.ID, model.ExitIntentPlaced, t.UpdatedAt); uerr != nil {
		log.Printf("[trade] %s: exit intent PLACED: %v", t.ID, uerr)
	}
	a.publishTrade(ctx, model.EventExitPlaced, t, map[string]any{
		"reason":      reason,
		"order_type":  res.OrderType,
		"limit_price": res.LimitPrice,
		"detected":    detected,
	})
	if a.OnStateChange != nil {
		a.OnStateChange(t)
	}

	// Immediate fills reported synchronously by the broker.
	if st.State == broker.OrderFilled {
		a.closeTradeOnExitFill(ctx, p, t, st, time.Now().UTC())
	}
}

// onCancel handles an operator cancellation.
func (a *Actor) onCancel(ctx context.Context, p *partition, tradeID uuid.UUID) {
	t, err := a.store.GetTrade(ctx, tradeID)
	if err != nil {
		log.Printf("[trade] cancel %s: %v", tradeID, err)
		return
	}
	if !model.CanTransition(t.Status, model.TradeCancelled) {
		log.Printf("[trade] cancel %s: refused in %s", tradeID, t.Status)
		return
	}
	if t.Status == model.TradeExiting && t.ExitOrderID != "" {
		if adapter, aerr := a.brokers.AdapterFor(t.UserBrokerID); aerr == nil {
			if _, cerr := adapter.CancelOrder(ctx, t.ExitOrderID); cerr != nil {
				log.Printf("[trade] cancel %s: broker cancel: %v", tradeID, cerr)
			}
		}
	}
	t.Status = model.TradeCancelled
	t.UpdatedAt = time.Now().UTC()
	if err := a.store.UpdateTrade(ctx, t); err != nil {
		log.Printf("[trade] cancel %s: persist: %v", tradeID, err)
		return
	}
	p.untrack(t)
	a.publishTrade(ctx, model.EventTradeUpdated, t, map[string]any{"cancelled": true})
	if a.OnStateChange != nil {
		a.OnStateChange(t)
	}
}

func (a *Actor) registerOrder(orderID string, part int) {
	if orderID == "" {
		return
	}
	a.mu.Lock()
	a.byOrder[orderID] = part
	a.mu.Unlock()
}

func (a *Actor) publishTrade(ctx context.Context, typ string, t *model.Trade, extra map[string]any) {
	body := map[string]any{
		"trade_id": t.ID,
		"symbol":   t.Symbol,
		"status":   t.Status,
	}
	for k, v := range extra {
		body[k] = v
	}
	buf, _ := json.Marshal(body)
	ev := model.Event{
		Type:         typ,
		Scope:        model.ScopeUserBroker,
		UserID:       t.UserID,
		UserBrokerID: t.UserBrokerID,
		Correlation: model.Correlation{
			SignalID: &t.SignalID,
			IntentID: &t.IntentID,
			TradeID:  &t.ID,
			OrderID:  t.BrokerOrderID,
		},
		Payload: buf,
		TS:      time.Now().UTC(),
	}
	if _, err := a.pub.Publish(ctx, ev); err != nil {
		log.Printf("[trade] publish %s: %v", typ, err)
	}
}

func (a *Actor) publishIntent(ctx context.Context, typ string, intent *model.TradeIntent, msg string) {
	buf, _ := json.Marshal(map[string]any{"intent_id": intent.ID, "error": msg})
	ev := model.Event{
		Type:         typ,
		Scope:        model.ScopeUserBroker,
		UserID:       intent.UserID,
		UserBrokerID: intent.UserBrokerID,
		Correlation:  model.Correlation{SignalID: &intent.SignalID, IntentID: &intent.ID},
		Payload:      buf,
		TS:           time.Now().UTC(),
	}
	if _, err := a.pub.Publish(ctx, ev); err != nil {
		log.Printf("[trade] publish %s: %v", typ, err)
	}
}
