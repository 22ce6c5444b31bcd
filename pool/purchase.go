/*
purchase.go - Atomic unit purchase with sequential id assignment

PURPOSE:
  Buying a unit writes two records that must never exist without each
  other: the New Unit and the negative ledger entry that pays for it.
  Both go through one store transaction.

PROTOCOL (one attempt):
  1. Load units inside the transaction; next id = max id + 1
  2. Current week from the engine clock; expiry via the calendar
  3. Owner = override, or the rotation's pick
  4. InsertUnit (conditional on max id + 1) and AppendEntry
  5. Commit

CONFLICTS:
  Two purchases that read the same max id cannot both commit. The loser
  gets *SequenceError from InsertUnit or from the commit, and the whole
  attempt is replayed from step 1 with a fresh read. After
  MaxPurchaseAttempts the caller gets *ContentionError and should re-issue
  the request. Nothing from a failed attempt is ever visible.

  purchase A: read max=4 ........ insert 5, commit OK
  purchase B: read max=4 ........ insert 5 -> SequenceError
              retry: read max=5 .. insert 6, commit OK

ROTATION EXHAUSTED:
  When every collaborator already holds the target share and no override
  is given, the purchase is rejected with a ValidationError on "owner".
  The caller must name an owner explicitly.
*/
package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/kingdom/pool-engine/metrics"
)

// Purchase is the committed result of PurchaseUnit.
type Purchase struct {
	Unit     Unit
	Entry    LedgerEntry
	Attempts int
	Rotated  bool // owner chosen by rotation rather than override
}

// PurchaseUnit buys a New unit on behalf of actor. ownerOverride may be
// empty to let the rotation decide.
func (e *Engine) PurchaseUnit(ctx context.Context, actor CollaboratorID, ownerOverride CollaboratorID) (Purchase, error) {
	if actor == "" {
		return Purchase{}, &ValidationError{Field: "actor", Reason: "required"}
	}
	if ownerOverride != "" {
		if _, ok := e.cfg.Roster.Find(ownerOverride); !ok {
			return Purchase{}, &ValidationError{Field: "owner", Reason: "not a roster member: " + string(ownerOverride)}
		}
	}

	var result Purchase
	err := e.run(ctx, "purchase_unit", func(ctx context.Context) error {
		var last error
		for attempt := 1; attempt <= e.cfg.MaxPurchaseAttempts; attempt++ {
			p, err := e.attemptPurchase(ctx, actor, ownerOverride)
			if err == nil {
				p.Attempts = attempt
				result = p
				return nil
			}
			if !errors.Is(err, ErrSequence) {
				return err
			}
			last = err
			metrics.PurchaseRetries.Inc()
			e.log.Warn("purchase conflict, retrying", "attempt", attempt, "actor", actor, "error", err)

			if attempt < e.cfg.MaxPurchaseAttempts {
				if err := e.backoff(ctx, attempt); err != nil {
					return err
				}
			}
		}
		metrics.PurchaseContention.Inc()
		e.log.Error("purchase abandoned", "attempts", e.cfg.MaxPurchaseAttempts, "actor", actor)
		return &ContentionError{Attempts: e.cfg.MaxPurchaseAttempts, Last: last}
	})
	if err != nil {
		return Purchase{}, err
	}

	metrics.UnitsPurchased.Inc()
	e.log.Info("unit purchased",
		"unit_id", result.Unit.ID,
		"owner", result.Unit.Owner,
		"week", result.Unit.PurchaseWeek,
		"expiry_week", result.Unit.ExpiryWeek,
		"entry_id", result.Entry.ID,
		"attempts", result.Attempts,
	)
	return result, nil
}

func (e *Engine) attemptPurchase(ctx context.Context, actor, ownerOverride CollaboratorID) (Purchase, error) {
	var p Purchase
	err := e.store.WithTx(ctx, func(tx Store) error {
		units, err := tx.LoadUnits(ctx)
		if err != nil {
			return err
		}

		now := e.now()
		week := e.cal.WeekOf(now)

		owner := ownerOverride
		rotated := false
		if owner == "" {
			next, ok := NextOwner(units, e.cfg.Roster, e.cfg.TargetShare())
			if !ok {
				return &ValidationError{Field: "owner", Reason: "rotation exhausted; an owner must be specified"}
			}
			owner = next.ID
			rotated = true
		}

		unit, err := e.registry.addTo(ctx, tx, Unit{
			ID:              units.MaxID() + 1,
			Kind:            KindNew,
			PurchaseWeek:    week,
			PurchasedAt:     now,
			WeeklyReturn:    e.cfg.NewUnitWeeklyReturn,
			EarningDuration: e.cfg.NewUnitEarningDuration,
			Cost:            e.cfg.NewUnitCost,
			Owner:           owner,
		})
		if err != nil {
			return err
		}

		entry, err := e.ledger.prepare(LedgerEntry{
			Week:     week,
			Amount:   e.cfg.NewUnitCost.Neg(),
			Actor:    actor,
			LoggedAt: now,
			Purchase: true,
			UnitID:   unit.ID,
			Note:     fmt.Sprintf("Purchased unit #%d for %s", unit.ID, owner),
		})
		if err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return err
		}

		p = Purchase{Unit: unit, Entry: entry, Rotated: rotated}
		return nil
	})
	return p, err
}

// backoff waits attempt*retryDelay plus jitter, or until ctx is done.
func (e *Engine) backoff(ctx context.Context, attempt int) error {
	if e.retryDelay <= 0 {
		return ctx.Err()
	}
	d := time.Duration(attempt)*e.retryDelay + rand.N(e.retryDelay)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
