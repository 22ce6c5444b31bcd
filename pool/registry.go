// Unit registry: purchased units with derived expiry and status.
package pool

import "context"

// Registry wraps a Store with unit preparation and lifecycle queries.
// Active/Expired is never stored; it is computed from the week asked about.
type Registry struct {
	Store    Store
	Calendar *Calendar
}

// NewRegistry creates a registry.
func NewRegistry(store Store, cal *Calendar) *Registry {
	return &Registry{Store: store, Calendar: cal}
}

// Add computes the unit's expiry and inserts it. The id must be exactly
// the current max id + 1, otherwise the store answers with *SequenceError.
func (r *Registry) Add(ctx context.Context, u Unit) (Unit, error) {
	return r.addTo(ctx, r.Store, u)
}

func (r *Registry) addTo(ctx context.Context, s Store, u Unit) (Unit, error) {
	prepared, err := r.prepare(u)
	if err != nil {
		return Unit{}, err
	}
	if err := s.InsertUnit(ctx, prepared); err != nil {
		return Unit{}, err
	}
	return prepared, nil
}

func (r *Registry) prepare(u Unit) (Unit, error) {
	if err := u.Validate(); err != nil {
		return Unit{}, err
	}
	expiry, err := r.Calendar.ExpiryWeek(u.PurchaseWeek, u.EarningDuration)
	if err != nil {
		return Unit{}, err
	}
	u.ExpiryWeek = expiry
	if u.PurchasedAt.IsZero() {
		u.PurchasedAt = r.Calendar.StartOf(u.PurchaseWeek)
	}
	u.PurchasedAt = u.PurchasedAt.UTC()
	return u, nil
}

// All returns every unit ordered by id.
func (r *Registry) All(ctx context.Context) (Units, error) {
	us, err := r.Store.LoadUnits(ctx)
	if err != nil {
		return nil, err
	}
	return us.Sorted(), nil
}

// Active returns units still earning in week asOf.
func (r *Registry) Active(ctx context.Context, asOf Week) (Units, error) {
	us, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	return us.Active(asOf), nil
}

// OwnedBy returns the units owned by id.
func (r *Registry) OwnedBy(ctx context.Context, id CollaboratorID) (Units, error) {
	us, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	return us.OwnedBy(id), nil
}
