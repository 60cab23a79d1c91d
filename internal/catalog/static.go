package catalog

import (
	"context"
	"fmt"

	"github.com/zulandar/orderbot/internal/cart"
	"github.com/zulandar/orderbot/internal/config"
)

// FromConfig converts a parsed tenant file into a Snapshot. Legacy flat
// variations were already folded into a single group by config.ParseTenant.
func FromConfig(t *config.Tenant) *Snapshot {
	s := &Snapshot{
		Tenant: Tenant{
			ID:                 t.ID,
			Name:               t.Name,
			Currency:           t.Currency,
			PickupAddress:      t.Pickup.Address,
			PickupLat:          t.Pickup.Lat,
			PickupLng:          t.Pickup.Lng,
			QuoteFallback:      t.QuoteFallback,
			MessengerPageID:    t.Messenger.PageID,
			MessengerPageToken: t.Messenger.PageAccessToken,
			SlackBotToken:      t.Slack.BotToken,
		},
	}
	for _, c := range t.Categories {
		cat := Category{ID: c.ID, Name: c.Name}
		for _, it := range c.Items {
			item := Item{
				ID:          it.ID,
				CategoryID:  c.ID,
				Name:        it.Name,
				Description: it.Description,
				Price:       cart.Money(it.Price),
				Available:   it.IsAvailable(),
			}
			for _, g := range it.Groups {
				vg := VariationGroup{ID: g.ID, Name: g.Name}
				for _, o := range g.Options {
					vg.Options = append(vg.Options, Option{ID: o.ID, Name: o.Name, PriceModifier: cart.Money(o.PriceModifier)})
				}
				item.Groups = append(item.Groups, vg)
			}
			for _, a := range it.Addons {
				item.Addons = append(item.Addons, Addon{ID: a.ID, Name: a.Name, Price: cart.Money(a.Price)})
			}
			cat.Items = append(cat.Items, item)
		}
		s.Categories = append(s.Categories, cat)
	}
	for _, ot := range t.OrderTypes {
		o := OrderType{ID: ot.ID, Name: ot.Name, RequiresDelivery: ot.RequiresDelivery}
		for _, f := range ot.Fields {
			o.Fields = append(o.Fields, Field{
				ID:       f.ID,
				Label:    f.Label,
				Kind:     f.Kind,
				Required: f.IsRequired(),
				Choices:  f.Choices,
			})
		}
		s.OrderTypes = append(s.OrderTypes, o)
	}
	for _, pm := range t.PaymentMethods {
		s.PaymentMethods = append(s.PaymentMethods, PaymentMethod{
			ID:           pm.ID,
			Name:         pm.Name,
			Instructions: pm.Instructions,
			OrderTypes:   pm.OrderTypes,
		})
	}
	return s
}

// StaticSource serves snapshots held in memory, keyed by tenant id.
type StaticSource struct {
	snapshots map[string]*Snapshot
}

// NewStaticSource returns a Source over the given snapshots.
func NewStaticSource(snaps ...*Snapshot) *StaticSource {
	m := make(map[string]*Snapshot, len(snaps))
	for _, s := range snaps {
		m[s.Tenant.ID] = s
	}
	return &StaticSource{snapshots: m}
}

func (s *StaticSource) get(tenantID string) (*Snapshot, error) {
	snap, ok := s.snapshots[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	return snap, nil
}

func (s *StaticSource) GetTenant(_ context.Context, tenantID string) (Tenant, error) {
	snap, err := s.get(tenantID)
	if err != nil {
		return Tenant{}, err
	}
	return snap.Tenant, nil
}

func (s *StaticSource) GetCatalog(_ context.Context, tenantID string) ([]Category, error) {
	snap, err := s.get(tenantID)
	if err != nil {
		return nil, err
	}
	return snap.Categories, nil
}

func (s *StaticSource) GetOrderTypes(_ context.Context, tenantID string) ([]OrderType, error) {
	snap, err := s.get(tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]OrderType, len(snap.OrderTypes))
	for i, ot := range snap.OrderTypes {
		out[i] = OrderType{ID: ot.ID, Name: ot.Name, RequiresDelivery: ot.RequiresDelivery}
	}
	return out, nil
}

func (s *StaticSource) GetRequiredFields(_ context.Context, tenantID, orderTypeID string) ([]Field, error) {
	snap, err := s.get(tenantID)
	if err != nil {
		return nil, err
	}
	ot, ok := snap.OrderType(orderTypeID)
	if !ok {
		return nil, fmt.Errorf("catalog: unknown order type %q", orderTypeID)
	}
	return ot.Fields, nil
}

func (s *StaticSource) GetPaymentMethods(_ context.Context, tenantID string) ([]PaymentMethod, error) {
	snap, err := s.get(tenantID)
	if err != nil {
		return nil, err
	}
	return snap.PaymentMethods, nil
}
