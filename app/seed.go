package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/artpar/usagebill/domain/billing"
	"github.com/artpar/usagebill/domain/plan"
	"github.com/artpar/usagebill/domain/usage"
	"github.com/artpar/usagebill/ports"
)

// SeedFile is the YAML document accepted by the seed command.
type SeedFile struct {
	Organizations []SeedOrganization `yaml:"organizations"`
	APIKeys       []SeedAPIKey       `yaml:"api_keys"`
	Metrics       []SeedMetric       `yaml:"metrics"`
	PlanVersions  []SeedPlanVersion  `yaml:"plan_versions"`
	Subscriptions []SeedSubscription `yaml:"subscriptions"`
	Events        []SeedEvent        `yaml:"events"`
}

type SeedOrganization struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type SeedAPIKey struct {
	Organization string `yaml:"organization"`
	Name         string `yaml:"name"`
	Key          string `yaml:"key"` // raw key, hashed before storing
}

type SeedMetric struct {
	ID           string `yaml:"id"`
	Organization string `yaml:"organization"`
	Name         string `yaml:"name"`
	EventName    string `yaml:"event_name"`
	Property     string `yaml:"property"`
	Aggregation  string `yaml:"aggregation"`
}

type SeedPlanVersion struct {
	ID           string          `yaml:"id"`
	Organization string          `yaml:"organization"`
	Plan         string          `yaml:"plan"`
	Version      int             `yaml:"version"`
	Components   []SeedComponent `yaml:"components"`
	Adjustment   *SeedAdjustment `yaml:"adjustment"`
}

type SeedComponent struct {
	ID            string      `yaml:"id"`
	Metric        string      `yaml:"metric"`
	FreeUnits     YAMLDecimal `yaml:"free_units"`
	CostPerBatch  YAMLDecimal `yaml:"cost_per_batch"`
	UnitsPerBatch YAMLDecimal `yaml:"units_per_batch"`
}

type SeedAdjustment struct {
	Type        string      `yaml:"type"`
	Amount      YAMLDecimal `yaml:"amount"`
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
}

type SeedSubscription struct {
	ID           string `yaml:"id"`
	Organization string `yaml:"organization"`
	Customer     string `yaml:"customer"`
	PlanVersion  string `yaml:"plan_version"`
	StartDate    string `yaml:"start_date"`
	EndDate      string `yaml:"end_date"`
	Status       string `yaml:"status"`
}

type SeedEvent struct {
	ID           string         `yaml:"id"`
	Organization string         `yaml:"organization"`
	Customer     string         `yaml:"customer"`
	Name         string         `yaml:"event_name"`
	TimeCreated  string         `yaml:"time_created"`
	Properties   map[string]any `yaml:"properties"`
}

// YAMLDecimal decodes a YAML scalar into an exact decimal. Numbers are parsed
// from their source text, never through float64.
type YAMLDecimal struct {
	decimal.Decimal
}

func (d *YAMLDecimal) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a decimal scalar", node.Line)
	}
	v, err := decimal.NewFromString(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("line %d: invalid decimal %q", node.Line, node.Value)
	}
	d.Decimal = v
	return nil
}

// LoadSeedFile reads and decodes a seed document.
func LoadSeedFile(path string) (SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SeedFile{}, fmt.Errorf("read seed file: %w", err)
	}
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return SeedFile{}, fmt.Errorf("parse seed file: %w", err)
	}
	return f, nil
}

// SeedStore is the set of write ports the seeder needs.
type SeedStore interface {
	ports.OrganizationStore
	ports.MetricStore
	ports.PlanWriter
	ports.SubscriptionWriter
	ports.EventRecorder
}

// SeedSummary counts what a seed run wrote.
type SeedSummary struct {
	Organizations int
	APIKeys       int
	Metrics       int
	PlanVersions  int
	Subscriptions int
	Events        int
}

// Seeder writes seed documents through the store write ports.
type Seeder struct {
	store  SeedStore
	keys   *KeyService
	ids    ports.IDGenerator
	clock  ports.Clock
	logger zerolog.Logger
}

// NewSeeder creates a seeder.
func NewSeeder(store SeedStore, keys *KeyService, ids ports.IDGenerator, clock ports.Clock, logger zerolog.Logger) *Seeder {
	return &Seeder{store: store, keys: keys, ids: ids, clock: clock, logger: logger}
}

// Apply writes f in dependency order: organizations, keys, metrics, plan
// versions, subscriptions, events.
func (s *Seeder) Apply(ctx context.Context, f SeedFile) (SeedSummary, error) {
	var sum SeedSummary
	now := s.clock.Now().UTC()

	for _, o := range f.Organizations {
		org := ports.Organization{ID: s.id(o.ID), Name: o.Name, CreatedAt: now}
		if err := s.store.CreateOrganization(ctx, org); err != nil {
			return sum, fmt.Errorf("organization %s: %w", org.ID, err)
		}
		sum.Organizations++
	}

	for _, k := range f.APIKeys {
		if _, err := s.keys.Import(ctx, k.Organization, k.Name, k.Key); err != nil {
			return sum, fmt.Errorf("api key %q: %w", k.Name, err)
		}
		sum.APIKeys++
	}

	for _, m := range f.Metrics {
		metric := usage.Metric{
			ID:             s.id(m.ID),
			OrganizationID: m.Organization,
			Name:           m.Name,
			EventName:      m.EventName,
			PropertyName:   m.Property,
			Aggregation:    usage.Aggregation(strings.ToLower(m.Aggregation)),
		}
		if err := metric.Validate(); err != nil {
			return sum, err
		}
		if err := s.store.CreateMetric(ctx, metric); err != nil {
			return sum, fmt.Errorf("metric %s: %w", metric.ID, err)
		}
		sum.Metrics++
	}

	for _, pv := range f.PlanVersions {
		v, err := s.planVersion(pv, now)
		if err != nil {
			return sum, err
		}
		if err := s.store.CreatePlanVersion(ctx, v); err != nil {
			return sum, fmt.Errorf("plan version %s: %w", v.ID, err)
		}
		sum.PlanVersions++
	}

	for _, sub := range f.Subscriptions {
		subscription, err := s.subscription(sub, now)
		if err != nil {
			return sum, err
		}
		if err := s.store.CreateSubscription(ctx, subscription); err != nil {
			return sum, fmt.Errorf("subscription %s: %w", subscription.ID, err)
		}
		sum.Subscriptions++
	}

	events := make([]usage.Event, 0, len(f.Events))
	for i, e := range f.Events {
		ev, err := s.event(e, now)
		if err != nil {
			return sum, fmt.Errorf("event #%d: %w", i+1, err)
		}
		events = append(events, ev)
	}
	if err := s.store.RecordEvents(ctx, events); err != nil {
		return sum, fmt.Errorf("record events: %w", err)
	}
	sum.Events = len(events)

	s.logger.Info().
		Int("organizations", sum.Organizations).
		Int("api_keys", sum.APIKeys).
		Int("metrics", sum.Metrics).
		Int("plan_versions", sum.PlanVersions).
		Int("subscriptions", sum.Subscriptions).
		Int("events", sum.Events).
		Msg("seed applied")
	return sum, nil
}

func (s *Seeder) id(given string) string {
	if given != "" {
		return given
	}
	return s.ids.New()
}

func (s *Seeder) planVersion(pv SeedPlanVersion, now time.Time) (plan.Version, error) {
	v := plan.Version{
		ID:             s.id(pv.ID),
		OrganizationID: pv.Organization,
		PlanName:       pv.Plan,
		Version:        pv.Version,
		CreatedAt:      now,
	}
	if v.Version == 0 {
		v.Version = 1
	}

	for i, c := range pv.Components {
		comp := plan.Component{
			ID:            s.id(c.ID),
			Metric:        usage.Metric{ID: c.Metric},
			FreeUnits:     c.FreeUnits.Decimal,
			CostPerBatch:  c.CostPerBatch.Decimal,
			UnitsPerBatch: c.UnitsPerBatch.Decimal,
			// Keep file order as the stable component order.
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
		}
		if err := comp.Validate(); err != nil {
			return plan.Version{}, fmt.Errorf("plan version %s: %w", v.ID, err)
		}
		v.Components = append(v.Components, comp)
	}

	if pv.Adjustment != nil {
		t, err := billing.ParseAdjustmentType(pv.Adjustment.Type)
		if err != nil {
			return plan.Version{}, fmt.Errorf("plan version %s: %w", v.ID, err)
		}
		v.Adjustment = billing.PriceAdjustment{
			Type:        t,
			Amount:      pv.Adjustment.Amount.Decimal,
			Name:        pv.Adjustment.Name,
			Description: pv.Adjustment.Description,
		}
	}
	return v, nil
}

func (s *Seeder) subscription(sub SeedSubscription, now time.Time) (billing.Subscription, error) {
	out := billing.Subscription{
		ID:             s.id(sub.ID),
		OrganizationID: sub.Organization,
		CustomerID:     sub.Customer,
		PlanVersionID:  sub.PlanVersion,
		Status:         billing.SubscriptionStatus(sub.Status),
		CreatedAt:      now,
	}
	if out.Status == "" {
		out.Status = billing.SubscriptionStatusActive
	}

	start, err := ParseTime(sub.StartDate, now)
	if err != nil {
		return billing.Subscription{}, fmt.Errorf("subscription %s start_date: %w", out.ID, err)
	}
	out.StartDate = start

	if sub.EndDate != "" {
		end, err := ParseTime(sub.EndDate, now)
		if err != nil {
			return billing.Subscription{}, fmt.Errorf("subscription %s end_date: %w", out.ID, err)
		}
		out.EndDate = &end
	}
	return out, nil
}

func (s *Seeder) event(e SeedEvent, now time.Time) (usage.Event, error) {
	created, err := ParseTime(e.TimeCreated, now)
	if err != nil {
		return usage.Event{}, fmt.Errorf("time_created: %w", err)
	}
	ev := usage.Event{
		ID:             s.id(e.ID),
		OrganizationID: e.Organization,
		CustomerID:     e.Customer,
		Name:           e.Name,
		TimeCreated:    created,
	}
	if len(e.Properties) > 0 {
		ev.Properties = make(map[string]usage.Value, len(e.Properties))
		for name, raw := range e.Properties {
			v, ok := usage.ValueOf(raw)
			if !ok {
				return usage.Event{}, fmt.Errorf("property %s: unsupported value %v", name, raw)
			}
			ev.Properties[name] = v
		}
	}
	return ev, nil
}

// ParseTime accepts RFC3339 timestamps, durations relative to now ("-24h"),
// "now" and the empty string (now).
func ParseTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "now" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC3339 or a duration like -24h", s)
	}
	return now.Add(d), nil
}
