package service

import (
	"math"
	"sort"
	"time"

	"video-restore/apperrors"
	"video-restore/dto"
)

// Tier is an output quality class: target dimensions, the degree of
// sequence parallelism the inference program runs with, and what it costs.
type Tier struct {
	Name        string
	Height      int
	Width       int
	Parallelism int
	GPUs        int
	AvgDuration time.Duration
}

// DefaultTiers are the H100-80G figures the runner endpoint is sized for.
var DefaultTiers = []Tier{
	{Name: "720p", Height: 720, Width: 1280, Parallelism: 1, GPUs: 1, AvgDuration: 7 * time.Minute},
	{Name: "1080p", Height: 1080, Width: 1920, Parallelism: 4, GPUs: 4, AvgDuration: 10 * time.Minute},
	{Name: "2k", Height: 1440, Width: 2560, Parallelism: 4, GPUs: 4, AvgDuration: 15 * time.Minute},
}

const DefaultTier = "720p"

type Pricing struct {
	GPUHourUSD       float64
	MarkupPercentage float64
}

type TierCatalog struct {
	tiers map[string]Tier
}

// NewTierCatalog indexes tiers by name; an empty list means DefaultTiers.
func NewTierCatalog(tiers []Tier) *TierCatalog {
	if len(tiers) == 0 {
		tiers = DefaultTiers
	}
	c := &TierCatalog{tiers: make(map[string]Tier, len(tiers))}
	for _, t := range tiers {
		c.tiers[t.Name] = t
	}
	return c
}

func (c *TierCatalog) Lookup(name string) (Tier, bool) {
	t, ok := c.tiers[name]
	return t, ok
}

func (c *TierCatalog) Names() []string {
	names := make([]string, 0, len(c.tiers))
	for name := range c.tiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *TierCatalog) AvgDurations() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.tiers))
	for name, t := range c.tiers {
		out[name] = t.AvgDuration
	}
	return out
}

// EstimateCost prices one run of the tier, markup included, rounded to cents.
func (c *TierCatalog) EstimateCost(name string, p Pricing) (*dto.CostEstimate, error) {
	t, ok := c.Lookup(name)
	if !ok {
		return nil, apperrors.Validation("resolution", "unknown resolution "+name)
	}

	minutes := t.AvgDuration.Minutes()
	cost := float64(t.GPUs) * p.GPUHourUSD * minutes / 60
	total := cost * (1 + p.MarkupPercentage/100)

	return &dto.CostEstimate{
		Resolution:       t.Name,
		GPUsRequired:     t.GPUs,
		EstimatedMinutes: minutes,
		EstimatedCost:    math.Round(total*100) / 100,
		Currency:         "USD",
	}, nil
}
