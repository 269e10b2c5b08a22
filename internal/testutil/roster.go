package testutil

import (
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/roach88/rollcall/internal/roster"
)

// RosterGenerator builds plausible scraped rosters. The same seed always
// yields the same rosters.
type RosterGenerator struct {
	faker *gofakeit.Faker
	seed  uint64
}

// NewRosterGenerator creates a generator seeded with seed.
func NewRosterGenerator(seed uint64) *RosterGenerator {
	return &RosterGenerator{faker: gofakeit.New(seed), seed: seed}
}

// Seed returns the generator's seed, for failure messages.
func (g *RosterGenerator) Seed() uint64 { return g.seed }

var ranks = []string{
	roster.RankAgent,
	roster.RankOperative,
	roster.RankPremier,
	roster.RankCommodore,
	roster.RankAdmiral,
}

// Member returns one scraped row with every counter populated and a
// unique player id.
func (g *RosterGenerator) Member() roster.ScrapedMember {
	i64 := func(lo, hi int) *int64 {
		v := int64(g.faker.Number(lo, hi))
		return &v
	}
	joined := g.faker.DateRange(
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	)
	return roster.ScrapedMember{
		Name:      g.faker.Username(),
		Rank:      ranks[g.faker.Number(0, len(ranks)-1)],
		Level:     g.faker.Number(10, 70),
		JoinDate:  joined.Format(time.DateOnly),
		PlayerID:  roster.PlayerID(g.faker.Numerify("#########")),
		Power:     i64(100_000, 90_000_000),
		Helps:     i64(0, 50_000),
		Resources: i64(0, 2_000_000_000),
		Isotopes:  i64(0, 5_000_000),
	}
}

// Roster returns n rows with distinct names and player ids.
func (g *RosterGenerator) Roster(n int) []roster.ScrapedMember {
	out := make([]roster.ScrapedMember, 0, n)
	names := map[string]bool{}
	ids := map[roster.PlayerID]bool{}
	for len(out) < n {
		m := g.Member()
		if names[m.Name] || ids[m.PlayerID] {
			continue
		}
		names[m.Name] = true
		ids[m.PlayerID] = true
		out = append(out, m)
	}
	return out
}

// Grow returns a copy of rows with helps, resources and isotopes
// increased by small random amounts, as between two syncs.
func (g *RosterGenerator) Grow(rows []roster.ScrapedMember) []roster.ScrapedMember {
	out := make([]roster.ScrapedMember, len(rows))
	for i, r := range rows {
		bump := func(p *int64, hi int) *int64 {
			if p == nil {
				return nil
			}
			v := *p + int64(g.faker.Number(0, hi))
			return &v
		}
		r.Helps = bump(r.Helps, 150)
		r.Resources = bump(r.Resources, 1_000_000)
		r.Isotopes = bump(r.Isotopes, 10_000)
		out[i] = r
	}
	return out
}
