package roster

import "strings"

// Ranks in ascending order of authority.
const (
	RankAgent     = "Agent"
	RankOperative = "Operative"
	RankPremier   = "Premier"
	RankCommodore = "Commodore"
	RankAdmiral   = "Admiral"
)

var rankOrder = map[string]int{
	"agent":     0,
	"operative": 1,
	"premier":   2,
	"commodore": 3,
	"admiral":   4,
}

// RankValue returns the position of rank in the fixed rank ordering.
// Comparison is case-insensitive. Unknown ranks return -1 and therefore
// order below Agent.
func RankValue(rank string) int {
	v, ok := rankOrder[strings.ToLower(strings.TrimSpace(rank))]
	if !ok {
		return -1
	}
	return v
}

// CompareRanks returns -1, 0 or +1 as a orders below, equal to or above b.
func CompareRanks(a, b string) int {
	va, vb := RankValue(a), RankValue(b)
	switch {
	case va < vb:
		return -1
	case va > vb:
		return 1
	default:
		return 0
	}
}
