// Package summary computes the aggregate user summary from downstream data.
//
// Every function here is pure and tolerant of malformed input: values that
// are not valid numbers are skipped, never zero-filled.
package summary

import (
	"math"
	"sort"

	"github.com/okian/matcha-composite/internal/domain/model"
)

// LeaderboardSize is the number of entries in the worth leaderboard.
const LeaderboardSize = 5

// WorthEntry is a ranking item scored by rating per unit cost.
type WorthEntry struct {
	Name        string  `json:"name"`
	Origin      string  `json:"origin"`
	Rating      float64 `json:"rating"`
	CostPerGram float64 `json:"cost_per_gram"`
	Worth       float64 `json:"worth"`
}

// Stats mirrors the stats block of the summary response.
type Stats struct {
	TotalExpenseCost    float64  `json:"totalExpenseCost"`
	NumExpenses         int      `json:"numExpenses"`
	AverageRankingScore *float64 `json:"averageRankingScore"`
	NumRankingEntries   int      `json:"numRankingEntries"`
}

// Result is the composite summary returned to clients.
type Result struct {
	User                 model.UserProfile     `json:"user"`
	Username             string                `json:"username"`
	Budget               *float64              `json:"budget"`
	MostWorthLeaderboard []WorthEntry          `json:"mostWorthLeaderboard"`
	AverageRankingScore  *float64              `json:"averageRankingScore"`
	TotalExpenseCost     float64               `json:"totalExpenseCost"`
	RecentExpenses       []model.Expense       `json:"recentExpenses"`
	Rankings             []model.RankingRecord `json:"rankings"`
	Stats                Stats                 `json:"stats"`
	Degraded             []string              `json:"degraded"`
}

// Build assembles a Result. The user must already be confirmed to exist.
// degraded names the dependencies whose data was replaced with an empty default.
func Build(user model.UserProfile, rankings []model.RankingRecord, expenses []model.Expense, degraded []string) *Result {
	if rankings == nil {
		rankings = []model.RankingRecord{}
	}
	if degraded == nil {
		degraded = []string{}
	}

	total, valid := TotalExpenseCost(expenses)
	avg := AverageRating(rankings)

	var budget *float64
	if v, ok := user.MatchaBudget.Float64(); ok {
		budget = &v
	}

	return &Result{
		User:                 user,
		Username:             user.Username.String(),
		Budget:               budget,
		MostWorthLeaderboard: WorthLeaderboard(rankings, LeaderboardSize),
		AverageRankingScore:  avg,
		TotalExpenseCost:     total,
		RecentExpenses:       RecentExpenses(expenses),
		Rankings:             rankings,
		Stats: Stats{
			TotalExpenseCost:    total,
			NumExpenses:         valid,
			AverageRankingScore: avg,
			NumRankingEntries:   len(rankings),
		},
		Degraded: degraded,
	}
}

// TotalExpenseCost sums the valid costs and counts how many were valid.
func TotalExpenseCost(expenses []model.Expense) (float64, int) {
	var (
		total float64
		valid int
	)
	for _, e := range expenses {
		if cost, ok := e.Cost.Float64(); ok {
			total += cost
			valid++
		}
	}
	return total, valid
}

// RecentExpenses returns a copy of expenses ordered by date, newest first.
// A missing date compares as the empty string and therefore sorts last.
func RecentExpenses(expenses []model.Expense) []model.Expense {
	out := make([]model.Expense, len(expenses))
	copy(out, expenses)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date > out[j].Date
	})
	return out
}

// AverageRating is the mean of every valid rating across all records,
// rounded to two decimals. It is nil when no rating is valid.
func AverageRating(records []model.RankingRecord) *float64 {
	var (
		sum   float64
		count int
	)
	for _, r := range records {
		for _, item := range r.Items {
			if rating, ok := item.Rating.Float64(); ok {
				sum += rating
				count++
			}
		}
	}
	if count == 0 {
		return nil
	}
	avg := Round2(sum / float64(count))
	return &avg
}

// WorthLeaderboard scores every item with a valid rating and a strictly
// positive cost per gram, sorts by worth descending and keeps the first k.
// Equal worths keep their encounter order.
func WorthLeaderboard(records []model.RankingRecord, k int) []WorthEntry {
	entries := []WorthEntry{}
	for _, r := range records {
		for _, item := range r.Items {
			rating, ok := item.Rating.Float64()
			if !ok || !item.CostPerGram.Positive() {
				continue
			}
			cpg, _ := item.CostPerGram.Float64()
			entries = append(entries, WorthEntry{
				Name:        item.Name.String(),
				Origin:      item.Origin.String(),
				Rating:      rating,
				CostPerGram: cpg,
				Worth:       Round2(rating / cpg),
			})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Worth > entries[j].Worth
	})
	if k >= 0 && len(entries) > k {
		entries = entries[:k]
	}
	return entries
}

// Round2 rounds x to two decimal places, halves away from zero.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}
