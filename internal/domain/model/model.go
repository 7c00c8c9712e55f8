package model

import (
	"bytes"
	"encoding/json"
)

// UserProfile is the user service's view of a user.
type UserProfile struct {
	ID           ID     `json:"id"`
	Username     Text   `json:"username"`
	Email        Text   `json:"email,omitempty"`
	MatchaBudget Number `json:"matcha_budget"`
}

// Expense is one entry from the budget service.
type Expense struct {
	ID        ID     `json:"id"`
	Cost      Number `json:"cost"`
	Date      Text   `json:"date"`
	OrderName Text   `json:"order_name"`
}

// RankingRecord groups the ranked items a user submitted.
type RankingRecord struct {
	ID     ID           `json:"id"`
	UserID ID           `json:"user_id"`
	Items  RankingItems `json:"items"`
}

// RankingItem is a single rated matcha.
type RankingItem struct {
	Name        Text   `json:"name"`
	Origin      Text   `json:"origin"`
	Rating      Number `json:"rating"`
	CostPerGram Number `json:"cost_per_gram"`
}

// RankingItems decodes leniently: a non-array value yields no items and
// elements that are not objects are dropped.
type RankingItems []RankingItem

// UnmarshalJSON implements json.Unmarshaler.
func (items *RankingItems) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		*items = nil
		return nil //nolint:nilerr // a malformed item list counts as empty
	}
	decoded, _ := DecodeEach[RankingItem](raw)
	*items = decoded
	return nil
}

// DecodeEach decodes every element of raw into T, skipping elements that
// are not JSON objects. It returns the decoded values and how many were
// dropped.
func DecodeEach[T any](raw []json.RawMessage) ([]T, int) {
	out := make([]T, 0, len(raw))
	dropped := 0
	for _, elem := range raw {
		elem = bytes.TrimSpace(elem)
		var v T
		if len(elem) == 0 || elem[0] != '{' || json.Unmarshal(elem, &v) != nil {
			dropped++
			continue
		}
		out = append(out, v)
	}
	return out, dropped
}
