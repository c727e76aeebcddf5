package models

// Channel is a creator chat channel gated by a minimum tier.
type Channel struct {
	ID        string `json:"id"`
	CreatorID string `json:"creator_id"`
	Name      string `json:"name"`
	MinTier   int    `json:"min_tier"`
}

func (c Channel) Allows(tier int) bool { return tier >= c.MinTier }
