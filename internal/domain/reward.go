package domain

import "context"

// RewardMapping maps a reward title (or reward id) to a media reference.
// Media references are file names under the media directory, absolute URLs,
// or YouTube links; the overlay page decides how to play them.
type RewardMapping map[string]string

// Clone returns an independent copy.
func (m RewardMapping) Clone() RewardMapping {
	out := make(RewardMapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RewardLookup resolves a reward to its media reference.
type RewardLookup interface {
	Lookup(key string) (string, bool)
}

// RewardStore is the admin-facing read/write view of the reward mapping.
type RewardStore interface {
	RewardLookup
	All() RewardMapping
	Upsert(title, media string) error
	Delete(title string) (bool, error)
}

// CustomRewardRequest is the payload for creating a channel-point reward on Twitch.
type CustomRewardRequest struct {
	Title  string
	Cost   int
	Prompt string
}

// CustomReward is a reward as created on Twitch.
type CustomReward struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Cost   int    `json:"cost"`
	Prompt string `json:"prompt"`
}

// RewardCreator creates channel-point rewards on behalf of the broadcaster.
type RewardCreator interface {
	CreateCustomReward(ctx context.Context, session AuthSession, req CustomRewardRequest) (*CustomReward, error)
}
