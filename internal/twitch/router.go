package twitch

import (
	"encoding/json"
	"fmt"

	"github.com/nicklaw5/helix/v2"
	"github.com/pscheid92/redeemcast/internal/domain"
)

// ActionKind classifies what the webhook handler must do with a delivery.
type ActionKind int

const (
	ActionIgnored ActionKind = iota
	ActionChallenge
	ActionRedemption
)

func (k ActionKind) String() string {
	switch k {
	case ActionChallenge:
		return "challenge"
	case ActionRedemption:
		return "redemption"
	default:
		return "ignored"
	}
}

// Action is the routing outcome for one verified delivery.
type Action struct {
	Kind       ActionKind
	Challenge  string
	Redemption domain.Redemption
	// Reason explains an ActionIgnored outcome for logs.
	Reason string
}

// Route classifies a verified body. Only a body that is not JSON at all is an
// error (domain.ErrMalformedPayload); everything else that cannot be acted on
// is ActionIgnored so Twitch still gets a 2xx and keeps the subscription.
func Route(messageType string, rawBody []byte) (Action, error) {
	var env envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return Action{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	switch messageType {
	case domain.MessageTypeVerification:
		if env.Challenge == "" {
			return ignored("verification without challenge"), nil
		}
		return Action{Kind: ActionChallenge, Challenge: env.Challenge}, nil

	case domain.MessageTypeNotification:
		if env.Subscription.Type != domain.SubscriptionTypeRedemptionAdd {
			return ignored("unhandled subscription type " + env.Subscription.Type), nil
		}
		return routeRedemption(env.Event)

	case domain.MessageTypeRevocation:
		return ignored("subscription revoked: " + env.Subscription.Status), nil

	default:
		return ignored("unknown message type " + messageType), nil
	}
}

func routeRedemption(raw json.RawMessage) (Action, error) {
	if len(raw) == 0 {
		return ignored("notification without event"), nil
	}

	var event helix.EventSubChannelPointsCustomRewardRedemptionEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return ignored("undecodable redemption event: " + err.Error()), nil
	}
	if event.Reward.Title == "" && event.Reward.ID == "" {
		return ignored("redemption without reward"), nil
	}

	redeemer := event.UserName
	if redeemer == "" {
		redeemer = event.UserLogin
	}

	return Action{
		Kind: ActionRedemption,
		Redemption: domain.Redemption{
			RedemptionID:      event.ID,
			RewardID:          event.Reward.ID,
			RewardTitle:       event.Reward.Title,
			RedeemerName:      redeemer,
			UserInput:         event.UserInput,
			BroadcasterUserID: event.BroadcasterUserID,
			RedeemedAt:        event.RedeemedAt.Time,
		},
	}, nil
}

func ignored(reason string) Action {
	return Action{Kind: ActionIgnored, Reason: reason}
}
