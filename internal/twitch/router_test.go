package twitch

import (
	"testing"
	"time"

	"github.com/pscheid92/redeemcast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoute_Challenge(t *testing.T) {
	body, err := BuildVerificationBody("c-123", "b-1", testCallback, testNow)
	require.NoError(t, err)

	action, err := Route(domain.MessageTypeVerification, body)

	require.NoError(t, err)
	assert.Equal(t, ActionChallenge, action.Kind)
	assert.Equal(t, "c-123", action.Challenge)
}

func TestRoute_VerificationWithoutChallenge(t *testing.T) {
	action, err := Route(domain.MessageTypeVerification, []byte(`{"subscription":{}}`))

	require.NoError(t, err)
	assert.Equal(t, ActionIgnored, action.Kind)
}

func TestRoute_Redemption(t *testing.T) {
	body, err := BuildRedemptionBody(RedemptionPayload{
		BroadcasterUserID: "b-1",
		RewardID:          "r-1",
		RewardTitle:       "Play Horn",
		UserLogin:         "viewer",
		UserInput:         "hello",
	}, testCallback, testNow)
	require.NoError(t, err)

	action, err := Route(domain.MessageTypeNotification, body)

	require.NoError(t, err)
	require.Equal(t, ActionRedemption, action.Kind)
	r := action.Redemption
	assert.Equal(t, "r-1", r.RewardID)
	assert.Equal(t, "Play Horn", r.RewardTitle)
	assert.Equal(t, "viewer", r.RedeemerName, "falls back to login when display name is empty")
	assert.Equal(t, "hello", r.UserInput)
	assert.Equal(t, "b-1", r.BroadcasterUserID)
	assert.NotEmpty(t, r.RedemptionID)
	assert.WithinDuration(t, testNow, r.RedeemedAt, time.Second)
}

func TestRoute_Ignored(t *testing.T) {
	tests := []struct {
		name        string
		messageType string
		body        string
	}{
		{"other subscription type", domain.MessageTypeNotification, `{"subscription":{"type":"channel.follow"},"event":{}}`},
		{"notification without event", domain.MessageTypeNotification, `{"subscription":{"type":"channel.channel_points_custom_reward_redemption.add"}}`},
		{"event without reward", domain.MessageTypeNotification, `{"subscription":{"type":"channel.channel_points_custom_reward_redemption.add"},"event":{"user_login":"x"}}`},
		{"event of wrong shape", domain.MessageTypeNotification, `{"subscription":{"type":"channel.channel_points_custom_reward_redemption.add"},"event":[1,2]}`},
		{"revocation", domain.MessageTypeRevocation, `{"subscription":{"status":"user_removed"}}`},
		{"unknown message type", "something_new", `{}`},
		{"missing message type", "", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, err := Route(tt.messageType, []byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, ActionIgnored, action.Kind)
			assert.NotEmpty(t, action.Reason)
		})
	}
}

func TestRoute_RevocationReasonCarriesStatus(t *testing.T) {
	body, err := BuildRevocationBody("b-1", "authorization_revoked", testCallback, testNow)
	require.NoError(t, err)

	action, err := Route(domain.MessageTypeRevocation, body)

	require.NoError(t, err)
	assert.Contains(t, action.Reason, "authorization_revoked")
}

func TestRoute_MalformedJSON(t *testing.T) {
	for _, body := range []string{"", "{", "not json", `{"a":}`} {
		_, err := Route(domain.MessageTypeNotification, []byte(body))
		assert.ErrorIs(t, err, domain.ErrMalformedPayload, "body %q", body)
	}
}

func TestActionKind_String(t *testing.T) {
	assert.Equal(t, "ignored", ActionIgnored.String())
	assert.Equal(t, "challenge", ActionChallenge.String())
	assert.Equal(t, "redemption", ActionRedemption.String())
}
