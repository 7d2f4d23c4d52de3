// Package twitch integrates with Twitch: EventSub webhook verification and
// routing, plus the Helix calls for OAuth, custom rewards, and subscriptions.
//
// The webhook path never trusts parsed JSON before the HMAC over the raw
// request bytes has been checked.
package twitch
