// Package crypto seals the broadcaster's Twitch access token before it is
// written into the session cookie.
//
// AESGCM is used when TOKEN_ENCRYPTION_KEY is set; Plain passes the token
// through (the cookie is still signed, just not encrypted).
package crypto
