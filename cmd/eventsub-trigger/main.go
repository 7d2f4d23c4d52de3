// Command eventsub-trigger sends a Twitch-signed EventSub delivery to a
// running server, for exercising the webhook without a public callback.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/pscheid92/redeemcast/internal/domain"
	"github.com/pscheid92/redeemcast/internal/twitch"
)

const maxResponseBody = 64 << 10

type options struct {
	URL         string        `long:"url" env:"EVENTSUB_TRIGGER_URL" default:"http://localhost:3000/webhook" description:"Webhook endpoint to post to"`
	Secret      string        `long:"secret" env:"EVENTSUB_SECRET" required:"true" description:"EventSub signing secret"`
	Type        string        `long:"type" default:"notification" choice:"notification" choice:"verification" choice:"revocation" description:"Message type to send"`
	Title       string        `long:"title" description:"Reward title (notification)"`
	RewardID    string        `long:"reward-id" default:"test-reward" description:"Reward id (notification)"`
	Cost        int           `long:"cost" default:"100" description:"Reward cost (notification)"`
	User        string        `long:"user" default:"testviewer" description:"Redeeming user login (notification)"`
	Input       string        `long:"input" description:"User input (notification)"`
	Broadcaster string        `long:"broadcaster" default:"12345" description:"Broadcaster user id"`
	Challenge   string        `long:"challenge" default:"pogchamp-kappa-360noscope-vohiyo" description:"Challenge (verification)"`
	Status      string        `long:"status" default:"authorization_revoked" description:"Subscription status (revocation)"`
	Timeout     time.Duration `long:"timeout" default:"10s" description:"Request timeout"`
}

func main() {
	_ = godotenv.Load()

	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if err := run(context.Background(), opts, http.DefaultClient, os.Stdout, time.Now()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildBody(opts options, now time.Time) (messageType string, body []byte, err error) {
	switch opts.Type {
	case "verification":
		body, err = twitch.BuildVerificationBody(opts.Challenge, opts.Broadcaster, opts.URL, now)
		return domain.MessageTypeVerification, body, err
	case "revocation":
		body, err = twitch.BuildRevocationBody(opts.Broadcaster, opts.Status, opts.URL, now)
		return domain.MessageTypeRevocation, body, err
	case "notification":
		if opts.Title == "" && opts.RewardID == "" {
			return "", nil, errors.New("--title or --reward-id is required for notifications")
		}
		body, err = twitch.BuildRedemptionBody(twitch.RedemptionPayload{
			BroadcasterUserID: opts.Broadcaster,
			RewardID:          opts.RewardID,
			RewardTitle:       opts.Title,
			RewardCost:        opts.Cost,
			UserLogin:         opts.User,
			UserName:          opts.User,
			UserInput:         opts.Input,
		}, opts.URL, now)
		return domain.MessageTypeNotification, body, err
	default:
		return "", nil, fmt.Errorf("unknown message type %q", opts.Type)
	}
}

func run(ctx context.Context, opts options, client *http.Client, out io.Writer, now time.Time) error {
	messageType, body, err := buildBody(opts, now)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := twitch.NewSignedRequest(ctx, opts.URL, []byte(opts.Secret), messageType, body, now)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver %s: %w", messageType, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	fmt.Fprintf(out, "%s -> %s\n", messageType, resp.Status)
	if len(respBody) > 0 {
		fmt.Fprintf(out, "%s\n", respBody)
	}
	return nil
}
