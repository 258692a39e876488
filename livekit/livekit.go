package livekit

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/livekit/protocol/auth"
	lkp "github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go"
	lksdk2 "github.com/livekit/server-sdk-go/v2"
	"github.com/progrium/vidjockey/config"
	"go.uber.org/zap"
)

const (
	streamIdentity = "vidjockey"
	botIdentity    = "chat-bot"
	inviteValidFor = 3 * time.Hour
)

// Client provisions the room the jockey streams into and issues viewer invites.
type Client struct {
	cfg     config.LiveKit
	ingress *lksdk.IngressClient
	log     *zap.Logger
}

func New(cfg config.LiveKit, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		ingress: lksdk.NewIngressClient(cfg.URL, cfg.APIKey, cfg.APISecret),
		log:     log,
	}
}

// Token is a room join token for a viewer.
func (c *Client) Token(identity string) (string, error) {
	at := auth.NewAccessToken(c.cfg.APIKey, c.cfg.APISecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     c.cfg.Room,
	}
	at.AddGrant(grant).
		SetIdentity(identity).
		SetValidFor(inviteValidFor)
	return at.ToJWT()
}

// EnsureIngress returns the RTMP ingress for the room, creating it when the
// server has none.
func (c *Client) EnsureIngress(ctx context.Context) (*lkp.IngressInfo, error) {
	resp, err := c.ingress.ListIngress(ctx, &lkp.ListIngressRequest{RoomName: c.cfg.Room})
	if err != nil {
		return nil, fmt.Errorf("list ingress: %w", err)
	}
	for _, i := range resp.GetItems() {
		if i.RoomName == c.cfg.Room {
			return i, nil
		}
	}
	info, err := c.ingress.CreateIngress(ctx, &lkp.CreateIngressRequest{
		InputType:           lkp.IngressInput_RTMP_INPUT,
		Name:                c.cfg.Room + "-ingress",
		RoomName:            c.cfg.Room,
		ParticipantIdentity: streamIdentity,
	})
	if err != nil {
		return nil, fmt.Errorf("create ingress: %w", err)
	}
	c.log.Info("created ingress", zap.String("room", c.cfg.Room), zap.String("id", info.IngressId))
	return info, nil
}

// OutputURL is the RTMP target ffmpeg pushes to.
func OutputURL(info *lkp.IngressInfo) string {
	return strings.TrimSuffix(info.Url, "/") + "/" + info.StreamKey
}

// IngressAddr is the host:port of the RTMP ingress.
func IngressAddr(info *lkp.IngressInfo) (string, error) {
	u, err := url.Parse(info.Url)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("ingress url %q has no host", info.Url)
	}
	if u.Port() == "" {
		return net.JoinHostPort(u.Hostname(), "1935"), nil
	}
	return u.Host, nil
}

// ConnectBot joins the room as a participant that runs chat messages
// starting with "/" as commands.
func (c *Client) ConnectBot(exec func(line string) error) (*lksdk2.Room, error) {
	onData := func(data lksdk2.DataPacket, params lksdk2.DataReceiveParams) {
		user, ok := data.ToProto().Value.(*lkp.DataPacket_User)
		if !ok {
			return
		}
		line, ok := ChatCommand(user.User.Payload)
		if !ok {
			return
		}
		if err := exec(line); err != nil {
			c.log.Info("chat command", zap.String("from", params.SenderIdentity), zap.String("line", line), zap.Error(err))
		}
	}
	return lksdk2.ConnectToRoom(c.cfg.URL, lksdk2.ConnectInfo{
		APIKey:              c.cfg.APIKey,
		APISecret:           c.cfg.APISecret,
		RoomName:            c.cfg.Room,
		ParticipantIdentity: botIdentity,
	}, &lksdk2.RoomCallback{
		ParticipantCallback: lksdk2.ParticipantCallback{
			OnDataPacket: onData,
		},
	})
}

// ChatCommand extracts a slash command from a LiveKit chat payload.
func ChatCommand(payload []byte) (string, bool) {
	var m struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", false
	}
	line := strings.TrimSpace(m.Message)
	if !strings.HasPrefix(line, "/") {
		return "", false
	}
	return line, true
}
