package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/nidhogg/moltmud/internal/command"
	"github.com/nidhogg/moltmud/internal/fragment"
	"go.uber.org/zap"
)

// Dispatcher runs a slash action.
type Dispatcher interface {
	Dispatch(ctx context.Context, input string, cc *command.CommandContext) (*command.CommandResult, error)
}

// Registrar grants first-time chat users a balance.
type Registrar interface {
	RegisterAgent(ctx context.Context, id, name string) (*fragment.Balance, error)
}

const actionTimeout = 10 * time.Second

// Bridge turns chat messages that start with "/" into world actions and
// replies in the same thread. Chat users act as agents named
// "<platform>:<user id>"; each channel maps to a room.
type Bridge struct {
	gateway   *Gateway
	actions   Dispatcher
	registrar Registrar
	rooms     map[string]string // channel id -> room id
	logger    *zap.Logger
}

// NewBridge wires a bridge. Channels missing from rooms use their own id
// as the room id.
func NewBridge(gw *Gateway, actions Dispatcher, registrar Registrar, rooms map[string]string, logger *zap.Logger) *Bridge {
	if rooms == nil {
		rooms = map[string]string{}
	}
	return &Bridge{gateway: gw, actions: actions, registrar: registrar, rooms: rooms, logger: logger}
}

// AgentID is the world identity of a chat user.
func AgentID(platform, userID string) string {
	return platform + ":" + userID
}

// Handle processes one inbound message. It matches MessageHandler, so it
// can be passed straight to Gateway.SetHandler.
func (b *Bridge) Handle(msg *InboundMessage) {
	input := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(input, "/") {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	agent := AgentID(msg.Platform, msg.UserID)
	if _, err := b.registrar.RegisterAgent(ctx, agent, msg.UserName); err != nil {
		b.logger.Error("register chat agent failed", zap.String("agent", agent), zap.Error(err))
		b.reply(ctx, msg, "The world is unreachable right now, try again shortly.")
		return
	}

	room, ok := b.rooms[msg.ChannelID]
	if !ok {
		room = msg.ChannelID
	}
	res, err := b.actions.Dispatch(ctx, input, &command.CommandContext{
		Platform: msg.Platform,
		AgentID:  agent,
		RoomID:   room,
	})
	if err != nil {
		b.logger.Error("chat action failed",
			zap.String("agent", agent), zap.String("input", input), zap.Error(err))
		b.reply(ctx, msg, "Something went wrong handling that action.")
		return
	}
	b.reply(ctx, msg, res.Content)
}

func (b *Bridge) reply(ctx context.Context, msg *InboundMessage, text string) {
	err := b.gateway.Send(ctx, &OutboundMessage{
		Platform:  msg.Platform,
		ChannelID: msg.ChannelID,
		Content:   text,
		ReplyTo:   msg.ReplyTo,
	})
	if err != nil {
		b.logger.Warn("chat reply failed",
			zap.String("platform", msg.Platform), zap.String("channel", msg.ChannelID), zap.Error(err))
	}
}
