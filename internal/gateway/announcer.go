package gateway

import (
	"context"
	"fmt"

	"github.com/nidhogg/moltmud/internal/catalog"
	"github.com/nidhogg/moltmud/internal/events"
	"go.uber.org/zap"
)

// Announcer relays notable economy events to every announcement channel.
type Announcer struct {
	gateway *Gateway
	logger  *zap.Logger
}

// NewAnnouncer creates an announcer that posts through gw.
func NewAnnouncer(gw *Gateway, logger *zap.Logger) *Announcer {
	return &Announcer{gateway: gw, logger: logger}
}

// Run announces events from feed until ctx is done or feed closes.
func (a *Announcer) Run(ctx context.Context, feed <-chan *events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-feed:
			if !ok {
				return
			}
			text, notable := Headline(ev)
			if !notable {
				continue
			}
			if err := a.gateway.Announce(ctx, text); err != nil {
				a.logger.Debug("announcement incomplete", zap.String("type", ev.Type), zap.Error(err))
			}
		}
	}
}

// Headline renders ev for chat. Only epic or better shares, purchases and
// sweeps that fully decayed something are worth announcing.
func Headline(ev *events.Event) (string, bool) {
	switch ev.Type {
	case events.FragmentCreated:
		r, ok := catalog.ParseRarity(fmt.Sprint(ev.Data["rarity"]))
		if !ok || (r != catalog.Epic && r != catalog.Legendary) {
			return "", false
		}
		spec := r.Spec()
		return fmt.Sprintf("%s %s fragment %s was shared in %s by %s.",
			spec.Badge, article(spec.Name), ev.FragmentID, ev.RoomID, ev.AgentID), true
	case events.FragmentPurchased:
		return fmt.Sprintf("%s paid %v influence to %v for fragment %s.",
			ev.AgentID, ev.Data["cost"], ev.Data["seller"], ev.FragmentID), true
	case events.FreshnessSwept:
		n := fmt.Sprint(ev.Data["fully_decayed"])
		if n == "0" || n == "<nil>" {
			return "", false
		}
		return fmt.Sprintf("The archive grows dusty: %s fragments have fully decayed.", n), true
	}
	return "", false
}

func article(word string) string {
	if word == "" {
		return "A"
	}
	switch word[0] {
	case 'A', 'E', 'I', 'O', 'U':
		return "An " + word
	}
	return "A " + word
}
