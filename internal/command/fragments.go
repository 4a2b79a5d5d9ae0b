package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nidhogg/moltmud/internal/catalog"
	"github.com/nidhogg/moltmud/internal/economy"
	"github.com/nidhogg/moltmud/internal/fragment"
	"github.com/nidhogg/moltmud/internal/freshness"
)

// Economy is the slice of *economy.Service the actions need.
type Economy interface {
	Create(ctx context.Context, p economy.CreateParams) (*fragment.Fragment, error)
	ListInRoom(ctx context.Context, roomID string, limit int) ([]*fragment.Fragment, error)
	GetWithFreshness(ctx context.Context, id string) (*fragment.Fragment, error)
	Purchase(ctx context.Context, fragmentID, buyerID string) (*economy.Receipt, error)
	Rate(ctx context.Context, fragmentID, buyerID string, rating int) error
	Balance(ctx context.Context, agentID string) (*fragment.Balance, error)
	PurchasesByBuyer(ctx context.Context, buyerID string) ([]*fragment.Purchase, error)
}

const (
	lookLimit = 20
	barWidth  = 10
)

// RegisterFragmentCommands registers /help, /look, /share, /inspect, /buy,
// /rate and /profile.
func RegisterFragmentCommands(reg *Registry, econ Economy) {
	reg.Register(helpCommand(reg))
	reg.Register(lookCommand(econ))
	reg.Register(shareCommand(econ))
	reg.Register(inspectCommand(econ))
	reg.Register(buyCommand(econ))
	reg.Register(rateCommand(econ))
	reg.Register(profileCommand(econ))
}

// explain turns a domain refusal into a result the agent can read. Anything
// else is a real failure and is returned as an error.
func explain(err error) (*CommandResult, error) {
	for _, known := range []error{
		fragment.ErrFragmentNotFound,
		fragment.ErrAgentNotFound,
		fragment.ErrSelfPurchase,
		fragment.ErrInsufficientFunds,
		fragment.ErrNoEligiblePurchase,
		fragment.ErrInvalidRating,
		fragment.ErrEmptyContent,
	} {
		if errors.Is(err, known) {
			msg := known.Error()
			return refuse("%s%s.", strings.ToUpper(msg[:1]), msg[1:]), nil
		}
	}
	return nil, err
}

// ---------------------------------------------------------------------------
// /help
// ---------------------------------------------------------------------------

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "List all available commands",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, c := range reg.List() {
				fmt.Fprintf(&b, "  /%s: %s\n", c.Name, c.Description)
				if c.Usage != "" {
					fmt.Fprintf(&b, "    Usage: %s\n", c.Usage)
				}
			}
			return ok(nil, "%s", b.String()), nil
		},
	}
}

// ---------------------------------------------------------------------------
// /look
// ---------------------------------------------------------------------------

func lookCommand(econ Economy) *Command {
	return &Command{
		Name:        "look",
		Aliases:     []string{"fragments"},
		Description: "Show the knowledge fragments shared in this room",
		Usage:       "/look",
		Handler: func(ctx context.Context, _ string, cc *CommandContext) (*CommandResult, error) {
			if cc.RoomID == "" {
				return refuse("You are not in a room."), nil
			}
			frags, err := econ.ListInRoom(ctx, cc.RoomID, lookLimit)
			if err != nil {
				return nil, err
			}
			if len(frags) == 0 {
				return ok(frags, "No knowledge has been shared here yet."), nil
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Knowledge in %s:\n", cc.RoomID)
			for _, f := range frags {
				fmt.Fprintf(&b, "  %s\n    id %s, %d influence, %s\n",
					catalog.Label(f.Content, f.Category, f.Rarity),
					f.ID, f.CurrentValue,
					freshness.Bar(f.FreshnessScore, barWidth, cc.colors()))
			}
			return ok(frags, "%s", b.String()), nil
		},
	}
}

// ---------------------------------------------------------------------------
// /share
// ---------------------------------------------------------------------------

// parseShare splits "[category] [#topic ...] content". The category is only
// taken from the first word, and topics only from the words before the
// content starts.
func parseShare(args string) economy.CreateParams {
	var p economy.CreateParams
	words := strings.Fields(args)
	i := 0
	if len(words) > 1 {
		if _, known := catalog.ParseCategory(words[0]); known {
			p.Category = words[0]
			i++
		}
	}
	for ; i < len(words)-1 && strings.HasPrefix(words[i], "#") && len(words[i]) > 1; i++ {
		p.Topics = append(p.Topics, strings.ToLower(words[i][1:]))
	}
	p.Content = strings.Join(words[i:], " ")
	return p
}

func shareCommand(econ Economy) *Command {
	return &Command{
		Name:        "share",
		Description: "Share a knowledge fragment into this room",
		Usage:       "/share [category] [#topic ...] <what you know>",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			if cc.AgentID == "" {
				return refuse("Identify yourself first."), nil
			}
			if cc.RoomID == "" {
				return refuse("You are not in a room."), nil
			}
			p := parseShare(args)
			p.OwnerID, p.RoomID = cc.AgentID, cc.RoomID
			f, err := econ.Create(ctx, p)
			if err != nil {
				return explain(err)
			}
			return ok(f, "You shared %s (id %s, worth %d influence).",
				catalog.Label(f.Content, f.Category, f.Rarity), f.ID, f.CurrentValue), nil
		},
	}
}

// ---------------------------------------------------------------------------
// /inspect
// ---------------------------------------------------------------------------

func inspectCommand(econ Economy) *Command {
	return &Command{
		Name:        "inspect",
		Aliases:     []string{"examine"},
		Description: "Examine one fragment's value, freshness and reputation",
		Usage:       "/inspect <fragment-id>",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			id := strings.TrimSpace(args)
			if id == "" {
				return refuse("Usage: /inspect <fragment-id>"), nil
			}
			f, err := econ.GetWithFreshness(ctx, id)
			if err != nil {
				return explain(err)
			}
			var b strings.Builder
			b.WriteString(catalog.Label(f.Content, f.Category, f.Rarity))
			fmt.Fprintf(&b, "\n  Shared by %s in %s\n", f.OwnerID, f.RoomID)
			fmt.Fprintf(&b, "  Value: %d influence (bought %d times)\n", f.CurrentValue, f.PurchaseCount)
			fmt.Fprintf(&b, "  Freshness: %s, %s\n",
				freshness.Bar(f.FreshnessScore, barWidth, cc.colors()),
				freshness.Describe(f.FreshnessScore, f.DecayRatePerHour))
			if f.RatingCount > 0 {
				fmt.Fprintf(&b, "  Rating: %.1f from %d reviews\n", f.AverageRating(), f.RatingCount)
			} else {
				b.WriteString("  Rating: unrated\n")
			}
			return ok(f, "%s", b.String()), nil
		},
	}
}

// ---------------------------------------------------------------------------
// /buy
// ---------------------------------------------------------------------------

func buyCommand(econ Economy) *Command {
	return &Command{
		Name:        "buy",
		Aliases:     []string{"purchase"},
		Description: "Spend influence to learn a fragment",
		Usage:       "/buy <fragment-id>",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			if cc.AgentID == "" {
				return refuse("Identify yourself first."), nil
			}
			id := strings.TrimSpace(args)
			if id == "" {
				return refuse("Usage: /buy <fragment-id>"), nil
			}
			rec, err := econ.Purchase(ctx, id, cc.AgentID)
			if err != nil {
				return explain(err)
			}
			return ok(rec, "You paid %d influence to %s. You have %d left; the fragment is now worth %d.",
				rec.Charged, rec.SellerID, rec.BuyerBalance, rec.NewValue), nil
		},
	}
}

// ---------------------------------------------------------------------------
// /rate
// ---------------------------------------------------------------------------

func rateCommand(econ Economy) *Command {
	return &Command{
		Name:        "rate",
		Description: "Rate a fragment you bought, 1 to 5",
		Usage:       "/rate <fragment-id> <1-5>",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			if cc.AgentID == "" {
				return refuse("Identify yourself first."), nil
			}
			fields := strings.Fields(args)
			if len(fields) != 2 {
				return refuse("Usage: /rate <fragment-id> <1-5>"), nil
			}
			rating, err := strconv.Atoi(fields[1])
			if err != nil {
				return refuse("Usage: /rate <fragment-id> <1-5>"), nil
			}
			if err := econ.Rate(ctx, fields[0], cc.AgentID, rating); err != nil {
				return explain(err)
			}
			return ok(nil, "You rated %s %d/5.", fields[0], rating), nil
		},
	}
}

// ---------------------------------------------------------------------------
// /profile
// ---------------------------------------------------------------------------

type profile struct {
	Balance   *fragment.Balance `json:"balance"`
	Purchases int               `json:"purchases"`
	Unrated   int               `json:"unrated"`
}

func profileCommand(econ Economy) *Command {
	return &Command{
		Name:        "profile",
		Aliases:     []string{"balance"},
		Description: "Show your influence and what you have bought",
		Usage:       "/profile",
		Handler: func(ctx context.Context, _ string, cc *CommandContext) (*CommandResult, error) {
			if cc.AgentID == "" {
				return refuse("Identify yourself first."), nil
			}
			bal, err := econ.Balance(ctx, cc.AgentID)
			if err != nil {
				return explain(err)
			}
			ps, err := econ.PurchasesByBuyer(ctx, cc.AgentID)
			if err != nil {
				return nil, err
			}
			p := profile{Balance: bal, Purchases: len(ps)}
			for _, pu := range ps {
				if !pu.Rated() {
					p.Unrated++
				}
			}
			return ok(p, "%s: %d influence (%d earned from sales), %d fragments bought, %d awaiting a rating.",
				cc.AgentID, bal.Influence, bal.InfluenceEarned, p.Purchases, p.Unrated), nil
		},
	}
}
