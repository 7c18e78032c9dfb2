package daemon

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jasona/mudforge-sub005/internal/proto"
	"github.com/jasona/mudforge-sub005/internal/world"
)

// Channels is the chat-channel daemon: named channels, per-player
// membership, COMM frame fan-out.
type Channels struct {
	// members maps channel → set of lowercased player names. Membership
	// survives disconnects so resuming players keep their channels.
	members map[string]map[string]bool

	// Resolve maps a live member name to its player, nil when offline.
	Resolve func(name string) *world.Player
}

func NewChannels() *Channels {
	return &Channels{members: map[string]map[string]bool{
		"chat":    {},
		"builder": {},
	}}
}

func (c *Channels) ID() string         { return "channels" }
func (c *Channels) ResetOnError() bool { return true }

// Join adds a player to a channel, creating it on first use.
func (c *Channels) Join(channel, player string) {
	channel = strings.ToLower(channel)
	if c.members[channel] == nil {
		c.members[channel] = map[string]bool{}
	}
	c.members[channel][strings.ToLower(player)] = true
}

// Leave removes a player from a channel.
func (c *Channels) Leave(channel, player string) {
	delete(c.members[strings.ToLower(channel)], strings.ToLower(player))
}

// Member reports channel membership.
func (c *Channels) Member(channel, player string) bool {
	return c.members[strings.ToLower(channel)][strings.ToLower(player)]
}

// Broadcast sends a COMM frame to every online member.
func (c *Channels) Broadcast(channel, from, text string) int {
	if c.Resolve == nil {
		return 0
	}
	sent := 0
	for name := range c.members[strings.ToLower(channel)] {
		p := c.Resolve(name)
		if p == nil {
			continue
		}
		p.SendFrame(string(proto.TypeComm), proto.CommPayload{
			Channel: channel,
			From:    from,
			Text:    text,
		})
		sent++
	}
	return sent
}

// Channels lists the known channel names, sorted.
func (c *Channels) Names() []string {
	out := make([]string, 0, len(c.members))
	for name := range c.members {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *Channels) Serialize() map[string]any {
	out := map[string]any{}
	for channel, set := range c.members {
		names := make([]any, 0, len(set))
		for n := range set {
			names = append(names, n)
		}
		out[channel] = names
	}
	return map[string]any{"members": out}
}

func (c *Channels) Restore(data map[string]any) error {
	raw, ok := data["members"].(map[string]any)
	if !ok {
		return fmt.Errorf("channels: malformed state")
	}
	c.members = map[string]map[string]bool{}
	for channel, v := range raw {
		list, ok := v.([]any)
		if !ok {
			return fmt.Errorf("channels: malformed member list for %s", channel)
		}
		set := map[string]bool{}
		for _, n := range list {
			if s, ok := n.(string); ok {
				set[s] = true
			}
		}
		c.members[channel] = set
	}
	return nil
}
