package discord

import (
	"cmp"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// HandlerFunc handles one interaction. Slash commands, autocomplete requests
// and button presses all share this signature.
type HandlerFunc func(r Responder, i *discordgo.InteractionCreate)

// route pairs a handler with the top-level definition it belongs to. def is
// nil for subcommand routes whose parent carries the definition.
type route struct {
	def     *discordgo.ApplicationCommand
	handler HandlerFunc
}

type prefixRoute struct {
	prefix  string
	handler HandlerFunc
}

// CommandRouter maps interactions to handlers.
//
// Slash command keys are "name" or "name/subcommand". Component keys are the
// button's custom_id; prefix routes match custom_ids with a dynamic suffix and
// the longest matching prefix wins.
type CommandRouter struct {
	mu           sync.RWMutex
	commands     map[string]route
	autocomplete map[string]HandlerFunc
	components   map[string]HandlerFunc
	prefixes     []prefixRoute
}

// NewCommandRouter returns an empty router.
func NewCommandRouter() *CommandRouter {
	return &CommandRouter{
		commands:     make(map[string]route),
		autocomplete: make(map[string]HandlerFunc),
		components:   make(map[string]HandlerFunc),
	}
}

// RegisterCommand routes key to handler and records def for registration
// with Discord. Several keys may share one def (e.g. "voice/show" and
// "voice/set"); it is registered once.
func (r *CommandRouter) RegisterCommand(key string, def *discordgo.ApplicationCommand, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[key] = route{def: def, handler: handler}
}

// RegisterHandler routes a subcommand key whose parent definition was
// registered separately.
func (r *CommandRouter) RegisterHandler(key string, handler HandlerFunc) {
	r.RegisterCommand(key, nil, handler)
}

// RegisterAutocomplete routes autocomplete requests for key.
func (r *CommandRouter) RegisterAutocomplete(key string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autocomplete[key] = handler
}

// RegisterComponent routes presses of the button with this custom_id.
func (r *CommandRouter) RegisterComponent(customID string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[customID] = handler
}

// RegisterComponentPrefix routes every button whose custom_id starts with
// prefix, such as "cache_purge:" for "cache_purge:expired".
func (r *CommandRouter) RegisterComponentPrefix(prefix string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixes = slices.DeleteFunc(r.prefixes, func(p prefixRoute) bool { return p.prefix == prefix })
	r.prefixes = append(r.prefixes, prefixRoute{prefix: prefix, handler: handler})
	slices.SortStableFunc(r.prefixes, func(a, b prefixRoute) int {
		return cmp.Compare(len(b.prefix), len(a.prefix))
	})
}

// ApplicationCommands returns the distinct top-level definitions sorted by
// name, ready for a bulk overwrite.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byName := make(map[string]*discordgo.ApplicationCommand)
	for _, rt := range r.commands {
		if rt.def != nil {
			byName[rt.def.Name] = rt.def
		}
	}
	cmds := make([]*discordgo.ApplicationCommand, 0, len(byName))
	for _, def := range byName {
		cmds = append(cmds, def)
	}
	slices.SortFunc(cmds, func(a, b *discordgo.ApplicationCommand) int {
		return strings.Compare(a.Name, b.Name)
	})
	return cmds
}

// Handle dispatches i. Unknown commands and buttons get an ephemeral notice;
// unknown autocomplete requests get an empty choice list.
func (r *CommandRouter) Handle(resp Responder, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		key := routeKey(i.ApplicationCommandData())
		r.mu.RLock()
		rt, ok := r.commands[key]
		r.mu.RUnlock()
		if !ok {
			slog.Warn("discord: unknown command", "key", key)
			RespondEphemeral(resp, i, "不明なコマンドです。")
			return
		}
		rt.handler(resp, i)

	case discordgo.InteractionApplicationCommandAutocomplete:
		key := routeKey(i.ApplicationCommandData())
		r.mu.RLock()
		h, ok := r.autocomplete[key]
		r.mu.RUnlock()
		if !ok {
			slog.Debug("discord: no autocomplete route", "key", key)
			RespondChoices(resp, i, nil)
			return
		}
		h(resp, i)

	case discordgo.InteractionMessageComponent:
		id := i.MessageComponentData().CustomID
		h, ok := r.component(id)
		if !ok {
			slog.Warn("discord: unknown component", "custom_id", id)
			RespondEphemeral(resp, i, "不明な操作です。")
			return
		}
		h(resp, i)

	default:
		slog.Warn("discord: unhandled interaction type", "type", i.Type)
	}
}

func (r *CommandRouter) component(customID string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.components[customID]; ok {
		return h, true
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(customID, p.prefix) {
			return p.handler, true
		}
	}
	return nil, false
}

// routeKey is "name", or "name/sub" when the first option is a subcommand.
func routeKey(data discordgo.ApplicationCommandInteractionData) string {
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return data.Name + "/" + data.Options[0].Name
	}
	return data.Name
}
