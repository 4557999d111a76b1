package discord

import (
	"cmp"

	"github.com/bwmarrin/discordgo"
)

// selfID returns the bot's own user ID from the gateway Ready payload.
func selfID(st *discordgo.State) string {
	if st == nil || st.User == nil {
		return ""
	}
	return st.User.ID
}

// isBot reports whether userID belongs to a bot account. member is the
// member carried by the event, if any; otherwise the state cache is
// consulted. Unknown users count as humans.
func isBot(st *discordgo.State, guildID, userID string, member *discordgo.Member) bool {
	if member != nil && member.User != nil {
		return member.User.Bot
	}
	if st == nil {
		return false
	}
	m, err := st.Member(guildID, userID)
	if err != nil || m.User == nil {
		return false
	}
	return m.User.Bot
}

// displayName returns the name used in greetings: the guild nickname, then
// the global display name, then the user name.
func displayName(st *discordgo.State, guildID, userID string, member *discordgo.Member) string {
	if member == nil && st != nil {
		member, _ = st.Member(guildID, userID)
	}
	if member == nil {
		return ""
	}
	if member.Nick != "" {
		return member.Nick
	}
	if member.User == nil {
		return ""
	}
	return cmp.Or(member.User.GlobalName, member.User.Username)
}

// humanOccupants counts the non-bot members in a voice channel according
// to the state cache. The bot itself is never counted.
func humanOccupants(st *discordgo.State, guildID, channelID string) int {
	if st == nil || channelID == "" {
		return 0
	}
	self := selfID(st)
	g, err := st.Guild(guildID)
	if err != nil {
		return 0
	}
	st.RLock()
	var users []*discordgo.VoiceState
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == channelID && vs.UserID != self {
			users = append(users, vs)
		}
	}
	st.RUnlock()

	n := 0
	for _, vs := range users {
		if !isBot(st, guildID, vs.UserID, vs.Member) {
			n++
		}
	}
	return n
}

// busiestChannel returns the voice channel of guildID with the most human
// members, or "" when every channel is empty. Ties go to the lower
// channel ID so the choice is stable.
func busiestChannel(st *discordgo.State, guildID string) (string, int) {
	if st == nil {
		return "", 0
	}
	g, err := st.Guild(guildID)
	if err != nil {
		return "", 0
	}
	st.RLock()
	channels := make(map[string]struct{})
	for _, vs := range g.VoiceStates {
		if vs.ChannelID != "" {
			channels[vs.ChannelID] = struct{}{}
		}
	}
	st.RUnlock()

	var best string
	var most int
	for ch := range channels {
		n := humanOccupants(st, guildID, ch)
		if n > most || (n == most && n > 0 && ch < best) {
			best, most = ch, n
		}
	}
	return best, most
}

// MemberChannel returns the voice channel userID is in and the number of
// humans there.
func MemberChannel(st *discordgo.State, guildID, userID string) (channelID string, occupants int, ok bool) {
	if st == nil {
		return "", 0, false
	}
	vs, err := st.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", 0, false
	}
	return vs.ChannelID, humanOccupants(st, guildID, vs.ChannelID), true
}
