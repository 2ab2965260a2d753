package discord

import (
	"github.com/bwmarrin/discordgo"
)

// voiceTransition derives which channel a user joined and which one they
// left from a voice state update. Either may be empty; mute or deafen
// changes yield neither.
func voiceTransition(before, after *discordgo.VoiceState) (joined, left string) {
	var beforeID, afterID string
	if before != nil {
		beforeID = before.ChannelID
	}
	if after != nil {
		afterID = after.ChannelID
	}
	if afterID != "" && afterID != beforeID {
		joined = afterID
	}
	if beforeID != "" && beforeID != afterID {
		left = beforeID
	}
	return joined, left
}

// displayName prefers the guild nickname, then the global name, then the
// username.
func displayName(member *discordgo.Member) string {
	if member == nil {
		return ""
	}
	if member.Nick != "" {
		return member.Nick
	}
	if member.User == nil {
		return ""
	}
	if member.User.GlobalName != "" {
		return member.User.GlobalName
	}
	return member.User.Username
}

func (g *Gateway) onVoiceStateUpdate(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.VoiceState == nil || v.GuildID != g.guildID {
		return
	}
	if v.Member != nil && v.Member.User != nil && v.Member.User.Bot {
		return
	}
	lc := g.current()
	if lc == nil {
		return
	}

	joined, left := voiceTransition(v.BeforeUpdate, v.VoiceState)
	logger := g.log.With().Str("user_id", v.UserID).Logger()

	// Leave first so a move between two managed channels is seen in order.
	if g.managed(left) {
		if err := lc.Leave(g.ctx, left, v.UserID); err != nil {
			logger.Warn().Err(err).Str("channel_id", left).Msg("could not forward leave")
		}
	}
	if g.managed(joined) {
		if err := lc.Join(g.ctx, joined, v.UserID, displayName(v.Member)); err != nil {
			logger.Warn().Err(err).Str("channel_id", joined).Msg("could not forward join")
		}
	}
}
