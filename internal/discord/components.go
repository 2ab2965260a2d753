package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/ent0n29/vcrooms/internal/privatevc"
)

const (
	sizeModalID = privatevc.ControlSize + "modal"
	sizeInputID = privatevc.ControlSize + "input"

	// Select menus accept at most 25 values.
	maxSelectValues = 25
)

// controlComponents are the action rows attached to every control panel.
func controlComponents() []discordgo.MessageComponent {
	one := 1
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{
				MenuType:    discordgo.UserSelectMenu,
				CustomID:    privatevc.ControlOwner,
				Placeholder: "👑 Transfer ownership",
				MinValues:   &one,
				MaxValues:   1,
			},
		}},
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{
				Label:    "Change user limit",
				Style:    discordgo.SecondaryButton,
				CustomID: privatevc.ControlSize,
				Emoji:    &discordgo.ComponentEmoji{Name: "🔢"},
			},
		}},
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{
				MenuType:    discordgo.MentionableSelectMenu,
				CustomID:    privatevc.ControlAllowlist,
				Placeholder: "✅ Toggle allowed users and roles",
				MinValues:   &one,
				MaxValues:   maxSelectValues,
			},
		}},
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{
				MenuType:    discordgo.UserSelectMenu,
				CustomID:    privatevc.ControlDenylist,
				Placeholder: "🚫 Toggle blocked users",
				MinValues:   &one,
				MaxValues:   maxSelectValues,
			},
		}},
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{
				MenuType:    discordgo.UserSelectMenu,
				CustomID:    privatevc.ControlDisconnect,
				Placeholder: "🛑 Disconnect a user",
				MinValues:   &one,
				MaxValues:   1,
			},
		}},
	}
}

func sizeModal() *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		CustomID: sizeModalID,
		Title:    "Change user limit",
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.TextInput{
					CustomID:    sizeInputID,
					Label:       "User limit (0 for unlimited)",
					Style:       discordgo.TextInputShort,
					Placeholder: "0-99",
					Required:    true,
					MinLength:   1,
					MaxLength:   2,
				},
			}},
		},
	}
}
