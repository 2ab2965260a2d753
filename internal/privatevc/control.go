package privatevc

import (
	"fmt"
	"strings"
	"time"
)

// Custom ids of the control panel components. The adapter matches on the
// prefix before "_pvc_".
const (
	ControlOwner      = "owner_pvc_"
	ControlSize       = "size_pvc_"
	ControlAllowlist  = "allowlist_pvc_"
	ControlDenylist   = "denylist_pvc_"
	ControlDisconnect = "disconnect_pvc_"
)

// RenderControl builds the status text of a channel's control panel.
func RenderControl(cfg ChannelConfig, ownerAbsence time.Duration) ControlMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "## 📢 Voice Channel Controls\n**Current owner:** <@%s>\n", cfg.OwnerID)
	fmt.Fprintf(&b, "-# ⏱ Owner will transfer after %s of inactivity.\n\n", humanDuration(ownerAbsence))

	b.WriteString("🔧 **General Settings**\n-# General settings of the voice channel, mainly for convenience to everyone.\n\n")

	status := "(VC is currently public)"
	if !cfg.Public() {
		status = "(VC is currently private)"
	}
	b.WriteString("👥 **Access Control**\n-# Selecting users will toggle their access, Moderators cannot be blocked from joining the VC.\n")
	fmt.Fprintf(&b, "✅ **Allowlist** %s", status)
	if len(cfg.AllowRoles) > 0 {
		fmt.Fprintf(&b, "\n**Allowed roles:** %s", mentionRoles(cfg.AllowRoles))
	}
	if len(cfg.AllowUsers) > 0 {
		fmt.Fprintf(&b, "\n**Allowed users:** %s", mentionUsers(cfg.AllowUsers))
	}

	b.WriteString("\n🚫 **Denylist**")
	if len(cfg.DenyUsers) > 0 {
		fmt.Fprintf(&b, "\n**Blocked users:** %s", mentionUsers(cfg.DenyUsers))
	}

	b.WriteString("\n\n🛑 **User Management**\n-# Somebody bothering you? You can remove them if you like!")

	return ControlMessage{
		Content:      b.String(),
		MentionUsers: []string{cfg.OwnerID},
	}
}

func mentionUsers(ids []string) string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = "<@" + id + ">"
	}
	return strings.Join(out, ", ")
}

func mentionRoles(ids []string) string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = "<@&" + id + ">"
	}
	return strings.Join(out, ", ")
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		n := int(d / time.Minute)
		if n == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", n)
	case d >= time.Second && d%time.Second == 0:
		n := int(d / time.Second)
		if n == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", n)
	default:
		return d.String()
	}
}
