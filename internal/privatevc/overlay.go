package privatevc

import "slices"

// Overlay is the computed permission set for a managed channel.
type Overlay struct {
	Overwrites []Overwrite
	// StrippedUsers and StrippedRoles were allow-listed but already have an
	// explicit entry on the parent category, so no entry was added for them.
	StrippedUsers []string
	StrippedRoles []string
}

// BuildOverlay merges the parent category's overwrites with the channel's
// allow and deny lists. everyoneRoleID is the guild's default role, which
// shares the guild id. It does not modify its inputs.
func BuildOverlay(cfg ChannelConfig, parent []Overwrite, everyoneRoleID string) Overlay {
	out := Overlay{
		Overwrites: make([]Overwrite, 0, len(parent)+len(cfg.DenyUsers)+len(cfg.AllowRoles)+len(cfg.AllowUsers)+2),
	}
	out.Overwrites = append(out.Overwrites, parent...)

	for _, userID := range cfg.DenyUsers {
		out.Overwrites = append(out.Overwrites, Overwrite{ID: userID, Type: OverwriteMember, Deny: PermConnect})
	}

	for _, roleID := range cfg.AllowRoles {
		if hasExplicit(parent, roleID, OverwriteRole) {
			out.StrippedRoles = append(out.StrippedRoles, roleID)
			continue
		}
		out.Overwrites = append(out.Overwrites, Overwrite{ID: roleID, Type: OverwriteRole, Allow: PermConnect})
	}

	for _, userID := range cfg.AllowUsers {
		if slices.Contains(cfg.DenyUsers, userID) {
			continue
		}
		if hasExplicit(parent, userID, OverwriteMember) {
			out.StrippedUsers = append(out.StrippedUsers, userID)
			continue
		}
		out.Overwrites = append(out.Overwrites, Overwrite{ID: userID, Type: OverwriteMember, Allow: PermConnect})
	}

	out.Overwrites = append(out.Overwrites, Overwrite{ID: cfg.OwnerID, Type: OverwriteMember, Allow: PermConnect})

	idx := indexOf(out.Overwrites, everyoneRoleID, OverwriteRole)
	if idx < 0 {
		out.Overwrites = append(out.Overwrites, Overwrite{ID: everyoneRoleID, Type: OverwriteRole})
		idx = len(out.Overwrites) - 1
	}
	everyone := &out.Overwrites[idx]
	if cfg.Public() {
		everyone.Allow |= PermConnect
		everyone.Deny &^= PermConnect
	} else {
		everyone.Allow &^= PermConnect
		everyone.Deny |= PermConnect
	}

	return out
}

// seedOverwrites prepares a category's overwrites for a freshly created
// room: the everyone entry loses any deny on connect, speak and chat.
// ok is false when the category has no everyone entry.
func seedOverwrites(parent []Overwrite, everyoneRoleID string) ([]Overwrite, bool) {
	idx := indexOf(parent, everyoneRoleID, OverwriteRole)
	if idx < 0 {
		return nil, false
	}
	out := slices.Clone(parent)
	out[idx].Deny &^= PermConnect | PermSpeak | PermSendMessages
	return out, true
}

func hasExplicit(overwrites []Overwrite, id string, kind OverwriteType) bool {
	return indexOf(overwrites, id, kind) >= 0
}

func indexOf(overwrites []Overwrite, id string, kind OverwriteType) int {
	return slices.IndexFunc(overwrites, func(o Overwrite) bool {
		return o.ID == id && o.Type == kind
	})
}
