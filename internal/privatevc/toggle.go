package privatevc

import "slices"

// Member is a user as seen by an interaction, with the roles it holds
// when the platform resolved them.
type Member struct {
	ID    string
	Roles []string
}

// toggle removes id from list when present and appends it otherwise.
func toggle(list []string, id string) []string {
	if i := slices.Index(list, id); i >= 0 {
		return slices.Delete(slices.Clone(list), i, i+1)
	}
	return append(slices.Clone(list), id)
}

func remove(list []string, id string) []string {
	if i := slices.Index(list, id); i >= 0 {
		return slices.Delete(slices.Clone(list), i, i+1)
	}
	return list
}

func appendUnique(list []string, ids ...string) []string {
	for _, id := range ids {
		if !slices.Contains(list, id) {
			list = append(list, id)
		}
	}
	return list
}

func isModerator(roles, moderatorRoles []string) bool {
	return slices.ContainsFunc(roles, func(r string) bool {
		return slices.Contains(moderatorRoles, r)
	})
}

// ToggleAllow flips each selected user and role on the allow list. Entries
// the parent category already names explicitly are reported as stripped
// and left untouched.
func ToggleAllow(cfg ChannelConfig, users, roles []string, parent []Overwrite) (out ChannelConfig, strippedUsers, strippedRoles []string) {
	out = cfg.Clone()
	for _, userID := range users {
		if hasExplicit(parent, userID, OverwriteMember) {
			strippedUsers = appendUnique(strippedUsers, userID)
			continue
		}
		out.AllowUsers = toggle(out.AllowUsers, userID)
	}
	for _, roleID := range roles {
		if hasExplicit(parent, roleID, OverwriteRole) {
			strippedRoles = appendUnique(strippedRoles, roleID)
			continue
		}
		out.AllowRoles = toggle(out.AllowRoles, roleID)
	}
	return out, strippedUsers, strippedRoles
}

// ToggleDeny flips each selected user on the deny list. Moderators and
// users named by the parent category are stripped; the owner is skipped.
// Denying a user also drops them from the allow list.
func ToggleDeny(cfg ChannelConfig, users []Member, parent []Overwrite, moderatorRoles []string) (ChannelConfig, []string) {
	out := cfg.Clone()
	var stripped []string
	for _, m := range users {
		if isModerator(m.Roles, moderatorRoles) {
			stripped = appendUnique(stripped, m.ID)
			continue
		}
		if m.ID == out.OwnerID {
			continue
		}
		if hasExplicit(parent, m.ID, OverwriteMember) {
			stripped = appendUnique(stripped, m.ID)
			continue
		}
		if slices.Contains(out.DenyUsers, m.ID) {
			out.DenyUsers = remove(out.DenyUsers, m.ID)
			continue
		}
		out.DenyUsers = append(out.DenyUsers, m.ID)
		out.AllowUsers = remove(out.AllowUsers, m.ID)
	}
	return out, stripped
}
