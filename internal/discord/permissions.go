package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker decides who may run guild-wide commands such as
// changing the voice or purging the cache.
type PermissionChecker struct {
	adminRoleID string
}

// NewPermissionChecker creates a PermissionChecker for the given admin role.
func NewPermissionChecker(adminRoleID string) *PermissionChecker {
	return &PermissionChecker{adminRoleID: adminRoleID}
}

// IsAdmin reports whether the interaction author may run admin commands.
// If adminRoleID is empty, everyone is an admin. Members with the
// Administrator or Manage Server permission always are. Returns false if the
// interaction has no Member (e.g., DM channel interactions).
func (p *PermissionChecker) IsAdmin(i *discordgo.InteractionCreate) bool {
	if p.adminRoleID == "" {
		return true
	}
	if i.Member == nil {
		return false
	}
	if i.Member.Permissions&(discordgo.PermissionAdministrator|discordgo.PermissionManageServer) != 0 {
		return true
	}
	return slices.Contains(i.Member.Roles, p.adminRoleID)
}
