package permissions

import api "github.com/OvyFlash/telegram-bot-api"

// Decision is the result of a capability guard, composed explicitly at
// call sites instead of wrapping handlers.
type Decision struct {
	Allowed bool
	Reason  string
}

func Allowed() Decision {
	return Decision{Allowed: true}
}

func Denied(reason string) Decision {
	return Decision{Reason: reason}
}

// CheckExempt reports whether a chat member is exempt from enforcement:
// owners always, administrators always.
func CheckExempt(member *api.ChatMember) Decision {
	if member == nil {
		return Denied("unknown member")
	}
	if member.IsCreator() {
		return Allowed()
	}
	if member.IsAdministrator() {
		return Allowed()
	}
	return Denied("not an admin")
}

// CheckCanRestrict reports whether a member may invoke restrictive
// moderation commands.
func CheckCanRestrict(member *api.ChatMember) Decision {
	if member == nil {
		return Denied("unknown member")
	}
	if member.IsCreator() {
		return Allowed()
	}
	if member.IsAdministrator() && member.CanRestrictMembers {
		return Allowed()
	}
	return Denied("missing restrict rights")
}
