package board

// Permission predicates are pure functions over session, card and actor state.
// They are evaluated twice for every mutation: once on the client to drive UI
// affordance, and once by the persistence gateway against freshly loaded rows
// before the write is applied. The gateway never trusts a client-supplied role.

// CanAddCard reports whether a new card may be added to the session.
// Allowed when the session is not locked.
func CanAddCard(session Session) bool {
	return !session.IsLocked
}

// CanEditCard reports whether the actor may edit the card's content.
// Allowed when the session is not locked and the actor created the card.
func CanEditCard(session Session, card Card, actorID string) bool {
	return !session.IsLocked && card.CreatedByID == actorID
}

// CanMoveCard reports whether the actor may reposition the card.
// Never allowed when the session is locked; otherwise governed by the
// session's move permission mode.
func CanMoveCard(session Session, card Card, actorID string) bool {
	if session.IsLocked {
		return false
	}
	if session.MovePermission == PermissionEveryone {
		return true
	}
	return card.CreatedByID == actorID
}

// CanDeleteCard reports whether the actor may delete the card.
// The session creator can always delete any card, even when locked.
// Otherwise deletion is blocked by the lock and then governed by the
// session's delete permission mode.
func CanDeleteCard(session Session, card Card, actorID string, role Role) bool {
	if role == RoleCreator {
		return true
	}
	if session.IsLocked {
		return false
	}
	if session.DeletePermission == PermissionEveryone {
		return true
	}
	return card.CreatedByID == actorID
}

// CanChangeColor reports whether the actor may recolor the card.
// Same rule as editing content.
func CanChangeColor(session Session, card Card, actorID string) bool {
	return !session.IsLocked && card.CreatedByID == actorID
}

// CanRefine reports whether the actor may run the AI refine action on the card.
// Same rule as editing content.
func CanRefine(session Session, card Card, actorID string) bool {
	return !session.IsLocked && card.CreatedByID == actorID
}

// CanVote reports whether the actor may toggle an upvote on the card.
// Voting on one's own card is forbidden unconditionally.
func CanVote(session Session, card Card, actorID string) bool {
	return !session.IsLocked && card.CreatedByID != actorID
}

// CanReact reports whether the actor may toggle an emoji reaction on the card.
// Unlike voting there is no self-authorship block: reacting to one's own card
// is allowed, only the session lock gates it.
func CanReact(session Session) bool {
	return !session.IsLocked
}

// CanConfigureSession reports whether the actor may change session settings.
func CanConfigureSession(role Role) bool {
	return role == RoleCreator
}

// CanDeleteSession reports whether the actor may delete the session.
func CanDeleteSession(role Role) bool {
	return role == RoleCreator
}

// CanEditSessionName reports whether the actor may rename the session.
func CanEditSessionName(role Role) bool {
	return role == RoleCreator
}
