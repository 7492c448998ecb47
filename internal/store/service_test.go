package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/odil/backend/internal/board"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDProvider struct {
	sessionIDs []string
	cardIDs    []string
}

func (p *staticIDProvider) NewSessionID() (string, error) {
	if len(p.sessionIDs) == 0 {
		return "", errors.New("exhausted session ids")
	}
	id := p.sessionIDs[0]
	p.sessionIDs = p.sessionIDs[1:]
	return id, nil
}

func (p *staticIDProvider) NewCardID() (string, error) {
	if len(p.cardIDs) == 0 {
		return "", errors.New("exhausted card ids")
	}
	id := p.cardIDs[0]
	p.cardIDs = p.cardIDs[1:]
	return id, nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:odil_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&board.Session{}, &board.Card{}, &board.User{}, &board.Participant{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	provider := &staticIDProvider{
		sessionIDs: []string{"sess-gen-1", "sess-gen-2"},
		cardIDs:    []string{"card-gen-1", "card-gen-2", "card-gen-3"},
	}
	clock := func() time.Time { return time.Unix(1700000600, 0).UTC() }

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: provider,
	})
	if err != nil {
		t.Fatalf("failed to construct store service: %v", err)
	}

	return service, db
}

func mustSession(t *testing.T, service *Service, sessionID string) board.Session {
	t.Helper()
	session, err := service.GetOrCreateSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("unexpected session error: %v", err)
	}
	return session
}

func mustJoin(t *testing.T, service *Service, sessionID, actorID string) board.Participant {
	t.Helper()
	participant, err := service.JoinSession(context.Background(), sessionID, actorID)
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	return participant
}

func mustCreateCard(t *testing.T, service *Service, card board.Card) board.Card {
	t.Helper()
	created, err := service.CreateCard(context.Background(), card)
	if err != nil {
		t.Fatalf("unexpected card create error: %v", err)
	}
	return created
}

func TestGetOrCreateSessionIsIdempotent(t *testing.T) {
	service, _ := newTestService(t)

	first := mustSession(t, service, "sess-1")
	if first.Name == "" {
		t.Fatalf("expected generated session name")
	}
	if first.IsLocked {
		t.Fatalf("expected unlocked session by default")
	}
	if first.MovePermission != board.PermissionCreator || first.DeletePermission != board.PermissionCreator {
		t.Fatalf("expected creator-only defaults, got %+v", first)
	}

	second := mustSession(t, service, "sess-1")
	if second.Name != first.Name {
		t.Fatalf("expected stable session on re-fetch, got %q vs %q", second.Name, first.Name)
	}
}

func TestGetOrCreateSessionGeneratesIDWhenAbsent(t *testing.T) {
	service, _ := newTestService(t)

	session := mustSession(t, service, "")
	if session.ID != "sess-gen-1" {
		t.Fatalf("expected generated id, got %q", session.ID)
	}
}

func TestFirstJoinerBecomesCreator(t *testing.T) {
	service, _ := newTestService(t)
	mustSession(t, service, "sess-1")

	first := mustJoin(t, service, "sess-1", "actor-a")
	if first.Role != board.RoleCreator {
		t.Fatalf("expected first joiner to be creator, got %q", first.Role)
	}

	second := mustJoin(t, service, "sess-1", "actor-b")
	if second.Role != board.RoleParticipant {
		t.Fatalf("expected later joiner to be participant, got %q", second.Role)
	}

	rejoined := mustJoin(t, service, "sess-1", "actor-a")
	if rejoined.Role != board.RoleCreator {
		t.Fatalf("expected rejoin to keep the original role, got %q", rejoined.Role)
	}
}

func TestJoinMissingSessionFails(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.JoinSession(context.Background(), "sess-ghost", "actor-a")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRoleFallsBackToParticipant(t *testing.T) {
	service, _ := newTestService(t)
	mustSession(t, service, "sess-1")

	role, err := service.GetUserRoleInSession(context.Background(), "sess-1", "actor-stranger")
	if err != nil {
		t.Fatalf("unexpected role error: %v", err)
	}
	if role != board.RoleParticipant {
		t.Fatalf("expected participant fallback, got %q", role)
	}
}

func TestSessionManagementRequiresCreator(t *testing.T) {
	service, _ := newTestService(t)
	mustSession(t, service, "sess-1")
	mustJoin(t, service, "sess-1", "actor-creator")
	mustJoin(t, service, "sess-1", "actor-other")

	if _, err := service.UpdateSessionName(context.Background(), "sess-1", "actor-other", "Renamed Board"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected rename forbidden for participant, got %v", err)
	}
	locked := true
	if _, err := service.UpdateSessionSettings(context.Background(), "sess-1", "actor-other", board.SettingsPatch{IsLocked: &locked}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected settings forbidden for participant, got %v", err)
	}
	if err := service.DeleteSession(context.Background(), "sess-1", "actor-other"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected delete forbidden for participant, got %v", err)
	}

	renamed, err := service.UpdateSessionName(context.Background(), "sess-1", "actor-creator", "  Renamed Board  ")
	if err != nil {
		t.Fatalf("unexpected rename error: %v", err)
	}
	if renamed.Name != "Renamed Board" {
		t.Fatalf("expected trimmed rename, got %q", renamed.Name)
	}
}

func TestSettingsChangeIndependently(t *testing.T) {
	service, _ := newTestService(t)
	mustSession(t, service, "sess-1")
	mustJoin(t, service, "sess-1", "actor-creator")

	everyone := board.PermissionEveryone
	updated, err := service.UpdateSessionSettings(context.Background(), "sess-1", "actor-creator", board.SettingsPatch{MovePermission: &everyone})
	if err != nil {
		t.Fatalf("unexpected settings error: %v", err)
	}
	if updated.MovePermission != board.PermissionEveryone {
		t.Fatalf("expected move permission updated, got %q", updated.MovePermission)
	}
	if updated.DeletePermission != board.PermissionCreator || updated.IsLocked {
		t.Fatalf("expected untouched fields preserved, got %+v", updated)
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	service, db := newTestService(t)
	mustSession(t, service, "sess-1")
	mustJoin(t, service, "sess-1", "actor-creator")
	mustCreateCard(t, service, board.Card{SessionID: "sess-1", CreatedByID: "actor-creator"})

	if err := service.DeleteSession(context.Background(), "sess-1", "actor-creator"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	var cardCount, participantCount, sessionCount int64
	db.Model(&board.Card{}).Where("session_id = ?", "sess-1").Count(&cardCount)
	db.Model(&board.Participant{}).Where("session_id = ?", "sess-1").Count(&participantCount)
	db.Model(&board.Session{}).Where("id = ?", "sess-1").Count(&sessionCount)
	if cardCount != 0 || participantCount != 0 || sessionCount != 0 {
		t.Fatalf("expected full cascade, got cards=%d participants=%d sessions=%d", cardCount, participantCount, sessionCount)
	}
}

func TestCreateCardAppliesDefaultsAndLock(t *testing.T) {
	service, _ := newTestService(t)
	mustSession(t, service, "sess-1")
	mustJoin(t, service, "sess-1", "actor-creator")

	card := mustCreateCard(t, service, board.Card{SessionID: "sess-1", CreatedByID: "actor-creator"})
	if card.ID != "card-gen-1" {
		t.Fatalf("expected generated card id, got %q", card.ID)
	}
	if card.Color != board.DefaultCardColor {
		t.Fatalf("expected default color, got %q", card.Color)
	}
	if card.Votes != 0 || card.VotedBy == nil || card.Reactions == nil {
		t.Fatalf("expected initialized vote and reaction state, got %+v", card)
	}

	locked := true
	if _, err := service.UpdateSessionSettings(context.Background(), "sess-1", "actor-creator", board.SettingsPatch{IsLocked: &locked}); err != nil {
		t.Fatalf("unexpected settings error: %v", err)
	}
	if _, err := service.CreateCard(context.Background(), board.Card{SessionID: "sess-1", CreatedByID: "actor-creator"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected creation blocked while locked, got %v", err)
	}
}

func TestUpdateCardChecksEachFieldSeparately(t *testing.T) {
	service, _ := newTestService(t)
	mustSession(t, service, "sess-1")
	mustJoin(t, service, "sess-1", "actor-owner")
	mustJoin(t, service, "sess-1", "actor-other")
	card := mustCreateCard(t, service, board.Card{SessionID: "sess-1", CreatedByID: "actor-other"})

	content := "rewritten"
	if _, err := service.UpdateCard(context.Background(), card.ID, board.CardPatch{Content: &content}, "actor-owner"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected content edit forbidden for non-creator, got %v", err)
	}

	x := 300.0
	if _, err := service.UpdateCard(context.Background(), card.ID, board.CardPatch{X: &x}, "actor-owner"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected move forbidden in creator mode, got %v", err)
	}

	everyone := board.PermissionEveryone
	if _, err := service.UpdateSessionSettings(context.Background(), "sess-1", "actor-owner", board.SettingsPatch{MovePermission: &everyone}); err != nil {
		t.Fatalf("unexpected settings error: %v", err)
	}
	moved, err := service.UpdateCard(context.Background(), card.ID, board.CardPatch{X: &x}, "actor-owner")
	if err != nil {
		t.Fatalf("unexpected move error: %v", err)
	}
	if moved.X != 300 {
		t.Fatalf("expected x updated, got %v", moved.X)
	}
	if moved.Content != card.Content {
		t.Fatalf("expected content untouched by a move, got %q", moved.Content)
	}
}

func TestVoteToggleKeepsDerivedCounter(t *testing.T) {
	service, _ := newTestService(t)
	mustSession(t, service, "sess-1")
	mustJoin(t, service, "sess-1", "actor-owner")
	card := mustCreateCard(t, service, board.Card{SessionID: "sess-1", CreatedByID: "actor-owner"})

	voted, action, err := service.VoteCard(context.Background(), card.ID, "actor-voter")
	if err != nil {
		t.Fatalf("unexpected vote error: %v", err)
	}
	if action != board.VoteAdded {
		t.Fatalf("expected vote added, got %q", action)
	}
	if voted.Votes != 1 || !voted.HasVoted("actor-voter") {
		t.Fatalf("expected voter recorded, got %+v", voted)
	}
	if voted.Votes != len(voted.VotedBy) {
		t.Fatalf("vote counter diverged from voter set")
	}

	unvoted, action, err := service.VoteCard(context.Background(), card.ID, "actor-voter")
	if err != nil {
		t.Fatalf("unexpected unvote error: %v", err)
	}
	if action != board.VoteRemoved || unvoted.Votes != 0 || unvoted.HasVoted("actor-voter") {
		t.Fatalf("expected vote removed, got action=%q card=%+v", action, unvoted)
	}
}

func TestSelfVoteResolvesToDeniedAction(t *testing.T) {
	service, _ := newTestService(t)
	mustSession(t, service, "sess-1")
	mustJoin(t, service, "sess-1", "actor-owner")
	card := mustCreateCard(t, service, board.Card{SessionID: "sess-1", CreatedByID: "actor-owner"})

	// A self-vote is not an error: the toggle reports denied and changes nothing.
	unchanged, action, err := service.VoteCard(context.Background(), card.ID, "actor-owner")
	if err != nil {
		t.Fatalf("unexpected self-vote error: %v", err)
	}
	if action != board.VoteDenied {
		t.Fatalf("expected denied action, got %q", action)
	}
	if unchanged.Votes != 0 || len(unchanged.VotedBy) != 0 {
		t.Fatalf("expected card untouched by self-vote, got %+v", unchanged)
	}
}

func TestVoteOnLockedSessionFails(t *testing.T) {
	service, _ := newTestService(t)
	mustSession(t, service, "sess-1")
	mustJoin(t, service, "sess-1", "actor-creator")
	card := mustCreateCard(t, service, board.Card{SessionID: "sess-1", CreatedByID: "actor-creator"})

	locked := true
	if _, err := service.UpdateSessionSettings(context.Background(), "sess-1", "actor-creator", board.SettingsPatch{IsLocked: &locked}); err != nil {
		t.Fatalf("unexpected settings error: %v", err)
	}

	if _, _, err := service.VoteCard(context.Background(), card.ID, "actor-voter"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected locked session to reject votes, got %v", err)
	}
}

func TestReactToggleOnOwnCardAllowed(t *testing.T) {
	service, _ := newTestService(t)
	mustSession(t, service, "sess-1")
	mustJoin(t, service, "sess-1", "actor-owner")
	card := mustCreateCard(t, service, board.Card{SessionID: "sess-1", CreatedByID: "actor-owner"})

	reacted, err := service.ReactCard(context.Background(), card.ID, "🔥", "actor-owner")
	if err != nil {
		t.Fatalf("unexpected react error: %v", err)
	}
	if len(reacted.Reactions["🔥"]) != 1 {
		t.Fatalf("expected reaction recorded, got %+v", reacted.Reactions)
	}

	removed, err := service.ReactCard(context.Background(), card.ID, "🔥", "actor-owner")
	if err != nil {
		t.Fatalf("unexpected second react error: %v", err)
	}
	if _, ok := removed.Reactions["🔥"]; ok {
		t.Fatalf("expected empty reaction key pruned, got %+v", removed.Reactions)
	}
}

func TestReactRejectsUnknownEmoji(t *testing.T) {
	service, _ := newTestService(t)
	mustSession(t, service, "sess-1")
	mustJoin(t, service, "sess-1", "actor-owner")
	card := mustCreateCard(t, service, board.Card{SessionID: "sess-1", CreatedByID: "actor-owner"})

	if _, err := service.ReactCard(context.Background(), card.ID, "🙃", "actor-owner"); !errors.Is(err, board.ErrInvalidReaction) {
		t.Fatalf("expected unknown emoji rejection, got %v", err)
	}
}

func TestDeleteCardDerivesRoleFromJoinRecords(t *testing.T) {
	service, _ := newTestService(t)
	mustSession(t, service, "sess-1")
	mustJoin(t, service, "sess-1", "actor-creator")
	mustJoin(t, service, "sess-1", "actor-owner")
	card := mustCreateCard(t, service, board.Card{SessionID: "sess-1", CreatedByID: "actor-owner"})

	if err := service.DeleteCard(context.Background(), card.ID, "actor-stranger"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected stranger delete forbidden, got %v", err)
	}
	// Session creator can always delete, even cards they do not own.
	if err := service.DeleteCard(context.Background(), card.ID, "actor-creator"); err != nil {
		t.Fatalf("unexpected creator delete error: %v", err)
	}
	if err := service.DeleteCard(context.Background(), card.ID, "actor-creator"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestDeleteEmptyCardsIsCreatorOnlyAndReturnsIDs(t *testing.T) {
	service, _ := newTestService(t)
	mustSession(t, service, "sess-1")
	mustJoin(t, service, "sess-1", "actor-creator")
	empty := mustCreateCard(t, service, board.Card{SessionID: "sess-1", CreatedByID: "actor-creator"})
	blank := mustCreateCard(t, service, board.Card{SessionID: "sess-1", CreatedByID: "actor-creator", Content: "   \n\t"})
	mustCreateCard(t, service, board.Card{SessionID: "sess-1", CreatedByID: "actor-creator", Content: "keep me"})

	if _, err := service.DeleteEmptyCards(context.Background(), "sess-1", "actor-stranger"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected cleanup forbidden for non-creator, got %v", err)
	}

	removed, err := service.DeleteEmptyCards(context.Background(), "sess-1", "actor-creator")
	if err != nil {
		t.Fatalf("unexpected cleanup error: %v", err)
	}
	removedSet := make(map[string]bool, len(removed))
	for _, id := range removed {
		removedSet[id] = true
	}
	// Whitespace-only content counts as empty for cleanup.
	if len(removed) != 2 || !removedSet[empty.ID] || !removedSet[blank.ID] {
		t.Fatalf("expected empty and whitespace-only cards removed, got %v", removed)
	}

	remaining, err := service.ListSessionCards(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Content != "keep me" {
		t.Fatalf("expected the non-empty card kept, got %+v", remaining)
	}
}

func TestParticipantsIncludeCardCreatorsWithoutJoinRecords(t *testing.T) {
	service, _ := newTestService(t)
	mustSession(t, service, "sess-1")
	mustJoin(t, service, "sess-1", "actor-joined")
	mustCreateCard(t, service, board.Card{SessionID: "sess-1", CreatedByID: "actor-ghost"})

	if _, err := service.GetOrCreateUser(context.Background(), "actor-joined"); err != nil {
		t.Fatalf("unexpected user error: %v", err)
	}

	roster, err := service.GetSessionParticipants(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("unexpected roster error: %v", err)
	}
	if len(roster) != 2 {
		t.Fatalf("expected joined actor plus derived creator, got %+v", roster)
	}
	seen := map[string]string{}
	for _, info := range roster {
		seen[info.ActorID] = info.Username
	}
	if _, ok := seen["actor-joined"]; !ok {
		t.Fatalf("expected joined actor in roster, got %+v", roster)
	}
	if username, ok := seen["actor-ghost"]; !ok || username != "Anonymous" {
		t.Fatalf("expected derived creator with fallback username, got %+v", roster)
	}
}

func TestGetOrCreateUserGeneratesUsernameOnce(t *testing.T) {
	service, _ := newTestService(t)

	first, err := service.GetOrCreateUser(context.Background(), "actor-a")
	if err != nil {
		t.Fatalf("unexpected user error: %v", err)
	}
	if first.Username == "" {
		t.Fatalf("expected generated username")
	}

	second, err := service.GetOrCreateUser(context.Background(), "actor-a")
	if err != nil {
		t.Fatalf("unexpected user error: %v", err)
	}
	if second.Username != first.Username {
		t.Fatalf("expected stable username, got %q vs %q", second.Username, first.Username)
	}
}

func TestUpdateUsernameValidatesAndPersists(t *testing.T) {
	service, _ := newTestService(t)

	if _, err := service.UpdateUsername(context.Background(), "actor-a", "x"); !errors.Is(err, board.ErrInvalidUsername) {
		t.Fatalf("expected short username rejection, got %v", err)
	}

	updated, err := service.UpdateUsername(context.Background(), "actor-a", "  Curious Tabby  ")
	if err != nil {
		t.Fatalf("unexpected username error: %v", err)
	}
	if updated.Username != "Curious Tabby" {
		t.Fatalf("expected trimmed username, got %q", updated.Username)
	}
}

func TestTouchSessionActivityBumpsTimestamps(t *testing.T) {
	service, db := newTestService(t)
	mustSession(t, service, "sess-1")
	mustJoin(t, service, "sess-1", "actor-a")

	if err := service.TouchSessionActivity(context.Background(), "sess-1", "actor-a"); err != nil {
		t.Fatalf("unexpected touch error: %v", err)
	}

	var session board.Session
	if err := db.Where("id = ?", "sess-1").Take(&session).Error; err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	want := time.Unix(1700000600, 0).UTC()
	if !session.LastActivityAt.Equal(want) {
		t.Fatalf("expected activity timestamp %v, got %v", want, session.LastActivityAt)
	}
}
