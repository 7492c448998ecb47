// Package store is the persistence gateway for sessions, cards, users and
// participants. Every mutation re-validates permissions against the database
// state, regardless of what the optimistic client-side layer already allowed.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/odil/backend/internal/board"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingSessionID  = errors.New("session identifier is required")
	errMissingActorID    = errors.New("actor identifier is required")
	errMissingCardID     = errors.New("card identifier is required")
	noOpLogger           = zap.NewNop()

	// ErrNotFound marks lookups whose target does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrForbidden marks mutations the actor is not permitted to make.
	ErrForbidden = errors.New("operation not permitted")
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew            = "store.service.new"
	opGetOrCreateSession    = "store.get_or_create_session"
	opUpdateSessionName     = "store.update_session_name"
	opUpdateSessionSettings = "store.update_session_settings"
	opDeleteSession         = "store.delete_session"
	opJoinSession           = "store.join_session"
	opGetRole               = "store.get_role"
	opListParticipants      = "store.list_participants"
	opGetOrCreateUser       = "store.get_or_create_user"
	opUpdateUsername        = "store.update_username"
	opListCards             = "store.list_cards"
	opCreateCard            = "store.create_card"
	opUpdateCard            = "store.update_card"
	opVoteCard              = "store.vote_card"
	opReactCard             = "store.react_card"
	opDeleteCard            = "store.delete_card"
	opDeleteEmptyCards      = "store.delete_empty_cards"
	opTouchActivity         = "store.touch_activity"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider board.IDProvider
	Logger     *zap.Logger
}

type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider board.IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// GetOrCreateSession loads the session, creating it with a generated name on
// first reference. An empty sessionID asks for a brand new session with a
// generated identifier.
func (s *Service) GetOrCreateSession(ctx context.Context, sessionID string) (board.Session, error) {
	if sessionID == "" {
		generated, err := s.idProvider.NewSessionID()
		if err != nil {
			s.logError(opGetOrCreateSession, "id_generation_failed", err)
			return board.Session{}, newServiceError(opGetOrCreateSession, "id_generation_failed", err)
		}
		sessionID = generated
	}

	var session board.Session
	err := s.db.WithContext(ctx).Where("id = ?", sessionID).Take(&session).Error
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opGetOrCreateSession, "query_failed", err, zap.String("session_id", sessionID))
		return board.Session{}, newServiceError(opGetOrCreateSession, "query_failed", err)
	}

	now := s.clock().UTC()
	session = board.Session{
		ID:               sessionID,
		Name:             board.GenerateSessionName(),
		IsLocked:         false,
		MovePermission:   board.PermissionCreator,
		DeletePermission: board.PermissionCreator,
		LastActivityAt:   now,
	}
	created := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&session)
	if created.Error != nil {
		s.logError(opGetOrCreateSession, "insert_failed", created.Error, zap.String("session_id", sessionID))
		return board.Session{}, newServiceError(opGetOrCreateSession, "insert_failed", created.Error)
	}
	if created.RowsAffected == 0 {
		// Lost a creation race. The winner's row is authoritative.
		if err := s.db.WithContext(ctx).Where("id = ?", sessionID).Take(&session).Error; err != nil {
			s.logError(opGetOrCreateSession, "reload_failed", err, zap.String("session_id", sessionID))
			return board.Session{}, newServiceError(opGetOrCreateSession, "reload_failed", err)
		}
	}
	return session, nil
}

// UpdateSessionName renames a session. Only the session creator may rename.
func (s *Service) UpdateSessionName(ctx context.Context, sessionID, actorID, name string) (board.Session, error) {
	trimmed, err := board.ValidateSessionName(name)
	if err != nil {
		return board.Session{}, newServiceError(opUpdateSessionName, "invalid_name", err)
	}

	var session board.Session
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, role, err := s.sessionWithRole(tx, sessionID, actorID)
		if err != nil {
			return newServiceError(opUpdateSessionName, "session_lookup_failed", err)
		}
		if !board.CanEditSessionName(role) {
			return newServiceError(opUpdateSessionName, "not_creator", ErrForbidden)
		}
		loaded.Name = trimmed
		loaded.LastActivityAt = s.clock().UTC()
		if err := tx.Save(&loaded).Error; err != nil {
			s.logError(opUpdateSessionName, "save_failed", err, zap.String("session_id", sessionID))
			return newServiceError(opUpdateSessionName, "save_failed", err)
		}
		session = loaded
		return nil
	})
	if txErr != nil {
		return board.Session{}, txErr
	}
	return session, nil
}

// UpdateSessionSettings applies a partial settings change. Only the session
// creator may reconfigure; the lock state and permission modes change
// independently.
func (s *Service) UpdateSessionSettings(ctx context.Context, sessionID, actorID string, patch board.SettingsPatch) (board.Session, error) {
	var session board.Session
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, role, err := s.sessionWithRole(tx, sessionID, actorID)
		if err != nil {
			return newServiceError(opUpdateSessionSettings, "session_lookup_failed", err)
		}
		if !board.CanConfigureSession(role) {
			return newServiceError(opUpdateSessionSettings, "not_creator", ErrForbidden)
		}
		if patch.IsLocked != nil {
			loaded.IsLocked = *patch.IsLocked
		}
		if patch.MovePermission != nil {
			loaded.MovePermission = *patch.MovePermission
		}
		if patch.DeletePermission != nil {
			loaded.DeletePermission = *patch.DeletePermission
		}
		loaded.LastActivityAt = s.clock().UTC()
		if err := tx.Save(&loaded).Error; err != nil {
			s.logError(opUpdateSessionSettings, "save_failed", err, zap.String("session_id", sessionID))
			return newServiceError(opUpdateSessionSettings, "save_failed", err)
		}
		session = loaded
		return nil
	})
	if txErr != nil {
		return board.Session{}, txErr
	}
	return session, nil
}

// DeleteSession removes the session together with its cards and participant
// records in one transaction. Creator only.
func (s *Service) DeleteSession(ctx context.Context, sessionID, actorID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, role, err := s.sessionWithRole(tx, sessionID, actorID)
		if err != nil {
			return newServiceError(opDeleteSession, "session_lookup_failed", err)
		}
		if !board.CanDeleteSession(role) {
			return newServiceError(opDeleteSession, "not_creator", ErrForbidden)
		}
		if err := tx.Where("session_id = ?", session.ID).Delete(&board.Card{}).Error; err != nil {
			s.logError(opDeleteSession, "card_delete_failed", err, zap.String("session_id", sessionID))
			return newServiceError(opDeleteSession, "card_delete_failed", err)
		}
		if err := tx.Where("session_id = ?", session.ID).Delete(&board.Participant{}).Error; err != nil {
			s.logError(opDeleteSession, "participant_delete_failed", err, zap.String("session_id", sessionID))
			return newServiceError(opDeleteSession, "participant_delete_failed", err)
		}
		if err := tx.Delete(&board.Session{}, "id = ?", session.ID).Error; err != nil {
			s.logError(opDeleteSession, "session_delete_failed", err, zap.String("session_id", sessionID))
			return newServiceError(opDeleteSession, "session_delete_failed", err)
		}
		return nil
	})
}

// JoinSession records the actor as a participant. The first joiner becomes
// the session creator; the session row is locked for the duration of the
// decision so concurrent first joins cannot both win. Rejoining is
// idempotent and never changes an existing role.
func (s *Service) JoinSession(ctx context.Context, sessionID, actorID string) (board.Participant, error) {
	if sessionID == "" {
		return board.Participant{}, newServiceError(opJoinSession, "missing_session_id", errMissingSessionID)
	}
	if actorID == "" {
		return board.Participant{}, newServiceError(opJoinSession, "missing_actor_id", errMissingActorID)
	}

	var participant board.Participant
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session board.Session
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", sessionID).
			Take(&session).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opJoinSession, "session_missing", ErrNotFound)
		}
		if err != nil {
			s.logError(opJoinSession, "session_lock_failed", err, zap.String("session_id", sessionID))
			return newServiceError(opJoinSession, "session_lock_failed", err)
		}

		var existing board.Participant
		err = tx.Where("session_id = ? AND user_id = ?", sessionID, actorID).Take(&existing).Error
		if err == nil {
			participant = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logError(opJoinSession, "participant_lookup_failed", err, zap.String("session_id", sessionID))
			return newServiceError(opJoinSession, "participant_lookup_failed", err)
		}

		var count int64
		if err := tx.Model(&board.Participant{}).Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
			s.logError(opJoinSession, "participant_count_failed", err, zap.String("session_id", sessionID))
			return newServiceError(opJoinSession, "participant_count_failed", err)
		}

		role := board.RoleParticipant
		if count == 0 {
			role = board.RoleCreator
		}
		now := s.clock().UTC()
		participant = board.Participant{
			UserID:       actorID,
			SessionID:    sessionID,
			Role:         role,
			JoinedAt:     now,
			LastActiveAt: now,
		}
		if err := tx.Create(&participant).Error; err != nil {
			s.logError(opJoinSession, "participant_insert_failed", err,
				zap.String("session_id", sessionID),
				zap.String("actor_id", actorID))
			return newServiceError(opJoinSession, "participant_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return board.Participant{}, txErr
	}
	return participant, nil
}

// GetUserRoleInSession resolves the actor's role. An actor without a join
// record is a plain participant.
func (s *Service) GetUserRoleInSession(ctx context.Context, sessionID, actorID string) (board.Role, error) {
	var participant board.Participant
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, actorID).
		Take(&participant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return board.RoleParticipant, nil
	}
	if err != nil {
		s.logError(opGetRole, "query_failed", err, zap.String("session_id", sessionID))
		return "", newServiceError(opGetRole, "query_failed", err)
	}
	return participant.Role, nil
}

// GetSessionParticipants returns the roster: explicit join records plus card
// creators who never joined (their cards make them visible regardless).
func (s *Service) GetSessionParticipants(ctx context.Context, sessionID string) ([]board.ParticipantInfo, error) {
	var participants []board.Participant
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("joined_at ASC").
		Find(&participants).Error; err != nil {
		s.logError(opListParticipants, "participant_query_failed", err, zap.String("session_id", sessionID))
		return nil, newServiceError(opListParticipants, "participant_query_failed", err)
	}

	var creatorIDs []string
	if err := s.db.WithContext(ctx).Model(&board.Card{}).
		Distinct("created_by_id").
		Where("session_id = ?", sessionID).
		Pluck("created_by_id", &creatorIDs).Error; err != nil {
		s.logError(opListParticipants, "creator_query_failed", err, zap.String("session_id", sessionID))
		return nil, newServiceError(opListParticipants, "creator_query_failed", err)
	}

	seen := make(map[string]struct{}, len(participants)+len(creatorIDs))
	actorIDs := make([]string, 0, len(participants)+len(creatorIDs))
	for _, participant := range participants {
		if _, ok := seen[participant.UserID]; ok {
			continue
		}
		seen[participant.UserID] = struct{}{}
		actorIDs = append(actorIDs, participant.UserID)
	}
	for _, creatorID := range creatorIDs {
		if creatorID == "" {
			continue
		}
		if _, ok := seen[creatorID]; ok {
			continue
		}
		seen[creatorID] = struct{}{}
		actorIDs = append(actorIDs, creatorID)
	}

	usernames := make(map[string]string, len(actorIDs))
	if len(actorIDs) > 0 {
		var users []board.User
		if err := s.db.WithContext(ctx).Where("id IN ?", actorIDs).Find(&users).Error; err != nil {
			s.logError(opListParticipants, "user_query_failed", err, zap.String("session_id", sessionID))
			return nil, newServiceError(opListParticipants, "user_query_failed", err)
		}
		for _, user := range users {
			usernames[user.ID] = user.Username
		}
	}

	roster := make([]board.ParticipantInfo, 0, len(actorIDs))
	for _, actorID := range actorIDs {
		username, ok := usernames[actorID]
		if !ok {
			username = "Anonymous"
		}
		roster = append(roster, board.ParticipantInfo{ActorID: actorID, Username: username})
	}
	return roster, nil
}

// GetOrCreateUser loads the user record for a fingerprint identifier,
// creating it with a generated username on first sight.
func (s *Service) GetOrCreateUser(ctx context.Context, actorID string) (board.User, error) {
	if actorID == "" {
		return board.User{}, newServiceError(opGetOrCreateUser, "missing_actor_id", errMissingActorID)
	}

	var user board.User
	err := s.db.WithContext(ctx).Where("id = ?", actorID).Take(&user).Error
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opGetOrCreateUser, "query_failed", err, zap.String("actor_id", actorID))
		return board.User{}, newServiceError(opGetOrCreateUser, "query_failed", err)
	}

	user = board.User{ID: actorID, Username: board.GenerateUsername()}
	created := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&user)
	if created.Error != nil {
		s.logError(opGetOrCreateUser, "insert_failed", created.Error, zap.String("actor_id", actorID))
		return board.User{}, newServiceError(opGetOrCreateUser, "insert_failed", created.Error)
	}
	if created.RowsAffected == 0 {
		if err := s.db.WithContext(ctx).Where("id = ?", actorID).Take(&user).Error; err != nil {
			s.logError(opGetOrCreateUser, "reload_failed", err, zap.String("actor_id", actorID))
			return board.User{}, newServiceError(opGetOrCreateUser, "reload_failed", err)
		}
	}
	return user, nil
}

// UpdateUsername renames a user globally across all their sessions.
func (s *Service) UpdateUsername(ctx context.Context, actorID, username string) (board.User, error) {
	trimmed, err := board.ValidateUsername(username)
	if err != nil {
		return board.User{}, newServiceError(opUpdateUsername, "invalid_username", err)
	}

	user, err := s.GetOrCreateUser(ctx, actorID)
	if err != nil {
		return board.User{}, err
	}
	user.Username = trimmed
	if err := s.db.WithContext(ctx).Save(&user).Error; err != nil {
		s.logError(opUpdateUsername, "save_failed", err, zap.String("actor_id", actorID))
		return board.User{}, newServiceError(opUpdateUsername, "save_failed", err)
	}
	return user, nil
}

// ListSessionCards returns every card in a session ordered by creation.
func (s *Service) ListSessionCards(ctx context.Context, sessionID string) ([]board.Card, error) {
	if sessionID == "" {
		return nil, newServiceError(opListCards, "missing_session_id", errMissingSessionID)
	}
	var cards []board.Card
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("updated_at ASC").
		Find(&cards).Error; err != nil {
		s.logError(opListCards, "query_failed", err, zap.String("session_id", sessionID))
		return nil, newServiceError(opListCards, "query_failed", err)
	}
	return cards, nil
}

// CreateCard persists a new card after checking the session's lock state.
// Missing id, color and position fall back to generated/default values.
func (s *Service) CreateCard(ctx context.Context, card board.Card) (board.Card, error) {
	if card.SessionID == "" {
		return board.Card{}, newServiceError(opCreateCard, "missing_session_id", errMissingSessionID)
	}
	if card.CreatedByID == "" {
		return board.Card{}, newServiceError(opCreateCard, "missing_actor_id", errMissingActorID)
	}

	var session board.Session
	err := s.db.WithContext(ctx).Where("id = ?", card.SessionID).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return board.Card{}, newServiceError(opCreateCard, "session_missing", ErrNotFound)
	}
	if err != nil {
		s.logError(opCreateCard, "session_lookup_failed", err, zap.String("session_id", card.SessionID))
		return board.Card{}, newServiceError(opCreateCard, "session_lookup_failed", err)
	}
	if !board.CanAddCard(session) {
		return board.Card{}, newServiceError(opCreateCard, "session_locked", ErrForbidden)
	}

	if card.ID == "" {
		generated, err := s.idProvider.NewCardID()
		if err != nil {
			s.logError(opCreateCard, "id_generation_failed", err)
			return board.Card{}, newServiceError(opCreateCard, "id_generation_failed", err)
		}
		card.ID = generated
	}
	if card.Color == "" {
		card.Color = board.DefaultCardColor
	}
	if card.VotedBy == nil {
		card.VotedBy = []string{}
	}
	if card.Reactions == nil {
		card.Reactions = map[string][]string{}
	}
	card.Votes = len(card.VotedBy)
	card.UpdatedAt = s.clock().UTC()

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&card).Error; err != nil {
		s.logError(opCreateCard, "insert_failed", err, zap.String("card_id", card.ID))
		return board.Card{}, newServiceError(opCreateCard, "insert_failed", err)
	}
	return card, nil
}

// UpdateCard applies a partial card change. Each present field is checked
// against its own permission rule: content edits are creator-only, moves
// follow the session's move permission.
func (s *Service) UpdateCard(ctx context.Context, cardID string, patch board.CardPatch, actorID string) (board.Card, error) {
	if cardID == "" {
		return board.Card{}, newServiceError(opUpdateCard, "missing_card_id", errMissingCardID)
	}

	var updated board.Card
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, session, err := s.cardWithSession(tx, cardID)
		if err != nil {
			return newServiceError(opUpdateCard, "card_lookup_failed", err)
		}

		if patch.Content != nil {
			if !board.CanEditCard(session, card, actorID) {
				return newServiceError(opUpdateCard, "edit_denied", ErrForbidden)
			}
			card.Content = *patch.Content
		}
		if patch.Color != nil {
			if !board.CanChangeColor(session, card, actorID) {
				return newServiceError(opUpdateCard, "color_denied", ErrForbidden)
			}
			card.Color = *patch.Color
		}
		if patch.X != nil || patch.Y != nil {
			if !board.CanMoveCard(session, card, actorID) {
				return newServiceError(opUpdateCard, "move_denied", ErrForbidden)
			}
			if patch.X != nil {
				card.X = *patch.X
			}
			if patch.Y != nil {
				card.Y = *patch.Y
			}
		}

		card.UpdatedAt = s.clock().UTC()
		if err := tx.Save(&card).Error; err != nil {
			s.logError(opUpdateCard, "save_failed", err, zap.String("card_id", cardID))
			return newServiceError(opUpdateCard, "save_failed", err)
		}
		updated = card
		return nil
	})
	if txErr != nil {
		return board.Card{}, txErr
	}
	return updated, nil
}

// VoteCard toggles the actor's vote on a card. The counter is always derived
// from the voter set inside the same transaction. Voting on one's own card is
// a denied action, not an error; only a locked session fails the call.
func (s *Service) VoteCard(ctx context.Context, cardID, actorID string) (board.Card, board.VoteAction, error) {
	if cardID == "" {
		return board.Card{}, board.VoteDenied, newServiceError(opVoteCard, "missing_card_id", errMissingCardID)
	}
	if actorID == "" {
		return board.Card{}, board.VoteDenied, newServiceError(opVoteCard, "missing_actor_id", errMissingActorID)
	}

	var updated board.Card
	action := board.VoteDenied
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, session, err := s.cardWithSession(tx, cardID)
		if err != nil {
			return newServiceError(opVoteCard, "card_lookup_failed", err)
		}
		if !board.CanVote(session, card, actorID) {
			if session.IsLocked {
				return newServiceError(opVoteCard, "session_locked", ErrForbidden)
			}
			// Self-vote: report the card unchanged with a denied action.
			updated = card
			return nil
		}

		voters := make([]string, 0, len(card.VotedBy)+1)
		hadVoted := false
		for _, voter := range card.VotedBy {
			if voter == actorID {
				hadVoted = true
				continue
			}
			voters = append(voters, voter)
		}
		if hadVoted {
			action = board.VoteRemoved
		} else {
			voters = append(voters, actorID)
			action = board.VoteAdded
		}

		card.VotedBy = voters
		card.Votes = len(voters)
		card.UpdatedAt = s.clock().UTC()
		if err := tx.Save(&card).Error; err != nil {
			s.logError(opVoteCard, "save_failed", err, zap.String("card_id", cardID))
			return newServiceError(opVoteCard, "save_failed", err)
		}
		updated = card
		return nil
	})
	if txErr != nil {
		return board.Card{}, board.VoteDenied, txErr
	}
	return updated, action, nil
}

// ReactCard toggles the actor's membership in a card's reaction set for the
// emoji. Empty sets are pruned so the reactions map never carries dead keys.
func (s *Service) ReactCard(ctx context.Context, cardID, emoji, actorID string) (board.Card, error) {
	if cardID == "" {
		return board.Card{}, newServiceError(opReactCard, "missing_card_id", errMissingCardID)
	}
	if err := board.ValidateReaction(emoji); err != nil {
		return board.Card{}, newServiceError(opReactCard, "invalid_reaction", err)
	}

	var updated board.Card
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, session, err := s.cardWithSession(tx, cardID)
		if err != nil {
			return newServiceError(opReactCard, "card_lookup_failed", err)
		}
		if !board.CanReact(session) {
			return newServiceError(opReactCard, "session_locked", ErrForbidden)
		}

		reactors := make([]string, 0, len(card.Reactions[emoji])+1)
		hadReacted := false
		for _, reactor := range card.Reactions[emoji] {
			if reactor == actorID {
				hadReacted = true
				continue
			}
			reactors = append(reactors, reactor)
		}
		if !hadReacted {
			reactors = append(reactors, actorID)
		}

		if card.Reactions == nil {
			card.Reactions = map[string][]string{}
		}
		if len(reactors) == 0 {
			delete(card.Reactions, emoji)
		} else {
			card.Reactions[emoji] = reactors
		}
		card.UpdatedAt = s.clock().UTC()
		if err := tx.Save(&card).Error; err != nil {
			s.logError(opReactCard, "save_failed", err, zap.String("card_id", cardID))
			return newServiceError(opReactCard, "save_failed", err)
		}
		updated = card
		return nil
	})
	if txErr != nil {
		return board.Card{}, txErr
	}
	return updated, nil
}

// DeleteCard removes a card. The actor's role is re-derived from the join
// records rather than trusted from the request.
func (s *Service) DeleteCard(ctx context.Context, cardID, actorID string) error {
	if cardID == "" {
		return newServiceError(opDeleteCard, "missing_card_id", errMissingCardID)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, session, err := s.cardWithSession(tx, cardID)
		if err != nil {
			return newServiceError(opDeleteCard, "card_lookup_failed", err)
		}
		role, err := s.roleInTx(tx, session.ID, actorID)
		if err != nil {
			return newServiceError(opDeleteCard, "role_lookup_failed", err)
		}
		if !board.CanDeleteCard(session, card, actorID, role) {
			return newServiceError(opDeleteCard, "delete_denied", ErrForbidden)
		}
		if err := tx.Delete(&board.Card{}, "id = ?", cardID).Error; err != nil {
			s.logError(opDeleteCard, "delete_failed", err, zap.String("card_id", cardID))
			return newServiceError(opDeleteCard, "delete_failed", err)
		}
		return nil
	})
}

// DeleteEmptyCards removes every card whose content is empty or whitespace
// only. Creator-only housekeeping. Returns the ids of the removed cards so
// the caller can broadcast the deletions.
func (s *Service) DeleteEmptyCards(ctx context.Context, sessionID, actorID string) ([]string, error) {
	if sessionID == "" {
		return nil, newServiceError(opDeleteEmptyCards, "missing_session_id", errMissingSessionID)
	}

	var removed []string
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, role, err := s.sessionWithRole(tx, sessionID, actorID)
		if err != nil {
			return newServiceError(opDeleteEmptyCards, "session_lookup_failed", err)
		}
		if !board.CanConfigureSession(role) {
			return newServiceError(opDeleteEmptyCards, "not_creator", ErrForbidden)
		}
		var cards []board.Card
		if err := tx.Where("session_id = ?", sessionID).Find(&cards).Error; err != nil {
			s.logError(opDeleteEmptyCards, "query_failed", err, zap.String("session_id", sessionID))
			return newServiceError(opDeleteEmptyCards, "query_failed", err)
		}
		// Whitespace-only content counts as empty.
		ids := make([]string, 0, len(cards))
		for _, card := range cards {
			if strings.TrimSpace(card.Content) == "" {
				ids = append(ids, card.ID)
			}
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("id IN ?", ids).Delete(&board.Card{}).Error; err != nil {
			s.logError(opDeleteEmptyCards, "delete_failed", err, zap.String("session_id", sessionID))
			return newServiceError(opDeleteEmptyCards, "delete_failed", err)
		}
		removed = ids
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return removed, nil
}

// TouchSessionActivity bumps the session's last activity timestamp and, when
// the actor has a join record, the participant's last active timestamp.
func (s *Service) TouchSessionActivity(ctx context.Context, sessionID, actorID string) error {
	if sessionID == "" {
		return newServiceError(opTouchActivity, "missing_session_id", errMissingSessionID)
	}
	now := s.clock().UTC()
	if err := s.db.WithContext(ctx).Model(&board.Session{}).
		Where("id = ?", sessionID).
		Update("last_activity_at", now).Error; err != nil {
		s.logError(opTouchActivity, "session_update_failed", err, zap.String("session_id", sessionID))
		return newServiceError(opTouchActivity, "session_update_failed", err)
	}
	if actorID != "" {
		if err := s.db.WithContext(ctx).Model(&board.Participant{}).
			Where("session_id = ? AND user_id = ?", sessionID, actorID).
			Update("last_active_at", now).Error; err != nil {
			s.logError(opTouchActivity, "participant_update_failed", err, zap.String("session_id", sessionID))
			return newServiceError(opTouchActivity, "participant_update_failed", err)
		}
	}
	return nil
}

func (s *Service) sessionWithRole(tx *gorm.DB, sessionID, actorID string) (board.Session, board.Role, error) {
	var session board.Session
	err := tx.Where("id = ?", sessionID).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return board.Session{}, "", ErrNotFound
	}
	if err != nil {
		return board.Session{}, "", err
	}
	role, err := s.roleInTx(tx, sessionID, actorID)
	if err != nil {
		return board.Session{}, "", err
	}
	return session, role, nil
}

func (s *Service) roleInTx(tx *gorm.DB, sessionID, actorID string) (board.Role, error) {
	var participant board.Participant
	err := tx.Where("session_id = ? AND user_id = ?", sessionID, actorID).Take(&participant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return board.RoleParticipant, nil
	}
	if err != nil {
		return "", err
	}
	return participant.Role, nil
}

func (s *Service) cardWithSession(tx *gorm.DB, cardID string) (board.Card, board.Session, error) {
	var card board.Card
	err := tx.Where("id = ?", cardID).Take(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return board.Card{}, board.Session{}, ErrNotFound
	}
	if err != nil {
		return board.Card{}, board.Session{}, err
	}
	var session board.Session
	err = tx.Where("id = ?", card.SessionID).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return board.Card{}, board.Session{}, ErrNotFound
	}
	if err != nil {
		return board.Card{}, board.Session{}, err
	}
	return card, session, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("store service error", attrs...)
}
