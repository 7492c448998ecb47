package server

import (
	"fmt"
	"html"
	"net/http"
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/odil/backend/internal/board"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleExportSession renders the board as a standalone HTML document. Cards
// are ordered by votes, then creation order, so the export doubles as a
// ranked summary of the brainstorm.
func (h *httpHandler) handleExportSession(c *gin.Context) {
	sessionID := c.Param("sessionId")
	session, err := h.store.GetOrCreateSession(c.Request.Context(), sessionID)
	if err != nil {
		h.respondError(c, "export_failed", err)
		return
	}
	cards, err := h.store.ListSessionCards(c.Request.Context(), sessionID)
	if err != nil {
		h.respondError(c, "export_failed", err)
		return
	}

	sort.SliceStable(cards, func(i, j int) bool {
		return cards[i].Votes > cards[j].Votes
	})

	var out strings.Builder
	out.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&out, "<title>%s</title>\n</head>\n<body>\n", html.EscapeString(session.Name))
	fmt.Fprintf(&out, "<h1>%s</h1>\n", html.EscapeString(session.Name))

	for _, card := range cards {
		rendered, err := h.renderer.Render(card.Content)
		if err != nil {
			h.logger.Warn("card render failed during export",
				zap.String("card_id", card.ID),
				zap.Error(err))
			rendered = html.EscapeString(card.Content)
		}
		fmt.Fprintf(&out, "<section data-card-id=%q>\n%s\n", html.EscapeString(card.ID), rendered)
		if card.Votes > 0 {
			fmt.Fprintf(&out, "<p>Votes: %d</p>\n", card.Votes)
		}
		if summary := reactionSummary(card); summary != "" {
			fmt.Fprintf(&out, "<p>%s</p>\n", summary)
		}
		out.WriteString("</section>\n")
	}
	out.WriteString("</body>\n</html>\n")

	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(out.String()))
}

func reactionSummary(card board.Card) string {
	if len(card.Reactions) == 0 {
		return ""
	}
	parts := make([]string, 0, len(card.Reactions))
	for _, emoji := range board.ReactionEmojis {
		if reactors := card.Reactions[emoji]; len(reactors) > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", emoji, len(reactors)))
		}
	}
	return strings.Join(parts, " ")
}
