package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"
	"github.com/serroba/livedoc/internal/protocol"
	"github.com/serroba/livedoc/internal/storage"
	"github.com/serroba/livedoc/internal/ws"
)

// GetDocumentResponse is the response body for getting a document.
type GetDocumentResponse struct {
	ID           string                 `json:"id"`
	Content      string                 `json:"content"`
	Revision     int                    `json:"revision"`
	Participants []protocol.Participant `json:"participants"`
	Connected    int                    `json:"connected"`
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleStats handles GET /stats.
func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.relay.Stats())
}

// handleGetDocument handles GET /documents/:id.
func (s *Server) handleGetDocument(c *gin.Context) {
	docID := c.Param("id")

	if s.keeper == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})

		return
	}

	snap, err := s.keeper.Snapshot(docID)
	if err != nil {
		if errors.Is(err, storage.ErrSnapshotNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})

			return
		}

		log.Printf("load snapshot failed doc=%s request=%s err=%v",
			docID, RequestIDFromContext(c.Request.Context()), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})

		return
	}

	participants := s.keeper.Participants(docID, "")
	if participants == nil {
		participants = []protocol.Participant{}
	}

	c.JSON(http.StatusOK, GetDocumentResponse{
		ID:           docID,
		Content:      snap.Content,
		Revision:     snap.Revision,
		Participants: participants,
		Connected:    s.relay.Count(docID),
	})
}

// handleWebSocket handles GET /ws?docId=.
func (s *Server) handleWebSocket(c *gin.Context) {
	docID := c.Query("docId")
	if docID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "docId query parameter is required"})

		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade failed doc=%s err=%v", docID, err)

		return
	}

	client := ws.NewClient(ksuid.New().String(), docID, conn, s.sendBuffer)

	log.Printf("client connected doc=%s client=%s", docID, client.ID())

	ws.Serve(c.Request.Context(), s.relay, client)

	log.Printf("client disconnected doc=%s client=%s", docID, client.ID())
}
