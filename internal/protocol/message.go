// Package protocol defines the messages exchanged between participants
// through the relay.
package protocol

// MessageType identifies the kind of message.
type MessageType string

const (
	// Presence messages.
	MessageTypeJoin             MessageType = "join"              // Participant announces itself
	MessageTypeLeave            MessageType = "leave"             // Participant says goodbye
	MessageTypePresenceSnapshot MessageType = "presence-snapshot" // Known participants for a newcomer
	MessageTypeCursorUpdate     MessageType = "cursor-update"     // Participant moved its cursor

	// Document messages.
	MessageTypeContentUpdate    MessageType = "content-update"    // Whole-document replace
	MessageTypeDocumentRequest  MessageType = "document-request"  // Newcomer asks for the document
	MessageTypeDocumentSnapshot MessageType = "document-snapshot" // Answer to a document request
)

// Message is the envelope for all relay communication.
// Payload holds one of the *Payload types below, matching Type.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// Participant is one user session in the shared document.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	Color       string `json:"color"`
	Avatar      string `json:"avatar"`
}

// Position is a viewport-relative cursor location.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// OpKind is the kind of a content operation.
type OpKind string

// OpReplace replaces the whole document content.
const OpReplace OpKind = "replace"

// Operation is one step of a content update. A replace without content
// is skipped; an empty content clears the document.
type Operation struct {
	Kind    OpKind  `json:"type"`
	Content *string `json:"content,omitempty"`
}

// Replace creates a whole-document replace operation.
func Replace(content string) Operation {
	return Operation{Kind: OpReplace, Content: &content}
}

// JoinPayload announces a participant joining a document.
type JoinPayload struct {
	User       Participant `json:"user"`
	DocumentID string      `json:"documentId"`
}

// LeavePayload announces a participant leaving.
type LeavePayload struct {
	UserID string `json:"userId"`
}

// PresenceSnapshotPayload lists participants already present.
type PresenceSnapshotPayload struct {
	Users []Participant `json:"users"`
}

// CursorUpdatePayload moves a participant's cursor marker.
type CursorUpdatePayload struct {
	UserID   string    `json:"userId"`
	Position *Position `json:"position,omitempty"`
}

// ContentUpdatePayload carries the entire serialized document.
type ContentUpdatePayload struct {
	DocumentID string      `json:"documentId"`
	Operations []Operation `json:"operations"`
}

// DocumentRequestPayload asks peers for the current document.
type DocumentRequestPayload struct {
	DocumentID string `json:"documentId"`
}

// DocumentSnapshotPayload answers a document request.
type DocumentSnapshotPayload struct {
	DocumentID string `json:"documentId,omitempty"`
	Content    string `json:"content"`
}

// NewJoin builds a join message.
func NewJoin(user Participant, documentID string) Message {
	return Message{Type: MessageTypeJoin, Payload: JoinPayload{User: user, DocumentID: documentID}}
}

// NewLeave builds a leave message.
func NewLeave(userID string) Message {
	return Message{Type: MessageTypeLeave, Payload: LeavePayload{UserID: userID}}
}

// NewPresenceSnapshot builds a presence-snapshot message.
func NewPresenceSnapshot(users []Participant) Message {
	return Message{Type: MessageTypePresenceSnapshot, Payload: PresenceSnapshotPayload{Users: users}}
}

// NewCursorUpdate builds a cursor-update message.
func NewCursorUpdate(userID string, pos Position) Message {
	return Message{Type: MessageTypeCursorUpdate, Payload: CursorUpdatePayload{UserID: userID, Position: &pos}}
}

// NewContentUpdate builds a content-update carrying a single replace.
func NewContentUpdate(documentID, content string) Message {
	return Message{
		Type: MessageTypeContentUpdate,
		Payload: ContentUpdatePayload{
			DocumentID: documentID,
			Operations: []Operation{Replace(content)},
		},
	}
}

// NewDocumentRequest builds a document-request message.
func NewDocumentRequest(documentID string) Message {
	return Message{Type: MessageTypeDocumentRequest, Payload: DocumentRequestPayload{DocumentID: documentID}}
}

// NewDocumentSnapshot builds a document-snapshot message.
func NewDocumentSnapshot(documentID, content string) Message {
	return Message{
		Type:    MessageTypeDocumentSnapshot,
		Payload: DocumentSnapshotPayload{DocumentID: documentID, Content: content},
	}
}
