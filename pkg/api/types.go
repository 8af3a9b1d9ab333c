package api

import (
	"encoding/json"

	"github.com/uhyunpark/levelbook/pkg/app/core/exchange"
	"github.com/uhyunpark/levelbook/pkg/app/core/fee"
	"github.com/uhyunpark/levelbook/pkg/app/core/viewer"
)

// ==============================
// REST Response Types
// ==============================

// BooksResponse is GET /api/v1/books/...
type BooksResponse struct {
	Payment   string `json:"payment"`
	Target    string `json:"target"`
	Viewpoint string `json:"viewpoint"`
	viewer.OrderBooks
}

// QueueResponse is GET /api/v1/queues/...
type QueueResponse struct {
	Side string `json:"side"`
	viewer.QueueView
}

type FeeBookResponse struct {
	Target string `json:"target"`
	fee.Book
}

type EventsResponse struct {
	Seq    uint64            `json:"seq"`
	Events []json.RawMessage `json:"events"`
}

// SubmitResponse is returned by both POST endpoints.
type SubmitResponse struct {
	Status string `json:"status"` // "submitted"
	ID     string `json:"id"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is every frame the server sends.
type WSMessage struct {
	Channel string           `json:"channel"` // "events" or "book:{payment}:{target}"
	Events  []exchange.Event `json:"events"`
}

// WSSubscribeRequest is sent by clients:
//
//	{"op": "subscribe", "channels": ["events", "book:0x20..01:0x11..00"]}
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}
