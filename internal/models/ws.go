package models

import "github.com/google/uuid"

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type ContentSaved struct {
	ContentID uuid.UUID `json:"content_id"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	Model     string    `json:"model"`
}
