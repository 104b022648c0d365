package memory

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Thread groups the messages of one conversation. MessageCount is maintained
// by Append so listings never need to count rows.
type Thread struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Messages []Message `json:"messages,omitempty" gorm:"foreignKey:ThreadID"`
}

// Message is one immutable turn of a conversation. Assistant messages carry
// the end-to-end processing time of the turn that produced them.
type Message struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	ThreadID     string    `gorm:"index:idx_thread_created" json:"thread_id"`
	Role         string    `json:"role"` // user, assistant
	Content      string    `json:"content" gorm:"type:text"`
	ProcessingMs int64     `json:"processing_ms,omitempty"`
	CreatedAt    time.Time `gorm:"index:idx_thread_created" json:"created_at"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

func (t *Thread) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
