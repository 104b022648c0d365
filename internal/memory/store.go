// Package memory persists conversation threads and messages. History is
// append-only: messages are never edited or deleted individually, only a
// whole thread can be removed.
package memory

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite" // Pure Go SQLite driver
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	apperrors "github.com/pkonate/teampulse/internal/errors"
)

const maxAutoTitle = 60

// Store is the durable conversation memory backed by SQLite.
type Store struct {
	db    *gorm.DB
	locks sync.Map // threadID -> *sync.Mutex
}

// Open opens (and migrates) the conversation database at path.
func Open(path string) (*Store, error) {
	sqliteDB, err := sql.Open("sqlite", path+"?_journal=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	sqliteDB.SetMaxOpenConns(10)
	sqliteDB.SetMaxIdleConns(5)
	sqliteDB.SetConnMaxLifetime(time.Hour)

	db, err := gorm.Open(sqlite.Dialector{Conn: sqliteDB}, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if err := db.AutoMigrate(&Thread{}, &Message{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithThreadLock serializes turns on one thread. Concurrent requests on
// different threads proceed in parallel.
func (s *Store) WithThreadLock(threadID string, fn func() error) error {
	v, _ := s.locks.LoadOrStore(threadID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

// Append stores one message, creating the thread on first use. A new thread
// is titled from the first user message, or from the clock when the first
// message is not a user turn.
func (s *Store) Append(threadID string, msg Message) (Message, error) {
	msg.ThreadID = threadID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var thread Thread
		err := tx.First(&thread, "id = ?", threadID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			thread = Thread{
				ID:           threadID,
				Title:        autoTitle(msg),
				MessageCount: 1,
			}
			if err := tx.Create(&thread).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			updates := map[string]any{
				"message_count": gorm.Expr("message_count + 1"),
				"updated_at":    time.Now(),
			}
			if err := tx.Model(&Thread{}).Where("id = ?", threadID).Updates(updates).Error; err != nil {
				return err
			}
		}

		return tx.Create(&msg).Error
	})
	if err != nil {
		return Message{}, fmt.Errorf("failed to append message: %w", err)
	}
	return msg, nil
}

// History returns the last window messages of a thread in chronological
// order. window <= 0 returns the full thread. A thread with no messages,
// including one never created or already deleted, yields an empty history
// rather than an error.
func (s *Store) History(threadID string, window int) ([]Message, error) {
	var msgs []Message
	err := s.db.Where("thread_id = ?", threadID).
		Order("created_at ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}

	if window > 0 && len(msgs) > window {
		msgs = msgs[len(msgs)-window:]
	}
	return msgs, nil
}

// GetThread retrieves one thread by ID.
func (s *Store) GetThread(threadID string) (*Thread, error) {
	var thread Thread
	if err := s.db.First(&thread, "id = ?", threadID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Wrap(err, apperrors.ErrThreadNotFound.Code, apperrors.ErrThreadNotFound.Message)
		}
		return nil, err
	}
	return &thread, nil
}

// ListThreads lists threads by recency of activity.
func (s *Store) ListThreads(limit, offset int) ([]Thread, error) {
	var threads []Thread
	err := s.db.Order("updated_at DESC").Limit(limit).Offset(offset).Find(&threads).Error
	return threads, err
}

// UpdateTitle renames a thread.
func (s *Store) UpdateTitle(threadID, title string) error {
	res := s.db.Model(&Thread{}).Where("id = ?", threadID).Update("title", title)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.Wrap(gorm.ErrRecordNotFound, apperrors.ErrThreadNotFound.Code, apperrors.ErrThreadNotFound.Message)
	}
	return nil
}

// Delete removes a thread and all its messages. Deleting an unknown thread
// is a no-op.
func (s *Store) Delete(threadID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("thread_id = ?", threadID).Delete(&Message{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", threadID).Delete(&Thread{}).Error
	})
}

func autoTitle(msg Message) string {
	if msg.Role == RoleUser {
		title := strings.TrimSpace(msg.Content)
		if len(title) > maxAutoTitle {
			title = title[:maxAutoTitle] + "..."
		}
		if title != "" {
			return title
		}
	}
	return "Conversation " + msg.CreatedAt.Format("2006-01-02 15:04")
}
