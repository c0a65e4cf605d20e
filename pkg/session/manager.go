package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harun/briefing/internal/observability"
	"github.com/harun/briefing/internal/tracing"
	"github.com/harun/briefing/pkg/conversation"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const fileSuffix = ".jsonl"

var ErrInvalidChatID = errors.New("invalid chat id")

// Entry is one stored line.
type Entry struct {
	ChatID  string               `json:"chatId"`
	Message conversation.Message `json:"message"`
	SavedAt time.Time            `json:"savedAt"`
}

// ConversationInfo describes a stored conversation without loading it.
type ConversationInfo struct {
	ChatID    string    `json:"chatId"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionManager stores conversations under a directory.
type SessionManager struct {
	sessionsDir string
	writeLocks  map[string]*sync.Mutex
	locksMu     sync.Mutex
}

// New creates a SessionManager, creating dir if needed.
func New(sessionsDir string) (*SessionManager, error) {
	observability.EnsureRegistered()

	if sessionsDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		sessionsDir = filepath.Join(homeDir, ".briefing", "sessions")
	}

	if err := os.MkdirAll(sessionsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	sm := &SessionManager{
		sessionsDir: sessionsDir,
		writeLocks:  make(map[string]*sync.Mutex),
	}

	log.Info().Str("dir", sessionsDir).Msg("Session manager initialized")
	sm.updateStoredMetric()

	return sm, nil
}

// Dir returns the storage directory.
func (sm *SessionManager) Dir() string {
	return sm.sessionsDir
}

// ValidateChatID rejects ids that are empty or could escape the directory.
func ValidateChatID(chatID string) error {
	switch {
	case chatID == "":
		return fmt.Errorf("%w: empty", ErrInvalidChatID)
	case strings.Contains(chatID, ".."):
		return fmt.Errorf("%w: cannot contain '..'", ErrInvalidChatID)
	case strings.ContainsAny(chatID, "/\\"):
		return fmt.Errorf("%w: cannot contain path separators", ErrInvalidChatID)
	case strings.Contains(chatID, "\x00"):
		return fmt.Errorf("%w: cannot contain null bytes", ErrInvalidChatID)
	}
	return nil
}

func (sm *SessionManager) path(chatID string) string {
	return filepath.Join(sm.sessionsDir, chatID+fileSuffix)
}

func (sm *SessionManager) lockFor(chatID string) *sync.Mutex {
	sm.locksMu.Lock()
	defer sm.locksMu.Unlock()

	if lock, ok := sm.writeLocks[chatID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	sm.writeLocks[chatID] = lock
	return lock
}

func (sm *SessionManager) updateStoredMetric() {
	infos, err := sm.ListConversations()
	if err != nil {
		return
	}
	observability.SetStoredConversations(len(infos))
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// SaveConversation replaces the stored conversation for chatID.
func (sm *SessionManager) SaveConversation(ctx context.Context, chatID string, messages []conversation.Message) error {
	ctx = tracing.WithChatID(ctx, chatID)
	ctx, span := tracing.StartSpan(ctx, "briefing/session", "session.save",
		attribute.String("chat_id", chatID),
		attribute.Int("messages", len(messages)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	if err := ValidateChatID(chatID); err != nil {
		return spanError(span, err)
	}

	lock := sm.lockFor(chatID)
	lock.Lock()
	defer lock.Unlock()

	target := sm.path(chatID)
	tmp, err := os.CreateTemp(sm.sessionsDir, chatID+".*.tmp")
	if err != nil {
		return spanError(span, fmt.Errorf("failed to create temp file: %w", err))
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	now := time.Now().UTC()
	for _, m := range messages {
		if err := enc.Encode(Entry{ChatID: chatID, Message: m, SavedAt: now}); err != nil {
			tmp.Close()
			return spanError(span, fmt.Errorf("failed to encode message %s: %w", m.ID, err))
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return spanError(span, fmt.Errorf("failed to write conversation: %w", err))
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return spanError(span, fmt.Errorf("failed to set permissions: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return spanError(span, fmt.Errorf("failed to sync file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return spanError(span, fmt.Errorf("failed to close temp file: %w", err))
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return spanError(span, fmt.Errorf("failed to replace conversation file: %w", err))
	}
	committed = true

	logger.Debug().Int("messages", len(messages)).Msg("Conversation saved")
	sm.updateStoredMetric()
	return nil
}

// LoadConversation returns the stored messages for chatID, or an empty
// slice when nothing is stored. Corrupt lines are skipped.
func (sm *SessionManager) LoadConversation(ctx context.Context, chatID string) ([]conversation.Message, error) {
	ctx = tracing.WithChatID(ctx, chatID)
	ctx, span := tracing.StartSpan(ctx, "briefing/session", "session.load",
		attribute.String("chat_id", chatID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	if err := ValidateChatID(chatID); err != nil {
		return nil, spanError(span, err)
	}

	file, err := os.Open(sm.path(chatID))
	if errors.Is(err, os.ErrNotExist) {
		return []conversation.Message{}, nil
	}
	if err != nil {
		return nil, spanError(span, fmt.Errorf("failed to open conversation file: %w", err))
	}
	defer file.Close()

	messages := []conversation.Message{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			logger.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse line, skipping")
			continue
		}
		if entry.Message.ID == "" || entry.Message.Role == "" {
			logger.Warn().Int("line", lineNum).Msg("Invalid entry, skipping")
			continue
		}
		messages = append(messages, entry.Message)
	}
	if err := scanner.Err(); err != nil {
		return nil, spanError(span, fmt.Errorf("failed to read conversation file: %w", err))
	}

	logger.Debug().Int("messages", len(messages)).Msg("Conversation loaded")
	return messages, nil
}

// DeleteConversation removes the stored conversation. Deleting a missing
// conversation is not an error.
func (sm *SessionManager) DeleteConversation(ctx context.Context, chatID string) error {
	ctx = tracing.WithChatID(ctx, chatID)
	ctx, span := tracing.StartSpan(ctx, "briefing/session", "session.delete",
		attribute.String("chat_id", chatID),
	)
	defer span.End()

	if err := ValidateChatID(chatID); err != nil {
		return spanError(span, err)
	}

	lock := sm.lockFor(chatID)
	lock.Lock()
	err := os.Remove(sm.path(chatID))
	lock.Unlock()

	sm.locksMu.Lock()
	delete(sm.writeLocks, chatID)
	sm.locksMu.Unlock()

	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return spanError(span, fmt.Errorf("failed to delete conversation file: %w", err))
	}

	tracing.LoggerFromContext(ctx, log.Logger).Info().Msg("Conversation deleted")
	sm.updateStoredMetric()
	return nil
}

// Info describes one stored conversation.
func (sm *SessionManager) Info(chatID string) (ConversationInfo, error) {
	if err := ValidateChatID(chatID); err != nil {
		return ConversationInfo{}, err
	}
	st, err := os.Stat(sm.path(chatID))
	if err != nil {
		return ConversationInfo{}, fmt.Errorf("failed to stat conversation: %w", err)
	}
	return ConversationInfo{ChatID: chatID, Size: st.Size(), UpdatedAt: st.ModTime()}, nil
}

// ListConversations describes every stored conversation.
func (sm *SessionManager) ListConversations() ([]ConversationInfo, error) {
	entries, err := os.ReadDir(sm.sessionsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []ConversationInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	infos := []ConversationInfo{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		st, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, ConversationInfo{
			ChatID:    strings.TrimSuffix(name, fileSuffix),
			Size:      st.Size(),
			UpdatedAt: st.ModTime(),
		})
	}
	return infos, nil
}
