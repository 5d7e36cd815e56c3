// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/MedgateAI/MedgateLocal/services/triage/datatypes"
)

// Key layout. The message key embeds a zero-padded creation timestamp so a
// prefix scan yields chronological order; msgref and escref keys point back
// to the primary key for ID lookups.
//
//	conv:<convID>                          conversation state
//	msg:<convID>:<paddedNano>:<msgID>      message
//	msgref:<msgID>                         -> message key
//	exp:<msgID>                            explainability record
//	ret:<msgID>                            retrieval evidence
//	esc:<convID>:<escID>                   escalation
//	escref:<escID>                         -> escalation key
//	emerg:<convID>                         prior-emergency marker
const (
	prefixConversation = "conv:"
	prefixMessage      = "msg:"
	prefixMessageRef   = "msgref:"
	prefixExplain      = "exp:"
	prefixRetrieval    = "ret:"
	prefixEscalation   = "esc:"
	prefixEscRef       = "escref:"
	prefixEmergency    = "emerg:"
)

// Config holds configuration for the embedded database.
type Config struct {
	// Path is the directory for database files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode. Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives the database's internal logging. If nil, internal
	// logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns configuration for testing.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore implements Store on an embedded BadgerDB.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions provide the atomicity for
// AppendAssistantTurn and ResolveEscalation.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// OpenBadger opens the embedded database with the given configuration.
// Caller must call Close when done.
func OpenBadger(cfg Config) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// ===== Key helpers =====

func conversationKey(id string) []byte {
	return []byte(prefixConversation + id)
}

func messageKey(conversationID string, msg *datatypes.Message) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixMessage, conversationID, msg.CreatedAt.UnixNano(), msg.ID))
}

func messageRefKey(messageID string) []byte {
	return []byte(prefixMessageRef + messageID)
}

func explainKey(messageID string) []byte {
	return []byte(prefixExplain + messageID)
}

func retrievalKey(messageID string) []byte {
	return []byte(prefixRetrieval + messageID)
}

func escalationKey(conversationID, escalationID string) []byte {
	return []byte(prefixEscalation + conversationID + ":" + escalationID)
}

func escRefKey(escalationID string) []byte {
	return []byte(prefixEscRef + escalationID)
}

func emergencyKey(conversationID string) []byte {
	return []byte(prefixEmergency + conversationID)
}

// ===== Transaction helpers =====

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", ErrPersistence, key, err)
	}
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrPersistence, key, err)
	}
	return nil
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: get %s: %v", ErrPersistence, key, err)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return fmt.Errorf("%w: unmarshal %s: %v", ErrPersistence, key, err)
		}
		return nil
	})
}

func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	err := s.db.Update(fn)
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrPersistence) {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return err
}

func (s *BadgerStore) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	err := s.db.View(fn)
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrPersistence) {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return err
}

// ===== Conversations =====

func (s *BadgerStore) CreateConversation(ctx context.Context, conv *datatypes.Conversation) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, conversationKey(conv.ID), conv)
	})
}

func (s *BadgerStore) GetConversation(ctx context.Context, id string) (*datatypes.Conversation, error) {
	var conv datatypes.Conversation
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, conversationKey(id), &conv)
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *BadgerStore) UpdateConversation(ctx context.Context, conv *datatypes.Conversation) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var existing datatypes.Conversation
		if err := getJSON(txn, conversationKey(conv.ID), &existing); err != nil {
			return err
		}
		return setJSON(txn, conversationKey(conv.ID), conv)
	})
}

// ===== Messages =====

func writeMessage(txn *badger.Txn, conversationID string, msg *datatypes.Message) error {
	key := messageKey(conversationID, msg)
	if err := setJSON(txn, key, msg); err != nil {
		return err
	}
	if err := txn.Set(messageRefKey(msg.ID), key); err != nil {
		return fmt.Errorf("%w: set message ref: %v", ErrPersistence, err)
	}
	return nil
}

func (s *BadgerStore) AppendMessage(ctx context.Context, conversationID string, msg *datatypes.Message) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return writeMessage(txn, conversationID, msg)
	})
}

// AppendAssistantTurn writes the message, its explainability record, optional
// retrieval evidence, the conversation update, and the emergency marker in
// one transaction.
func (s *BadgerStore) AppendAssistantTurn(ctx context.Context, turn *AssistantTurn) error {
	if turn.Message == nil || turn.Explain == nil || turn.Conversation == nil {
		return fmt.Errorf("%w: incomplete assistant turn", ErrPersistence)
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		if err := writeMessage(txn, turn.Conversation.ID, turn.Message); err != nil {
			return err
		}
		if err := setJSON(txn, explainKey(turn.Message.ID), turn.Explain); err != nil {
			return err
		}
		if turn.Retrieval != nil && !turn.Retrieval.Empty() {
			if err := setJSON(txn, retrievalKey(turn.Message.ID), turn.Retrieval); err != nil {
				return err
			}
		}
		if turn.Explain.Verdict.Emergency() {
			if err := txn.Set(emergencyKey(turn.Conversation.ID), []byte{1}); err != nil {
				return fmt.Errorf("%w: set emergency marker: %v", ErrPersistence, err)
			}
		}
		return setJSON(txn, conversationKey(turn.Conversation.ID), turn.Conversation)
	})
}

func (s *BadgerStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]datatypes.Message, error) {
	var msgs []datatypes.Message
	prefix := []byte(prefixMessage + conversationID + ":")
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var msg datatypes.Message
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			})
			if err != nil {
				return fmt.Errorf("%w: decode message: %v", ErrPersistence, err)
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *BadgerStore) GetMessage(ctx context.Context, messageID string) (*datatypes.Message, error) {
	var msg datatypes.Message
	err := s.view(ctx, func(txn *badger.Txn) error {
		refItem, err := txn.Get(messageRefKey(messageID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("%w: get message ref: %v", ErrPersistence, err)
		}
		var key []byte
		if err := refItem.Value(func(val []byte) error {
			key = append([]byte{}, val...)
			return nil
		}); err != nil {
			return fmt.Errorf("%w: read message ref: %v", ErrPersistence, err)
		}
		return getJSON(txn, key, &msg)
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ===== Explainability =====

func (s *BadgerStore) GetExplainability(ctx context.Context, messageID string) (*datatypes.ExplainabilityRecord, error) {
	var rec datatypes.ExplainabilityRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, explainKey(messageID), &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BadgerStore) GetRetrieval(ctx context.Context, messageID string) (*datatypes.RetrievalResult, error) {
	var res datatypes.RetrievalResult
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, retrievalKey(messageID), &res)
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *BadgerStore) HasPriorEmergency(ctx context.Context, conversationID string) (bool, error) {
	found := false
	err := s.view(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(emergencyKey(conversationID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: get emergency marker: %v", ErrPersistence, err)
		}
		found = true
		return nil
	})
	return found, err
}

// ===== Escalations =====

func (s *BadgerStore) CreateEscalation(ctx context.Context, esc *datatypes.Escalation) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		key := escalationKey(esc.ConversationID, esc.ID)
		if err := setJSON(txn, key, esc); err != nil {
			return err
		}
		if err := txn.Set(escRefKey(esc.ID), key); err != nil {
			return fmt.Errorf("%w: set escalation ref: %v", ErrPersistence, err)
		}
		return nil
	})
}

func (s *BadgerStore) GetEscalation(ctx context.Context, id string) (*datatypes.Escalation, error) {
	var esc datatypes.Escalation
	err := s.view(ctx, func(txn *badger.Txn) error {
		return s.getEscalationTxn(txn, id, &esc)
	})
	if err != nil {
		return nil, err
	}
	return &esc, nil
}

func (s *BadgerStore) getEscalationTxn(txn *badger.Txn, id string, esc *datatypes.Escalation) error {
	refItem, err := txn.Get(escRefKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: get escalation ref: %v", ErrPersistence, err)
	}
	var key []byte
	if err := refItem.Value(func(val []byte) error {
		key = append([]byte{}, val...)
		return nil
	}); err != nil {
		return fmt.Errorf("%w: read escalation ref: %v", ErrPersistence, err)
	}
	return getJSON(txn, key, esc)
}

// ResolveEscalation marks an escalation resolved in one read-modify-write
// transaction. Already resolved escalations are returned unchanged.
func (s *BadgerStore) ResolveEscalation(ctx context.Context, id string) (*datatypes.Escalation, error) {
	var esc datatypes.Escalation
	err := s.update(ctx, func(txn *badger.Txn) error {
		if err := s.getEscalationTxn(txn, id, &esc); err != nil {
			return err
		}
		if esc.Resolved {
			return nil
		}
		now := nowUTC()
		esc.Resolved = true
		esc.ResolvedAt = &now
		return setJSON(txn, escalationKey(esc.ConversationID, esc.ID), &esc)
	})
	if err != nil {
		return nil, err
	}
	return &esc, nil
}

func (s *BadgerStore) ListEscalations(ctx context.Context, conversationID string) ([]datatypes.Escalation, error) {
	prefix := []byte(prefixEscalation)
	if conversationID != "" {
		prefix = []byte(prefixEscalation + conversationID + ":")
	}
	var escs []datatypes.Escalation
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var esc datatypes.Escalation
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &esc)
			})
			if err != nil {
				return fmt.Errorf("%w: decode escalation: %v", ErrPersistence, err)
			}
			escs = append(escs, esc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(escs, func(i, j int) bool {
		return escs[i].CreatedAt.After(escs[j].CreatedAt)
	})
	return escs, nil
}
