package db

import (
	"context"
	"time"
)

// Client is the persistent store behind the enforcement engine. All
// callers serialize writes per key through the lock registry; the client
// itself only guarantees statement-level atomicity plus the conditional
// operations below.
type Client interface {
	Close() error

	// Flood.
	GetFloodState(ctx context.Context, chatID int64) (*FloodState, error)
	SetFloodLimit(ctx context.Context, chatID int64, limit int) error
	SaveFloodState(ctx context.Context, state *FloodState) error
	GetFloodSetting(ctx context.Context, chatID int64) (*FloodSetting, error)
	SetFloodSetting(ctx context.Context, setting *FloodSetting) error

	// Warns.
	GetWarnRecord(ctx context.Context, chatID, userID int64) (*WarnRecord, error)
	SaveWarnRecord(ctx context.Context, record *WarnRecord) error
	// ResetWarnRecord zeroes the record only if its count still equals
	// expectedCount; reports whether the reset applied.
	ResetWarnRecord(ctx context.Context, chatID, userID int64, expectedCount int) (bool, error)
	GetWarnSetting(ctx context.Context, chatID int64) (*WarnSetting, error)
	SetWarnSetting(ctx context.Context, setting *WarnSetting) error
	AddWarnFilter(ctx context.Context, filter *WarnFilter) error
	RemoveWarnFilter(ctx context.Context, chatID int64, keyword string) (bool, error)
	GetWarnFilters(ctx context.Context, chatID int64) ([]*WarnFilter, error)

	// Blacklist.
	AddBlacklistTrigger(ctx context.Context, chatID int64, trigger string) error
	RemoveBlacklistTrigger(ctx context.Context, chatID int64, trigger string) (bool, error)
	GetBlacklistTriggers(ctx context.Context, chatID int64) ([]*BlacklistTrigger, error)
	GetBlacklistSetting(ctx context.Context, chatID int64) (*BlacklistSetting, error)
	SetBlacklistSetting(ctx context.Context, setting *BlacklistSetting) error

	// Verification.
	UpsertVerification(ctx context.Context, entry *VerificationEntry) error
	GetVerification(ctx context.Context, chatID, userID int64) (*VerificationEntry, error)
	// ResolvePendingVerification flips a pending entry to the given
	// terminal status; reports whether this call won the transition.
	ResolvePendingVerification(ctx context.Context, chatID, userID int64, status string) (bool, error)
	DeleteVerification(ctx context.Context, chatID, userID int64) error
	GetPendingVerifications(ctx context.Context, before time.Time) ([]*VerificationEntry, error)

	// Chat settings and misc.
	GetChatSettings(ctx context.Context, chatID int64) (*ChatSettings, error)
	SetChatSettings(ctx context.Context, settings *ChatSettings) error
	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key string, value string) error

	// MigrateChat re-keys every per-chat entity from oldID to newID in a
	// single transaction.
	MigrateChat(ctx context.Context, oldID, newID int64) error
}
