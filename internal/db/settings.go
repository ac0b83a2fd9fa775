package db

// Defaults applied when a chat has no stored row. They mirror the
// engine's documented fallbacks: flooding is punished with a permanent
// ban, blacklisted phrases are deleted, three warns escalate.

func DefaultFloodSetting(chatID int64) *FloodSetting {
	return &FloodSetting{ChatID: chatID, Mode: ActionBan, Duration: ""}
}

func DefaultWarnSetting(chatID int64) *WarnSetting {
	return &WarnSetting{ChatID: chatID, Limit: 3, Soft: false}
}

func DefaultBlacklistSetting(chatID int64) *BlacklistSetting {
	return &BlacklistSetting{ChatID: chatID, Mode: ActionDelete, Duration: ""}
}

func DefaultChatSettings(chatID int64) *ChatSettings {
	return &ChatSettings{
		ChatID:           chatID,
		VerificationMode: VerificationModeStrong,
		Language:         "en",
	}
}
