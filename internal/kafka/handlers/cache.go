package handlers

import (
	"encoding/json"

	"vn.io.arda/identity/internal/domain"
)

func init() {
	RegisterDirect(StreamCommands, handleCacheCommand)
}

func handleCacheCommand(data []byte) *domain.CacheCommand {
	var cmd struct {
		CommandID string `json:"commandId"`
		Action    string `json:"action"`
		Login     string `json:"login"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil
	}

	switch action := domain.CacheAction(cmd.Action); action {
	case domain.CacheClear:
		return &domain.CacheCommand{Action: action}
	case domain.CacheEvictUser:
		if cmd.Login == "" {
			return nil
		}
		return &domain.CacheCommand{Action: action, Login: cmd.Login}
	default:
		return nil
	}
}
