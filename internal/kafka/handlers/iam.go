package handlers

import (
	"encoding/json"

	"vn.io.arda/identity/internal/domain"
)

// Peers drop every cached principal of a user whose session or profile changed elsewhere.
func init() {
	Register(StreamEvents, string(domain.EventLogout), handleUserChanged)
	Register(StreamEvents, string(domain.EventPasswordChanged), handleUserChanged)
	Register(StreamEvents, string(domain.EventProfileUpdated), handleUserChanged)
}

type iamEnv struct {
	EventType string `json:"eventType"`
	EventID   string `json:"eventId"`
	TenantKey string `json:"tenantKey"`
	Payload   struct {
		UserID string `json:"userId"`
		Login  string `json:"login"`
		IP     string `json:"ip"`
		Detail string `json:"detail"`
	} `json:"payload"`
}

func parseIAMEnv(data []byte) (*iamEnv, bool) {
	var env iamEnv
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false
	}
	return &env, true
}

func handleUserChanged(data []byte) *domain.CacheCommand {
	env, ok := parseIAMEnv(data)
	if !ok || env.Payload.Login == "" {
		return nil
	}
	return &domain.CacheCommand{Action: domain.CacheEvictUser, Login: env.Payload.Login}
}
