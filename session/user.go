package session

import (
	"strings"
	"time"
)

// Default field values applied during normalization.
const (
	defaultRole         = "user"
	defaultSubscription = "free"
)

// UserProfile is the client-side view of the current user. It mirrors the
// backend's user record and may be stale until the next successful fetch or
// refresh.
type UserProfile struct {
	ID                  string   `json:"userId"`
	Username            string   `json:"username"`
	Email               string   `json:"email"`
	DateRegistered      string   `json:"dateRegistered"`
	Role                string   `json:"role"`
	SubscriptionType    string   `json:"subscriptionType"`
	TotalDuels          int      `json:"totalDuels"`
	DuelsWon            int      `json:"duelsWon"`
	DuelsLost           int      `json:"duelsLost"`
	CurrentLosingStreak int      `json:"currentLosingStreak"`
	LongestLosingStreak int      `json:"longestLosingStreak"`
	TotalStudyTime      int64    `json:"totalStudyTime"`
	Permissions         []string `json:"permissions"`
	OAuthProvider       *string  `json:"oauthProvider"`
	IsOAuthUser         bool     `json:"isOauthUser"`
	PreferredCourseID   *string  `json:"preferredCourseId"`
}

// NormalizeUser maps a loosely-typed backend payload into a UserProfile.
// Every fallback default lives here and nowhere else: a missing username is
// derived from the email's local part, role and subscription get their
// defaults, counters default to zero, permissions to an empty list.
func NormalizeUser(payload map[string]any) UserProfile {
	email := stringField(payload, "email")

	username := stringField(payload, "username")
	if username == "" {
		username = usernameFromEmail(email)
	}

	role := stringField(payload, "role")
	if role == "" {
		role = defaultRole
	}

	subscription := stringField(payload, "subscriptionType")
	if subscription == "" {
		subscription = defaultSubscription
	}

	registered := stringField(payload, "dateRegistered")
	if registered == "" {
		registered = time.Now().UTC().Format(time.RFC3339)
	}

	provider := optionalStringField(payload, "oauthProvider")
	isOAuth, _ := payload["isOauthUser"].(bool)
	if provider != nil {
		isOAuth = true
	}

	return UserProfile{
		ID:                  stringField(payload, "userId", "id"),
		Username:            username,
		Email:               email,
		DateRegistered:      registered,
		Role:                role,
		SubscriptionType:    subscription,
		TotalDuels:          intField(payload, "totalDuels"),
		DuelsWon:            intField(payload, "duelsWon"),
		DuelsLost:           intField(payload, "duelsLost"),
		CurrentLosingStreak: intField(payload, "currentLosingStreak"),
		LongestLosingStreak: intField(payload, "longestLosingStreak"),
		TotalStudyTime:      int64(intField(payload, "totalStudyTime")),
		Permissions:         stringSliceField(payload, "permissions"),
		OAuthProvider:       provider,
		IsOAuthUser:         isOAuth,
		PreferredCourseID:   optionalStringField(payload, "preferredCourseId"),
	}
}

// usernameFromEmail derives a display name from the email's local part.
func usernameFromEmail(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}

// stringField returns the first non-empty string among the given keys.
func stringField(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func optionalStringField(payload map[string]any, key string) *string {
	if v, ok := payload[key].(string); ok && v != "" {
		return &v
	}
	return nil
}

// intField tolerates the numeric shapes JSON decoding produces.
func intField(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func stringSliceField(payload map[string]any, key string) []string {
	out := []string{}
	switch v := payload[key].(type) {
	case []string:
		return append(out, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}
