package storage

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("storage: not found")

// Config configures the store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

type User struct {
	ID                      int64
	Username                string
	FirstName               string
	LastName                string
	LanguageCode            string
	IsActive                bool
	SeenCheckOnboarding     bool
	SeenSubscribeOnboarding bool
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

type Subscription struct {
	ID        int64
	UserID    int64
	Latitude  float64
	Longitude float64

	// ExpiryDate nil means the subscription never expires.
	ExpiryDate *time.Time

	// Quiet hours, half-open [MuteStart, MuteEnd), may wrap past midnight.
	MuteStart int
	MuteEnd   int

	AutoSafetyNet bool

	LastNotifiedAt *time.Time
	LastAQI        *int

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type SafetyNetSession struct {
	ID             int64
	UserID         int64
	SubscriptionID int64
	StartAQI       int
	SessionExpiry  time.Time
	CreatedAt      time.Time
}

type UserEvent struct {
	ID        int64
	UserID    int64
	EventType string
	// EventData is a JSON object ("" treated as empty).
	EventData string
	Timestamp time.Time
	SessionID string
}

type DailyUserStats struct {
	Date               time.Time
	TotalUsers         int
	NewUsers           int
	ActiveUsers        int
	ReturningUsers     int
	TotalMessages      int
	AvgMessagesPerUser float64
	AirChecks          int
	UniqueAirCheckers  int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type FeatureUsageStats struct {
	Date        time.Time
	FeatureName string
	UsageCount  int
	UniqueUsers int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type SubscriptionStats struct {
	Date                    time.Time
	NewSubscriptions        int
	CancelledSubscriptions  int
	ActiveSubscriptions     int
	TotalSubscriptions      int
	ExpiredSubscriptions    int
	ConversionRate          float64
	SubscriptionViews       int
	SubscriptionConversions int
	NotificationsSent       int
	NotificationsDelivered  int
	NotificationsFailed     int
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

type UserRetention struct {
	ID            int64
	CohortDate    time.Time
	DayNumber     int
	CohortSize    int
	RetainedUsers int
	RetentionRate float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FeatureCount is one event_type aggregate inside a day window.
type FeatureCount struct {
	Feature     string
	UsageCount  int
	UniqueUsers int
}
