package analytics

// Event types written to the user_events log. The archiver groups by these
// names verbatim, so they are part of the stored data contract: renaming one
// breaks historical aggregation.
const (
	EventUserRegistered        = "user_registered"
	EventCheckAir              = "check_air_clicked"
	EventSubscriptionPrompt    = "subscription_prompt"
	EventSubscriptionCreated   = "subscription_created"
	EventSubscriptionCancelled = "subscription_cancelled"
	EventSubscriptionExpired   = "subscription_expired"
	EventNotificationSent      = "notification_sent"
	EventNotificationFailed    = "notification_failed"
	EventSafetyNetAlert        = "safety_net_alert"
)
