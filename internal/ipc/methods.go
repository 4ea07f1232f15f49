package ipc

// Request methods.
const (
	MethodPing     = "ping"
	MethodShutdown = "shutdown"

	MethodAuthStart         = "auth.start"
	MethodAuthCallback      = "auth.callback"
	MethodAuthLogout        = "auth.logout"
	MethodAuthGetAccounts   = "auth.get_accounts"
	MethodAuthSwitchAccount = "auth.switch_account"
	MethodAuthDeleteAccount = "auth.delete_account"
	MethodAuthSetDefault    = "auth.set_default"

	MethodSettingsGet    = "settings.get"
	MethodSettingsSet    = "settings.set"
	MethodSettingsGetAll = "settings.get_all"
	MethodSettingsDelete = "settings.delete"

	MethodTimelineGet         = "timeline.get"
	MethodTimelineStreamStart = "timeline.stream.start"
	MethodTimelineStreamStop  = "timeline.stream.stop"

	MethodPostCreate      = "post.create"
	MethodPostBoost       = "post.boost"
	MethodPostUnboost     = "post.unboost"
	MethodPostFavourite   = "post.favourite"
	MethodPostUnfavourite = "post.unfavourite"

	MethodNotificationsGet     = "notifications.get"
	MethodNotificationsClear   = "notifications.clear"
	MethodNotificationsDismiss = "notifications.dismiss"

	MethodMediaUpload = "media.upload"
	MethodInstanceGet = "instance.get"
)

// Event names.
const (
	EventNewPost            = "event.new_post"
	EventPostUpdated        = "event.post_updated"
	EventPostDeleted        = "event.post_deleted"
	EventNewNotification    = "event.new_notification"
	EventStreamConnected    = "event.stream_connected"
	EventStreamDisconnected = "event.stream_disconnected"
	EventRateLimitWarning   = "event.rate_limit_warning"
	EventError              = "event.error"
)
