package contracts

// Client-to-server events. Each one is answered with an ack frame.
const (
	EventDriverLocation    = "driver_location"
	EventPassengerLocation = "passenger_location"
	EventChat              = "chat"
	EventDriverReply       = "driver_reply"
	EventPassengerReply    = "passenger_reply"
)

// Server-to-client events.
const (
	EventNotification    = "notification"
	EventNewNotification = "new_notification"
	EventBroadcast       = "broadcast"
	EventRouteUpdates    = "route_updates"
)

// Control frames.
const (
	FrameAuth        = "auth"
	FrameAuthSuccess = "auth_success"
	FrameAuthError   = "auth_error"
	FrameAck         = "ack"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameError       = "error"
)

// Exchanges
const (
	ExchangeRelayFanout = "relay_fanout"
)

// Queues
const (
	QueueRelayInstancePrefix = "relay_instance." // {instance_id}
)

// Topics
const (
	TopicRoutePrefix = "route:" // {route_id}
)

// RouteTopic returns the subscription topic for a route.
func RouteTopic(routeID string) string {
	return TopicRoutePrefix + routeID
}

// IsLocationEvent reports whether name carries a LocationPayload.
func IsLocationEvent(name string) bool {
	return name == EventDriverLocation || name == EventPassengerLocation
}

// IsReplyEvent reports whether name carries a ReplyPayload.
func IsReplyEvent(name string) bool {
	switch name {
	case EventChat, EventDriverReply, EventPassengerReply:
		return true
	default:
		return false
	}
}

// IsNotificationEvent reports whether name carries a NotificationPayload.
func IsNotificationEvent(name string) bool {
	switch name {
	case EventNotification, EventNewNotification, EventBroadcast:
		return true
	default:
		return false
	}
}
