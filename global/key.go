package global

import "strings"

// Routing keys partition connections into broadcast audiences. A connection
// joined to key K receives exactly the traffic addressed to K.

const (
	ChatTypeClassGroup   = "classgroup"
	ChatTypeChannelGroup = "channelgroup"
	ChatTypePrivate      = "private"
	ChatTypeSystem       = "systemchat"
	ChatTypeRole         = "role"
)

// Process roles for the two front ends sharing the fast store.
const (
	ProcessMobile = "mobile"
	ProcessWeb    = "web"
)

func ClassGroupKey(groupID string) string { return "ClassGroup_" + groupID }

func ChannelGroupKey(channelID string) string { return "ChannelGroup_" + channelID }

// PrivateKey orders the pair so both participants compute the same key.
func PrivateKey(userA, userB string) string {
	lo, hi := userA, userB
	if hi < lo {
		lo, hi = hi, lo
	}
	return "private_" + lo + "_" + hi
}

func SystemChatKey(userID string) string { return "systemchat_" + userID }

func RoleKey(roleName string) string { return "role_" + roleName }

// BridgeGroupKey is the relay group every instance of the given process
// role joins. Events are mirrored here for the companion process.
func BridgeGroupKey(processRole string) string { return "bridge_" + processRole }

// BridgeConsumerGroup names the Kafka consumer group for one gateway
// instance. Each instance keeps its own group so mirrored events reach
// every instance of a role instead of load-balancing across them.
func BridgeConsumerGroup(processRole, gatewayID string) string {
	return "prelay-bridge-" + processRole + "-" + gatewayID
}

// CompanionRole returns the other front-end process.
func CompanionRole(processRole string) string {
	if processRole == ProcessMobile {
		return ProcessWeb
	}
	return ProcessMobile
}

// ParseRoutingKey inverts the key naming scheme. For private keys the id
// returned is the participant other than viewerID.
func ParseRoutingKey(key, viewerID string) (chatType, id string, ok bool) {
	switch {
	case strings.HasPrefix(key, "ClassGroup_"):
		return ChatTypeClassGroup, strings.TrimPrefix(key, "ClassGroup_"), true
	case strings.HasPrefix(key, "ChannelGroup_"):
		return ChatTypeChannelGroup, strings.TrimPrefix(key, "ChannelGroup_"), true
	case strings.HasPrefix(key, "systemchat_"):
		return ChatTypeSystem, strings.TrimPrefix(key, "systemchat_"), true
	case strings.HasPrefix(key, "role_"):
		return ChatTypeRole, strings.TrimPrefix(key, "role_"), true
	case strings.HasPrefix(key, "private_"):
		// ids may themselves contain underscores, so anchor on the viewer
		rest := strings.TrimPrefix(key, "private_")
		switch {
		case strings.HasPrefix(rest, viewerID+"_"):
			return ChatTypePrivate, strings.TrimPrefix(rest, viewerID+"_"), true
		case strings.HasSuffix(rest, "_"+viewerID):
			return ChatTypePrivate, strings.TrimSuffix(rest, "_"+viewerID), true
		default:
			return "", "", false
		}
	default:
		return "", "", false
	}
}

// RoutingKeyFor derives the canonical key from (chatType, chatID). Private
// chats must use PrivateKey directly since they need both participants.
func RoutingKeyFor(chatType, chatID string) string {
	switch chatType {
	case ChatTypeClassGroup:
		return ClassGroupKey(chatID)
	case ChatTypeChannelGroup:
		return ChannelGroupKey(chatID)
	case ChatTypeSystem:
		return SystemChatKey(chatID)
	case ChatTypeRole:
		return RoleKey(chatID)
	default:
		return ""
	}
}
