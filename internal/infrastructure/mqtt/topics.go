package mqtt

import "strings"

// Topic roots.
const (
	// TopicPrefixBackend is the base for topics the backend itself publishes.
	TopicPrefixBackend = "silowatch"

	// TopicPrefixGateway is the base for the BLE gateway's topics.
	TopicPrefixGateway = "gateway"
)

// Topics provides builders for the topics the backend and gateway share.
//
//	topics := mqtt.Topics{}
//	topics.GatewayResponse("provisionar") // "gateway/resposta/provisionar"
type Topics struct{}

// BackendStatus is where the backend publishes its retained online/offline status.
//
// Example: silowatch/backend/status
func (Topics) BackendStatus() string {
	return TopicPrefixBackend + "/backend/status"
}

// GatewayCommand is the default single outbound command topic.
//
// Example: gateway/comando
func (Topics) GatewayCommand() string {
	return TopicPrefixGateway + "/comando"
}

// GatewayResponse is the response topic the gateway uses for one action.
//
// Example: gateway/resposta/scan
func (Topics) GatewayResponse(action string) string {
	return TopicPrefixGateway + "/resposta/" + action
}

// AllGatewayResponses matches every action's response topic.
//
// Example: gateway/resposta/#
func (Topics) AllGatewayResponses() string {
	return TopicPrefixGateway + "/resposta/#"
}

// LastSegment returns the final level of a topic, which for response topics
// is the action name.
func LastSegment(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
