package mqtt

import "fmt"

// TopicPrefix is the root of every topic this service publishes.
const TopicPrefix = "ariston"

// StatusTopic returns the retained connection status topic for a client.
// The broker publishes the Last Will there on an unclean disconnect.
//
// Example: ariston/system/ariston-bridge/status
func StatusTopic(clientID string) string {
	return fmt.Sprintf("%s/system/%s/status", TopicPrefix, clientID)
}

// AllStatusTopics returns a pattern matching the status topic of every client.
//
// Pattern: ariston/system/+/status
func AllStatusTopics() string {
	return fmt.Sprintf("%s/system/+/status", TopicPrefix)
}
