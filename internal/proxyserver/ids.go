package proxyserver

import "github.com/google/uuid"

// generateMessageID mints a client-visible message/incident id. Using
// uuid here (rather than a hand-rolled random-hex helper) keeps the one
// true source of randomness in the one library the rest of the pack
// already depends on for this purpose.
func generateMessageID() string {
	return "msg_" + uuid.NewString()
}
