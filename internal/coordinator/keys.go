package coordinator

import "fmt"

// Keys are written with a per-campaign hash tag {campaignId} so every key
// for one campaign colocates on one shard in a clustered deployment
// (spec.md §3, §5 "Shared-resource policy").

func tagged(campaignID string) string {
	return "{" + campaignID + "}"
}

func LimitKey(campaignID string) string {
	return fmt.Sprintf("dialcore:%s:limit", tagged(campaignID))
}

func LeasesKey(campaignID string) string {
	return fmt.Sprintf("dialcore:%s:leases", tagged(campaignID))
}

func LeaseTokenKey(campaignID, member string) string {
	return fmt.Sprintf("dialcore:%s:lease:%s", tagged(campaignID), member)
}

func ReservedKey(campaignID string) string {
	return fmt.Sprintf("dialcore:%s:reserved", tagged(campaignID))
}

func ReservedLedgerKey(campaignID string) string {
	return fmt.Sprintf("dialcore:%s:reserved:ledger", tagged(campaignID))
}

func WaitlistKey(campaignID, priority string) string {
	return fmt.Sprintf("dialcore:%s:waitlist:%s", tagged(campaignID), priority)
}

func WaitlistMarkerKey(campaignID, jobID string) string {
	return fmt.Sprintf("dialcore:%s:waitlist:marker:%s", tagged(campaignID), jobID)
}

func WaitlistSeenKey(campaignID string) string {
	return fmt.Sprintf("dialcore:%s:waitlist:seen", tagged(campaignID))
}

func PromoteGateKey(campaignID string) string {
	return fmt.Sprintf("dialcore:%s:promote-gate", tagged(campaignID))
}

func PromoteMutexKey(campaignID string) string {
	return fmt.Sprintf("dialcore:%s:promote-mutex", tagged(campaignID))
}

func ColdStartKey(campaignID string) string {
	return fmt.Sprintf("dialcore:%s:cold-start", tagged(campaignID))
}

func PausedKey(campaignID string) string {
	return fmt.Sprintf("dialcore:%s:paused", tagged(campaignID))
}

func CircuitKey(campaignID string) string {
	return fmt.Sprintf("dialcore:%s:circuit", tagged(campaignID))
}

// SlotAvailableChannel is published to by releaseSlot so promoters woken
// on pub/sub (rather than the jittered poller) can react immediately.
func SlotAvailableChannel(campaignID string) string {
	return fmt.Sprintf("campaign:%s:slot-available", campaignID)
}

// Priority list names used as both the waitlist key suffix and the
// reservation ledger's origin tag (H/N per spec.md §3).
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"

	OriginHigh   = "H"
	OriginNormal = "N"
)
