package model

import "time"

// SwapRequest is a negotiation between a requester and an item owner.
type SwapRequest struct {
	ID            int64     `json:"id"`
	ItemID        int64     `json:"itemId"`
	RequestedBy   int64     `json:"requestedBy"`
	ItemOwner     int64     `json:"itemOwner"`
	Mode          string    `json:"mode"`
	Status        string    `json:"status"`
	Message       string    `json:"message,omitempty"`
	OfferedItemID *int64    `json:"offeredItemId,omitempty"`
	PointsOffered int       `json:"pointsOffered,omitempty"`
	Response      Response  `json:"response"`
	Transaction   SwapTx    `json:"transaction"`
	Meeting       Meeting   `json:"meeting"`
	ExpiresAt     time.Time `json:"expiresAt"`
	IsActive      bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`

	// Joined fields (not always populated).
	ItemTitle        string `json:"itemTitle,omitempty"`
	OfferedItemTitle string `json:"offeredItemTitle,omitempty"`
	RequesterName    string `json:"requesterName,omitempty"`
	OwnerName        string `json:"ownerName,omitempty"`
}

// Response is the item owner's answer to a request.
type Response struct {
	Message     string     `json:"message,omitempty"`
	RespondedAt *time.Time `json:"respondedAt,omitempty"`
}

// SwapTx records what changed hands when the swap completed.
type SwapTx struct {
	PointsTransferred int        `json:"pointsTransferred"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	CompletionNotes   string     `json:"completionNotes,omitempty"`
}

// Meeting holds the optional hand-over arrangement.
type Meeting struct {
	ProposedDate *time.Time `json:"proposedDate,omitempty"`
	Location     string     `json:"location,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

// Swap modes.
const (
	ModeSwap   = "swap"
	ModePoints = "points"
)

// Swap statuses.
const (
	SwapPending   = "pending"
	SwapAccepted  = "accepted"
	SwapDeclined  = "declined"
	SwapCompleted = "completed"
	SwapCancelled = "cancelled"
)

// Swap request defaults.
const (
	DefaultSwapExpiry = 7 * 24 * time.Hour
	MaxMessageLength  = 500

	ExpiredMessage = "Request automatically declined due to expiration"
)

// ValidMode reports whether mode is a known swap mode.
func ValidMode(mode string) bool {
	return mode == ModeSwap || mode == ModePoints
}

// ValidSwapStatus reports whether status is a known swap status.
func ValidSwapStatus(status string) bool {
	switch status {
	case SwapPending, SwapAccepted, SwapDeclined, SwapCompleted, SwapCancelled:
		return true
	}
	return false
}

// EffectiveStatus is the status a request has at now. A pending request past
// its expiry is declined regardless of what is stored.
func EffectiveStatus(status string, expiresAt, now time.Time) string {
	if status == SwapPending && now.After(expiresAt) {
		return SwapDeclined
	}
	return status
}

// Expired reports whether the request is pending past its expiry.
func (s *SwapRequest) Expired(now time.Time) bool {
	return s.Status == SwapPending && now.After(s.ExpiresAt)
}

// ApplyExpiry rewrites an expired pending request as auto-declined.
// It reports whether anything changed.
func (s *SwapRequest) ApplyExpiry(now time.Time) bool {
	if !s.Expired(now) {
		return false
	}
	s.Status = SwapDeclined
	s.Response = Response{Message: ExpiredMessage, RespondedAt: &now}
	return true
}

// IsParty reports whether userID is the requester or the item owner.
func (s *SwapRequest) IsParty(userID int64) bool {
	return s.RequestedBy == userID || s.ItemOwner == userID
}

// CanRespond reports whether userID may accept or decline at now.
func (s *SwapRequest) CanRespond(userID int64, now time.Time) bool {
	return s.ItemOwner == userID && s.Status == SwapPending && !s.Expired(now)
}

// CanCancel reports whether userID may cancel the request.
func (s *SwapRequest) CanCancel(userID int64) bool {
	return s.RequestedBy == userID && (s.Status == SwapPending || s.Status == SwapAccepted)
}

// CanComplete reports whether userID may mark the request completed.
func (s *SwapRequest) CanComplete(userID int64) bool {
	return s.IsParty(userID) && s.Status == SwapAccepted
}

// SwapStats summarizes a user's swap activity.
type SwapStats struct {
	SentRequests     int           `json:"sentRequests"`
	ReceivedRequests int           `json:"receivedRequests"`
	CompletedSwaps   int           `json:"completedSwaps"`
	PendingRequests  int           `json:"pendingRequests"`
	PointsEarned     int           `json:"pointsEarned"`
	PointsSpent      int           `json:"pointsSpent"`
	RecentSwaps      []SwapRequest `json:"recentSwaps"`
}
