package models

// QuotaState is the local estimate of store usage for the current quota day.
type QuotaState struct {
	ReadsUsed     int64  `json:"readsUsed"`
	WritesUsed    int64  `json:"writesUsed"`
	ReadsMax      int64  `json:"readsMax"`
	WritesMax     int64  `json:"writesMax"`
	Locked        bool   `json:"locked"`
	LockedReason  string `json:"lockedReason,omitempty"`
	LockedUntilMs int64  `json:"lockedUntilMs,omitempty"`
	Warn          bool   `json:"warn"`
	WarnUntilMs   int64  `json:"warnUntilMs,omitempty"`
}

// RemainingMs returns how long the lock still holds at nowMs; zero when unlocked.
func (q QuotaState) RemainingMs(nowMs int64) int64 {
	if !q.Locked || q.LockedUntilMs <= nowMs {
		return 0
	}
	return q.LockedUntilMs - nowMs
}

// StatusRecord is the shared lock document under system/appStatus. Counters are
// optional: absent means "keep the local estimate".
type StatusRecord struct {
	Locked      bool    `json:"locked"`
	Reason      string  `json:"reason"`
	UntilMs     int64   `json:"untilMs"`
	ReadsUsed   *int64  `json:"readsUsed,omitempty"`
	WritesUsed  *int64  `json:"writesUsed,omitempty"`
	ReadsMax    int64   `json:"readsMax,omitempty"`
	WritesMax   int64   `json:"writesMax,omitempty"`
	Warn        bool    `json:"warn"`
	WarnUntilMs int64   `json:"warnUntilMs,omitempty"`
	UpdatedAt   FlexInt `json:"updatedAt,omitempty"`
	UpdatedBy   *Actor  `json:"updatedBy,omitempty"`
}
