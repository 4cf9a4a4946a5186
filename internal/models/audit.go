package models

import "time"

// Audit kinds group entries by the area they touch.
const (
	AuditKindAuth      = "auth"
	AuditKindCandidate = "candidate"
	AuditKindConfig    = "config"
	AuditKindQuestion  = "question"
	AuditKindSystem    = "system"
)

// Audit actions.
const (
	AuditActionSignIn       = "sign-in"
	AuditActionSignOut      = "sign-out"
	AuditActionCreate       = "create"
	AuditActionUpdate       = "update"
	AuditActionDelete       = "delete"
	AuditActionSeedDefaults = "seed-defaults"
	AuditActionQuotaLock    = "quota-lock"
)

// AuditEntry is an append-only record of a user-visible action.
type AuditEntry struct {
	ID            string                 `json:"id"`
	Time          time.Time              `json:"time"`
	Actor         string                 `json:"actor"`
	ActorUID      string                 `json:"actorUid,omitempty"`
	ActorEmail    string                 `json:"actorEmail,omitempty"`
	ActorUsername string                 `json:"actorUsername,omitempty"`
	ActorRole     Role                   `json:"actorRole,omitempty"`
	Kind          string                 `json:"kind"`
	Action        string                 `json:"action"`
	Details       map[string]interface{} `json:"details,omitempty"`
	ClientTime    string                 `json:"clientTime,omitempty"`
}

// AuditDocument is the stored shape of a remote audit entry.
type AuditDocument struct {
	Kind          string                 `json:"kind"`
	Action        string                 `json:"action"`
	Details       map[string]interface{} `json:"details"`
	ActorUID      string                 `json:"actorUid"`
	ActorEmail    string                 `json:"actorEmail"`
	ActorUsername string                 `json:"actorUsername"`
	ActorRole     string                 `json:"actorRole"`
	TS            FlexInt                `json:"ts"`
	ClientTime    string                 `json:"clientTime"`
}
