package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cast"
)

// Hardcoded punishment ordinals. Everything >= OrdinalFirstDynamic is
// tenant-defined through settings.
const (
	OrdinalKick        = 0
	OrdinalManualMute  = 1
	OrdinalManualBan   = 2
	OrdinalSecurityBan = 3
	OrdinalLinkedBan   = 4
	OrdinalBlacklist   = 5

	OrdinalFirstDynamic = 6
)

// PermanentDuration marks a punishment with no expiry.
const PermanentDuration int64 = -1

// LinkedBanIssuer is the issuer name recorded on propagated linked bans.
const LinkedBanIssuer = "System (Linked Ban)"

// ModificationType identifies a punishment modification.
type ModificationType string

const (
	ModManualPardon         ModificationType = "MANUAL_PARDON"
	ModAppealAccept         ModificationType = "APPEAL_ACCEPT"
	ModAppealReject         ModificationType = "APPEAL_REJECT"
	ModManualDurationChange ModificationType = "MANUAL_DURATION_CHANGE"
	ModAppealDurationChange ModificationType = "APPEAL_DURATION_CHANGE"
	ModSetAltBlockingTrue   ModificationType = "SET_ALT_BLOCKING_TRUE"
	ModSetAltBlockingFalse  ModificationType = "SET_ALT_BLOCKING_FALSE"
	ModSetWipingTrue        ModificationType = "SET_WIPING_TRUE"
	ModSetWipingFalse       ModificationType = "SET_WIPING_FALSE"
)

// Pardoning reports whether the modification terminates the punishment.
func (m ModificationType) Pardoning() bool {
	return m == ModManualPardon || m == ModAppealAccept
}

// DurationChange reports whether the modification rewrites the effective duration.
func (m ModificationType) DurationChange() bool {
	return m == ModManualDurationChange || m == ModAppealDurationChange
}

// Modification is an append-only mutation of a punishment. Modifications are
// never removed; the effective state is a fold over them in issued order.
type Modification struct {
	Type              ModificationType `json:"type"`
	IssuerName        string           `json:"issuerName"`
	Issued            time.Time        `json:"issued"`
	EffectiveDuration *int64           `json:"effectiveDuration,omitempty"` // ms; <= 0 means permanent
	Reason            string           `json:"reason,omitempty"`
}

// Note is a free-form annotation. The first note of a punishment is its reason.
type Note struct {
	Text       string    `json:"text"`
	IssuerName string    `json:"issuerName"`
	Date       time.Time `json:"date"`
}

// Evidence is either a plain text reference or an uploaded file descriptor.
// Legacy records store a bare string; both shapes are accepted on read and
// the struct shape is written back.
type Evidence struct {
	Text     string `json:"text,omitempty"`
	FileURL  string `json:"fileUrl,omitempty"`
	FileName string `json:"fileName,omitempty"`
	FileType string `json:"fileType,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
}

// UnmarshalJSON accepts both the bare-string legacy shape and the object shape.
func (e *Evidence) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*e = Evidence{Text: s}
		return nil
	}
	type plain Evidence
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("evidence: %w", err)
	}
	*e = Evidence(p)
	return nil
}

// PunishmentData carries the well-known dynamic keys of a punishment plus a
// spill bag for anything the panel stored that the core does not interpret.
// Reads tolerate both the object shape and the legacy key/value-pair array;
// writes always canonicalise to the object shape.
type PunishmentData struct {
	Duration    *int64     // ms; -1 = permanent
	Expires     *time.Time // derived from started + duration on acknowledgement
	Active      *bool      // nil means "not explicitly set" (treated as active)
	Severity    string
	Status      string
	AltBlocking bool
	Wiping      bool

	WipeAfterExpiry bool
	LinkedBanID     string

	RolledBack     bool
	RollbackDate   *time.Time
	RollbackBy     string
	RollbackReason string

	ExecutedOnServer     bool
	ExecutionFailed      bool
	ExecutionError       string
	ExecutionAttemptedAt *time.Time

	Completed   bool
	CompletedAt *time.Time

	Unbanned       *time.Time
	AppealOutcome  string
	AppealTicketID string

	Extra map[string]any
}

// known data keys, in canonical spelling
const (
	dataKeyDuration             = "duration"
	dataKeyExpires              = "expires"
	dataKeyActive               = "active"
	dataKeySeverity             = "severity"
	dataKeyStatus               = "status"
	dataKeyAltBlocking          = "altBlocking"
	dataKeyWiping               = "wiping"
	dataKeyWipeAfterExpiry      = "wipeAfterExpiry"
	dataKeyLinkedBanID          = "linkedBanId"
	dataKeyRolledBack           = "rolledBack"
	dataKeyRollbackDate         = "rollbackDate"
	dataKeyRollbackBy           = "rollbackBy"
	dataKeyRollbackReason       = "rollbackReason"
	dataKeyExecutedOnServer     = "executedOnServer"
	dataKeyExecutionFailed      = "executionFailed"
	dataKeyExecutionError       = "executionError"
	dataKeyExecutionAttemptedAt = "executionAttemptedAt"
	dataKeyCompleted            = "completed"
	dataKeyCompletedAt          = "completedAt"
	dataKeyUnbanned             = "unbanned"
	dataKeyAppealOutcome        = "appealOutcome"
	dataKeyAppealTicketID       = "appealTicketId"
)

// MarshalJSON writes the canonical object shape.
func (d PunishmentData) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(d.Extra)+16)
	for k, v := range d.Extra {
		m[k] = v
	}
	if d.Duration != nil {
		m[dataKeyDuration] = *d.Duration
	}
	if d.Expires != nil {
		m[dataKeyExpires] = d.Expires.UTC().Format(time.RFC3339Nano)
	}
	if d.Active != nil {
		m[dataKeyActive] = *d.Active
	}
	if d.Severity != "" {
		m[dataKeySeverity] = d.Severity
	}
	if d.Status != "" {
		m[dataKeyStatus] = d.Status
	}
	if d.AltBlocking {
		m[dataKeyAltBlocking] = true
	}
	if d.Wiping {
		m[dataKeyWiping] = true
	}
	if d.WipeAfterExpiry {
		m[dataKeyWipeAfterExpiry] = true
	}
	if d.LinkedBanID != "" {
		m[dataKeyLinkedBanID] = d.LinkedBanID
	}
	if d.RolledBack {
		m[dataKeyRolledBack] = true
	}
	if d.RollbackDate != nil {
		m[dataKeyRollbackDate] = d.RollbackDate.UTC().Format(time.RFC3339Nano)
	}
	if d.RollbackBy != "" {
		m[dataKeyRollbackBy] = d.RollbackBy
	}
	if d.RollbackReason != "" {
		m[dataKeyRollbackReason] = d.RollbackReason
	}
	if d.ExecutedOnServer {
		m[dataKeyExecutedOnServer] = true
	}
	if d.ExecutionFailed {
		m[dataKeyExecutionFailed] = true
	}
	if d.ExecutionError != "" {
		m[dataKeyExecutionError] = d.ExecutionError
	}
	if d.ExecutionAttemptedAt != nil {
		m[dataKeyExecutionAttemptedAt] = d.ExecutionAttemptedAt.UTC().Format(time.RFC3339Nano)
	}
	if d.Completed {
		m[dataKeyCompleted] = true
	}
	if d.CompletedAt != nil {
		m[dataKeyCompletedAt] = d.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	if d.Unbanned != nil {
		m[dataKeyUnbanned] = d.Unbanned.UTC().Format(time.RFC3339Nano)
	}
	if d.AppealOutcome != "" {
		m[dataKeyAppealOutcome] = d.AppealOutcome
	}
	if d.AppealTicketID != "" {
		m[dataKeyAppealTicketID] = d.AppealTicketID
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts the object shape and the legacy exported-Map shape
// (an array of [key, value] pairs).
func (d *PunishmentData) UnmarshalJSON(b []byte) error {
	raw := map[string]any{}
	if err := json.Unmarshal(b, &raw); err != nil {
		// Legacy Map export: [["key", value], ...]
		var pairs [][2]json.RawMessage
		if err2 := json.Unmarshal(b, &pairs); err2 != nil {
			return fmt.Errorf("punishment data: %w", err)
		}
		for _, pair := range pairs {
			var key string
			if err2 := json.Unmarshal(pair[0], &key); err2 != nil {
				continue
			}
			var val any
			if err2 := json.Unmarshal(pair[1], &val); err2 != nil {
				continue
			}
			raw[key] = val
		}
	}
	*d = PunishmentData{}
	for k, v := range raw {
		switch k {
		case dataKeyDuration:
			n := cast.ToInt64(v)
			d.Duration = &n
		case dataKeyExpires:
			d.Expires = parseTimeValue(v)
		case dataKeyActive:
			a := cast.ToBool(v)
			d.Active = &a
		case dataKeySeverity:
			d.Severity = cast.ToString(v)
		case dataKeyStatus:
			d.Status = cast.ToString(v)
		case dataKeyAltBlocking:
			d.AltBlocking = cast.ToBool(v)
		case dataKeyWiping:
			d.Wiping = cast.ToBool(v)
		case dataKeyWipeAfterExpiry:
			d.WipeAfterExpiry = cast.ToBool(v)
		case dataKeyLinkedBanID:
			d.LinkedBanID = cast.ToString(v)
		case dataKeyRolledBack:
			d.RolledBack = cast.ToBool(v)
		case dataKeyRollbackDate:
			d.RollbackDate = parseTimeValue(v)
		case dataKeyRollbackBy:
			d.RollbackBy = cast.ToString(v)
		case dataKeyRollbackReason:
			d.RollbackReason = cast.ToString(v)
		case dataKeyExecutedOnServer:
			d.ExecutedOnServer = cast.ToBool(v)
		case dataKeyExecutionFailed:
			d.ExecutionFailed = cast.ToBool(v)
		case dataKeyExecutionError:
			d.ExecutionError = cast.ToString(v)
		case dataKeyExecutionAttemptedAt:
			d.ExecutionAttemptedAt = parseTimeValue(v)
		case dataKeyCompleted:
			d.Completed = cast.ToBool(v)
		case dataKeyCompletedAt:
			d.CompletedAt = parseTimeValue(v)
		case dataKeyUnbanned:
			d.Unbanned = parseTimeValue(v)
		case dataKeyAppealOutcome:
			d.AppealOutcome = cast.ToString(v)
		case dataKeyAppealTicketID:
			d.AppealTicketID = cast.ToString(v)
		default:
			if d.Extra == nil {
				d.Extra = map[string]any{}
			}
			d.Extra[k] = v
		}
	}
	return nil
}

// parseTimeValue parses a timestamp stored either as RFC3339 or as epoch
// milliseconds; legacy documents carry both.
func parseTimeValue(v any) *time.Time {
	switch val := v.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
			return &t
		}
		if t, err := time.Parse(time.RFC3339, val); err == nil {
			return &t
		}
	case float64:
		t := time.UnixMilli(int64(val)).UTC()
		return &t
	case int64:
		t := time.UnixMilli(val).UTC()
		return &t
	case json.Number:
		if n, err := val.Int64(); err == nil {
			t := time.UnixMilli(n).UTC()
			return &t
		}
	}
	return nil
}

// Punishment is owned by exactly one player aggregate. It is never deleted:
// state changes happen through appended modifications and a small set of
// data keys.
type Punishment struct {
	ID                string         `json:"id"`
	IssuerName        string         `json:"issuerName"`
	Issued            time.Time      `json:"issued"`
	Started           *time.Time     `json:"started,omitempty"`
	TypeOrdinal       int            `json:"type_ordinal"`
	Modifications     []Modification `json:"modifications"`
	Notes             []Note         `json:"notes"`
	Evidence          []Evidence     `json:"evidence,omitempty"`
	AttachedTicketIDs []string       `json:"attachedTicketIds,omitempty"`
	Data              PunishmentData `json:"data"`
}

// Reason returns the punishment reason, which is always the first note.
func (p *Punishment) Reason() string {
	if len(p.Notes) == 0 {
		return ""
	}
	return p.Notes[0].Text
}

// AddNote appends a note.
func (p *Punishment) AddNote(text, issuerName string, at time.Time) {
	p.Notes = append(p.Notes, Note{Text: text, IssuerName: issuerName, Date: at})
}

// AddModification appends a modification. Ordering by issued time is the
// caller's concern; appends normally happen in real time.
func (p *Punishment) AddModification(m Modification) {
	p.Modifications = append(p.Modifications, m)
}

// HasModification reports whether any modification of the given type exists.
func (p *Punishment) HasModification(t ModificationType) bool {
	for _, m := range p.Modifications {
		if m.Type == t {
			return true
		}
	}
	return false
}

// HasAttachedTicket reports whether the ticket id is already attached.
func (p *Punishment) HasAttachedTicket(id string) bool {
	for _, t := range p.AttachedTicketIDs {
		if t == id {
			return true
		}
	}
	return false
}
