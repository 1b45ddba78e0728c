package domain

type OffenceKind string

const (
	OffenceRejectedValidAction       OffenceKind = "rejected_valid_action"
	OffenceApprovedInvalidAction     OffenceKind = "approved_invalid_action"
	OffenceInvalidSignatureSubmitted OffenceKind = "invalid_signature_submitted"
	OffenceCreatedInvalidRoot        OffenceKind = "created_invalid_root"
)

// Offence is a classified misbehaviour forwarded to the slashing collaborator.
type Offence struct {
	ID         string      `json:"id"`
	Kind       OffenceKind `json:"kind"`
	ActionID   ActionID    `json:"action_id"`
	Offenders  []AccountID `json:"offenders"`
	ReportedAt uint64      `json:"reported_at"`
}
