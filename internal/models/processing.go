package models

import "time"

// ProcessingClaim marks a user as currently converting an approved request.
type ProcessingClaim struct {
	RequestID int       `json:"request_id"`
	UserID    int       `json:"user_id"`
	UserName  string    `json:"user_name"`
	StartedAt time.Time `json:"started_at"`
}

type ProcessingUser struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	StartedAt time.Time `json:"started_at"`
}

type ProcessingStatus struct {
	RequestID        int             `json:"request_id"`
	IsBeingProcessed bool            `json:"is_being_processed"`
	IsCurrentUser    bool            `json:"is_current_user"`
	ProcessingUser   *ProcessingUser `json:"processing_user,omitempty"`
}

// NewProcessingStatus builds the view of claim for caller.
func NewProcessingStatus(requestID int, claim *ProcessingClaim, callerID int) *ProcessingStatus {
	status := &ProcessingStatus{RequestID: requestID}
	if claim == nil {
		return status
	}
	status.IsBeingProcessed = true
	status.IsCurrentUser = claim.UserID == callerID
	status.ProcessingUser = &ProcessingUser{
		ID:        claim.UserID,
		Name:      claim.UserName,
		StartedAt: claim.StartedAt,
	}
	return status
}
