package escrow

import "fmt"

// Status enumerates the lifecycle states of a job.
type Status uint8

const (
	StatusCreated Status = iota
	StatusAccepted
	StatusOngoing
	StatusDisputed
	StatusArbitration
	StatusCompleted
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusCreated:     "created",
	StatusAccepted:    "accepted",
	StatusOngoing:     "ongoing",
	StatusDisputed:    "disputed",
	StatusArbitration: "arbitration",
	StatusCompleted:   "completed",
	StatusCancelled:   "cancelled",
}

// transitions is the complete set of legal status edges. Anything absent is
// rejected with ErrInvalidStatus.
var transitions = map[Status][]Status{
	StatusCreated:     {StatusAccepted, StatusOngoing, StatusCancelled},
	StatusAccepted:    {StatusOngoing, StatusDisputed, StatusCompleted, StatusCancelled},
	StatusOngoing:     {StatusDisputed, StatusCompleted},
	StatusDisputed:    {StatusArbitration, StatusCompleted, StatusCancelled},
	StatusArbitration: {StatusCompleted, StatusCancelled},
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// requireStatus fails unless the job is in one of the allowed states.
func requireStatus(job *Job, allowed ...Status) error {
	for _, s := range allowed {
		if job.Status == s {
			return nil
		}
	}
	return fmt.Errorf("%w: job %d is %s", ErrInvalidStatus, job.ID, job.Status)
}

func (j *Job) transition(to Status) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: job %d cannot move from %s to %s", ErrInvalidStatus, j.ID, j.Status, to)
	}
	j.Status = to
	return nil
}
