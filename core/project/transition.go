package project

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/loyalty"
	"github.com/trezcool/roofest/core/user"
)

var (
	ErrInvalidStatus = core.NewValidationError(
		errors.New("invalid estimate status"),
		core.FieldError{Field: "status", Error: "status must be a known estimate status"},
	)
	ErrForbidden = core.NewForbiddenError("you are not allowed to change this project to that status")
)

// TransitionError reports a status change the actor's role does not allow.
type TransitionError struct {
	From   Status
	To     Status
	Role   string
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("role %q cannot move a project from %q to %q", e.Role, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrForbidden || target == core.ErrForbidden
}

// Targets each role may move a project to; admins may move to any status.
var roleTargets = map[string]map[Status]bool{
	user.RoleEstimator: {
		StatusAssigned:       true,
		StatusInProgress:     true,
		StatusAwaitingReview: true,
		StatusCompleted:      true,
		StatusHold:           true,
	},
	user.RoleUser: {
		StatusRequested: true,
		StatusCancelled: true,
	},
}

// AllowedTargets lists the statuses `actor` may request for `p`.
func AllowedTargets(p Project, actor Actor) []Status {
	allowed := make([]Status, 0, len(Statuses))
	for _, st := range Statuses {
		if checkPermission(p, st, actor) == nil {
			allowed = append(allowed, st)
		}
	}
	return allowed
}

func checkPermission(p Project, to Status, actor Actor) error {
	denied := func(reason string) error {
		return &TransitionError{From: p.EstimateStatus, To: to, Role: actor.Role, Reason: reason}
	}

	switch actor.Role {
	case user.RoleAdmin:
		return nil
	case user.RoleEstimator:
		if !roleTargets[actor.Role][to] {
			return denied("")
		}
		return nil
	case user.RoleUser:
		if actor.ClientID == "" || actor.ClientID != p.ClientID {
			return denied("the project belongs to another client")
		}
		if p.EstimateStatus == StatusSent {
			return denied("the estimate has already been sent")
		}
		if !roleTargets[actor.Role][to] {
			return denied("")
		}
		return nil
	default:
		return denied("unknown role")
	}
}

// Effects describes what a transition did beyond the field updates.
type Effects struct {
	From       Status `json:"from"`
	Requested  Status `json:"requested"`
	To         Status `json:"to"` // applied status; differs from Requested when redirected
	Redirected bool   `json:"redirected"`
	// SnapshotCaptured is false on Sent -> Sent, where the existing snapshot is kept.
	SnapshotCaptured bool `json:"snapshotCaptured"`
	// EstimateSent means the client should be notified.
	EstimateSent bool `json:"estimateSent"`
}

// Env is what a transition reads besides the project itself.
type Env struct {
	Now      time.Time
	Client   loyalty.Client
	Capturer *Capturer
}

// Transition applies a status change to `p` and returns the updated project. `p` is not mutated.
//
// Estimators asking for "Estimate Completed" are redirected to "Awaiting Review".
// Moving to Sent appends a timestamp to EstimateSent, sets DateCompleted to the client-local
// date and captures the pricing snapshot; Sent -> Sent keeps the existing snapshot and completion date.
// Any other target clears DateCompleted and the snapshot.
func Transition(p Project, to Status, actor Actor, env Env) (Project, Effects, error) {
	if !to.IsValid() {
		return Project{}, Effects{}, ErrInvalidStatus
	}
	if err := checkPermission(p, to, actor); err != nil {
		return Project{}, Effects{}, err
	}

	eff := Effects{From: p.EstimateStatus, Requested: to, To: to}
	if actor.Role == user.RoleEstimator && to == StatusCompleted {
		eff.To = StatusAwaitingReview
		eff.Redirected = true
	}

	next := p
	next.EstimateSent = append(make([]time.Time, 0, len(p.EstimateSent)+1), p.EstimateSent...)
	next.EstimateStatus = eff.To

	if eff.To == StatusSent {
		if p.EstimateStatus != StatusSent || p.PricingSnapshot == nil {
			snap, err := env.Capturer.Capture(p, env.Client, env.Now)
			if err != nil {
				return Project{}, Effects{}, err
			}
			next.PricingSnapshot = snap
			eff.SnapshotCaptured = true
		}
		next.EstimateSent = append(next.EstimateSent, env.Now.UTC())
		// a resend keeps the date of the send that froze the snapshot
		if eff.SnapshotCaptured || next.DateCompleted == "" {
			next.DateCompleted = env.Client.LocalDate(env.Now)
		}
		eff.EstimateSent = true
		return next, eff, nil
	}

	next.PricingSnapshot = nil
	next.DateCompleted = ""
	return next, eff, nil
}
