// Package policy decides which workflow actions a caller may perform on a request.
package policy

import (
	"fmt"

	"github.com/noah-isme/univ-portal-api/internal/models"
	appErrors "github.com/noah-isme/univ-portal-api/pkg/errors"
)

// Action names a gated workflow operation.
type Action string

const (
	ActionView                 Action = "VIEW"
	ActionChangeStatus         Action = "CHANGE_STATUS"
	ActionAssignDepartment     Action = "ASSIGN_DEPARTMENT"
	ActionAssignToMe           Action = "ASSIGN_TO_ME"
	ActionAssignLeadership     Action = "ASSIGN_LEADERSHIP"
	ActionSubmitResolution     Action = "SUBMIT_RESOLUTION"
	ActionScheduleVisit        Action = "SCHEDULE_VISIT"
	ActionAcceptVisit          Action = "ACCEPT_VISIT"
	ActionRequestReschedule    Action = "REQUEST_RESCHEDULE"
	ActionCompleteVisit        Action = "COMPLETE_VISIT"
	ActionRate                 Action = "RATE"
	ActionReactivate           Action = "REACTIVATE"
	ActionConvertToComplaint   Action = "CONVERT_TO_COMPLAINT"
	ActionLinkRelated          Action = "LINK_RELATED"
	ActionDelete               Action = "DELETE"
	ActionAttachRequestFile    Action = "ATTACH_REQUEST_FILE"
	ActionAttachResolutionFile Action = "ATTACH_RESOLUTION_FILE"
)

// Snapshot is the state a decision is made against. Visit is nil when none is scheduled.
type Snapshot struct {
	Request *models.Request
	Visit   *models.Visit
}

// Gate answers allow or deny for an action. Implementations must not mutate the snapshot.
type Gate interface {
	Authorize(session models.Session, action Action, snap Snapshot) error
	Allowed(session models.Session, snap Snapshot) []Action
}

var (
	staffRoles = []models.UserRole{models.RoleEmployee, models.RoleAdmin, models.RoleSuperAdmin}
	adminRoles = []models.UserRole{models.RoleAdmin, models.RoleSuperAdmin}
)

type rule struct {
	// roles grants the action to any listed role. ownerOnly grants it to the submitter instead.
	roles     []models.UserRole
	ownerOnly bool
	// state must hold for the snapshot; nil means any state.
	state  func(Snapshot) bool
	reason string
}

// RoleGate is the capability table used by every workflow service.
type RoleGate struct {
	rules map[Action]rule
	order []Action
}

// NewRoleGate builds the gate with the portal's rule table.
func NewRoleGate() *RoleGate {
	g := &RoleGate{rules: make(map[Action]rule)}

	g.add(ActionView, rule{roles: staffRoles})
	g.add(ActionChangeStatus, rule{roles: adminRoles})
	g.add(ActionAssignDepartment, rule{
		roles:  adminRoles,
		state:  func(s Snapshot) bool { return notVisit(s) && departmentEditable(s.Request.Status) },
		reason: "department can only change on inquiries and complaints before a reply",
	})
	g.add(ActionAssignToMe, rule{
		roles:  []models.UserRole{models.RoleEmployee},
		state:  func(s Snapshot) bool { return s.Request.AssignedToUserID == nil },
		reason: "request already has an assignee",
	})
	g.add(ActionAssignLeadership, rule{
		roles: staffRoles,
		state: func(s Snapshot) bool {
			return isVisit(s) && s.Request.Status.Open() && !visitIn(s, models.VisitStatusAccepted, models.VisitStatusCompleted)
		},
		reason: "leadership is fixed once the visit is accepted",
	})
	g.add(ActionSubmitResolution, rule{
		roles:  staffRoles,
		state:  func(s Snapshot) bool { return notVisit(s) && s.Request.Status.Open() },
		reason: "resolutions apply to open inquiries and complaints",
	})
	g.add(ActionScheduleVisit, rule{
		roles: staffRoles,
		state: func(s Snapshot) bool {
			return isVisit(s) && s.Request.Status.Open() && !visitIn(s, models.VisitStatusAccepted, models.VisitStatusCompleted)
		},
		reason: "visit can no longer be rescheduled",
	})
	g.add(ActionCompleteVisit, rule{
		roles: staffRoles,
		state: func(s Snapshot) bool {
			return isVisit(s) && s.Request.Status == models.RequestStatusReplied &&
				visitIn(s, models.VisitStatusAccepted, models.VisitStatusScheduled)
		},
		reason: "visit is not in a completable state",
	})
	g.add(ActionAcceptVisit, rule{
		ownerOnly: true,
		state: func(s Snapshot) bool {
			return s.Request.Status == models.RequestStatusReplied && visitIn(s, models.VisitStatusScheduled)
		},
		reason: "only a scheduled visit can be accepted",
	})
	g.add(ActionRequestReschedule, rule{
		ownerOnly: true,
		state: func(s Snapshot) bool {
			return s.Request.Status == models.RequestStatusReplied &&
				visitIn(s, models.VisitStatusScheduled, models.VisitStatusAccepted)
		},
		reason: "visit cannot be rescheduled in its current state",
	})
	g.add(ActionRate, rule{
		ownerOnly: true,
		state: func(s Snapshot) bool {
			if s.Request.Status != models.RequestStatusReplied {
				return false
			}
			return notVisit(s) || visitIn(s, models.VisitStatusAccepted)
		},
		reason: "only replied requests can be rated",
	})
	g.add(ActionReactivate, rule{
		ownerOnly: true,
		state: func(s Snapshot) bool {
			return s.Request.Status == models.RequestStatusClosed && !s.Request.RedirectToNewRequest
		},
		reason: "only closed requests without a successor can be reactivated",
	})
	g.add(ActionConvertToComplaint, rule{
		roles:  staffRoles,
		state:  func(s Snapshot) bool { return isVisit(s) && s.Request.Status.Open() },
		reason: "only open visit requests can be converted",
	})
	g.add(ActionLinkRelated, rule{
		roles:  staffRoles,
		state:  func(s Snapshot) bool { return isVisit(s) && !s.Request.RedirectToNewRequest },
		reason: "only visit requests can link a related complaint",
	})
	g.add(ActionDelete, rule{roles: []models.UserRole{models.RoleSuperAdmin}})
	g.add(ActionAttachRequestFile, rule{
		ownerOnly: true,
		state:     func(s Snapshot) bool { return s.Request.Status.Open() },
		reason:    "closed requests accept no new files",
	})
	g.add(ActionAttachResolutionFile, rule{
		roles:  staffRoles,
		state:  func(s Snapshot) bool { return s.Request.Status.Open() },
		reason: "closed requests accept no new files",
	})
	return g
}

func (g *RoleGate) add(action Action, r rule) {
	g.rules[action] = r
	g.order = append(g.order, action)
}

// Authorize returns nil when session may perform action, otherwise a FORBIDDEN error.
func (g *RoleGate) Authorize(session models.Session, action Action, snap Snapshot) error {
	r, ok := g.rules[action]
	if !ok {
		return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("unknown action %s", action))
	}
	if snap.Request == nil {
		return appErrors.Clone(appErrors.ErrForbidden, "request snapshot required")
	}
	if !g.permits(r, session, action, snap) {
		return appErrors.Clone(appErrors.ErrForbidden, "you are not allowed to perform this action")
	}
	if r.state != nil && !r.state(snap) {
		return appErrors.Clone(appErrors.ErrForbidden, r.reason)
	}
	return nil
}

// Allowed lists every action session may perform right now, in table order.
func (g *RoleGate) Allowed(session models.Session, snap Snapshot) []Action {
	out := make([]Action, 0, len(g.order))
	for _, action := range g.order {
		if g.Authorize(session, action, snap) == nil {
			out = append(out, action)
		}
	}
	return out
}

func (g *RoleGate) permits(r rule, session models.Session, action Action, snap Snapshot) bool {
	if session.UserID == "" {
		return false
	}
	owner := snap.Request.IsOwnedBy(session.UserID)
	if action == ActionView && owner {
		return true
	}
	if r.ownerOnly {
		return owner
	}
	return session.HasRole(r.roles...)
}

func isVisit(s Snapshot) bool  { return s.Request.Type == models.RequestTypeVisit }
func notVisit(s Snapshot) bool { return s.Request.Type != models.RequestTypeVisit }

func departmentEditable(status models.RequestStatus) bool {
	switch status {
	case models.RequestStatusReceived, models.RequestStatusUnderReview:
		return true
	case models.RequestStatusReplied, models.RequestStatusClosed:
		return false
	}
	return false
}

func visitIn(s Snapshot, statuses ...models.VisitStatus) bool {
	if s.Visit == nil {
		return false
	}
	for _, st := range statuses {
		if s.Visit.Status == st {
			return true
		}
	}
	return false
}
