package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRequestStatusOrdering(t *testing.T) {
	require.Less(t, RequestStatusReceived.Rank(), RequestStatusUnderReview.Rank())
	require.Less(t, RequestStatusUnderReview.Rank(), RequestStatusReplied.Rank())
	require.Less(t, RequestStatusReplied.Rank(), RequestStatusClosed.Rank())
	require.False(t, RequestStatus("ARCHIVED").Valid())
	require.False(t, RequestStatusClosed.Open())

	_, err := ParseRequestStatus("PENDING")
	require.Error(t, err)
	status, err := ParseRequestStatus("REPLIED")
	require.NoError(t, err)
	require.Equal(t, RequestStatusReplied, status)
}

func TestRequestPatchApply(t *testing.T) {
	dept := "dept-1"
	related := "req-9"
	req := &Request{Status: RequestStatusReceived, AssignedDepartmentID: &dept, RelatedRequestID: &related}

	status := RequestStatusUnderReview
	now := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	newDept := "dept-2"
	redirect := true
	patch := RequestPatch{Status: &status, AssignedDepartmentID: &newDept, RedirectToNewRequest: &redirect, UpdatedAt: now}
	require.False(t, patch.Empty())
	patch.Apply(req)

	require.Equal(t, RequestStatusUnderReview, req.Status)
	require.Equal(t, "dept-2", *req.AssignedDepartmentID)
	require.True(t, req.RedirectToNewRequest)
	require.Equal(t, now, req.UpdatedAt)

	newDept = "mutated"
	require.Equal(t, "dept-2", *req.AssignedDepartmentID)

	RequestPatch{ClearDepartment: true, AssignedDepartmentID: &newDept, ClearRelatedRequest: true}.Apply(req)
	require.Nil(t, req.AssignedDepartmentID)
	require.Nil(t, req.RelatedRequestID)

	require.True(t, RequestPatch{UpdatedAt: now}.Empty())
}

func TestSessionRoles(t *testing.T) {
	claims := &JWTClaims{UserID: "u-1", Roles: []UserRole{RoleUser, "JANITOR", RoleEmployee}}
	session := claims.Session()
	require.Equal(t, []UserRole{RoleUser, RoleEmployee}, session.Roles)
	require.True(t, session.IsStaff())
	require.False(t, session.HasRole(RoleAdmin, RoleSuperAdmin))

	require.False(t, Session{Roles: []UserRole{RoleUser}}.IsStaff())
	require.Equal(t, "VST", RequestTypeVisit.NumberPrefix())
	require.True(t, (&Request{UserID: "u-1"}).IsOwnedBy("u-1"))
	require.False(t, (&Request{UserID: "u-1"}).IsOwnedBy(""))
}
