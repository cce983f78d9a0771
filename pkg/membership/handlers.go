// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package membership

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/canonical/membership-service/internal/logging"
	"github.com/canonical/membership-service/internal/monitoring"
	"github.com/canonical/membership-service/internal/tracing"
	"github.com/canonical/membership-service/internal/types"
	"github.com/canonical/membership-service/pkg/authentication"
)

type createOrganizationRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type updateOrganizationRequest struct {
	Name    string `json:"name" validate:"required,max=100"`
	LogoURL string `json:"logoUrl" validate:"omitempty,url"`
}

type updateRoleRequest struct {
	Role types.Role `json:"role" validate:"required"`
}

type transferOwnershipRequest struct {
	UserID string `json:"userId" validate:"required"`
}

type onboardingRequest struct {
	Organization string          `json:"organization" validate:"required,max=100"`
	Invites      []InviteRequest `json:"invites"`
}

type organizationsResponse struct {
	Organizations []*types.UserOrganization `json:"organizations"`
	Selected      string                    `json:"selectedOrganizationId,omitempty"`
}

type invitesResponse struct {
	Invites []*types.Invite `json:"invites"`
}

type membersResponse struct {
	Members []types.Membership `json:"members"`
}

type acceptInviteResponse struct {
	Success        bool   `json:"success"`
	OrganizationID string `json:"organizationId"`
}

type onboardingResponse struct {
	Success   bool   `json:"success"`
	ReturnURL string `json:"returnUrl"`
}

// API serves the session authenticated endpoints. It expects the caller to
// mount it behind CSRF protection and the session middleware.
type API struct {
	service     ServiceInterface
	cookie      *SelectorCookie
	appHomePath string
	validate    *validator.Validate

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (a *API) RegisterEndpoints(mux chi.Router) {
	mux.Get("/organizations", a.handleListOrganizations)
	mux.Post("/organizations", a.handleCreateOrganization)
	mux.Patch("/organizations/{id}", a.handleUpdateOrganization)
	mux.Post("/organizations/{id}/select", a.handleSelectOrganization)
	mux.Post("/organizations/{id}/delete", a.handleDeleteOrganization)
	mux.Post("/organizations/{id}/leave", a.handleLeaveOrganization)
	mux.Post("/organizations/{id}/invite", a.handleInviteMembers)
	mux.Get("/organizations/{id}/invites", a.handleListInvites)
	mux.Delete("/organizations/{id}/invites/{code}", a.handleRevokeInvite)
	mux.Get("/organizations/{id}/members", a.handleListMembers)
	mux.Put("/organizations/{id}/members/{userId}/role", a.handleUpdateMemberRole)
	mux.Delete("/organizations/{id}/members/{userId}", a.handleRemoveMember)
	mux.Post("/organizations/{id}/transfer-ownership", a.handleTransferOwnership)
	mux.Post("/invites/{code}/accept", a.handleAcceptInvite)
	mux.Post("/onboarding", a.handleOnboarding)
	mux.Delete("/user", a.handleDeleteUser)
}

func (a *API) principal(w http.ResponseWriter, r *http.Request) (*types.Principal, bool) {
	p, ok := authentication.GetPrincipal(r.Context())
	if !ok {
		writeUnauthenticated(w, a.logger)
	}
	return p, ok
}

func (a *API) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "membership.API.handleListOrganizations")
	defer span.End()

	p, ok := a.principal(w, r)
	if !ok {
		return
	}

	orgs, err := a.service.ListOrganizations(ctx, p.UserID)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}

	resp := organizationsResponse{Organizations: orgs}
	if selected := a.cookie.Get(r); selected != "" {
		for _, o := range orgs {
			if o.ID == selected {
				resp.Selected = selected
				break
			}
		}
	}

	writeJSON(w, a.logger, http.StatusOK, resp)
}

func (a *API) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "membership.API.handleCreateOrganization")
	defer span.End()

	p, ok := a.principal(w, r)
	if !ok {
		return
	}

	req := new(createOrganizationRequest)
	if err := decodeBody(w, r, a.validate, req); err != nil {
		writeError(w, a.logger, err)
		return
	}

	org, err := a.service.CreateOrganization(ctx, p.UserID, req.Name)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}

	writeJSON(w, a.logger, http.StatusCreated, org)
}

func (a *API) handleUpdateOrganization(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "membership.API.handleUpdateOrganization")
	defer span.End()

	p, ok := a.principal(w, r)
	if !ok {
		return
	}

	req := new(updateOrganizationRequest)
	if err := decodeBody(w, r, a.validate, req); err != nil {
		writeError(w, a.logger, err)
		return
	}

	org, err := a.service.UpdateOrganizationDetails(ctx, chi.URLParam(r, "id"), p.UserID, req.Name, req.LogoURL)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}

	writeJSON(w, a.logger, http.StatusOK, org)
}

func (a *API) handleSelectOrganization(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "membership.API.handleSelectOrganization")
	defer span.End()

	p, ok := a.principal(w, r)
	if !ok {
		return
	}

	organizationID := chi.URLParam(r, "id")
	if _, err := a.service.GetMembership(ctx, organizationID, p.UserID); err != nil {
		writeError(w, a.logger, err)
		return
	}

	a.cookie.Set(w, organizationID)
	writeSuccess(w, a.logger)
}

func (a *API) handleDeleteOrganization(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "membership.API.handleDeleteOrganization")
	defer span.End()

	p, ok := a.principal(w, r)
	if !ok {
		return
	}

	organizationID := chi.URLParam(r, "id")
	if _, err := a.service.RequireRole(ctx, organizationID, p.UserID, types.RoleOwner); err != nil {
		if errors.Is(err, ErrForbidden) {
			a.logger.Security().AuthzFailure(p.UserID, "organization:"+organizationID, logging.String("action", "delete"))
		}
		writeError(w, a.logger, err)
		return
	}

	a.logger.Infow("user requested organization deletion", "organization_id", organizationID, "user_id", p.UserID)

	if err := a.service.DeleteOrganization(ctx, organizationID); err != nil {
		writeError(w, a.logger, err)
		return
	}

	a.cookie.Clear(w)
	writeSuccess(w, a.logger)
}

func (a *API) handleLeaveOrganization(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "membership.API.handleLeaveOrganization")
	defer span.End()

	p, ok := a.principal(w, r)
	if !ok {
		return
	}

	if err := a.service.LeaveOrganization(ctx, chi.URLParam(r, "id"), p.UserID); err != nil {
		writeError(w, a.logger, err)
		return
	}

	a.cookie.Clear(w)
	writeSuccess(w, a.logger)
}

func (a *API) handleInviteMembers(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "membership.API.handleInviteMembers")
	defer span.End()

	p, ok := a.principal(w, r)
	if !ok {
		return
	}

	var rows []InviteRequest
	if err := decodeBody(w, r, a.validate, &rows); err != nil {
		writeError(w, a.logger, err)
		return
	}

	invites, err := a.service.InviteMembers(ctx, chi.URLParam(r, "id"), p.UserID, rows)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}

	writeJSON(w, a.logger, http.StatusOK, invitesResponse{Invites: invites})
}

func (a *API) handleListInvites(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "membership.API.handleListInvites")
	defer span.End()

	p, ok := a.principal(w, r)
	if !ok {
		return
	}

	invites, err := a.service.ListInvites(ctx, chi.URLParam(r, "id"), p.UserID)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}

	writeJSON(w, a.logger, http.StatusOK, invitesResponse{Invites: invites})
}

func (a *API) handleRevokeInvite(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "membership.API.handleRevokeInvite")
	defer span.End()

	p, ok := a.principal(w, r)
	if !ok {
		return
	}

	if err := a.service.RevokeInvite(ctx, chi.URLParam(r, "id"), p.UserID, chi.URLParam(r, "code")); err != nil {
		writeError(w, a.logger, err)
		return
	}

	writeSuccess(w, a.logger)
}

func (a *API) handleListMembers(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "membership.API.handleListMembers")
	defer span.End()

	p, ok := a.principal(w, r)
	if !ok {
		return
	}

	members, err := a.service.ListMembers(ctx, chi.URLParam(r, "id"), p.UserID)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}

	writeJSON(w, a.logger, http.StatusOK, membersResponse{Members: members})
}

func (a *API) handleUpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "membership.API.handleUpdateMemberRole")
	defer span.End()

	p, ok := a.principal(w, r)
	if !ok {
		return
	}

	req := new(updateRoleRequest)
	if err := decodeBody(w, r, a.validate, req); err != nil {
		writeError(w, a.logger, err)
		return
	}

	err := a.service.UpdateMemberRole(ctx, chi.URLParam(r, "id"), p.UserID, chi.URLParam(r, "userId"), req.Role)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}

	writeSuccess(w, a.logger)
}

func (a *API) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "membership.API.handleRemoveMember")
	defer span.End()

	p, ok := a.principal(w, r)
	if !ok {
		return
	}

	if err := a.service.RemoveMember(ctx, chi.URLParam(r, "id"), p.UserID, chi.URLParam(r, "userId")); err != nil {
		writeError(w, a.logger, err)
		return
	}

	writeSuccess(w, a.logger)
}

func (a *API) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "membership.API.handleTransferOwnership")
	defer span.End()

	p, ok := a.principal(w, r)
	if !ok {
		return
	}

	req := new(transferOwnershipRequest)
	if err := decodeBody(w, r, a.validate, req); err != nil {
		writeError(w, a.logger, err)
		return
	}

	if err := a.service.TransferOwnership(ctx, chi.URLParam(r, "id"), p.UserID, req.UserID); err != nil {
		writeError(w, a.logger, err)
		return
	}

	writeSuccess(w, a.logger)
}

func (a *API) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "membership.API.handleAcceptInvite")
	defer span.End()

	p, ok := a.principal(w, r)
	if !ok {
		return
	}

	invite, err := a.service.AcceptInvite(ctx, chi.URLParam(r, "code"), p.UserID, p.Email)
	if err != nil {
		if errors.Is(err, ErrEmailMismatch) {
			a.logger.Security().AuthzFailure(p.UserID, "invite", logging.String("reason", "email_mismatch"))
		}
		writeError(w, a.logger, err)
		return
	}

	writeJSON(w, a.logger, http.StatusOK, acceptInviteResponse{Success: true, OrganizationID: invite.OrganizationID})
}

func (a *API) handleOnboarding(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "membership.API.handleOnboarding")
	defer span.End()

	p, ok := a.principal(w, r)
	if !ok {
		return
	}

	req := new(onboardingRequest)
	if err := decodeBody(w, r, a.validate, req); err != nil {
		writeError(w, a.logger, err)
		return
	}

	org, _, err := a.service.Onboard(ctx, p.UserID, req.Organization, req.Invites)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}

	a.cookie.Set(w, org.ID)
	writeJSON(w, a.logger, http.StatusOK, onboardingResponse{Success: true, ReturnURL: a.appHomePath})
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "membership.API.handleDeleteUser")
	defer span.End()

	p, ok := a.principal(w, r)
	if !ok {
		return
	}

	a.logger.Infow("user requested account deletion", "user_id", p.UserID)

	if err := a.service.DeleteUser(ctx, p.UserID, p.Email, true); err != nil {
		writeError(w, a.logger, err)
		return
	}

	a.cookie.Clear(w)
	writeJSON(w, a.logger, http.StatusOK, struct{}{})
}

func NewAPI(service ServiceInterface, cookie *SelectorCookie, appHomePath string, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *API {
	a := new(API)

	a.service = service
	a.cookie = cookie
	a.appHomePath = appHomePath
	a.validate = newValidator()

	a.tracer = tracer
	a.monitor = monitor
	a.logger = logger

	return a
}

// AdminAPI serves the operator endpoints, authenticated with a bearer token.
type AdminAPI struct {
	service ServiceInterface

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (a *AdminAPI) RegisterEndpoints(mux chi.Router) {
	mux.Post("/admin/organizations/{id}/delete", a.handleDeleteOrganization)
	mux.Post("/admin/users/{id}/delete", a.handleDeleteUser)
}

func (a *AdminAPI) handleDeleteOrganization(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "membership.AdminAPI.handleDeleteOrganization")
	defer span.End()

	organizationID := chi.URLParam(r, "id")
	subject, _ := authentication.GetUserID(ctx)
	a.logger.Security().AdminAction(subject, "delete_organization", "organization:"+organizationID)

	if err := a.service.DeleteOrganization(ctx, organizationID); err != nil {
		writeError(w, a.logger, err)
		return
	}

	writeSuccess(w, a.logger)
}

func (a *AdminAPI) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "membership.AdminAPI.handleDeleteUser")
	defer span.End()

	userID := chi.URLParam(r, "id")
	subject, _ := authentication.GetUserID(ctx)
	a.logger.Security().AdminAction(subject, "delete_user", "user:"+userID)

	// operator deletions do not notify the user
	if err := a.service.DeleteUser(ctx, userID, "", false); err != nil {
		writeError(w, a.logger, err)
		return
	}

	writeSuccess(w, a.logger)
}

func NewAdminAPI(service ServiceInterface, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *AdminAPI {
	a := new(AdminAPI)

	a.service = service

	a.tracer = tracer
	a.monitor = monitor
	a.logger = logger

	return a
}
