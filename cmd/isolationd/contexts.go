package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/StricklySoft/stricklysoft-isolation/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/models"
)

// createContextRequest is the optional body of POST /contexts.
type createContextRequest struct {
	ThreadID string `json:"thread_id"`
	RunID    string `json:"run_id"`
}

// contextRoutes registers the execution context API. Every route requires
// a session token; a context is visible only to the user who created it.
//
//	POST   /contexts                      create a context for the caller
//	GET    /contexts/{id}                 read it
//	DELETE /contexts/{id}                 clean it up and close its streams
//	POST   /contexts/{id}/agents/{name}   get or create an agent instance
//	GET    /contexts/{id}/agents/{name}   read an existing instance
func (d *daemon) contextRoutes(mux *http.ServeMux) {
	authn := auth.HTTPMiddleware(d.validator, d.logger)
	mux.Handle("POST /contexts", authn(http.HandlerFunc(d.createContext)))
	mux.Handle("GET /contexts/{id}", authn(http.HandlerFunc(d.getContext)))
	mux.Handle("DELETE /contexts/{id}", authn(http.HandlerFunc(d.deleteContext)))
	mux.Handle("POST /contexts/{id}/agents/{name}", authn(http.HandlerFunc(d.createAgent)))
	mux.Handle("GET /contexts/{id}/agents/{name}", authn(http.HandlerFunc(d.getAgent)))
}

func (d *daemon) createContext(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, sserr.New(sserr.CodeAuthentication, "missing session"))
		return
	}
	var req createContextRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, sserr.Wrap(err, sserr.CodeValidation, "invalid request body"))
		return
	}
	ec, err := d.registry.CreateContextFor(r.Context(), identity, req.ThreadID, req.RunID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ec)
}

func (d *daemon) getContext(w http.ResponseWriter, r *http.Request) {
	ec, _, err := d.ownedContext(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ec)
}

func (d *daemon) deleteContext(w http.ResponseWriter, r *http.Request) {
	ec, _, err := d.ownedContext(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := d.registry.CleanupContext(r.Context(), ec); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *daemon) createAgent(w http.ResponseWriter, r *http.Request) {
	ec, identity, err := d.ownedContext(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := auth.Authorize(identity.Role, auth.OperationAgentRead); err != nil {
		writeError(w, err)
		return
	}
	agent, err := d.registry.GetOrCreateAgent(r.Context(), ec, r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := d.availability.Sync(agent); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent.Info())
}

func (d *daemon) getAgent(w http.ResponseWriter, r *http.Request) {
	ec, _, err := d.ownedContext(r)
	if err != nil {
		writeError(w, err)
		return
	}
	agent, err := d.registry.Agent(ec, r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent.Info())
}

// ownedContext resolves the {id} path value to a live context owned by the
// caller. Another user's context is refused with AUTHZ_002.
func (d *daemon) ownedContext(r *http.Request) (*models.ExecutionContext, auth.Identity, error) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil, identity, sserr.New(sserr.CodeAuthentication, "missing session")
	}
	ec, err := d.registry.Context(r.PathValue("id"))
	if err != nil {
		return nil, identity, err
	}
	if ec.UserID != identity.UserID {
		return nil, identity, sserr.Newf(sserr.CodeAuthorizationDenied,
			"context %q belongs to another user", ec.ID)
	}
	return ec, identity, nil
}
