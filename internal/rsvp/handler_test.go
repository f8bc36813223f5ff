package rsvp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clubhub/internal/auth"
)

// testAuth injects claims from headers so handler tests skip real JWTs.
func testAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.GetHeader("X-Test-User")
		if user == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		role := c.GetHeader("X-Test-Role")
		if role == "" {
			role = auth.RoleMember
		}
		c.Set("claims", auth.Claims{
			Role:             role,
			RegisteredClaims: jwt.RegisteredClaims{Subject: user},
		})
		c.Next()
	}
}

func newTestRouter(t *testing.T) (*gin.Engine, *fakeBackend) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := newFakeBackend()
	logg := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(f, f, &capturingQueue{}, logg)
	h := NewHandler(svc, nil, logg)

	r := gin.New()
	h.Routes(r.Group("/v1", testAuth()))
	return r, f
}

func doJSON(t *testing.T, r *gin.Engine, method, path, user, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", user)
	if role != "" {
		req.Header.Set("X-Test-Role", role)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHandlerRegisterAndWaitlistFlag(t *testing.T) {
	r, f := newTestRouter(t)
	f.addEvent("ev1", intPtr(1), 0)

	payload := gin.H{"event_id": "ev1", "contact_info": gin.H{"email": "alice@club.test"}}
	w := doJSON(t, r, http.MethodPost, "/v1/rsvp", "alice", "", payload)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, false, decodeBody(t, w)["waitlisted"])

	payload["contact_info"] = gin.H{"email": "bob@club.test"}
	w = doJSON(t, r, http.MethodPost, "/v1/rsvp", "bob", "", payload)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["waitlisted"], "full event waitlists with a 201, not an error")
}

func TestHandlerRegisterConflicts(t *testing.T) {
	r, f := newTestRouter(t)
	f.addEvent("ev1", nil, 0)

	payload := gin.H{"event_id": "ev1", "contact_info": gin.H{"email": "alice@club.test"}}
	w := doJSON(t, r, http.MethodPost, "/v1/rsvp", "alice", "", payload)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/rsvp", "alice", "", payload)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_registered", decodeBody(t, w)["code"])

	w = doJSON(t, r, http.MethodPost, "/v1/rsvp", "carol", "", gin.H{"event_id": "missing", "contact_info": gin.H{"email": "c@club.test"}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/rsvp", "dave", "", gin.H{"event_id": "ev1", "contact_info": gin.H{"email": "bad"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerClosedWindowCodes(t *testing.T) {
	r, f := newTestRouter(t)
	ev := f.addEvent("late", nil, 0)
	ev.RegistrationEnd = f.clock.Add(-time.Hour)

	w := doJSON(t, r, http.MethodPost, "/v1/rsvp", "alice", "", gin.H{"event_id": "late", "contact_info": gin.H{"email": "a@club.test"}})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "registration_closed", decodeBody(t, w)["code"])
}

func TestHandlerEventRegistrationsAuthorization(t *testing.T) {
	r, f := newTestRouter(t)
	f.addEvent("ev1", nil, 0) // organizer-1 owns it

	w := doJSON(t, r, http.MethodGet, "/v1/rsvp/event/ev1", "random", auth.RoleMember, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/rsvp/event/ev1", "other-organizer", auth.RoleOrganizer, nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "organizers only manage their own events")

	w = doJSON(t, r, http.MethodGet, "/v1/rsvp/event/ev1", "organizer-1", auth.RoleOrganizer, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/rsvp/event/ev1", "anyone", auth.RoleAdmin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlerCancelReportsPromotion(t *testing.T) {
	r, f := newTestRouter(t)
	f.addEvent("ev1", intPtr(1), 0)

	w := doJSON(t, r, http.MethodPost, "/v1/rsvp", "alice", "", gin.H{"event_id": "ev1", "contact_info": gin.H{"email": "a@club.test"}})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Registration Registration `json:"registration"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doJSON(t, r, http.MethodPost, "/v1/rsvp", "bob", "", gin.H{"event_id": "ev1", "contact_info": gin.H{"email": "b@club.test"}})
	require.Equal(t, http.StatusCreated, w.Code)

	// Bob cannot cancel Alice's registration.
	w = doJSON(t, r, http.MethodDelete, "/v1/rsvp/"+created.Registration.ID, "bob", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/v1/rsvp/"+created.Registration.ID, "alice", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["promoted"])
}

func TestHandlerCheckInRoles(t *testing.T) {
	r, f := newTestRouter(t)
	f.addEvent("ev1", nil, 0)

	w := doJSON(t, r, http.MethodPost, "/v1/rsvp", "alice", "", gin.H{"event_id": "ev1", "contact_info": gin.H{"email": "a@club.test"}})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Registration Registration `json:"registration"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id := created.Registration.ID

	// Members cannot run check-in, not even for themselves.
	w = doJSON(t, r, http.MethodPost, "/v1/rsvp/"+id+"/check-in", "alice", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/rsvp/"+id+"/check-in", "organizer-1", auth.RoleOrganizer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodPost, "/v1/rsvp/"+id+"/check-in", "organizer-1", auth.RoleOrganizer, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_checked_in", decodeBody(t, w)["code"])
}

func TestHandlerQRCodeOwnerOnly(t *testing.T) {
	r, f := newTestRouter(t)
	f.addEvent("ev1", nil, 0)

	w := doJSON(t, r, http.MethodPost, "/v1/rsvp", "alice", "", gin.H{"event_id": "ev1", "contact_info": gin.H{"email": "a@club.test"}})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Registration Registration `json:"registration"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id := created.Registration.ID

	w = doJSON(t, r, http.MethodGet, "/v1/rsvp/"+id+"/qr-code", "bob", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/rsvp/"+id+"/qr-code", "alice", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.NotEmpty(t, body["check_in_code"])
	assert.NotEmpty(t, body["png_base64"])
}

func TestHandlerUpdateStatusRestrictions(t *testing.T) {
	r, f := newTestRouter(t)
	f.addEvent("paid", nil, 100)

	w := doJSON(t, r, http.MethodPost, "/v1/rsvp", "alice", "", gin.H{"event_id": "paid", "contact_info": gin.H{"email": "a@club.test"}})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Registration Registration `json:"registration"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id := created.Registration.ID
	require.Equal(t, StatusPending, created.Registration.Status)

	// Owners cannot self-confirm a paid registration.
	w = doJSON(t, r, http.MethodPut, "/v1/rsvp/"+id, "alice", "", gin.H{"status": "confirmed"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Admin confirmation is the payment-completed path.
	w = doJSON(t, r, http.MethodPut, "/v1/rsvp/"+id, "staff", auth.RoleAdmin, gin.H{"status": "confirmed", "admin_note": "paid in cash"})
	require.Equal(t, http.StatusOK, w.Code)

	reg, err := f.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, reg.Status)
	require.Len(t, reg.AdminNotes, 1)
	assert.Equal(t, "paid in cash", reg.AdminNotes[0].Note)

	// Owner-initiated cancellation via PUT is allowed.
	w = doJSON(t, r, http.MethodPut, "/v1/rsvp/"+id, "alice", "", gin.H{"status": "cancelled"})
	assert.Equal(t, http.StatusOK, w.Code)

	// Arbitrary status values are rejected.
	w = doJSON(t, r, http.MethodPut, "/v1/rsvp/"+id, "staff", auth.RoleAdmin, gin.H{"status": "waitlist"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerCancelNoteAdminOnly(t *testing.T) {
	r, f := newTestRouter(t)
	f.addEvent("ev1", nil, 0)

	register := func(user string) string {
		w := doJSON(t, r, http.MethodPost, "/v1/rsvp", user, "", gin.H{"event_id": "ev1", "contact_info": gin.H{"email": user + "@club.test"}})
		require.Equal(t, http.StatusCreated, w.Code)
		var created struct {
			Registration Registration `json:"registration"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
		return created.Registration.ID
	}

	// Owners cannot smuggle notes into the admin trail via self-cancel.
	ownID := register("alice")
	w := doJSON(t, r, http.MethodPut, "/v1/rsvp/"+ownID, "alice", "", gin.H{"status": "cancelled", "admin_note": "my own note"})
	require.Equal(t, http.StatusOK, w.Code)
	reg, err := f.GetByID(context.Background(), ownID)
	require.NoError(t, err)
	assert.Empty(t, reg.AdminNotes)

	// Admin-triggered cancellation records the note.
	otherID := register("bob")
	w = doJSON(t, r, http.MethodPut, "/v1/rsvp/"+otherID, "staff", auth.RoleAdmin, gin.H{"status": "cancelled", "admin_note": "policy violation"})
	require.Equal(t, http.StatusOK, w.Code)
	reg, err = f.GetByID(context.Background(), otherID)
	require.NoError(t, err)
	require.Len(t, reg.AdminNotes, 1)
	assert.Equal(t, "policy violation", reg.AdminNotes[0].Note)
	assert.Equal(t, "staff", reg.AdminNotes[0].Author)
}

func TestHandlerUpdateInfo(t *testing.T) {
	r, f := newTestRouter(t)
	f.addEvent("ev1", nil, 0)

	w := doJSON(t, r, http.MethodPost, "/v1/rsvp", "alice", "", gin.H{"event_id": "ev1", "contact_info": gin.H{"email": "a@club.test"}})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Registration Registration `json:"registration"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id := created.Registration.ID

	w = doJSON(t, r, http.MethodPut, "/v1/rsvp/"+id, "alice", "", gin.H{
		"contact_info":    gin.H{"email": "new@club.test", "phone": "0123456789"},
		"additional_info": gin.H{"team_name": "Gophers", "team_members": []string{"alice", "bob"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	reg, err := f.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "new@club.test", reg.Contact.Email)
	assert.Equal(t, "Gophers", reg.Additional.TeamName)
	assert.Equal(t, StatusConfirmed, reg.Status, "info edits never change status")
}

func TestHandlerMyRegistrations(t *testing.T) {
	r, f := newTestRouter(t)
	f.addEvent("ev1", nil, 0)
	f.addEvent("ev2", nil, 100)

	for _, evID := range []string{"ev1", "ev2"} {
		w := doJSON(t, r, http.MethodPost, "/v1/rsvp", "alice", "", gin.H{"event_id": evID, "contact_info": gin.H{"email": "a@club.test"}})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doJSON(t, r, http.MethodGet, "/v1/rsvp/my-registrations", "alice", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decodeBody(t, w)["total"])

	w = doJSON(t, r, http.MethodGet, "/v1/rsvp/my-registrations?status=pending", "alice", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody(t, w)["total"])

	w = doJSON(t, r, http.MethodGet, "/v1/rsvp/my-registrations", "stranger", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decodeBody(t, w)["total"])
}

func TestHandlerStats(t *testing.T) {
	r, f := newTestRouter(t)
	f.addEvent("ev1", intPtr(2), 0)

	w := doJSON(t, r, http.MethodPost, "/v1/rsvp", "alice", "", gin.H{"event_id": "ev1", "contact_info": gin.H{"email": "a@club.test"}})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/rsvp/stats/ev1", "organizer-1", auth.RoleOrganizer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.EqualValues(t, 1, body["breakdown"].(map[string]any)["confirmed"])
	assert.EqualValues(t, 1, body["available"])

	w = doJSON(t, r, http.MethodGet, "/v1/rsvp/stats/ev1", "member", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
