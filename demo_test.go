package main

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemoDisabled(t *testing.T) {
	env := newTestEnv(t)
	rec := env.doJSON(nil, http.MethodPost, "/api/auth/demo/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDemoClonesSourceData(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.DemoMode = true })
	src := env.newUser("showcase")
	env.app.cfg.DemoSourceUserID = src.ID

	env.createTicket(src, map[string]any{"title": "Lunch", "date": "2025-03-01", "cost": 12})
	env.createTicket(src, map[string]any{"title": "Taxi", "date": "2025-03-02", "cost": 20})
	rt := env.createRoutine(src, "Strength", true)
	day := env.createDay(src, rt.ID, "Mon", ptr(0))
	ex := env.createExercise(src, day.ID, map[string]any{"name": "Squat", "variants": []string{"Back", "Front"}})

	rec := env.doJSON(src, http.MethodPost, "/api/workouts/sessions/", map[string]any{"routine_id": rt.ID, "day_id": day.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	sid := decodeBody[sessionDTO](t, rec).ID
	env.logSet(src, ex.ID, map[string]any{"reps": 5, "weight": 100})
	env.logSet(src, ex.ID, map[string]any{"reps": 5, "weight": 110})
	env.clock.Advance(20 * time.Minute)
	rec = env.doJSON(src, http.MethodPost, "/api/workouts/sessions/"+sid+"/finish/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// an open session is not cloned
	rec = env.doJSON(src, http.MethodPost, "/api/workouts/sessions/", map[string]any{"routine_id": rt.ID})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.doJSON(nil, http.MethodPost, "/api/auth/demo/", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	demo := decodeBody[userDTO](t, rec)
	assert.True(t, strings.HasPrefix(demo.Username, "demo_"))
	access := cookieNamed(rec, "hub_auth")
	require.NotNil(t, access)

	var stored User
	require.NoError(t, env.app.db.First(&stored, "id = ?", demo.ID).Error)
	assert.True(t, stored.IsDemo)

	du := &testUser{User: stored, access: access.Value, csrf: "x"}

	rec = env.doJSON(du, http.MethodGet, "/api/tickets/", nil)
	assert.EqualValues(t, 2, decodeBody[Page[ticketDTO]](t, rec).Count)

	rec = env.doJSON(du, http.MethodGet, "/api/workouts/routines/", nil)
	routines := decodeBody[Page[routineDTO]](t, rec)
	require.EqualValues(t, 1, routines.Count)
	cloned := routines.Results[0]
	assert.NotEqual(t, rt.ID, cloned.ID)
	require.Len(t, cloned.Days, 1)
	require.Len(t, cloned.Days[0].Exercises, 1)
	assert.Equal(t, []string{"Back", "Front"}, cloned.Days[0].Exercises[0].Variants)

	rec = env.doJSON(du, http.MethodGet, "/api/workouts/sessions/", nil)
	sessions := decodeBody[Page[sessionDTO]](t, rec)
	require.EqualValues(t, 1, sessions.Count)
	assert.Equal(t, cloned.ID, sessions.Results[0].RoutineID)
	require.NotNil(t, sessions.Results[0].DayID)
	assert.Equal(t, cloned.Days[0].ID, *sessions.Results[0].DayID)

	rec = env.doJSON(du, http.MethodGet, "/api/workouts/sessions/current/", nil)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))

	rec = env.doJSON(du, http.MethodGet, "/api/workouts/stats/", nil)
	stats := decodeBody[struct {
		Routines []statRow `json:"routines"`
	}](t, rec)
	require.Len(t, stats.Routines, 1)
	assert.Equal(t, 1, stats.Routines[0].Sessions)
	assert.EqualValues(t, 1200, stats.Routines[0].TotalSeconds)
	assert.Equal(t, 2, stats.Routines[0].TotalSets)
	assert.Equal(t, 1050.0, stats.Routines[0].TotalVolume)

	// the source account is untouched
	var n int64
	require.NoError(t, env.app.db.Model(&Ticket{}).Where("user_key = ?", src.ID).Count(&n).Error)
	assert.EqualValues(t, 2, n)
}

func TestDemoWithoutSourceFails(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.DemoMode = true })
	rec := env.doJSON(nil, http.MethodPost, "/api/auth/demo/", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var n int64
	require.NoError(t, env.app.db.Model(&User{}).Count(&n).Error)
	assert.Zero(t, n)
}
