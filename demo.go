package main

import (
	"errors"
	"net/http"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// POST /api/auth/demo/
// Creates a throwaway user, seeds it from DEMO_SOURCE_USER_ID and signs it in.
func (a *App) handleDemo(w http.ResponseWriter, r *http.Request) error {
	if !a.cfg.DemoMode {
		return errNotFound()
	}
	secret, err := newSecret()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret[:32]), a.bcryptCost)
	if err != nil {
		return err
	}
	suffix := newID()[:8]
	u := User{
		ID:           newID(),
		Username:     "demo_" + suffix,
		Email:        "demo-" + suffix + "@demo.local",
		DisplayName:  "Demo user",
		PasswordHash: string(hash),
		IsDemo:       true,
	}
	err = a.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&u).Error; err != nil {
			return err
		}
		return a.cloneDemoData(tx, u.ID)
	})
	if err != nil {
		return err
	}
	if err := a.setSessionCookies(w, u.ID); err != nil {
		return err
	}
	a.log.Infow("demo user created", "userId", u.ID, "source", a.cfg.DemoSourceUserID)
	writeJSON(w, http.StatusCreated, toDTO(u))
	return nil
}

// cloneDemoData copies the most recent tickets and every routine (days,
// exercises, finished sessions and their sets) of the source user into
// dstUserID, then rebuilds the workout stats so the charts match.
func (a *App) cloneDemoData(tx *gorm.DB, dstUserID string) error {
	srcID := a.cfg.DemoSourceUserID
	if srcID == "" {
		return errors.New("DEMO_SOURCE_USER_ID not set")
	}
	limit := a.cfg.DemoCloneLimit
	if limit <= 0 {
		limit = 250
	}
	now := a.now()

	// 1) tickets
	var tickets []Ticket
	if err := tx.Where("user_key = ?", srcID).Order("date DESC").Limit(limit).Find(&tickets).Error; err != nil {
		return err
	}
	if len(tickets) > 0 {
		for i := range tickets {
			tickets[i].ID = newID()
			tickets[i].UserKey = dstUserID
			tickets[i].CreatedAt, tickets[i].UpdatedAt = now, now
		}
		if err := tx.Create(&tickets).Error; err != nil {
			return err
		}
	}

	// 2) routines with days and exercises
	var routines []Routine
	if err := tx.Preload("Days").Preload("Days.Exercises").
		Where("user_key = ?", srcID).Find(&routines).Error; err != nil {
		return err
	}
	routineIDs := map[string]string{}
	dayIDs := map[string]string{}
	exerciseIDs := map[string]string{}
	for _, rt := range routines {
		nrt := rt
		nrt.ID, nrt.UserKey, nrt.Days = newID(), dstUserID, nil
		routineIDs[rt.ID] = nrt.ID
		if err := tx.Create(&nrt).Error; err != nil {
			return err
		}
		for _, d := range rt.Days {
			nd := d
			nd.ID, nd.RoutineID, nd.Exercises = newID(), nrt.ID, nil
			dayIDs[d.ID] = nd.ID
			if err := tx.Create(&nd).Error; err != nil {
				return err
			}
			for _, e := range d.Exercises {
				ne := e
				ne.ID, ne.DayID = newID(), nd.ID
				exerciseIDs[e.ID] = ne.ID
				if err := tx.Create(&ne).Error; err != nil {
					return err
				}
			}
		}
	}

	// 3) finished sessions and the sets logged in them
	var sessions []WorkoutSession
	if err := tx.Where("user_key = ? AND state = ?", srcID, sessionFinished).
		Order("finished_at DESC").Limit(limit).Find(&sessions).Error; err != nil {
		return err
	}
	sessionIDs := map[string]string{}
	for _, s := range sessions {
		rid, ok := routineIDs[s.RoutineID]
		if !ok {
			continue
		}
		ns := s
		ns.ID, ns.UserKey, ns.RoutineID = newID(), dstUserID, rid
		if s.DayID != nil {
			if did, ok := dayIDs[*s.DayID]; ok {
				ns.DayID = &did
			} else {
				ns.DayID = nil
			}
		}
		sessionIDs[s.ID] = ns.ID
		if err := tx.Create(&ns).Error; err != nil {
			return err
		}
	}
	if len(sessionIDs) > 0 {
		srcSessions := make([]string, 0, len(sessionIDs))
		for id := range sessionIDs {
			srcSessions = append(srcSessions, id)
		}
		var sets []ExerciseSet
		if err := tx.Where("session_id IN ?", srcSessions).Find(&sets).Error; err != nil {
			return err
		}
		clones := make([]ExerciseSet, 0, len(sets))
		for _, s := range sets {
			eid, ok := exerciseIDs[s.ExerciseID]
			if !ok {
				continue
			}
			sid := sessionIDs[*s.SessionID]
			ns := s
			ns.ID, ns.ExerciseID, ns.UserKey, ns.SessionID = newID(), eid, dstUserID, &sid
			clones = append(clones, ns)
		}
		if len(clones) > 0 {
			if err := tx.Create(&clones).Error; err != nil {
				return err
			}
		}
	}

	// 4) stats from the cloned history
	return recomputeWorkoutStats(tx, dstUserID)
}
