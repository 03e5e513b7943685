package main

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	friendPending  = "pending"
	friendAccepted = "accepted"
	friendRejected = "rejected"
)

// FriendRequest is both the request and, once accepted, the friendship.
type FriendRequest struct {
	ID          string `gorm:"primaryKey;type:text"`
	FromUserID  string `gorm:"index;type:text;not null"`
	ToUserID    string `gorm:"index;type:text;not null"`
	Status      string `gorm:"size:16;not null;default:pending"`
	RespondedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	FromUser User `gorm:"foreignKey:FromUserID;references:ID"`
	ToUser   User `gorm:"foreignKey:ToUserID;references:ID"`
}

type friendDTO struct {
	userDTO
	Since time.Time `json:"since"`
}

type friendRequestDTO struct {
	ID          string     `json:"id"`
	From        userDTO    `json:"from_user"`
	To          userDTO    `json:"to_user"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	RespondedAt *time.Time `json:"responded_at"`
}

func toFriendRequestDTO(fr FriendRequest) friendRequestDTO {
	return friendRequestDTO{
		ID:          fr.ID,
		From:        publicUser(fr.FromUser),
		To:          publicUser(fr.ToUser),
		Status:      fr.Status,
		CreatedAt:   fr.CreatedAt,
		RespondedAt: fr.RespondedAt,
	}
}

// betweenUsers matches requests in either direction between a and b.
func betweenUsers(db *gorm.DB, a, b string) *gorm.DB {
	return db.Where("((from_user_id = ? AND to_user_id = ?) OR (from_user_id = ? AND to_user_id = ?))", a, b, b, a)
}

// areFriends reports whether an accepted request links a and b.
func areFriends(db *gorm.DB, a, b string) (bool, error) {
	var n int64
	err := betweenUsers(db.Model(&FriendRequest{}), a, b).
		Where("status = ?", friendAccepted).
		Count(&n).Error
	return n > 0, err
}

/* ===================== HTTP ====================== */

// GET /api/friends/
func (a *App) handleListFriends(w http.ResponseWriter, r *http.Request) error {
	u := mustUser(r)
	var links []FriendRequest
	if err := a.db.WithContext(r.Context()).
		Preload("FromUser").Preload("ToUser").
		Where("status = ? AND (from_user_id = ? OR to_user_id = ?)", friendAccepted, u.ID, u.ID).
		Find(&links).Error; err != nil {
		return err
	}
	out := make([]friendDTO, 0, len(links))
	for _, l := range links {
		other := l.FromUser
		if l.FromUserID == u.ID {
			other = l.ToUser
		}
		since := l.UpdatedAt
		if l.RespondedAt != nil {
			since = *l.RespondedAt
		}
		out = append(out, friendDTO{userDTO: publicUser(other), Since: since})
	}
	sortFriends(out)
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "results": out})
	return nil
}

func sortFriends(fs []friendDTO) {
	sort.Slice(fs, func(i, j int) bool {
		return strings.ToLower(fs[i].Username) < strings.ToLower(fs[j].Username)
	})
}

// lockPair row-locks both users in id order, so two requests between the
// same pair (in either direction) check and insert one after the other.
// sqlite drops the locking clause; its single writer serialises anyway.
func lockPair(tx *gorm.DB, a, b string) error {
	var locked []User
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").Where("id IN ?", []string{a, b}).Order("id").
		Find(&locked).Error
}

// DELETE /api/friends/{userId}/
func (a *App) handleRemoveFriend(w http.ResponseWriter, r *http.Request) error {
	u := mustUser(r)
	other := chi.URLParam(r, "userId")
	res := betweenUsers(a.db.WithContext(r.Context()), u.ID, other).
		Where("status = ?", friendAccepted).
		Delete(&FriendRequest{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errNotFound()
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// GET /api/friends/requests/?direction=incoming|outgoing
func (a *App) handleListFriendRequests(w http.ResponseWriter, r *http.Request) error {
	u := mustUser(r)
	base := a.db.WithContext(r.Context()).Model(&FriendRequest{}).Where("status = ?", friendPending)
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("direction"))) {
	case "", "incoming":
		base = base.Where("to_user_id = ?", u.ID)
	case "outgoing":
		base = base.Where("from_user_id = ?", u.ID)
	default:
		return validationError(map[string]string{"direction": "incoming or outgoing"})
	}
	page, err := paginate(r, base, "created_at DESC", toFriendRequestDTO, "FromUser", "ToUser")
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, page)
	return nil
}

// POST /api/friends/requests/  {"username": "..."}
func (a *App) handleSendFriendRequest(w http.ResponseWriter, r *http.Request) error {
	u := mustUser(r)
	var in struct {
		Username string `json:"username" validate:"notblank"`
	}
	if err := decodeJSON(r, &in); err != nil {
		return err
	}
	name := strings.TrimSpace(in.Username)

	var out FriendRequest
	status := http.StatusCreated
	err := a.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		var target User
		if err := tx.Where("LOWER(username) = LOWER(?)", name).First(&target).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newAPIError(http.StatusNotFound, "not_found", "user not found")
			}
			return err
		}
		if target.ID == u.ID {
			return validationError(map[string]string{"username": "you cannot befriend yourself"})
		}
		if err := lockPair(tx, u.ID, target.ID); err != nil {
			return err
		}

		var existing []FriendRequest
		if err := betweenUsers(tx, u.ID, target.ID).
			Where("status IN ?", []string{friendPending, friendAccepted}).
			Find(&existing).Error; err != nil {
			return err
		}
		for _, ex := range existing {
			switch {
			case ex.Status == friendAccepted:
				return errConflict("already friends")
			case ex.FromUserID == u.ID:
				return errConflict("friend request already sent")
			default:
				// they already asked us: accept theirs
				ex.FromUser, ex.ToUser = target, *u
				if err := a.acceptRequest(tx, &ex); err != nil {
					return err
				}
				out, status = ex, http.StatusOK
				return nil
			}
		}

		now := a.now()
		out = FriendRequest{
			ID:         newID(),
			FromUserID: u.ID,
			ToUserID:   target.ID,
			Status:     friendPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.Omit("FromUser", "ToUser").Create(&out).Error; err != nil {
			return err
		}
		out.FromUser, out.ToUser = *u, target
		return notify(tx, now, target.ID, notifFriendRequest,
			"New friend request",
			firstNonEmpty(u.DisplayName, u.Username)+" wants to be your friend",
			map[string]any{"request_id": out.ID, "from_user": u.Username})
	})
	if err != nil {
		return err
	}
	writeJSON(w, status, toFriendRequestDTO(out))
	return nil
}

func (a *App) acceptRequest(tx *gorm.DB, fr *FriendRequest) error {
	now := a.now()
	fr.Status, fr.RespondedAt = friendAccepted, &now
	if err := tx.Model(&FriendRequest{}).Where("id = ?", fr.ID).
		Updates(map[string]any{"status": friendAccepted, "responded_at": now, "updated_at": now}).Error; err != nil {
		return err
	}
	return notify(tx, now, fr.FromUserID, notifFriendAccepted,
		"Friend request accepted",
		firstNonEmpty(fr.ToUser.DisplayName, fr.ToUser.Username)+" accepted your friend request",
		map[string]any{"request_id": fr.ID, "user": fr.ToUser.Username})
}

// loadIncomingRequest finds a request addressed to the caller.
func (a *App) loadIncomingRequest(tx *gorm.DB, r *http.Request) (FriendRequest, error) {
	var fr FriendRequest
	err := tx.Preload("FromUser").Preload("ToUser").
		Where("id = ? AND to_user_id = ?", chi.URLParam(r, "id"), mustUser(r).ID).
		First(&fr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fr, errNotFound()
	}
	if err != nil {
		return fr, err
	}
	if fr.Status != friendPending {
		return fr, errConflict("request is already " + fr.Status)
	}
	return fr, nil
}

// POST /api/friends/requests/{id}/accept/
func (a *App) handleAcceptFriendRequest(w http.ResponseWriter, r *http.Request) error {
	var fr FriendRequest
	err := a.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		var err error
		if fr, err = a.loadIncomingRequest(tx, r); err != nil {
			return err
		}
		return a.acceptRequest(tx, &fr)
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, toFriendRequestDTO(fr))
	return nil
}

// POST /api/friends/requests/{id}/reject/
func (a *App) handleRejectFriendRequest(w http.ResponseWriter, r *http.Request) error {
	fr, err := a.loadIncomingRequest(a.db.WithContext(r.Context()), r)
	if err != nil {
		return err
	}
	now := a.now()
	fr.Status, fr.RespondedAt = friendRejected, &now
	if err := a.db.WithContext(r.Context()).Model(&FriendRequest{}).Where("id = ?", fr.ID).
		Updates(map[string]any{"status": friendRejected, "responded_at": now, "updated_at": now}).Error; err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, toFriendRequestDTO(fr))
	return nil
}

type userSearchDTO struct {
	userDTO
	Relation string `json:"relation"` // none | friend | pending_outgoing | pending_incoming
}

// GET /api/friends/search/?q=
func (a *App) handleSearchUsers(w http.ResponseWriter, r *http.Request) error {
	u := mustUser(r)
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(q) < 2 {
		return validationError(map[string]string{"q": "at least 2 characters"})
	}
	// escape LIKE wildcards typed by the user
	pat := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.ToLower(q)) + "%"

	var users []User
	if err := a.db.WithContext(r.Context()).
		Where(`LOWER(username) LIKE ? ESCAPE '\' AND id <> ?`, pat, u.ID).
		Order("username").Limit(20).
		Find(&users).Error; err != nil {
		return err
	}

	ids := make([]string, 0, len(users))
	for _, x := range users {
		ids = append(ids, x.ID)
	}
	var links []FriendRequest
	if len(ids) > 0 {
		if err := a.db.WithContext(r.Context()).
			Where("status IN ?", []string{friendPending, friendAccepted}).
			Where("((from_user_id = ? AND to_user_id IN ?) OR (to_user_id = ? AND from_user_id IN ?))", u.ID, ids, u.ID, ids).
			Find(&links).Error; err != nil {
			return err
		}
	}
	// an accepted link wins over any leftover pending one
	rel := map[string]string{}
	for _, l := range links {
		other, relation := l.FromUserID, "pending_incoming"
		if l.FromUserID == u.ID {
			other, relation = l.ToUserID, "pending_outgoing"
		}
		if l.Status == friendAccepted {
			relation = "friend"
		}
		if rel[other] != "friend" {
			rel[other] = relation
		}
	}

	out := make([]userSearchDTO, 0, len(users))
	for _, x := range users {
		relation := rel[x.ID]
		if relation == "" {
			relation = "none"
		}
		out = append(out, userSearchDTO{userDTO: publicUser(x), Relation: relation})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
	return nil
}
