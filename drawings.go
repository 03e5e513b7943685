package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

/* ===================== DB model ====================== */

// Drawing is one piece of the art portfolio ("dibujo").
type Drawing struct {
	ID          string `gorm:"primaryKey;type:text"`
	UserKey     string `gorm:"index;type:text;not null"`
	Title       string `gorm:"size:200;not null"`
	Description string `gorm:"type:text"`
	Technique   string `gorm:"size:64"`
	Year        *int
	ImageKey    string `gorm:"type:text;not null"`
	ContentType string `gorm:"size:64"`
	Size        int64
	Public      bool `gorm:"not null"`
	Position    int  `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Owner User `gorm:"foreignKey:UserKey;references:ID"`
}

type drawingDTO struct {
	ID          string    `json:"id"`
	Owner       userDTO   `json:"owner"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Technique   string    `json:"technique"`
	Year        *int      `json:"year"`
	ImageURL    string    `json:"image_url"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Public      bool      `json:"public"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toDrawingDTO(d Drawing) drawingDTO {
	return drawingDTO{
		ID:          d.ID,
		Owner:       publicUser(d.Owner),
		Title:       d.Title,
		Description: d.Description,
		Technique:   d.Technique,
		Year:        d.Year,
		ImageURL:    "/api/dibujos/" + d.ID + "/image/",
		ContentType: d.ContentType,
		Size:        d.Size,
		Public:      d.Public,
		Position:    d.Position,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

type drawingInput struct {
	Title       *string `json:"title"       validate:"omitnil,notblank,max=200"`
	Description *string `json:"description"`
	Technique   *string `json:"technique"   validate:"omitnil,max=64"`
	Year        *int    `json:"year"        validate:"omitnil,min=1900"`
	Public      *bool   `json:"public"`
}

// drawingInputFromForm reads the text fields of a multipart request.
func drawingInputFromForm(r *http.Request) (drawingInput, error) {
	var in drawingInput
	fe := fieldErrors{}
	if vs, ok := r.MultipartForm.Value["title"]; ok && len(vs) > 0 {
		in.Title = ptr(vs[0])
	}
	if vs, ok := r.MultipartForm.Value["description"]; ok && len(vs) > 0 {
		in.Description = ptr(vs[0])
	}
	if vs, ok := r.MultipartForm.Value["technique"]; ok && len(vs) > 0 {
		in.Technique = ptr(vs[0])
	}
	if vs, ok := r.MultipartForm.Value["year"]; ok && len(vs) > 0 && strings.TrimSpace(vs[0]) != "" {
		y, err := strconv.Atoi(strings.TrimSpace(vs[0]))
		if err != nil {
			fe.add("year", "must be an integer")
		} else {
			in.Year = &y
		}
	}
	if vs, ok := r.MultipartForm.Value["public"]; ok && len(vs) > 0 {
		in.Public = ptr(parseFormBool(vs[0], true))
	}
	if err := fe.err(); err != nil {
		return in, err
	}
	return in, validateStruct(&in)
}

// apply copies the tag-validated input onto d. The year's upper bound
// moves with the clock, so it is checked here.
func (in drawingInput) apply(d *Drawing, partial bool, thisYear int) error {
	fe := fieldErrors{}
	if in.Title == nil && !partial {
		fe.add("title", "required")
	}
	if in.Year != nil && *in.Year > thisYear+1 {
		fe.add("year", "must be <= "+strconv.Itoa(thisYear+1))
	}
	if err := fe.err(); err != nil {
		return err
	}
	if in.Title != nil {
		d.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		d.Description = strings.TrimSpace(*in.Description)
	}
	if in.Technique != nil {
		d.Technique = strings.TrimSpace(*in.Technique)
	}
	if in.Year != nil {
		d.Year = in.Year
	}
	if in.Public != nil {
		d.Public = *in.Public
	}
	return nil
}

/* ===================== HTTP ====================== */

// GET /api/dibujos/  (anonymous: public only; signed in: own + public)
func (a *App) handleListDrawings(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	base := a.db.WithContext(r.Context()).Model(&Drawing{})
	if u := currentUser(r); u != nil {
		base = base.Where("(drawings.public = ? OR drawings.user_key = ?)", true, u.ID)
	} else {
		base = base.Where("drawings.public = ?", true)
	}
	if v := strings.TrimSpace(q.Get("owner")); v != "" {
		base = base.Where("drawings.user_key IN (?)",
			a.db.Model(&User{}).Select("id").Where("LOWER(username) = LOWER(?)", v))
	}
	if v := strings.TrimSpace(q.Get("technique")); v != "" {
		base = base.Where("LOWER(drawings.technique) = LOWER(?)", v)
	}
	if v := strings.TrimSpace(q.Get("search")); v != "" {
		like := "%" + strings.ToLower(v) + "%"
		base = base.Where("(LOWER(drawings.title) LIKE ? OR LOWER(drawings.description) LIKE ?)", like, like)
	}
	page, err := paginate(r, base, "drawings.position ASC, drawings.created_at DESC", toDrawingDTO, "Owner")
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, page)
	return nil
}

// POST /api/dibujos/  multipart: image + title, description, technique, year, public
func (a *App) handleCreateDrawing(w http.ResponseWriter, r *http.Request) error {
	u := mustUser(r)
	f, fh, err := a.parseUpload(w, r, "image")
	if err != nil {
		return err
	}
	defer f.Close()

	in, err := drawingInputFromForm(r)
	if err != nil {
		return err
	}
	d := Drawing{ID: newID(), UserKey: u.ID, Public: true}
	if err := in.apply(&d, false, a.now().Year()); err != nil {
		return err
	}

	obj, err := a.storeImage(r.Context(), "drawings/"+u.ID, f, fh)
	if err != nil {
		return err
	}
	d.ImageKey, d.ContentType, d.Size = obj.Key, obj.ContentType, obj.Size

	// new drawings go to the end of the owner's gallery
	var maxPos int
	if err := a.db.WithContext(r.Context()).Model(&Drawing{}).
		Where("user_key = ?", u.ID).Select("COALESCE(MAX(position), -1)").
		Row().Scan(&maxPos); err != nil {
		a.deleteObject(obj.Key)
		return err
	}
	d.Position = maxPos + 1

	if err := a.db.WithContext(r.Context()).Create(&d).Error; err != nil {
		a.deleteObject(obj.Key)
		return err
	}
	d.Owner = *u
	writeJSON(w, http.StatusCreated, toDrawingDTO(d))
	return nil
}

// loadDrawing finds a drawing the caller may see; writable requires ownership.
func (a *App) loadDrawing(r *http.Request, writable bool) (Drawing, error) {
	var d Drawing
	err := a.db.WithContext(r.Context()).Preload("Owner").
		First(&d, "id = ?", chi.URLParam(r, "id")).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return d, errNotFound()
	}
	if err != nil {
		return d, err
	}
	u := currentUser(r)
	own := u != nil && u.ID == d.UserKey
	if !own && (writable || !d.Public) {
		return d, errNotFound()
	}
	return d, nil
}

// GET /api/dibujos/{id}/
func (a *App) handleGetDrawing(w http.ResponseWriter, r *http.Request) error {
	d, err := a.loadDrawing(r, false)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, toDrawingDTO(d))
	return nil
}

// PUT|PATCH /api/dibujos/{id}/  JSON fields, or multipart to also replace the image
func (a *App) handleUpdateDrawing(w http.ResponseWriter, r *http.Request) error {
	d, err := a.loadDrawing(r, true)
	if err != nil {
		return err
	}
	partial := r.Method == http.MethodPatch

	var (
		in     drawingInput
		oldKey string
	)
	if isMultipart(r) {
		f, fh, err := a.parseUpload(w, r, "image")
		var apiErr *apiError
		switch {
		case err == nil:
			defer f.Close()
			obj, err := a.storeImage(r.Context(), "drawings/"+d.UserKey, f, fh)
			if err != nil {
				return err
			}
			oldKey = d.ImageKey
			d.ImageKey, d.ContentType, d.Size = obj.Key, obj.ContentType, obj.Size
		case errors.As(err, &apiErr) && apiErr.Code == "validation_error":
			// no new image, text fields only
		default:
			return err
		}
		if in, err = drawingInputFromForm(r); err != nil {
			a.rollbackImage(&d, oldKey)
			return err
		}
	} else if err := decodeJSON(r, &in); err != nil {
		return err
	}

	if err := in.apply(&d, partial, a.now().Year()); err != nil {
		a.rollbackImage(&d, oldKey)
		return err
	}
	if err := a.db.WithContext(r.Context()).Omit("Owner").Save(&d).Error; err != nil {
		a.rollbackImage(&d, oldKey)
		return err
	}
	if oldKey != "" {
		a.deleteObject(oldKey)
	}
	writeJSON(w, http.StatusOK, toDrawingDTO(d))
	return nil
}

// rollbackImage drops a freshly stored replacement image after a failed update.
func (a *App) rollbackImage(d *Drawing, oldKey string) {
	if oldKey == "" {
		return
	}
	a.deleteObject(d.ImageKey)
	d.ImageKey = oldKey
}

// DELETE /api/dibujos/{id}/
func (a *App) handleDeleteDrawing(w http.ResponseWriter, r *http.Request) error {
	d, err := a.loadDrawing(r, true)
	if err != nil {
		return err
	}
	if err := a.db.WithContext(r.Context()).Delete(&Drawing{}, "id = ?", d.ID).Error; err != nil {
		return err
	}
	a.deleteObject(d.ImageKey)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// GET /api/dibujos/{id}/image/
func (a *App) handleDrawingImage(w http.ResponseWriter, r *http.Request) error {
	d, err := a.loadDrawing(r, false)
	if err != nil {
		return err
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	return a.streamObject(w, r, d.ImageKey, d.ContentType, d.Size, "")
}

// POST /api/dibujos/reorder/  {"ids": [...]}
func (a *App) handleReorderDrawings(w http.ResponseWriter, r *http.Request) error {
	u := mustUser(r)
	var in struct {
		IDs []string `json:"ids"`
	}
	if err := decodeJSON(r, &in); err != nil {
		return err
	}
	if len(in.IDs) == 0 {
		return validationError(map[string]string{"ids": "required"})
	}
	seen := map[string]bool{}
	for _, id := range in.IDs {
		if seen[id] {
			return validationError(map[string]string{"ids": "duplicate id " + id})
		}
		seen[id] = true
	}

	err := a.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		var owned int64
		if err := tx.Model(&Drawing{}).Where("user_key = ? AND id IN ?", u.ID, in.IDs).Count(&owned).Error; err != nil {
			return err
		}
		if int(owned) != len(in.IDs) {
			return validationError(map[string]string{"ids": "unknown drawing id"})
		}
		for i, id := range in.IDs {
			if err := tx.Model(&Drawing{}).Where("id = ?", id).Update("position", i).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	return nil
}
