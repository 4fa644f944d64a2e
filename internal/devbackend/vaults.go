package devbackend

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/photocapsule/capsuleauth/middleware"
)

type vault struct {
	ID               uint64     `json:"ID"`
	UserID           uint64     `json:"UserID"`
	Title            string     `json:"Title"`
	Description      string     `json:"Description"`
	TotalStorageUsed int64      `json:"TotalStorageUsed"`
	UnlockDate       *time.Time `json:"UnlockDate"`
	CreatedAt        time.Time  `json:"CreatedAt"`
	Status           string     `json:"Status"`
}

type upload struct {
	id         uint64
	vaultID    uint64
	filename   string
	size       int64
	orderIndex int
	trashed    bool
}

type imageView struct {
	ID       uint64 `json:"id"`
	Filename string `json:"filename"`
}

type vaultStore struct {
	mu       sync.Mutex
	vaults   map[uint64]*vault
	uploads  map[uint64]*upload
	nextVID  uint64
	nextUpID uint64
}

func newVaultStore() *vaultStore {
	return &vaultStore{
		vaults:  make(map[uint64]*vault),
		uploads: make(map[uint64]*upload),
	}
}

// owned returns the vault with id when it belongs to userID. Callers hold mu.
func (s *vaultStore) owned(id, userID uint64) (*vault, bool) {
	v, ok := s.vaults[id]
	if !ok || v.UserID != userID {
		return nil, false
	}
	return v, true
}

// ownedUpload returns the upload with id when its vault belongs to userID.
// Callers hold mu.
func (s *vaultStore) ownedUpload(id, userID uint64) (*upload, bool) {
	u, ok := s.uploads[id]
	if !ok {
		return nil, false
	}
	if _, ok := s.owned(u.vaultID, userID); !ok {
		return nil, false
	}
	return u, true
}

func (s *vaultStore) images(vaultID uint64, trashed bool) []imageView {
	list := make([]*upload, 0)
	for _, u := range s.uploads {
		if u.vaultID == vaultID && u.trashed == trashed {
			list = append(list, u)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].orderIndex != list[j].orderIndex {
			return list[i].orderIndex < list[j].orderIndex
		}
		return list[i].id < list[j].id
	})

	out := make([]imageView, 0, len(list))
	for _, u := range list {
		out = append(out, imageView{ID: u.id, Filename: u.filename})
	}
	return out
}

func callerID(r *http.Request) uint64 {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return 0
	}
	return claims.UserID
}

func pathID(w http.ResponseWriter, r *http.Request, what string) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid "+what+" ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (b *Backend) handleListVaults(w http.ResponseWriter, r *http.Request) {
	uid := callerID(r)

	s := b.vaults
	s.mu.Lock()
	out := make([]vault, 0)
	for _, v := range s.vaults {
		if v.UserID == uid {
			out = append(out, *v)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleAddVault(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"Name"`
		Description string `json:"Description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "Missing vault name", http.StatusBadRequest)
		return
	}
	uid := callerID(r)

	s := b.vaults
	s.mu.Lock()
	for _, v := range s.vaults {
		if v.UserID == uid && v.Title == req.Name {
			s.mu.Unlock()
			http.Error(w, "Vault name already used", http.StatusConflict)
			return
		}
	}
	s.nextVID++
	v := &vault{
		ID:          s.nextVID,
		UserID:      uid,
		Title:       req.Name,
		Description: req.Description,
		CreatedAt:   time.Now().UTC(),
		Status:      "open",
	}
	s.vaults[v.ID] = v
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]uint64{"vaultId": v.ID})
}

func (b *Backend) handleDeleteVault(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "vault")
	if !ok {
		return
	}

	s := b.vaults
	s.mu.Lock()
	v, exists := s.vaults[id]
	switch {
	case !exists:
		s.mu.Unlock()
		http.Error(w, "Vault not found", http.StatusNotFound)
		return
	case v.UserID != callerID(r):
		s.mu.Unlock()
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	delete(s.vaults, id)
	for uid, u := range s.uploads {
		if u.vaultID == id {
			delete(s.uploads, uid)
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"message": "Vault deleted successfully"})
}

func (b *Backend) listImages(w http.ResponseWriter, r *http.Request, trashed bool) {
	id, ok := pathID(w, r, "vault")
	if !ok {
		return
	}

	s := b.vaults
	s.mu.Lock()
	if _, ok := s.owned(id, callerID(r)); !ok {
		s.mu.Unlock()
		http.Error(w, "Vault not found or forbidden", http.StatusForbidden)
		return
	}
	out := s.images(id, trashed)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleListImages(w http.ResponseWriter, r *http.Request) {
	b.listImages(w, r, false)
}

func (b *Backend) handleListTrash(w http.ResponseWriter, r *http.Request) {
	b.listImages(w, r, true)
}

func (b *Backend) handleUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "vault")
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "Error retrieving the file", http.StatusBadRequest)
		return
	}
	_ = file.Close()

	s := b.vaults
	s.mu.Lock()
	v, ok := s.owned(id, callerID(r))
	if !ok {
		s.mu.Unlock()
		http.Error(w, "Vault not found or forbidden", http.StatusForbidden)
		return
	}
	s.nextUpID++
	s.uploads[s.nextUpID] = &upload{
		id:         s.nextUpID,
		vaultID:    id,
		filename:   header.Filename,
		size:       header.Size,
		orderIndex: len(s.images(id, false)),
	}
	v.TotalStorageUsed += header.Size
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "Upload successful",
		"filename": header.Filename,
	})
}

// updateUpload applies fn to an upload owned by the caller.
func (b *Backend) updateUpload(w http.ResponseWriter, r *http.Request, fn func(*vaultStore, *upload), message string) {
	id, ok := pathID(w, r, "upload")
	if !ok {
		return
	}

	s := b.vaults
	s.mu.Lock()
	u, ok := s.ownedUpload(id, callerID(r))
	if !ok {
		s.mu.Unlock()
		http.Error(w, "Upload not found", http.StatusNotFound)
		return
	}
	fn(s, u)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

func (b *Backend) handleTrashImage(w http.ResponseWriter, r *http.Request) {
	b.updateUpload(w, r, func(_ *vaultStore, u *upload) { u.trashed = true }, "Moved to trash")
}

func (b *Backend) handleRecoverImage(w http.ResponseWriter, r *http.Request) {
	b.updateUpload(w, r, func(_ *vaultStore, u *upload) { u.trashed = false }, "Recovered")
}

func (b *Backend) handleDeleteTrashed(w http.ResponseWriter, r *http.Request) {
	b.updateUpload(w, r, func(s *vaultStore, u *upload) {
		if v, ok := s.vaults[u.vaultID]; ok {
			v.TotalStorageUsed -= u.size
		}
		delete(s.uploads, u.id)
	}, "Deleted successfully")
}

func (b *Backend) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	var updates []struct {
		ID         uint64 `json:"id"`
		OrderIndex int    `json:"order_index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	uid := callerID(r)

	s := b.vaults
	s.mu.Lock()
	for _, up := range updates {
		if u, ok := s.ownedUpload(up.ID, uid); ok {
			u.orderIndex = up.OrderIndex
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"message": "Order updated successfully"})
}

func (b *Backend) handleSetReleaseTime(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "vault")
	if !ok {
		return
	}
	var req struct {
		ReleaseTime string `json:"release_time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	at, err := time.Parse(time.RFC3339, req.ReleaseTime)
	if err != nil {
		http.Error(w, "Invalid time format (expected RFC3339)", http.StatusBadRequest)
		return
	}

	s := b.vaults
	s.mu.Lock()
	v, ok := s.owned(id, callerID(r))
	if !ok {
		s.mu.Unlock()
		http.Error(w, "Vault not found or forbidden", http.StatusForbidden)
		return
	}
	at = at.UTC()
	v.UnlockDate = &at
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"message": "Release time set successfully"})
}

func (b *Backend) handleGetReleaseTime(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "vault")
	if !ok {
		return
	}

	s := b.vaults
	s.mu.Lock()
	v, ok := s.owned(id, callerID(r))
	if !ok {
		s.mu.Unlock()
		http.Error(w, "Vault not found or forbidden", http.StatusForbidden)
		return
	}
	at := v.UnlockDate
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]*time.Time{"release_time": at})
}
