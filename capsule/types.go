package capsule

import "time"

// Vault is one photo vault as listed by the backend.
type Vault struct {
	ID               uint64     `json:"ID"`
	UserID           uint64     `json:"UserID"`
	Title            string     `json:"Title"`
	Description      string     `json:"Description"`
	TotalStorageUsed int64      `json:"TotalStorageUsed"`
	UnlockDate       *time.Time `json:"UnlockDate"`
	CreatedAt        time.Time  `json:"CreatedAt"`
	Status           string     `json:"Status"`
}

// NewVault describes a vault to create.
type NewVault struct {
	Name             string `json:"Name"`
	Description      string `json:"Description,omitempty"`
	CoverImage       string `json:"CoverImage,omitempty"`
	IncludeInCapsule bool   `json:"IncludeInCapsule,omitempty"`
}

// Image is an uploaded picture inside a vault.
type Image struct {
	ID       uint64 `json:"id"`
	Filename string `json:"filename"`
}

// Order places one image at a position inside its vault.
type Order struct {
	ID         uint64 `json:"id"`
	OrderIndex int    `json:"order_index"`
}
