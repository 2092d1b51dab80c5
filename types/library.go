package types

import "time"

// LibraryRecord represents a book entry in the library catalogue.
// Every record owns exactly one stored image asset.
type LibraryRecord struct {
	// ID is the unique identifier of the record.
	ID int `json:"id" db:"id"`

	// Title is the human-readable title of the book.
	Title string `json:"title" db:"title"`

	// Description is a free-form summary of the book.
	Description string `json:"description" db:"description"`

	// Author is the name of the book's author.
	Author string `json:"author" db:"author"`

	// Image is the storage key of the record's image asset
	// (e.g. "01J9Z3K6V0QH2T8X4N5M7B1C2D.png").
	Image string `json:"image" db:"image"`

	// ImageURL is the public URL the asset is served from. It is derived
	// from Image and not persisted.
	ImageURL string `json:"imageUrl" db:"-"`

	// CreatedAt is the timestamp at which the record was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the record.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
