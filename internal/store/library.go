package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/libris-hq/apiserver/types"
)

// LibraryRepository handles persistence for library records.
type LibraryRepository struct {
	db *sql.DB
}

func NewLibraryRepository(db *sql.DB) *LibraryRepository {
	return &LibraryRepository{db: db}
}

const libraryColumns = `id, title, description, author, image, created_at, updated_at`

func (r *LibraryRepository) List(ctx context.Context) ([]types.LibraryRecord, error) {
	const query = `SELECT ` + libraryColumns + ` FROM library_records ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]types.LibraryRecord, 0)
	for rows.Next() {
		var record types.LibraryRecord
		if err := rows.Scan(
			&record.ID,
			&record.Title,
			&record.Description,
			&record.Author,
			&record.Image,
			&record.CreatedAt,
			&record.UpdatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

func (r *LibraryRepository) Get(ctx context.Context, id int) (types.LibraryRecord, error) {
	const query = `SELECT ` + libraryColumns + ` FROM library_records WHERE id = $1`
	var record types.LibraryRecord
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&record.ID,
		&record.Title,
		&record.Description,
		&record.Author,
		&record.Image,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.LibraryRecord{}, ErrNotFound
		}
		return types.LibraryRecord{}, err
	}
	return record, nil
}

func (r *LibraryRepository) Create(ctx context.Context, record types.LibraryRecord) (types.LibraryRecord, error) {
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now

	const query = `
		INSERT INTO library_records (title, description, author, image, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		record.Title,
		record.Description,
		record.Author,
		record.Image,
		record.CreatedAt,
		record.UpdatedAt,
	).Scan(&record.ID); err != nil {
		return types.LibraryRecord{}, err
	}

	return record, nil
}

// Update overwrites the mutable fields of the record and returns it with
// the stored created_at.
func (r *LibraryRepository) Update(ctx context.Context, record types.LibraryRecord) (types.LibraryRecord, error) {
	record.UpdatedAt = time.Now().UTC()

	const query = `
		UPDATE library_records
		SET title = $1,
			description = $2,
			author = $3,
			image = $4,
			updated_at = $5
		WHERE id = $6
		RETURNING created_at`
	err := r.db.QueryRowContext(
		ctx,
		query,
		record.Title,
		record.Description,
		record.Author,
		record.Image,
		record.UpdatedAt,
		record.ID,
	).Scan(&record.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.LibraryRecord{}, ErrNotFound
		}
		return types.LibraryRecord{}, err
	}

	return record, nil
}

func (r *LibraryRepository) Delete(ctx context.Context, id int) error {
	const query = `DELETE FROM library_records WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
