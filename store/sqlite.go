package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/formloop/formloop/model"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db}
}

func (s *SQLite) FormByID(ctx context.Context, id string) (*model.Form, error) {
	form := model.Form{}
	err := s.db.QueryRowContext(ctx, `
		SELECT f.id, f.project_id, f.name, f.description, f.is_active, f.response_limit
		FROM form f
		WHERE f.id = ?`,
		id,
	).Scan(&form.ID, &form.ProjectID, &form.Name, &form.Description, &form.IsActive, &form.ResponseLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &form, nil
}

func (s *SQLite) QuestionsByForm(ctx context.Context, formID string) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.type, q.label, q.required, q.options
		FROM question q
		WHERE q.form_id = ?
		ORDER BY q.position`,
		formID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := []model.Question{}
	for rows.Next() {
		q := model.Question{}
		var opts sql.NullString
		err = rows.Scan(&q.ID, &q.Type, &q.Label, &q.Required, &opts)
		if err != nil {
			return nil, err
		}

		if opts.Valid && opts.String != "" {
			err = json.Unmarshal([]byte(opts.String), &q.Options)
			if err != nil {
				return nil, err
			}
		}

		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (s *SQLite) CanAcceptResponse(ctx context.Context, formID string) (bool, error) {
	var limit, count int
	err := s.db.QueryRowContext(ctx, `
		SELECT f.response_limit, COUNT(r.id)
		FROM form f
		LEFT OUTER JOIN response r ON (r.form_id = f.id)
		WHERE f.id = ?
		GROUP BY f.id`,
		formID,
	).Scan(&limit, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return limit == 0 || count < limit, nil
}

func (s *SQLite) CreateResponse(ctx context.Context, response *model.Response) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO response (id, form_id, qr_code_id, ip_hash, location_name, user_agent_hash, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		response.ID,
		response.FormID,
		nullable(response.QRCodeID),
		response.IPHash,
		nullable(response.LocationName),
		nullable(response.UserAgentHash),
		response.SubmittedAt,
	)
	return err
}

func (s *SQLite) CreateResponseItems(ctx context.Context, responseID string, items []model.ResponseItem) error {
	stmt, err := s.db.PrepareContext(ctx, `
		INSERT INTO response_item (response_id, question_id, value)
		VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, item := range items {
		_, err := stmt.ExecContext(ctx, responseID, item.QuestionID, item.Value)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) DeleteResponse(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM response
		WHERE id = ?`,
		id,
	)
	return err
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
