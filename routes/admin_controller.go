package routes

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/formloop/formloop/app"
	"github.com/formloop/formloop/httpx"
	"github.com/formloop/formloop/log"
	"github.com/formloop/formloop/model"
)

func CreateProject(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project := model.Project{}
		err := render.DecodeJSON(r.Body, &project)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		project.ID = uuid.NewString()
		_, err = app.ExecContext(r.Context(), `
			INSERT INTO project (id, account_id, name) VALUES (?, ?, ?)`,
			project.ID,
			project.AccountID,
			project.Name,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.insert_project", err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id": project.ID,
		})
	}
}

func ListProjects(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := app.QueryContext(r.Context(), `
			SELECT p.id, p.account_id, p.name
			FROM project p`)
		if err != nil {
			httpx.LogInternalError(w, "db.get_projects", err)
			return
		}
		defer rows.Close()

		projects := []model.Project{}
		for rows.Next() {
			p := model.Project{}
			err = rows.Scan(&p.ID, &p.AccountID, &p.Name)
			if err != nil {
				httpx.LogInternalError(w, "db.get_projects.scan", err)
				return
			}

			projects = append(projects, p)
		}

		render.JSON(w, r, map[string]any{
			"projects": projects,
		})
	}
}

func CreateForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form := model.Form{}
		err := render.DecodeJSON(r.Body, &form)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		if form.ProjectID == "" || form.Name == "" {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.validate")
			return
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.LogInternalError(w, "db.begin_tx", err)
			return
		}
		defer tx.Rollback()

		form.ID = uuid.NewString()
		_, err = tx.ExecContext(r.Context(), `
			INSERT INTO form (id, project_id, name, description, is_active, response_limit)
			VALUES (?, ?, ?, ?, ?, ?)`,
			form.ID,
			form.ProjectID,
			form.Name,
			form.Description,
			form.IsActive,
			form.ResponseLimit,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.insert_form", err)
			return
		}

		stmt, err := tx.PrepareContext(r.Context(), `
			INSERT INTO question (id, form_id, type, label, required, options, position)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			httpx.LogInternalError(w, "db.insert_form.questions.prepare", err)
			return
		}
		defer stmt.Close()

		for i, q := range form.Questions {
			var optionsJson []byte
			if q.Options != nil {
				optionsJson, err = json.Marshal(q.Options)
				if err != nil {
					httpx.LogInternalError(w, "db.insert_form.questions.parse_options", err)
					return
				}
			}
			_, err := stmt.ExecContext(r.Context(), uuid.NewString(), form.ID, q.Type, q.Label, q.Required, string(optionsJson), i)
			if err != nil {
				httpx.LogInternalError(w, "db.insert_form.questions.insert", err)
				return
			}
		}

		err = tx.Commit()
		if err != nil {
			httpx.LogInternalError(w, "db.insert_form.commit", err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id": form.ID,
		})
	}
}

func ListForms(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := app.QueryContext(r.Context(), `
			SELECT f.id, f.project_id, f.name, f.description, f.is_active, f.response_limit
			FROM form f`)
		if err != nil {
			httpx.LogInternalError(w, "db.get_forms", err)
			return
		}
		defer rows.Close()

		forms := []model.Form{}
		for rows.Next() {
			f := model.Form{}
			err = rows.Scan(&f.ID, &f.ProjectID, &f.Name, &f.Description, &f.IsActive, &f.ResponseLimit)
			if err != nil {
				httpx.LogInternalError(w, "db.get_forms.scan", err)
				return
			}

			forms = append(forms, f)
		}

		render.JSON(w, r, map[string]any{
			"forms": forms,
		})
	}
}

func GetFormById(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId := chi.URLParam(r, "id")

		form := model.Form{}
		err := app.QueryRowContext(r.Context(), `
			SELECT f.id, f.project_id, f.name, f.description, f.is_active, f.response_limit
			FROM form f
			WHERE f.id = ?`,
			formId,
		).Scan(&form.ID, &form.ProjectID, &form.Name, &form.Description, &form.IsActive, &form.ResponseLimit)
		if err == sql.ErrNoRows {
			httpx.LogNotFound(w, "get_form", formId)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_form", err)
			return
		}

		rows, err := app.QueryContext(r.Context(), `
			SELECT q.id, q.type, q.label, q.required, q.options
			FROM question q
			WHERE q.form_id = ?
			ORDER BY q.position`,
			formId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.get_form.questions", err)
			return
		}
		defer rows.Close()

		form.Questions = []model.Question{}
		for rows.Next() {
			q := model.Question{}
			var opts sql.NullString
			err = rows.Scan(&q.ID, &q.Type, &q.Label, &q.Required, &opts)
			if err != nil {
				httpx.LogInternalError(w, "db.get_form.questions.scan", err)
				return
			}

			if opts.Valid && opts.String != "" {
				err = json.Unmarshal([]byte(opts.String), &q.Options)
				if err != nil {
					httpx.LogInternalError(w, "db.get_form.questions.parse_options", err)
					return
				}
			}

			form.Questions = append(form.Questions, q)
		}

		render.JSON(w, r, form)
	}
}

// UpdateForm rewrites form metadata and reconciles questions by id:
// known ids are updated in place (so existing response items keep
// their referent), new ones are inserted, absent ones deleted.
func UpdateForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId := chi.URLParam(r, "id")

		form := model.Form{}
		err := render.DecodeJSON(r.Body, &form)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.LogInternalError(w, "db.begin_tx", err)
			return
		}
		defer tx.Rollback()

		result, err := tx.ExecContext(r.Context(), `
			UPDATE form
			SET name = ?, description = ?, is_active = ?, response_limit = ?
			WHERE id = ?`,
			form.Name,
			form.Description,
			form.IsActive,
			form.ResponseLimit,
			formId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.update_form", err)
			return
		}
		if n, _ := result.RowsAffected(); n == 0 {
			httpx.LogNotFound(w, "update_form", formId)
			return
		}

		keep := make([]any, 0, len(form.Questions))
		for i, q := range form.Questions {
			var optionsJson []byte
			if q.Options != nil {
				optionsJson, err = json.Marshal(q.Options)
				if err != nil {
					httpx.LogInternalError(w, "db.update_form.questions.parse_options", err)
					return
				}
			}

			if q.ID == "" {
				q.ID = uuid.NewString()
				_, err = tx.ExecContext(r.Context(), `
					INSERT INTO question (id, form_id, type, label, required, options, position)
					VALUES (?, ?, ?, ?, ?, ?, ?)`,
					q.ID, formId, q.Type, q.Label, q.Required, string(optionsJson), i,
				)
			} else {
				_, err = tx.ExecContext(r.Context(), `
					UPDATE question
					SET type = ?, label = ?, required = ?, options = ?, position = ?
					WHERE id = ? AND form_id = ?`,
					q.Type, q.Label, q.Required, string(optionsJson), i, q.ID, formId,
				)
			}
			if err != nil {
				httpx.LogInternalError(w, "db.update_form.questions", err)
				return
			}
			keep = append(keep, q.ID)
		}

		// Drop questions no longer present in the payload.
		query := `DELETE FROM question WHERE form_id = ?`
		args := []any{formId}
		if len(keep) > 0 {
			query += ` AND id NOT IN (?` + strings.Repeat(",?", len(keep)-1) + `)`
			args = append(args, keep...)
		}
		_, err = tx.ExecContext(r.Context(), query, args...)
		if err != nil {
			httpx.LogInternalError(w, "db.update_form.questions.delete", err)
			return
		}

		err = tx.Commit()
		if err != nil {
			httpx.LogInternalError(w, "db.update_form.commit", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func DeleteForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId := chi.URLParam(r, "id")

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.LogInternalError(w, "db.begin_tx", err)
			return
		}
		defer tx.Rollback()

		_, err = tx.ExecContext(r.Context(), `
			DELETE FROM response
			WHERE form_id = ?`,
			formId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.delete_form.responses", err)
			return
		}

		result, err := tx.ExecContext(r.Context(), `
			DELETE FROM form
			WHERE id = ?`,
			formId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.delete_form", err)
			return
		}
		if n, _ := result.RowsAffected(); n == 0 {
			httpx.LogNotFound(w, "delete_form", formId)
			return
		}

		err = tx.Commit()
		if err != nil {
			httpx.LogInternalError(w, "db.delete_form.commit", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func GetFormResponses(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId := chi.URLParam(r, "id")

		rows, err := app.QueryContext(r.Context(), `
			SELECT
				res.id, res.form_id, res.qr_code_id, res.location_name, res.submitted_at,
				i.question_id, i.value
			FROM response res
			LEFT OUTER JOIN response_item i ON (res.id = i.response_id)
			WHERE res.form_id = ?
			ORDER BY res.submitted_at, res.id`,
			formId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.get_responses", err)
			return
		}
		defer rows.Close()

		responses := []model.Response{}
		for rows.Next() {
			res := model.Response{}
			var qrCodeId, locationName, questionId, value sql.NullString
			err = rows.Scan(
				&res.ID, &res.FormID, &qrCodeId, &locationName, &res.SubmittedAt,
				&questionId, &value,
			)
			if err != nil {
				httpx.LogInternalError(w, "db.get_responses.scan", err)
				return
			}
			res.QRCodeID = qrCodeId.String
			res.LocationName = locationName.String

			if n := len(responses); n > 0 && responses[n-1].ID == res.ID {
				if questionId.Valid {
					responses[n-1].Items = append(responses[n-1].Items,
						model.ResponseItem{QuestionID: questionId.String, Value: value.String})
				}
				continue
			}

			if questionId.Valid {
				res.Items = append(res.Items,
					model.ResponseItem{QuestionID: questionId.String, Value: value.String})
			}
			responses = append(responses, res)
		}

		render.JSON(w, r, map[string]any{
			"responses": responses,
		})
	}
}
