// Package store is the submission pipeline's view of the database:
// form and question lookups, the plan quota predicate, and response
// persistence with its compensating delete.
package store

import (
	"context"
	"errors"

	"github.com/formloop/formloop/model"
)

var ErrNotFound = errors.New("store: not found")

type Store interface {
	// FormByID returns the form together with its owning project id.
	FormByID(ctx context.Context, id string) (*model.Form, error)
	QuestionsByForm(ctx context.Context, formID string) ([]model.Question, error)
	// CanAcceptResponse reports whether the form is under its plan's
	// response quota.
	CanAcceptResponse(ctx context.Context, formID string) (bool, error)
	CreateResponse(ctx context.Context, response *model.Response) error
	CreateResponseItems(ctx context.Context, responseID string, items []model.ResponseItem) error
	DeleteResponse(ctx context.Context, id string) error
}
