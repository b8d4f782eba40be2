package booksvc

import (
	"context"
	"errors"

	"github.com/Danylo-D87/library-service/model"
)

var ErrBadInput = errors.New("invalid book payload")

type Repo interface {
	Create(ctx context.Context, b *model.Book) error
	Update(ctx context.Context, b *model.Book) error
	List(ctx context.Context) ([]model.Book, error)
	Detail(ctx context.Context, id int64) (*model.Book, error)
}

type Service interface {
	Create(ctx context.Context, b *model.Book) error
	Update(ctx context.Context, b *model.Book) error
	List(ctx context.Context) ([]model.Book, error)
	Detail(ctx context.Context, id int64) (*model.Book, error)
}

type service struct{ r Repo }

func New(r Repo) Service { return &service{r: r} }

func (s *service) Create(ctx context.Context, b *model.Book) error {
	if err := validate(b); err != nil {
		return err
	}
	return s.r.Create(ctx, b)
}

func (s *service) Update(ctx context.Context, b *model.Book) error {
	if err := validate(b); err != nil {
		return err
	}
	return s.r.Update(ctx, b)
}

func validate(b *model.Book) error {
	if b.Title == "" || b.Author == "" {
		return ErrBadInput
	}
	if b.Cover != model.CoverHard && b.Cover != model.CoverSoft {
		return ErrBadInput
	}
	if b.Inventory < 0 || b.DailyFee.IsNegative() {
		return ErrBadInput
	}
	return nil
}

func (s *service) List(ctx context.Context) ([]model.Book, error)            { return s.r.List(ctx) }
func (s *service) Detail(ctx context.Context, id int64) (*model.Book, error) { return s.r.Detail(ctx, id) }
