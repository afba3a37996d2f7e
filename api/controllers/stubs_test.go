package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/lending-backend/internal/books"
	"github.com/angelmondragon/lending-backend/internal/borrows"
	"github.com/angelmondragon/lending-backend/internal/lending"
	"github.com/angelmondragon/lending-backend/internal/members"
)

func withURLParam(req *http.Request, key, value string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

type stubBookService struct {
	book      *books.BookDTO
	list      []books.BookDTO
	err       error
	added     books.AddBookInput
	updated   books.UpdateBookInput
	deletedID uuid.UUID
}

func (s *stubBookService) AddBook(_ context.Context, input books.AddBookInput) (*books.BookDTO, error) {
	s.added = input
	return s.book, s.err
}

func (s *stubBookService) UpdateBook(_ context.Context, _ uuid.UUID, input books.UpdateBookInput) (*books.BookDTO, error) {
	s.updated = input
	return s.book, s.err
}

func (s *stubBookService) DeleteBook(_ context.Context, id uuid.UUID) error {
	s.deletedID = id
	return s.err
}

func (s *stubBookService) GetBook(context.Context, uuid.UUID) (*books.BookDTO, error) {
	return s.book, s.err
}

func (s *stubBookService) ListBooks(context.Context) ([]books.BookDTO, error) {
	return s.list, s.err
}

type stubMemberService struct {
	member    *members.MemberDTO
	list      []members.MemberDTO
	err       error
	name      string
	foundName string
}

func (s *stubMemberService) CreateMember(_ context.Context, name string) (*members.MemberDTO, error) {
	s.name = name
	return s.member, s.err
}

func (s *stubMemberService) UpdateMember(_ context.Context, _ uuid.UUID, name string) (*members.MemberDTO, error) {
	s.name = name
	return s.member, s.err
}

func (s *stubMemberService) DeleteMember(context.Context, uuid.UUID) error {
	return s.err
}

func (s *stubMemberService) GetMember(context.Context, uuid.UUID) (*members.MemberDTO, error) {
	return s.member, s.err
}

func (s *stubMemberService) FindByName(_ context.Context, name string) (*members.MemberDTO, error) {
	s.foundName = name
	return s.member, s.err
}

func (s *stubMemberService) ListMembers(context.Context) ([]members.MemberDTO, error) {
	return s.list, s.err
}

type stubLendingService struct {
	err        error
	memberID   uuid.UUID
	bookID     uuid.UUID
	memberName string
	titles     []string
	stats      []borrows.TitleCount
}

func (s *stubLendingService) Borrow(_ context.Context, memberID, bookID uuid.UUID) error {
	s.memberID, s.bookID = memberID, bookID
	return s.err
}

func (s *stubLendingService) Return(_ context.Context, memberID, bookID uuid.UUID) error {
	s.memberID, s.bookID = memberID, bookID
	return s.err
}

func (s *stubLendingService) ListBorrowedTitles(_ context.Context, memberName string) ([]string, error) {
	s.memberName = memberName
	return s.titles, s.err
}

func (s *stubLendingService) ListDistinctBorrowedTitles(context.Context) ([]string, error) {
	return s.titles, s.err
}

func (s *stubLendingService) BorrowedTitleStats(context.Context) ([]borrows.TitleCount, error) {
	return s.stats, s.err
}

func (s *stubLendingService) Checker() *lending.Checker {
	return nil
}
