package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/lending-backend/api/controllers"
	"github.com/angelmondragon/lending-backend/api/middleware"
	"github.com/angelmondragon/lending-backend/internal/books"
	"github.com/angelmondragon/lending-backend/internal/lending"
	"github.com/angelmondragon/lending-backend/internal/members"
	"github.com/angelmondragon/lending-backend/pkg/config"
	"github.com/angelmondragon/lending-backend/pkg/db"
	"github.com/angelmondragon/lending-backend/pkg/logger"
	"github.com/angelmondragon/lending-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	gatherer prometheus.Gatherer,
	bookService books.Service,
	memberService members.Service,
	lendingService lending.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	var idempotencyStore redis.IdempotencyStore
	readiness := []controllers.NamedPinger{{Name: "db", Pinger: dbP}}
	if redisClient != nil {
		idempotencyStore = redisClient
		readiness = append(readiness, controllers.NamedPinger{Name: "redis", Pinger: redisClient})
	}
	idempotent := middleware.Idempotency(idempotencyStore, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness...))
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/books", func(r chi.Router) {
			r.With(idempotent).Post("/", controllers.AddBook(bookService, logg))
			r.Get("/", controllers.ListBooks(bookService, logg))
			r.Get("/{bookId}", controllers.GetBook(bookService, logg))
			r.Put("/{bookId}", controllers.UpdateBook(bookService, logg))
			r.Delete("/{bookId}", controllers.DeleteBook(bookService, logg))
		})

		r.Route("/members", func(r chi.Router) {
			r.With(idempotent).Post("/", controllers.CreateMember(memberService, logg))
			r.Get("/", controllers.ListMembers(memberService, logg))
			r.Get("/{memberId}", controllers.GetMember(memberService, logg))
			r.Put("/{memberId}", controllers.UpdateMember(memberService, logg))
			r.Delete("/{memberId}", controllers.DeleteMember(memberService, logg))
		})

		r.Route("/borrows", func(r chi.Router) {
			r.With(idempotent).Post("/", controllers.Borrow(lendingService, logg))
			r.With(idempotent).Post("/return", controllers.Return(lendingService, logg))
			r.Get("/members/{name}/titles", controllers.MemberBorrowedTitles(lendingService, logg))
			r.Get("/titles", controllers.DistinctBorrowedTitles(lendingService, logg))
			r.Get("/stats", controllers.BorrowedTitleStats(lendingService, logg))
		})
	})

	return r
}
