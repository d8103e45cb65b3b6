package http

import (
	"net/http"
	"time"

	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/transport/ws"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/pkg/httputil"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(h *Handler, wsServer *ws.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)
	r.Use(httputil.MiddlewareRequestID)

	// панель локальная, но может жить на другом порту dev-сервера
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	// WS endpoint: поток событий плоскости управления. Вне группы логирования:
	// upgrade требует чистый ResponseWriter, без обёрток.
	r.Get("/v1/events", wsServer.HandleWS)

	r.Group(func(pr chi.Router) {
		pr.Use(httputil.MiddlewareLogging)
		pr.Use(middlewareChi.Timeout(30 * time.Second))

		pr.Route("/v1", func(v1 chi.Router) {
			v1.Route("/room", func(rm chi.Router) {
				rm.Get("/", h.GetRoom)
				rm.Post("/", h.CreateRoom)
				rm.Post("/join", h.JoinRoom)
				rm.Post("/leave", h.LeaveRoom)
			})
			v1.Get("/rooms/discovered", h.DiscoveredRooms)
			v1.Post("/rooms/scan", h.ScanRooms)

			v1.Post("/commands", h.SendCommand)
			v1.Post("/chat", h.SendChat)
			v1.Post("/status", h.PublishStatus)

			v1.Post("/role", h.SetRole)
			v1.Route("/permissions", func(pm chi.Router) {
				pm.Post("/request", h.RequestControl)
				pm.Post("/respond", h.RespondToRequest)
				pm.Post("/revoke", h.RevokeControl)
				pm.Post("/force", h.ForceGrant)
				pm.Post("/lock", h.SetLock)
			})
			v1.Post("/control-mode", h.SetControlMode)
		})
	})

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
