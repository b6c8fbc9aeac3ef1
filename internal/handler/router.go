package handler

import "github.com/gin-gonic/gin"

// Handlers 汇总所有控制器，供路由注册使用。
type Handlers struct {
	User       *UserHandler
	Auth       *AuthHandler
	Provider   *ProviderHandler
	Session    *SessionHandler
	Library    *LibraryHandler
	Attachment *AttachmentHandler
	Socket     *SocketHandler
}

// RegisterRoutes 在 r 上注册全部路由，authed 为认证中间件。
func RegisterRoutes(r *gin.Engine, h Handlers, authed gin.HandlerFunc) {
	apiV1 := r.Group("/api/v1")
	{
		apiV1.POST("/auth/refreshToken", h.Auth.RefreshToken)

		users := apiV1.Group("/users")
		{
			// 无需认证的路由
			users.POST("/register", h.User.Register)
			users.POST("/login", h.User.Login)

			// 需要认证的路由
			users.GET("/me", authed, h.User.GetProfile)
			users.POST("/logout", authed, h.User.Logout)
		}

		apiV1.GET("/providers", authed, h.Provider.List)
		apiV1.GET("/chat/websocket-token", authed, h.User.SocketToken)

		sessions := apiV1.Group("/sessions", authed)
		{
			sessions.POST("", h.Session.Create)
			sessions.GET("", h.Session.List)
			sessions.GET("/:id", h.Session.Get)
			sessions.DELETE("/:id", h.Session.Delete)
			sessions.PUT("/:id/settings", h.Session.UpdateSettings)

			sessions.POST("/:id/messages", h.Session.SendMessage)
			sessions.PUT("/:id/messages/:turnId", h.Session.SaveEdit)
			sessions.POST("/:id/messages/:turnId/edit", h.Session.BeginEdit)
			sessions.DELETE("/:id/messages/:turnId/edit", h.Session.CancelEdit)
			sessions.DELETE("/:id/messages/:turnId", h.Session.DeleteTurn)
			sessions.POST("/:id/messages/:turnId/restore", h.Session.RestoreTurn)
			sessions.POST("/:id/messages/:turnId/regenerate", h.Session.RegenerateReply)

			sessions.POST("/:id/workflow", h.Session.StartWorkflow)
			sessions.POST("/:id/stages/:stage", h.Session.StartStage)
			sessions.POST("/:id/interrupt", h.Session.Interrupt)

			sessions.POST("/:id/final-prompt/translate", h.Session.TranslateFinalPrompt)
			sessions.POST("/:id/final-prompt/format", h.Session.ConvertFinalPromptFormat)
			sessions.POST("/:id/library", h.Session.SaveToLibrary)
		}

		library := apiV1.Group("/library", authed)
		{
			library.GET("", h.Library.List)
			library.GET("/search", h.Library.Search)
			library.GET("/:id", h.Library.Get)
			library.DELETE("/:id", h.Library.Delete)
		}

		attachments := apiV1.Group("/attachments", authed)
		{
			attachments.POST("", h.Attachment.Upload)
			attachments.GET("/:id/url", h.Attachment.DownloadURL)
		}
	}

	// WebSocket 无法携带 Authorization 头，token 放在路径中
	r.GET("/ws/sessions/:id/:token", h.Socket.Handle)
}
