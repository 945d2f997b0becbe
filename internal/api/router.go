package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"smartreply-crm/internal/accounts"
	"smartreply-crm/internal/analytics"
	"smartreply-crm/internal/auth"
	"smartreply-crm/internal/botconfig"
	"smartreply-crm/internal/broadcast"
	"smartreply-crm/internal/crm"
	"smartreply-crm/internal/inbox"
	"smartreply-crm/internal/logging"
	"smartreply-crm/internal/templates"
	"smartreply-crm/internal/webhook"
	"smartreply-crm/internal/ws"
	"smartreply-crm/pkg/validator"
)

const botConfigPath = "/api/v1/bot-config"

// Deps is everything the HTTP surface needs. Scheduler may be nil.
type Deps struct {
	Log         *logging.Logger
	CORSOrigins []string

	Auth       *auth.Service
	Accounts   *accounts.Service
	Contacts   *crm.Service
	Inbox      *inbox.Service
	Broadcasts *broadcast.Service
	Scheduler  *broadcast.Scheduler
	Templates  *templates.Service
	BotConfigs *botconfig.Service
	Analytics  *analytics.Service
	Hub        *ws.Hub
	Webhook    *webhook.Handler
}

func NewRouter(d Deps) *gin.Engine {
	log := d.Log.Sub("http")
	if err := validator.Setup(); err != nil {
		log.Error().Err(err).Msg("installing request validator")
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(log), CORS(d.CORSOrigins))

	authHandler := NewAuthHandler(d.Auth, d.Log)
	accountHandler := NewAccountHandler(d.Accounts)
	contactHandler := NewContactHandler(d.Contacts)
	messageHandler := NewMessageHandler(d.Inbox)
	broadcastHandler := NewBroadcastHandler(d.Broadcasts, d.Templates)
	botHandler := NewBotConfigHandler(d.BotConfigs)
	dashboardHandler := NewDashboardHandler(d.Analytics)

	r.GET("/health", func(c *gin.Context) {
		body := gin.H{"status": "ok", "wsClients": d.Hub.ClientCount()}
		if d.Scheduler != nil {
			body["scheduler"] = d.Scheduler.Status()
		}
		c.JSON(http.StatusOK, body)
	})

	// Webhook Routes
	r.GET("/webhook", d.Webhook.VerifyWebhook)
	r.POST("/webhook", d.Webhook.HandleMessage)

	requireSession := auth.Middleware(d.Auth)
	apiGroup := r.Group("/api")

	authGroup := apiGroup.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", auth.OptionalMiddleware(d.Auth), authHandler.Register)
		authGroup.POST("/ghost-login/:id", requireSession, auth.RequireCapability(auth.CapImpersonate), authHandler.GhostLogin)
		authGroup.GET("/me", requireSession, authHandler.Me)
	}

	secured := apiGroup.Group("", requireSession)

	// Admin: clients and users
	users := secured.Group("/users")
	{
		users.GET("", auth.RequireCapability(auth.CapManageUsers), accountHandler.ListUsers)
		users.GET("/clients", auth.RequireCapability(auth.CapManageClients), accountHandler.ListClients)
		users.POST("/client", auth.RequireCapability(auth.CapManageClients), accountHandler.CreateClient)
		users.PUT("/client/:id", auth.RequireCapability(auth.CapManageClients), accountHandler.UpdateClient)
		users.DELETE("/client/:id", auth.RequireCapability(auth.CapManageClients), accountHandler.DeleteClient)
		users.DELETE("/:id", auth.RequireCapability(auth.CapManageUsers), accountHandler.DeleteUser)
	}

	// Client: team
	team := secured.Group("/team")
	{
		team.GET("/agents", accountHandler.ListAgents)
		team.POST("/add-agent", auth.RequireCapability(auth.CapManageTeam), accountHandler.AddAgent)
		team.PUT("/agent/:id", auth.RequireCapability(auth.CapManageTeam), accountHandler.UpdateAgent)
		team.DELETE("/agent/:id", auth.RequireCapability(auth.CapManageTeam), accountHandler.DeleteAgent)
		team.PUT("/assign-chats", auth.RequireCapability(auth.CapAssignContacts), contactHandler.AssignChats)
		team.POST("/assign-chats", auth.RequireCapability(auth.CapAssignContacts), contactHandler.AssignChats)
	}

	// CRM Routes
	crmGroup := secured.Group("/crm")
	{
		crmGroup.GET("/contacts", contactHandler.GetContacts)
		crmGroup.POST("/contacts", auth.RequireCapability(auth.CapImportContacts), contactHandler.CreateContact)
		crmGroup.GET("/contacts/export", auth.RequireCapability(auth.CapExportContacts), contactHandler.ExportContacts)
		crmGroup.PUT("/contact/:id", auth.RequireCapability(auth.CapEditContacts), contactHandler.UpdateContact)
		crmGroup.GET("/messages/:id", messageHandler.GetMessages)
	}

	messages := secured.Group("/messages")
	{
		messages.POST("/send", auth.RequireCapability(auth.CapSendMessages), messageHandler.SendMessage)
		messages.GET("/conversations/:id", messageHandler.GetConversations)
		messages.GET("/:id", messageHandler.GetMessages)
		messages.GET("/:id/:phone", messageHandler.GetMessagesByPhone)
	}

	// Broadcast Routes
	broadcasts := secured.Group("/broadcast", auth.RequireCapability(auth.CapBroadcast))
	{
		broadcasts.GET("", broadcastHandler.GetCampaigns)
		broadcasts.POST("", broadcastHandler.CreateCampaign)
		broadcasts.POST("/create", broadcastHandler.CreateCampaign)
	}
	tmpl := secured.Group("/templates", auth.RequireCapability(auth.CapTemplates))
	{
		tmpl.GET("", broadcastHandler.GetTemplates)
		tmpl.POST("/create", broadcastHandler.CreateTemplate)
	}

	// Bot config: versioned family plus the dashboard's older paths.
	v1Bot := secured.Group("/v1/bot-config")
	v1Bot.GET("", botHandler.GetMyConfig)
	v1Bot.PUT("", botHandler.SaveConfig)
	registerBotConfigRoutes(v1Bot, botHandler)
	for _, legacy := range []string{"/bot-config", "/bot"} {
		registerBotConfigRoutes(secured.Group(legacy, Deprecated(botConfigPath)), botHandler)
	}

	analyticsGroup := secured.Group("/analytics")
	{
		analyticsGroup.GET("/overview", dashboardHandler.Overview)
		analyticsGroup.GET("/logs", auth.RequireCapability(auth.CapPlatformStats), dashboardHandler.Logs)
		analyticsGroup.GET("/user-stats", dashboardHandler.UserStats)
		analyticsGroup.GET("/agent-performance", dashboardHandler.AgentPerformance)
	}

	secured.GET("/ws", func(c *gin.Context) {
		d.Hub.ServeWs(c.Writer, c.Request, auth.MustSession(c))
	})

	return r
}

func registerBotConfigRoutes(g *gin.RouterGroup, h *BotConfigHandler) {
	g.GET("/my/config", h.GetMyConfig)
	g.GET("/:ownerId", h.GetConfig)
	g.POST("/save", h.SaveConfig)
}
