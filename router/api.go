package router

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/klaxonhq/klaxon/authz"
	"github.com/klaxonhq/klaxon/escalation"
	"github.com/klaxonhq/klaxon/handlers"
	"github.com/klaxonhq/klaxon/ingest"
	"github.com/klaxonhq/klaxon/internal/config"
	"github.com/klaxonhq/klaxon/internal/monitor"
	"github.com/klaxonhq/klaxon/internal/uptime"
	"github.com/klaxonhq/klaxon/notify"
	"github.com/klaxonhq/klaxon/services"
	"github.com/klaxonhq/klaxon/store"
)

// NewGinRouter wires every HTTP surface over one connection pool. The
// escalation engine instance created here only serves manual escalation;
// the polling loop runs in the worker binary against the same tables.
func NewGinRouter(pg *sql.DB, rdb *redis.Client) *gin.Engine {
	r := gin.Default()

	// Add CORS middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Org-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	logger := slog.Default()
	stores := store.New(pg)

	authorizer, membershipMgr, directory := authz.NewSimpleBackend(pg)
	memberships := authz.NewMembershipService(authorizer, membershipMgr, directory)

	// Intents go to PGMQ for durable delivery and to Redis for live feeds.
	notifier := notify.Multi(
		notify.NewQueueEmitter(pg, config.App.NotificationQueue),
		notify.NewRedisEmitter(rdb),
	)

	ingestor := ingest.NewIngestor(stores.Incidents, notifier, logger)
	engine := escalation.New(stores, notifier, logger)
	syncWorker := uptime.NewSyncWorker(stores.Providers, ingestor, logger)

	auth := handlers.NewAuthMiddleware(config.App.JWTSecret)
	incidentHandler := handlers.NewIncidentHandler(stores.Incidents, stores.Policies, authorizer, engine, notifier)
	groupHandler := handlers.NewGroupHandler(stores.Groups, membershipMgr)
	scheduleHandler := handlers.NewScheduleHandler(stores.Schedules, stores.Groups, membershipMgr)
	overrideHandler := handlers.NewOverrideHandler(stores.Schedules, stores.Groups, membershipMgr)
	policyHandler := handlers.NewPolicyHandler(services.NewPolicyService(stores.Policies))
	integrationHandler := handlers.NewIntegrationHandler(stores.Integrations, authorizer)
	membershipHandler := handlers.NewMembershipHandler(memberships)
	webhookHandler := handlers.NewWebhookHandler(stores.Integrations, ingestor)
	monitorHandler := monitor.NewHandler(stores.Monitors)
	tokenHandler := monitor.NewTokenHandler(stores.Tokens)
	reportHandler := monitor.NewReportHandler(stores.Tokens, stores.Monitors, ingestor, logger)
	providerHandler := uptime.NewProviderHandler(stores.Providers, syncWorker, logger)

	r.GET("/healthz", func(c *gin.Context) {
		if err := pg.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// PUBLIC ALERT INGEST
	// The integration id in the URL is the credential; no bearer token.
	webhooks := r.Group("/webhook")
	{
		webhooks.POST("/:source/:integration_id", webhookHandler.HandleWebhook)
	}

	// PUBLIC PROBE REPORTS
	// Edge workers authenticate with a deployment token inside the handler.
	r.POST("/monitors/report", reportHandler.HandleReport)

	// Everything below needs a valid bearer token.
	protected := r.Group("/", auth.RequireUser())

	protected.GET("/me/memberships", membershipHandler.MyMemberships)

	// MEMBERSHIP MANAGEMENT
	// The resource id comes from the path, so no org header is needed.
	orgMembers := protected.Group("/orgs/:id/members")
	{
		orgMembers.GET("", membershipHandler.ListMembers(authz.ResourceOrg))
		orgMembers.POST("", membershipHandler.AddMember(authz.ResourceOrg))
		orgMembers.PUT("/:user_id", membershipHandler.UpdateMemberRole(authz.ResourceOrg))
		orgMembers.DELETE("/:user_id", membershipHandler.RemoveMember(authz.ResourceOrg))
	}
	projectMembers := protected.Group("/projects/:id/members")
	{
		projectMembers.GET("", membershipHandler.ListMembers(authz.ResourceProject))
		projectMembers.POST("", membershipHandler.AddMember(authz.ResourceProject))
		projectMembers.PUT("/:user_id", membershipHandler.UpdateMemberRole(authz.ResourceProject))
		projectMembers.DELETE("/:user_id", membershipHandler.RemoveMember(authz.ResourceProject))
	}
	groupMembers := protected.Group("/groups/:id/members")
	{
		groupMembers.GET("", membershipHandler.ListMembers(authz.ResourceGroup))
		groupMembers.POST("", membershipHandler.AddMember(authz.ResourceGroup))
		groupMembers.PUT("/:user_id", membershipHandler.UpdateMemberRole(authz.ResourceGroup))
		groupMembers.DELETE("/:user_id", membershipHandler.RemoveMember(authz.ResourceGroup))
	}

	// Org-scoped resources resolve the tenant from ?org_id= or X-Org-ID.
	org := protected.Group("/", handlers.RequireOrg())

	// INCIDENT MANAGEMENT
	incidents := org.Group("/incidents")
	{
		incidents.GET("", incidentHandler.ListIncidents)
		incidents.POST("", incidentHandler.CreateIncident)
		incidents.GET("/:id", incidentHandler.GetIncident)
		incidents.POST("/:id/acknowledge", incidentHandler.AcknowledgeIncident)
		incidents.POST("/:id/resolve", incidentHandler.ResolveIncident)
		incidents.POST("/:id/assign", incidentHandler.AssignIncident)
		incidents.POST("/:id/escalate", incidentHandler.EscalateIncident)
		incidents.GET("/:id/events", incidentHandler.ListEvents)
	}

	// GROUP MANAGEMENT
	groups := org.Group("/groups")
	{
		groups.GET("", groupHandler.ListGroups)
		groups.POST("", groupHandler.CreateGroup)
		groups.GET("/:id", groupHandler.GetGroup)
		groups.PUT("/:id", groupHandler.UpdateGroup)
		groups.DELETE("/:id", groupHandler.DeleteGroup)

		// ON-CALL SCHEDULING (scoped to the owning group)
		groups.GET("/:id/schedules", scheduleHandler.ListSchedules)
		groups.POST("/:id/schedules", scheduleHandler.CreateSchedule)
		groups.POST("/:id/schedules/preview", scheduleHandler.PreviewSchedule)
		groups.GET("/:id/oncall", scheduleHandler.WhoIsOnCall)
		groups.GET("/:id/shifts", scheduleHandler.ListShifts)
		groups.GET("/:id/overrides", overrideHandler.ListOverrides)
		groups.POST("/:id/overrides", overrideHandler.CreateOverride)
		groups.DELETE("/:id/overrides/:override_id", overrideHandler.DeleteOverride)
	}

	schedules := org.Group("/schedules")
	{
		schedules.GET("/:id", scheduleHandler.GetSchedule)
		schedules.PUT("/:id", scheduleHandler.UpdateSchedule)
		schedules.DELETE("/:id", scheduleHandler.DeleteSchedule)
	}

	// ESCALATION POLICIES
	policies := org.Group("/policies")
	{
		policies.GET("", policyHandler.ListPolicies)
		policies.POST("", policyHandler.CreatePolicy)
		policies.GET("/:id", policyHandler.GetPolicy)
		policies.PUT("/:id", policyHandler.UpdatePolicy)
		policies.DELETE("/:id", policyHandler.DeletePolicy)
	}

	// INBOUND INTEGRATIONS
	integrations := org.Group("/integrations")
	{
		integrations.GET("", integrationHandler.ListIntegrations)
		integrations.POST("", integrationHandler.CreateIntegration)
		integrations.GET("/:id", integrationHandler.GetIntegration)
		integrations.PUT("/:id", integrationHandler.UpdateIntegration)
		integrations.DELETE("/:id", integrationHandler.DeleteIntegration)
	}

	// UPTIME MONITORING
	monitors := org.Group("/monitors")
	{
		monitors.GET("", monitorHandler.ListMonitors)
		monitors.POST("", monitorHandler.CreateMonitor)
		monitors.GET("/:id", monitorHandler.GetMonitor)
		monitors.PUT("/:id", monitorHandler.UpdateMonitor)
		monitors.DELETE("/:id", monitorHandler.DeleteMonitor)
		monitors.GET("/:id/checks", monitorHandler.ListChecks)
	}
	tokens := org.Group("/deployment-tokens")
	{
		tokens.GET("", tokenHandler.ListTokens)
		tokens.POST("", tokenHandler.CreateToken)
		tokens.DELETE("/:id", tokenHandler.RevokeToken)
	}

	// EXTERNAL UPTIME PROVIDERS
	providers := org.Group("/uptime")
	{
		providers.GET("/providers", providerHandler.ListProviders)
		providers.POST("/providers", providerHandler.CreateProvider)
		providers.DELETE("/providers/:id", providerHandler.DeleteProvider)
		providers.POST("/providers/:id/sync", providerHandler.SyncProvider)
		providers.GET("/external-monitors", providerHandler.ListExternalMonitors)
	}

	return r
}
