package router

import (
	"context"
	"net/http"

	"ibms-backend/internal/application/audit"
	authsvc "ibms-backend/internal/application/auth"
	commentsvc "ibms-backend/internal/application/comments"
	detailsvc "ibms-backend/internal/application/details"
	entrysvc "ibms-backend/internal/application/entries"
	erpsvc "ibms-backend/internal/application/erp"
	exportsvc "ibms-backend/internal/application/export"
	healthsvc "ibms-backend/internal/application/health"
	notificationsvc "ibms-backend/internal/application/notifications"
	orgsvc "ibms-backend/internal/application/org"
	projectsvc "ibms-backend/internal/application/projects"
	"ibms-backend/internal/application/scope"
	subjectsvc "ibms-backend/internal/application/subjects"
	versionsvc "ibms-backend/internal/application/versions"
	"ibms-backend/internal/config"
	"ibms-backend/internal/constants"
	"ibms-backend/internal/infrastructure/database"
	"ibms-backend/internal/infrastructure/templatestore"
	authhandler "ibms-backend/internal/interfaces/handlers/auth"
	commenthandler "ibms-backend/internal/interfaces/handlers/comments"
	detailhandler "ibms-backend/internal/interfaces/handlers/details"
	entryhandler "ibms-backend/internal/interfaces/handlers/entries"
	erphandler "ibms-backend/internal/interfaces/handlers/erp"
	healthhandler "ibms-backend/internal/interfaces/handlers/health"
	loghandler "ibms-backend/internal/interfaces/handlers/logs"
	notificationhandler "ibms-backend/internal/interfaces/handlers/notifications"
	orghandler "ibms-backend/internal/interfaces/handlers/org"
	projecthandler "ibms-backend/internal/interfaces/handlers/projects"
	subjecthandler "ibms-backend/internal/interfaces/handlers/subjects"
	versionhandler "ibms-backend/internal/interfaces/handlers/versions"
	"ibms-backend/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type gormDBPinger struct {
	db *gorm.DB
}

func (g *gormDBPinger) Ping() error {
	if g == nil || g.db == nil {
		return nil
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func CreateApp(cfg *config.Config) (*fiber.App, *gorm.DB, *redis.Client, error) {
	app := fiber.New(fiber.Config{
		DisableStartupMessage:   true,
		ErrorHandler:            middleware.ErrorHandler,
		EnableTrustedProxyCheck: true,
		BodyLimit:               16 * 1024 * 1024,
	})

	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedSuffix: cfg.FrontendURLEndsWith,
		DevPassword:   cfg.DevPassword,
	}))

	sessionCfg := middleware.SessionConfig{
		Secret:            cfg.SessionSecret,
		RedisURL:          cfg.RedisURL,
		AllowCrossSiteDev: cfg.AllowCrossSiteDev,
		IsProduction:      cfg.Env == "production",
	}
	sessionHandler, rdb, err := middleware.Session(sessionCfg)
	if err != nil {
		return nil, nil, nil, err
	}
	app.Use(sessionHandler)
	app.Use(middleware.HealthMarker(rdb))
	app.Use(middleware.Tracing())
	app.Use(middleware.RouteLogger())

	checker := &healthsvc.Checker{Rdb: rdb, ERPBaseURL: cfg.ERPBaseURL}
	hh := &healthhandler.Handlers{
		Rdb:            rdb,
		Checker:        checker,
		HealthAdminKey: cfg.HealthAdminKey,
	}
	app.Get("/", hh.Dashboard)
	app.Get("/reset", hh.Reset)
	app.Get("/health/json", hh.JSON)
	app.Get("/health/errors", hh.Errors)
	if cfg.MetricsEnabled {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}

	if cfg.DatabaseURL == "" {
		log.Warn().Msg("no database configured; only health routes are served")
		return app, nil, rdb, nil
	}
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.AutoMigrate {
		if err := database.AutoMigrate(db); err != nil {
			return nil, nil, nil, err
		}
	}
	checker.DB = &gormDBPinger{db: db}

	templates, err := templateSource(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	writer := &audit.Writer{DB: db}
	scopes := &scope.Resolver{DB: db}

	authService := &authsvc.Service{DB: db, Audit: writer}
	ah := &authhandler.Handlers{Service: authService, Rdb: rdb, Config: sessionCfg}
	oh := &orghandler.Handlers{Service: &orgsvc.Service{DB: db}}
	sh := &subjecthandler.Handlers{Service: &subjectsvc.Service{DB: db, DefaultsPath: cfg.SubjectDefaultsPath}}
	eh := &entryhandler.Handlers{Service: &entrysvc.Service{DB: db, Scopes: scopes, Audit: writer}}
	dh := &detailhandler.Handlers{Service: &detailsvc.Service{DB: db, Scopes: scopes}}
	ch := &commenthandler.Handlers{Service: &commentsvc.Service{DB: db, Scopes: scopes}}
	vh := &versionhandler.Handlers{
		Service: &versionsvc.Service{DB: db, Scopes: scopes},
		Exports: &exportsvc.Service{DB: db, Templates: templates, Cache: &exportsvc.ReportCache{RDB: rdb}},
		Scopes:  scopes,
	}
	ph := &projecthandler.Handlers{Service: &projectsvc.Service{DB: db, Scopes: scopes}}
	lh := &loghandler.Handlers{Service: &audit.Service{DB: db, Scopes: scopes}}
	nh := &notificationhandler.Handlers{Service: &notificationsvc.Service{DB: db}}
	xh := &erphandler.Handlers{Service: &erpsvc.Service{DB: db, Scopes: scopes, Config: erpsvc.Config{
		BaseURL:       cfg.ERPBaseURL,
		APIKey:        cfg.ERPAPIKey,
		APISecret:     cfg.ERPAPISecret,
		Company:       cfg.ERPCompany,
		FiscalYear:    cfg.ERPFiscalYear,
		BudgetAgainst: cfg.ERPBudgetAgainst,
		Timeout:       cfg.ERPTimeout,
	}}}

	api := app.Group("/api", middleware.AuditTrail(writer))

	// Auth (public)
	pub := api.Group("/auth")
	pub.Post("/login", ah.Login)
	pub.Post("/signup", ah.Signup)
	pub.Post("/find-id", ah.FindID)
	pub.Get("/password-policy", ah.PasswordPolicy)
	pub.Get("/me", ah.Me)
	pub.Post("/logout", ah.Logout)

	authed := api.Group("", middleware.RequireAuth(authService), middleware.AuthorizePermission(constants.ViewData))

	ag := authed.Group("/auth")
	ag.Post("/change-password", ah.ChangePassword)
	ag.Post("/withdraw", ah.Withdraw)
	ag.Post("/assign-role", ah.AssignRole)
	ag.Get("/users", ah.ListUsers)
	ag.Post("/users", ah.CreateUser)
	ag.Patch("/users/:id", ah.UpdateUser)
	ag.Delete("/users/:id", ah.DeleteUser)

	// Organizations
	manageOrgs := middleware.AuthorizePermission(constants.ManageOrganizations)
	og := authed.Group("/orgs")
	og.Get("/", oh.List)
	og.Post("/reorder", manageOrgs, oh.Reorder)
	og.Get("/:id", oh.Get)
	og.Post("/", manageOrgs, oh.Create)
	og.Patch("/:id", manageOrgs, oh.Update)
	og.Put("/:id", manageOrgs, oh.Update)
	og.Delete("/:id", manageOrgs, oh.Delete)

	// Budget subjects
	manageSubjects := middleware.AuthorizePermission(constants.ManageSubjects)
	sg := authed.Group("/subjects")
	sg.Get("/", sh.List)
	sg.Post("/reorder", manageSubjects, sh.Reorder)
	sg.Post("/bulk-update-tree", manageSubjects, sh.BulkUpdateTree)
	sg.Post("/restore-defaults", middleware.AuthorizePermission(constants.RestoreSubjects), sh.RestoreDefaults)
	sg.Get("/:id", sh.Get)
	sg.Post("/", manageSubjects, sh.Create)
	sg.Patch("/:id", manageSubjects, sh.Update)
	sg.Put("/:id", manageSubjects, sh.Update)
	sg.Delete("/:id/force-delete", manageSubjects, sh.ForceDelete)
	sg.Delete("/:id", manageSubjects, sh.Delete)

	// Budget entries and their workflow
	writeBudget := middleware.AuthorizePermission(constants.WriteBudgetData)
	eg := authed.Group("/entries")
	eg.Get("/", eh.List)
	eg.Post("/workflow", eh.BulkWorkflow)
	eg.Get("/:id", eh.Get)
	eg.Post("/", writeBudget, eh.Create)
	eg.Patch("/:id", writeBudget, eh.Update)
	eg.Put("/:id", writeBudget, eh.Update)
	eg.Delete("/:id", writeBudget, eh.Delete)
	for _, action := range []string{
		entrysvc.ActionSubmit, entrysvc.ActionApprove, entrysvc.ActionReject,
		entrysvc.ActionRecall, entrysvc.ActionReopen, entrysvc.ActionNote,
	} {
		eg.Post("/:id/"+action, eh.Transition(action))
	}
	authed.Get("/dashboard/summary", eh.Dashboard)

	manageExec := middleware.AuthorizePermission(constants.ManageExecutions)
	xg := authed.Group("/executions")
	xg.Get("/", eh.ListExecutions)
	xg.Post("/", manageExec, eh.CreateExecution)
	xg.Patch("/:id", manageExec, eh.UpdateExecution)
	xg.Put("/:id", manageExec, eh.UpdateExecution)
	xg.Delete("/:id", manageExec, eh.DeleteExecution)

	// Calculation details
	dg := authed.Group("/details")
	dg.Get("/", dh.List)
	dg.Post("/parse-expression", dh.ParseExpression)
	dg.Get("/:id", dh.Get)
	dg.Post("/", writeBudget, dh.Create)
	dg.Patch("/:id", writeBudget, dh.Update)
	dg.Put("/:id", writeBudget, dh.Update)
	dg.Delete("/:id", writeBudget, dh.Delete)

	// Review comments
	cg := authed.Group("/comments")
	cg.Get("/", ch.List)
	cg.Post("/", ch.Create)
	cg.Patch("/:id", ch.Update)
	cg.Put("/:id", ch.Update)
	cg.Delete("/:id", ch.Delete)

	// Budget versions and exports
	manageVersions := middleware.AuthorizePermission(constants.ManageVersions)
	deleteVersions := middleware.AuthorizePermission(constants.DeleteVersions)
	vg := authed.Group("/versions")
	vg.Get("/", vh.List)
	vg.Post("/create-next-round", manageVersions, vh.CreateNextRound)
	vg.Post("/bulk-update-status", manageVersions, vh.BulkUpdateStatus)
	vg.Post("/bulk-delete", deleteVersions, vh.BulkDelete)
	vg.Get("/:id", vh.Get)
	vg.Post("/", manageVersions, vh.Create)
	vg.Patch("/:id", manageVersions, vh.Update)
	vg.Put("/:id", manageVersions, vh.Update)
	vg.Delete("/:id/force-delete", deleteVersions, vh.ForceDelete)
	vg.Delete("/:id", deleteVersions, vh.Delete)
	vg.Post("/:id/close", manageVersions, vh.Close)
	vg.Post("/:id/reopen", manageVersions, vh.Reopen)
	vg.Post("/:id/clone-from-previous", manageVersions, vh.CloneFromPrevious)
	vg.Get("/:id/progress", vh.Progress)
	vg.Get("/:id/export", vh.Export)
	vg.Get("/:id/export-report", vh.ExportReport)
	vg.Get("/:id/export-department-budget", vh.ExportDepartment)

	// Entrusted projects
	manageProjects := middleware.AuthorizePermission(constants.ManageProjects)
	pg := authed.Group("/entrusted-projects")
	pg.Get("/", ph.List)
	pg.Get("/:id", ph.Get)
	pg.Post("/", writeBudget, ph.Create)
	pg.Patch("/:id", writeBudget, ph.Update)
	pg.Put("/:id", writeBudget, ph.Update)
	pg.Delete("/:id/force-delete", middleware.AuthorizePermission(constants.ForceDeleteProject), ph.ForceDelete)
	pg.Delete("/:id", writeBudget, ph.Delete)
	pg.Post("/:id/clone", manageProjects, ph.Clone)

	authed.Get("/logs", lh.List)

	ng := authed.Group("/notifications")
	ng.Get("/", nh.List)
	ng.Post("/", nh.Create)
	ng.Post("/mark-all-read", nh.MarkAllRead)
	ng.Patch("/:id", nh.Update)
	ng.Delete("/:id", nh.Delete)

	// ERPNext
	useERP := middleware.AuthorizePermission(constants.UseERP)
	rg := authed.Group("/erpnext", useERP)
	rg.Get("/me", xh.Me)
	rg.Post("/budgets/sync", xh.SyncBudgets)
	rg.Post("/closing-voucher", xh.ClosingVoucher)

	return app, db, rdb, nil
}

// templateSource tries the local template first and falls back to S3 when a bucket is configured.
func templateSource(cfg *config.Config) (templatestore.Source, error) {
	chain := templatestore.Chain{&templatestore.Filesystem{Path: cfg.TemplatePath, Dir: cfg.TemplateDir}}
	if cfg.TemplateS3Bucket == "" {
		return chain, nil
	}
	src, err := templatestore.NewS3(context.Background(), templatestore.S3Config{
		Bucket:   cfg.TemplateS3Bucket,
		Key:      cfg.TemplateS3Key,
		Region:   cfg.TemplateS3Region,
		Endpoint: cfg.TemplateS3Endpoint,
	})
	if err != nil {
		return nil, err
	}
	return append(chain, src), nil
}

func Handler(app *fiber.App) http.Handler {
	return adaptor.FiberApp(app)
}
