package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"agenti/controllers/cashcount"
	sessionctl "agenti/controllers/cashsession"
	"agenti/controllers/vault"
	"agenti/middlewares"
	cashcountsvc "agenti/services/cashcount"
	"agenti/services/cashsession"
	vaultsvc "agenti/services/vault"
)

const (
	corsAllowMethods = "GET, POST, OPTIONS"
	corsAllowHeaders = "Accept, Content-Type, Content-Length, Authorization"
)

type Deps struct {
	Ledger      *vaultsvc.Ledger
	Capture     *cashcountsvc.Capture
	Machine     *cashsession.Machine
	JWTSecret   []byte
	CORSOrigins string
}

func Setup(app *fiber.App, deps Deps) {
	origins := deps.CORSOrigins
	if origins == "" {
		origins = "*"
	}

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: corsAllowMethods,
		AllowHeaders: corsAllowHeaders,
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	auth := middlewares.ActorAuth(deps.JWTSecret)

	vaults := &vault.Handler{Ledger: deps.Ledger}
	vaultroutes := app.Group("/vaults", auth)
	vaultroutes.Post("/movements/:id/approve", vaults.Approve)
	vaultroutes.Post("/movements/:id/reject", vaults.Reject)
	vaultroutes.Get("/:branchID", vaults.GetVault)
	vaultroutes.Get("/:branchID/movements", vaults.ListMovements)
	vaultroutes.Post("/:branchID/adjustments", vaults.RequestAdjustment)

	counts := &cashcount.Handler{Capture: deps.Capture, Machine: deps.Machine}
	countroutes := app.Group("/cash-counts", auth, middlewares.RequireAgent(deps.Capture))
	countroutes.Get("/current", counts.Current)
	countroutes.Get("/form", counts.InitializeForm)
	countroutes.Post("/drafts", counts.SaveDraft)
	countroutes.Post("/opening", counts.SubmitOpening)
	countroutes.Post("/closing", counts.SubmitClosing)
	countroutes.Get("/:id", counts.GetForm)
	countroutes.Post("/:id/submit", counts.SubmitDraft)

	sessions := &sessionctl.Handler{Machine: deps.Machine}
	sessionroutes := app.Group("/cash-sessions", auth)
	sessionroutes.Get("/", sessions.List)
	sessionroutes.Get("/:id", sessions.Get)
}
