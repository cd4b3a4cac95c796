// Package server exposes the transfer service over HTTP: a fiber app for
// the request and read surface, and a separate stdlib mux for the
// operational endpoints so probes and scrapes never queue behind request
// traffic.
package server

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wizardbeardstudio/open-transfer-go/internal/account"
	"github.com/wizardbeardstudio/open-transfer-go/internal/saga"
	"github.com/wizardbeardstudio/open-transfer-go/internal/store"
	"github.com/wizardbeardstudio/open-transfer-go/internal/transfer"
)

// API owns the fiber app serving the transfer endpoints. All business
// decisions live in the orchestrator; handlers translate between HTTP and
// the domain types and map domain errors onto status codes.
type API struct {
	orc      *saga.Orchestrator
	logger   *zap.Logger
	validate *validator.Validate
}

func NewAPI(orc *saga.Orchestrator, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		orc:      orc,
		logger:   logger,
		validate: validator.New(),
	}
}

// App builds the fiber application with routing and middleware attached.
// The caller owns the listener lifecycle.
func (a *API) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "transferd",
		DisableStartupMessage: true,
		ErrorHandler:          a.errorHandler,
	})
	app.Use(requestid.New())
	app.Use(fiberrecover.New())

	v1 := app.Group("/v1")
	v1.Post("/transfers", a.initiate)
	v1.Get("/transfers/:reference", a.getTransfer)
	v1.Get("/transfers/:reference/history", a.getHistory)
	v1.Get("/accounts/:id/transfers", a.listByAccount)
	return app
}

// initiateRequest is the POST body. Amount travels as a string so clients
// never round it through a float; the idempotency key may arrive in the
// body or in the Idempotency-Key header, body winning when both are set.
type initiateRequest struct {
	FromAccount    string `json:"from_account" validate:"required"`
	ToAccount      string `json:"to_account" validate:"required"`
	Amount         string `json:"amount" validate:"required"`
	Currency       string `json:"currency" validate:"required,len=3"`
	Description    string `json:"description" validate:"omitempty,max=500"`
	Type           string `json:"type" validate:"omitempty,oneof=INTERNAL EXTERNAL"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=128"`
}

func (a *API) initiate(c *fiber.Ctx) error {
	var in initiateRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed JSON body")
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = c.Get("Idempotency-Key")
	}
	if err := a.validate.Struct(in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	amount, err := decimal.NewFromString(in.Amount)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "amount is not a decimal number")
	}

	snap, err := a.orc.Initiate(c.UserContext(), transfer.Request{
		FromAccount:    in.FromAccount,
		ToAccount:      in.ToAccount,
		Amount:         amount,
		Currency:       in.Currency,
		Description:    in.Description,
		Type:           transfer.Type(in.Type),
		IdempotencyKey: in.IdempotencyKey,
	})
	if err != nil {
		return mapDomainError(err)
	}
	// Business failures are reported inside the snapshot: the transfer was
	// accepted and driven to a terminal state, so the resource exists.
	c.Set(fiber.HeaderLocation, "/v1/transfers/"+snap.Reference)
	return c.Status(fiber.StatusCreated).JSON(snap)
}

func (a *API) getTransfer(c *fiber.Ctx) error {
	ref := c.Params("reference")
	if !transfer.ValidReference(ref) {
		return fiber.NewError(fiber.StatusBadRequest, "malformed transfer reference")
	}
	snap, err := a.orc.GetByReference(c.UserContext(), ref)
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(snap)
}

// transitionDTO is the wire form of one audit chain entry.
type transitionDTO struct {
	From       string    `json:"from,omitempty"`
	To         string    `json:"to"`
	Reason     string    `json:"reason,omitempty"`
	Version    int64     `json:"version"`
	RecordedAt time.Time `json:"recorded_at"`
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
}

func (a *API) getHistory(c *fiber.Ctx) error {
	ref := c.Params("reference")
	if !transfer.ValidReference(ref) {
		return fiber.NewError(fiber.StatusBadRequest, "malformed transfer reference")
	}
	if _, err := a.orc.GetByReference(c.UserContext(), ref); err != nil {
		return mapDomainError(err)
	}
	entries := a.orc.History(ref)
	out := make([]transitionDTO, 0, len(entries))
	for _, tr := range entries {
		out = append(out, transitionDTO{
			From:       tr.From,
			To:         tr.To,
			Reason:     tr.Reason,
			Version:    tr.Version,
			RecordedAt: tr.RecordedAt,
			PrevHash:   tr.HashPrev,
			Hash:       tr.HashCurr,
		})
	}
	return c.JSON(out)
}

func (a *API) listByAccount(c *fiber.Ctx) error {
	scope, err := parseDirection(c.Query("direction", "all"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	page := store.Page{
		Limit:  c.QueryInt("limit"),
		Offset: c.QueryInt("offset"),
	}
	snaps, err := a.orc.ListByAccount(c.UserContext(), c.Params("id"), scope, page)
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(snaps)
}

func parseDirection(v string) (store.Scope, error) {
	switch v {
	case "", "all":
		return store.ScopeAll, nil
	case "from":
		return store.ScopeFrom, nil
	case "to":
		return store.ScopeTo, nil
	}
	return "", errors.New("direction must be one of all, from, to")
}

// mapDomainError translates domain sentinels into fiber errors. Anything
// unrecognized falls through to the error handler as a 500.
func mapDomainError(err error) error {
	switch {
	case errors.Is(err, transfer.ErrBadRequest):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "transfer not found")
	case errors.Is(err, store.ErrConcurrentModification):
		return fiber.NewError(fiber.StatusConflict, "transfer was modified concurrently, retry the request")
	case errors.Is(err, account.ErrUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, "account service unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.NewError(fiber.StatusGatewayTimeout, "operation timed out")
	}
	return err
}

func (a *API) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}
	if code >= fiber.StatusInternalServerError {
		a.logger.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		)
	}
	id, _ := c.Locals("requestid").(string)
	return c.Status(code).JSON(fiber.Map{
		"error":      msg,
		"request_id": id,
	})
}
