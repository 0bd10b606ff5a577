package echoapi

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/loyalty"
	"github.com/trezcool/roofest/core/project"
	"github.com/trezcool/roofest/core/user"
)

type clientApi struct {
	svc        *loyalty.Service
	projectSvc *project.Service
	invoicer   Invoicer
	auth       *authenticator
	validate   *validator.Validate
}

func registerClientAPI(g *echo.Group, jwt echo.MiddlewareFunc, auth *authenticator, deps *Deps) {
	api := clientApi{
		svc:        deps.ClientSvc,
		projectSvc: deps.ProjectSvc,
		invoicer:   deps.Invoicer,
		auth:       auth,
		validate:   deps.Validate,
	}
	admin := roleMiddleware(auth, user.RoleAdmin)
	staff := roleMiddleware(auth, user.RoleAdmin, user.RoleEstimator)

	cg := g.Group("/clients", jwt)
	cg.POST("", api.create, admin)
	cg.GET("", api.query, staff)
	cg.POST("/evaluate", api.evaluateAll, admin)

	dg := cg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, admin)
	dg.GET("/evaluation", api.evaluation)
	dg.POST("/evaluate", api.evaluate, admin)
	dg.PUT("/tier-override", api.setOverride, admin)
	dg.DELETE("/tier-override", api.clearOverride, admin)
	dg.POST("/protection", api.setProtection, admin)
	dg.POST("/cashback", api.adjustCashback, admin)
	dg.GET("/invoice-lines", api.invoiceLines, admin)
	dg.POST("/invoice", api.pushInvoice, admin)
}

type (
	EvaluateRequest struct {
		AsOf time.Time `json:"asOf"` // defaults to now
	}

	EvaluateAllResponse struct {
		Evaluations []loyalty.Evaluation `json:"evaluations"`
		Failures    []string             `json:"failures"`
	}

	InvoiceLinesResponse struct {
		Lines []project.InvoiceLine `json:"lines"`
		Total decimal.Decimal       `json:"total"`
	}

	PushInvoiceResponse struct {
		InvoiceItems []string `json:"invoiceItems"`
	}
)

func (er EvaluateRequest) asOf() time.Time {
	if er.AsOf.IsZero() {
		return nowFunc()
	}
	return er.AsOf
}

// checkClientAccess lets staff see any client, and client users their own.
func (api *clientApi) checkClientAccess(ctx echo.Context) error {
	actor, err := api.auth.contextActor(ctx)
	if err != nil {
		return err
	}
	if actor.Role == user.RoleAdmin || actor.Role == user.RoleEstimator {
		return nil
	}
	if actor.ClientID != "" && actor.ClientID == ctx.Param("id") {
		return nil
	}
	return loyalty.ErrNotFound
}

func (api *clientApi) create(ctx echo.Context) error {
	var data loyalty.NewClient
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewClient")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	c, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating client")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *clientApi) query(ctx echo.Context) error {
	filter := &loyalty.QueryFilter{
		Search: core.CleanString(ctx.QueryParam("search")),
		Tier:   loyalty.Tier(core.CleanString(ctx.QueryParam("tier"))),
	}
	ordering := new(Ordering)
	ordering.Bind(ctx, clientOrderFields)

	clients, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying clients")
	}
	if clients == nil {
		clients = []loyalty.Client{}
	}
	return ctx.JSON(http.StatusOK, clients)
}

func (api *clientApi) retrieve(ctx echo.Context) error {
	if err := api.checkClientAccess(ctx); err != nil {
		return err
	}
	c, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding client")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *clientApi) update(ctx echo.Context) error {
	var data loyalty.UpdateClient
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateClient")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	c, err := api.svc.Update(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating client")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *clientApi) evaluation(ctx echo.Context) error {
	if err := api.checkClientAccess(ctx); err != nil {
		return err
	}
	ev, err := api.svc.Evaluation(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting evaluation")
	}
	return ctx.JSON(http.StatusOK, ev)
}

func (api *clientApi) evaluate(ctx echo.Context) error {
	var data EvaluateRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EvaluateRequest")
	}
	ev, err := api.svc.EvaluateClient(ctx.Request().Context(), ctx.Param("id"), data.asOf())
	if err != nil {
		return errors.Wrap(err, "evaluating client")
	}
	return ctx.JSON(http.StatusOK, ev)
}

func (api *clientApi) evaluateAll(ctx echo.Context) error {
	var data EvaluateRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EvaluateRequest")
	}
	evs, err := api.svc.EvaluateAll(ctx.Request().Context(), data.asOf())
	resp := EvaluateAllResponse{Evaluations: evs, Failures: []string{}}
	if resp.Evaluations == nil {
		resp.Evaluations = []loyalty.Evaluation{}
	}
	if err != nil {
		var joined interface{ Unwrap() []error }
		if !stderrors.As(err, &joined) {
			return errors.Wrap(err, "evaluating clients")
		}
		for _, e := range joined.Unwrap() {
			resp.Failures = append(resp.Failures, e.Error())
		}
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (api *clientApi) setOverride(ctx echo.Context) error {
	var data loyalty.SetOverride
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SetOverride")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	c, err := api.svc.SetOverride(ctx.Request().Context(), ctx.Param("id"), loyalty.Tier(data.Tier))
	if err != nil {
		return errors.Wrap(err, "setting tier override")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *clientApi) clearOverride(ctx echo.Context) error {
	c, err := api.svc.ClearOverride(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "clearing tier override")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *clientApi) setProtection(ctx echo.Context) error {
	var data loyalty.SetProtection
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SetProtection")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	c, err := api.svc.SetProtection(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "setting protection")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *clientApi) adjustCashback(ctx echo.Context) error {
	var data loyalty.AdjustCashback
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AdjustCashback")
	}
	c, err := api.svc.AdjustCashback(ctx.Request().Context(), ctx.Param("id"), data.Amount)
	if err != nil {
		return errors.Wrap(err, "adjusting cashback")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *clientApi) invoiceLines(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	c, err := api.svc.GetByID(rctx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding client")
	}
	lines, err := api.projectSvc.InvoiceLines(rctx, c.ID)
	if err != nil {
		return errors.Wrap(err, "building invoice lines")
	}
	return ctx.JSON(http.StatusOK, InvoiceLinesResponse{Lines: lines, Total: project.InvoiceTotal(lines)})
}

// pushInvoice bills the client's sent projects through the billing backend.
func (api *clientApi) pushInvoice(ctx echo.Context) error {
	if api.invoicer == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "billing is not configured")
	}
	rctx := ctx.Request().Context()
	c, err := api.svc.GetByID(rctx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding client")
	}
	if c.BillingCustomerID == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "billingCustomerId", Error: "client has no billing customer"})
	}
	lines, err := api.projectSvc.InvoiceLines(rctx, c.ID)
	if err != nil {
		return errors.Wrap(err, "building invoice lines")
	}
	ids, err := api.invoicer.Push(rctx, c.BillingCustomerID, lines)
	if err != nil {
		return errors.Wrap(err, "pushing invoice")
	}
	return ctx.JSON(http.StatusOK, PushInvoiceResponse{InvoiceItems: ids})
}
