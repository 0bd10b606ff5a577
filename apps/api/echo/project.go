package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/project"
	"github.com/trezcool/roofest/core/user"
)

type projectApi struct {
	svc      *project.Service
	auth     *authenticator
	validate *validator.Validate
}

func registerProjectAPI(g *echo.Group, jwt echo.MiddlewareFunc, auth *authenticator, deps *Deps) {
	api := projectApi{svc: deps.ProjectSvc, auth: auth, validate: deps.Validate}

	pg := g.Group("/projects", jwt)
	pg.POST("", api.create)
	pg.GET("", api.query)

	dg := pg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy, roleMiddleware(auth, user.RoleAdmin))
	dg.POST("/status", api.changeStatus)
	dg.GET("/transitions", api.transitions)
	dg.GET("/pricing", api.pricing)
}

func (api *projectApi) create(ctx echo.Context) error {
	actor, err := api.auth.contextActor(ctx)
	if err != nil {
		return err
	}
	var data project.NewProject
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewProject")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	p, err := api.svc.Create(ctx.Request().Context(), data, actor)
	if err != nil {
		return errors.Wrap(err, "creating project")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *projectApi) query(ctx echo.Context) error {
	actor, err := api.auth.contextActor(ctx)
	if err != nil {
		return err
	}
	filter := &project.QueryFilter{
		ClientID:   core.CleanString(ctx.QueryParam("clientId")),
		AssignedTo: core.CleanString(ctx.QueryParam("assignedTo")),
		Search:     core.CleanString(ctx.QueryParam("search")),
	}
	if s := ctx.QueryParam("status"); s != "" {
		if filter.Status, err = project.ParseStatus(s); err != nil {
			return err
		}
	}
	ordering := new(Ordering)
	ordering.Bind(ctx, projectOrderFields)

	projects, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings, actor)
	if err != nil {
		return errors.Wrap(err, "querying projects")
	}
	if projects == nil {
		projects = []project.Project{}
	}
	return ctx.JSON(http.StatusOK, projects)
}

func (api *projectApi) retrieve(ctx echo.Context) error {
	actor, err := api.auth.contextActor(ctx)
	if err != nil {
		return err
	}
	p, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"), actor)
	if err != nil {
		return errors.Wrap(err, "finding project")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *projectApi) update(ctx echo.Context) error {
	actor, err := api.auth.contextActor(ctx)
	if err != nil {
		return err
	}
	var data project.UpdateProject
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateProject")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	p, err := api.svc.UpdateDetails(ctx.Request().Context(), ctx.Param("id"), data, actor)
	if err != nil {
		return errors.Wrap(err, "updating project")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *projectApi) destroy(ctx echo.Context) error {
	actor, err := api.auth.contextActor(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id"), actor); err != nil {
		return errors.Wrap(err, "deleting project")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *projectApi) changeStatus(ctx echo.Context) error {
	actor, err := api.auth.contextActor(ctx)
	if err != nil {
		return err
	}
	var data project.ChangeStatus
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ChangeStatus")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	to, err := project.ParseStatus(data.Status)
	if err != nil {
		return err
	}
	change, err := api.svc.ChangeStatus(ctx.Request().Context(), ctx.Param("id"), to, data.Version, actor)
	if err != nil {
		return errors.Wrap(err, "changing project status")
	}
	return ctx.JSON(http.StatusOK, change)
}

func (api *projectApi) transitions(ctx echo.Context) error {
	actor, err := api.auth.contextActor(ctx)
	if err != nil {
		return err
	}
	p, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"), actor)
	if err != nil {
		return errors.Wrap(err, "finding project")
	}
	return ctx.JSON(http.StatusOK, project.AllowedTargets(p, actor))
}

func (api *projectApi) pricing(ctx echo.Context) error {
	actor, err := api.auth.contextActor(ctx)
	if err != nil {
		return err
	}
	ep, err := api.svc.Pricing(ctx.Request().Context(), ctx.Param("id"), actor)
	if err != nil {
		return errors.Wrap(err, "pricing project")
	}
	return ctx.JSON(http.StatusOK, ep)
}
