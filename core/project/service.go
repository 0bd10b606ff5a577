package project

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/mail"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/loyalty"
	"github.com/trezcool/roofest/core/user"
)

// Outbox event types
const (
	EventStatusChanged = "project.status_changed"
	EventEstimateSent  = "project.estimate_sent"

	aggregateType = "project"
)

var (
	// errors
	ErrNotFound         = core.NewNotFoundError("project not found")
	ErrLocked           = core.NewForbiddenError("the estimate has been sent; only an admin can edit this project")
	ErrConcurrentUpdate = core.NewConflictError("the project was modified by someone else; reload and try again")
	ErrClientNotFound   = errors.New("client not found")

	nowFunc = time.Now // mockable
	tracer  = otel.Tracer("github.com/trezcool/roofest/core/project")
)

type (
	Repository interface {
		CreateProject(ctx context.Context, p Project, exec ...core.DBExecutor) (Project, error)
		GetProject(ctx context.Context, id string, exec ...core.DBExecutor) (Project, error)
		// QueryProjects applies AND operation on available QueryFilter fields.
		QueryProjects(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Project, error)
		// UpdateProject writes `p` if the stored version still equals p.Version, and bumps the version.
		// It returns ErrConcurrentUpdate otherwise.
		UpdateProject(ctx context.Context, p Project, exec ...core.DBExecutor) (Project, error)
		DeleteProject(ctx context.Context, id string, exec ...core.DBExecutor) error
	}

	// ClientFinder loads clients; loyalty.Repository satisfies it.
	ClientFinder interface {
		GetClient(ctx context.Context, id string, exec ...core.DBExecutor) (loyalty.Client, error)
	}

	Service struct {
		db       core.Transactor
		repo     Repository
		clients  ClientFinder
		capturer *Capturer
		events   core.EventRecorder
		mailSvc  core.EmailService
		logger   core.Logger
	}

	StatusChange struct {
		Project Project `json:"project"`
		Effects Effects `json:"effects"`
	}
)

func NewService(
	db core.Transactor,
	repo Repository,
	clients ClientFinder,
	capturer *Capturer,
	events core.EventRecorder,
	mailSvc core.EmailService,
	logger core.Logger,
) *Service {
	return &Service{
		db:       db,
		repo:     repo,
		clients:  clients,
		capturer: capturer,
		events:   events,
		mailSvc:  mailSvc,
		logger:   logger,
	}
}

func (svc *Service) Capturer() *Capturer { return svc.capturer }

func isStaff(actor Actor) bool {
	return actor.Role == user.RoleAdmin || actor.Role == user.RoleEstimator
}

// canSee hides other clients' projects from client users.
func canSee(p Project, actor Actor) bool {
	return isStaff(actor) || (actor.ClientID != "" && actor.ClientID == p.ClientID)
}

func (svc *Service) getClient(ctx context.Context, id string, exec ...core.DBExecutor) (loyalty.Client, error) {
	c, err := svc.clients.GetClient(ctx, id, exec...)
	if errors.Is(err, loyalty.ErrNotFound) {
		return loyalty.Client{}, core.NewValidationError(ErrClientNotFound, core.FieldError{Field: "clientId", Error: "client not found"})
	}
	return c, err
}

func (svc *Service) Create(ctx context.Context, np NewProject, actor Actor) (Project, error) {
	clientID := np.ClientID
	if !isStaff(actor) {
		clientID = actor.ClientID
	}
	if clientID == "" {
		return Project{}, core.NewValidationError(ErrClientNotFound, core.FieldError{Field: "clientId", Error: "this field is required"})
	}
	if _, err := svc.getClient(ctx, clientID); err != nil {
		return Project{}, err
	}

	now := nowFunc().UTC()
	p := Project{
		ID:             core.NewID(),
		ClientID:       clientID,
		Name:           np.Name,
		Address:        np.Address,
		PlanType:       np.PlanType,
		Qty:            np.Qty,
		EstQty:         np.EstQty,
		ManualPrice:    np.ManualPrice,
		EstimateStatus: StatusRequested,
		EstimateSent:   []time.Time{},
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if isStaff(actor) && np.AssignedTo != "" {
		p.AssignedTo = np.AssignedTo
		p.EstimateStatus = StatusAssigned
	}
	return svc.repo.CreateProject(ctx, p)
}

func (svc *Service) GetByID(ctx context.Context, id string, actor Actor) (Project, error) {
	if !core.IsUUID(id) {
		return Project{}, ErrNotFound
	}
	p, err := svc.repo.GetProject(ctx, id)
	if err != nil {
		return Project{}, err
	}
	if !canSee(p, actor) {
		return Project{}, ErrNotFound
	}
	return p, nil
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, actor Actor) ([]Project, error) {
	if !isStaff(actor) {
		if actor.ClientID == "" {
			return []Project{}, nil
		}
		if filter == nil {
			filter = &QueryFilter{}
		}
		filter.ClientID = actor.ClientID
	}
	return svc.repo.QueryProjects(ctx, filter, ordering)
}

// UpdateDetails edits a project. Sent projects are locked for everyone but admins.
// The pricing snapshot is never touched here: it only changes through ChangeStatus.
func (svc *Service) UpdateDetails(ctx context.Context, id string, up UpdateProject, actor Actor) (Project, error) {
	ctx, span := tracer.Start(ctx, "project.UpdateDetails")
	defer span.End()
	span.SetAttributes(attribute.String("project.id", id), attribute.String("actor.role", actor.Role))

	if !core.IsUUID(id) {
		return Project{}, ErrNotFound
	}

	var updated Project
	err := svc.db.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		p, err := svc.repo.GetProject(ctx, id, exec)
		if err != nil {
			return err
		}
		if !canSee(p, actor) {
			return ErrNotFound
		}
		if p.IsLocked() && actor.Role != user.RoleAdmin {
			return ErrLocked
		}
		if actor.Role == user.RoleUser && up.AssignedTo != nil {
			return &TransitionError{From: p.EstimateStatus, To: p.EstimateStatus, Role: actor.Role, Reason: "clients cannot assign estimators"}
		}
		if up.Version != 0 && up.Version != p.Version {
			return ErrConcurrentUpdate
		}

		if up.Name != nil {
			p.Name = *up.Name
		}
		if up.Address != nil {
			p.Address = *up.Address
		}
		if up.PlanType != nil {
			p.PlanType = *up.PlanType
		}
		if up.Qty != nil {
			p.Qty = *up.Qty
		}
		if up.EstQty != nil {
			p.EstQty = *up.EstQty
		}
		if up.ManualPrice != nil {
			p.ManualPrice = *up.ManualPrice
		}
		if up.AssignedTo != nil {
			p.AssignedTo = *up.AssignedTo
		}

		p.UpdatedAt = nowFunc().UTC()

		updated, err = svc.repo.UpdateProject(ctx, p, exec)
		return err
	})
	return updated, err
}

// ChangeStatus moves a project to `to` for `actor`. The update, its snapshot and the outbox events
// commit together; the client is emailed after commit when the estimate was sent.
// A non-zero `version` must match the stored version.
func (svc *Service) ChangeStatus(ctx context.Context, id string, to Status, version int, actor Actor) (StatusChange, error) {
	ctx, span := tracer.Start(ctx, "project.ChangeStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("project.id", id),
		attribute.String("project.status.requested", string(to)),
		attribute.String("actor.role", actor.Role),
	)

	if !core.IsUUID(id) {
		return StatusChange{}, ErrNotFound
	}

	var (
		change StatusChange
		client loyalty.Client
	)
	err := svc.db.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		p, err := svc.repo.GetProject(ctx, id, exec)
		if err != nil {
			return err
		}
		if !canSee(p, actor) {
			return ErrNotFound
		}
		if version != 0 && version != p.Version {
			return ErrConcurrentUpdate
		}
		if client, err = svc.getClient(ctx, p.ClientID, exec); err != nil {
			return err
		}

		now := nowFunc().UTC()
		next, eff, err := Transition(p, to, actor, Env{Now: now, Client: client, Capturer: svc.capturer})
		if err != nil {
			return err
		}
		next.UpdatedAt = now
		if next, err = svc.repo.UpdateProject(ctx, next, exec); err != nil {
			return err
		}
		change = StatusChange{Project: next, Effects: eff}

		if err := svc.recordEvent(ctx, EventStatusChanged, next, eff, exec); err != nil {
			return err
		}
		if eff.EstimateSent {
			return svc.recordEvent(ctx, EventEstimateSent, next, eff, exec)
		}
		return nil
	})
	if err != nil {
		return StatusChange{}, err
	}

	span.SetAttributes(attribute.String("project.status", string(change.Effects.To)))
	if change.Effects.EstimateSent {
		svc.sendEstimate(change.Project, client)
	}
	return change, nil
}

type eventPayload struct {
	ProjectID       string           `json:"projectId"`
	ClientID        string           `json:"clientId"`
	From            Status           `json:"from"`
	To              Status           `json:"to"`
	Redirected      bool             `json:"redirected"`
	Version         int              `json:"version"`
	PricingSnapshot *PricingSnapshot `json:"pricingSnapshot,omitempty"`
}

func (svc *Service) recordEvent(ctx context.Context, eventType string, p Project, eff Effects, exec core.DBExecutor) error {
	payload, err := json.Marshal(eventPayload{
		ProjectID:       p.ID,
		ClientID:        p.ClientID,
		From:            eff.From,
		To:              eff.To,
		Redirected:      eff.Redirected,
		Version:         p.Version,
		PricingSnapshot: p.PricingSnapshot,
	})
	if err != nil {
		return errors.Wrap(err, "encoding event payload")
	}
	evt := core.Event{
		ID:            core.NewID(),
		AggregateType: aggregateType,
		AggregateID:   p.ID,
		EventType:     eventType,
		Payload:       payload,
	}
	return errors.Wrap(svc.events.AddEvent(ctx, evt, exec), "recording event")
}

type estimateEmailData struct {
	ProjectID   string
	ProjectName string
	ClientName  string
	PlanType    string
	Qty         int
	PriceEach   string
	TotalPrice  string
	Currency    string
	LoyaltyTier string
}

func (svc *Service) sendEstimate(p Project, client loyalty.Client) {
	if client.Email == "" || p.PricingSnapshot == nil {
		svc.logger.Warn("estimate sent without a client email", map[string]interface{}{"project_id": p.ID, "client_id": client.ID})
		return
	}
	snap := p.PricingSnapshot
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: client.Name, Address: client.Email}},
		Subject:      "Your estimate for " + p.Name,
		TemplateName: "estimate_sent",
		TemplateData: estimateEmailData{
			ProjectID:   p.ID,
			ProjectName: p.Name,
			ClientName:  client.Name,
			PlanType:    snap.PlanType,
			Qty:         snap.Qty,
			PriceEach:   snap.PriceEach.StringFixed(2),
			TotalPrice:  snap.TotalPrice.StringFixed(2),
			Currency:    string(snap.Currency),
			LoyaltyTier: string(snap.LoyaltyTier),
		},
	}
	if err := msg.Attach(estimateCSV(p), "estimate-"+p.ID+".csv", "text/csv"); err != nil {
		svc.logger.Error("attaching estimate", err)
	}
	svc.mailSvc.SendMessages(msg)
}

// estimateCSV lays the frozen snapshot out as a one-line spreadsheet.
func estimateCSV(p Project) *bytes.Buffer {
	snap := p.PricingSnapshot
	buf := new(bytes.Buffer)
	w := csv.NewWriter(buf)
	_ = w.WriteAll([][]string{
		{"project", "plan type", "qty", "price each", "total", "currency", "loyalty tier", "discount %"},
		{
			p.Name, snap.PlanType, strconv.Itoa(snap.Qty), snap.PriceEach.StringFixed(2), snap.TotalPrice.StringFixed(2),
			string(snap.Currency), string(snap.LoyaltyTier), strconv.Itoa(snap.DiscountPercent),
		},
	})
	return buf
}

// Pricing returns the effective pricing of a project: its snapshot once sent, a live quote before.
func (svc *Service) Pricing(ctx context.Context, id string, actor Actor) (EffectivePricing, error) {
	p, err := svc.GetByID(ctx, id, actor)
	if err != nil {
		return EffectivePricing{}, err
	}
	client, err := svc.getClient(ctx, p.ClientID)
	if err != nil {
		return EffectivePricing{}, err
	}
	return svc.capturer.EffectivePricing(p, client, nowFunc())
}

// Delete removes a project. Admins only.
func (svc *Service) Delete(ctx context.Context, id string, actor Actor) error {
	if actor.Role != user.RoleAdmin {
		return core.NewForbiddenError("only admins can delete projects")
	}
	if !core.IsUUID(id) {
		return ErrNotFound
	}
	return svc.repo.DeleteProject(ctx, id)
}

// InvoiceLines returns the billable lines of a client's sent projects.
func (svc *Service) InvoiceLines(ctx context.Context, clientID string) ([]InvoiceLine, error) {
	projects, err := svc.repo.QueryProjects(ctx, &QueryFilter{ClientID: clientID, Status: StatusSent}, []core.DBOrdering{{Field: "created_at", Ascending: true}})
	if err != nil {
		return nil, err
	}
	return InvoiceLines(projects)
}

// InvoiceTotal sums invoice line amounts.
func InvoiceTotal(lines []InvoiceLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount)
	}
	return total
}
