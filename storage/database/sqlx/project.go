package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/project"
)

var projectColumns = []string{
	"id", "client_id", "name", "address", "plan_type", "qty", "est_qty", "manual_price",
	"estimate_status", "pricing_snapshot", "sent_at", "sent_units", "date_completed",
	"estimate_sent", "assigned_to", "version", "created_at", "updated_at",
}

// projectRow is the stored form of a project. sent_at and sent_units mirror the snapshot
// so monthly unit counts are a single indexed query.
type projectRow struct {
	ID              string              `db:"id"`
	ClientID        string              `db:"client_id"`
	Name            string              `db:"name"`
	Address         string              `db:"address"`
	PlanType        string              `db:"plan_type"`
	Qty             int                 `db:"qty"`
	EstQty          int                 `db:"est_qty"`
	ManualPrice     decimal.NullDecimal `db:"manual_price"`
	EstimateStatus  string              `db:"estimate_status"`
	PricingSnapshot null.String         `db:"pricing_snapshot"`
	SentAt          null.String         `db:"sent_at"`
	SentUnits       int                 `db:"sent_units"`
	DateCompleted   null.String         `db:"date_completed"`
	EstimateSent    string              `db:"estimate_sent"`
	AssignedTo      null.String         `db:"assigned_to"`
	Version         int                 `db:"version"`
	CreatedAt       string              `db:"created_at"`
	UpdatedAt       string              `db:"updated_at"`
}

func toProjectRow(p project.Project) (projectRow, error) {
	row := projectRow{
		ID:             p.ID,
		ClientID:       p.ClientID,
		Name:           p.Name,
		Address:        p.Address,
		PlanType:       p.PlanType,
		Qty:            p.Qty,
		EstQty:         p.EstQty,
		ManualPrice:    p.ManualPrice,
		EstimateStatus: string(p.EstimateStatus),
		DateCompleted:  null.NewString(p.DateCompleted, p.DateCompleted != ""),
		AssignedTo:     null.NewString(p.AssignedTo, p.AssignedTo != ""),
		Version:        p.Version,
		CreatedAt:      formatTime(p.CreatedAt),
		UpdatedAt:      formatTime(p.UpdatedAt),
	}

	if snap := p.PricingSnapshot; snap != nil {
		data, err := json.Marshal(snap)
		if err != nil {
			return projectRow{}, errors.Wrap(err, "encoding pricing snapshot")
		}
		row.PricingSnapshot = null.StringFrom(string(data))
		row.SentAt = null.StringFrom(formatTime(snap.CapturedAt))
		row.SentUnits = snap.Qty
	}

	sent := make([]string, 0, len(p.EstimateSent))
	for _, ts := range p.EstimateSent {
		sent = append(sent, ts.UTC().Format(time.RFC3339Nano))
	}
	data, err := json.Marshal(sent)
	if err != nil {
		return projectRow{}, errors.Wrap(err, "encoding estimate sent")
	}
	row.EstimateSent = string(data)
	return row, nil
}

func (row projectRow) project() (project.Project, error) {
	p := project.Project{
		ID:             row.ID,
		ClientID:       row.ClientID,
		Name:           row.Name,
		Address:        row.Address,
		PlanType:       row.PlanType,
		Qty:            row.Qty,
		EstQty:         row.EstQty,
		ManualPrice:    row.ManualPrice,
		EstimateStatus: project.Status(row.EstimateStatus),
		DateCompleted:  row.DateCompleted.String,
		EstimateSent:   []time.Time{},
		AssignedTo:     row.AssignedTo.String,
		Version:        row.Version,
		CreatedAt:      parseTime(row.CreatedAt),
		UpdatedAt:      parseTime(row.UpdatedAt),
	}

	if row.PricingSnapshot.Valid && row.PricingSnapshot.String != "" {
		var snap project.PricingSnapshot
		if err := json.Unmarshal([]byte(row.PricingSnapshot.String), &snap); err != nil {
			return project.Project{}, errors.Wrapf(err, "decoding pricing snapshot of project %s", row.ID)
		}
		p.PricingSnapshot = &snap
	}

	if row.EstimateSent != "" {
		var sent []string
		if err := json.Unmarshal([]byte(row.EstimateSent), &sent); err != nil {
			return project.Project{}, errors.Wrapf(err, "decoding estimate sent of project %s", row.ID)
		}
		for _, s := range sent {
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return project.Project{}, errors.Wrapf(err, "decoding estimate sent of project %s", row.ID)
			}
			p.EstimateSent = append(p.EstimateSent, ts)
		}
	}
	return p, nil
}

type projectRepository struct {
	repo
}

var _ project.Repository = (*projectRepository)(nil) // interface compliance check

func NewProjectRepository(db *sqlx.DB) *projectRepository {
	return &projectRepository{repo{db: db}}
}

func (r projectRepository) CreateProject(ctx context.Context, p project.Project, exec ...core.DBExecutor) (project.Project, error) {
	if p.ID == "" {
		p.ID = core.NewID()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	row, err := toProjectRow(p)
	if err != nil {
		return project.Project{}, err
	}
	exe := r.getExec(exec)
	q := builder(exe).Insert("projects").Columns(projectColumns...).Values(
		row.ID, row.ClientID, row.Name, row.Address, row.PlanType, row.Qty, row.EstQty, row.ManualPrice,
		row.EstimateStatus, row.PricingSnapshot, row.SentAt, row.SentUnits, row.DateCompleted,
		row.EstimateSent, row.AssignedTo, row.Version, row.CreatedAt, row.UpdatedAt,
	)
	if _, err := execute(ctx, exe, q); err != nil {
		return project.Project{}, errors.Wrap(err, "inserting project")
	}
	return row.project()
}

func (r projectRepository) GetProject(ctx context.Context, id string, exec ...core.DBExecutor) (project.Project, error) {
	if !core.IsUUID(id) {
		return project.Project{}, project.ErrNotFound
	}
	exe := r.getExec(exec)

	var row projectRow
	q := builder(exe).Select(projectColumns...).From("projects").Where(sq.Eq{"id": id})
	if err := get(ctx, exe, &row, q); err != nil {
		return project.Project{}, trapNoRows(err, project.ErrNotFound, "finding project")
	}
	return row.project()
}

func (r projectRepository) QueryProjects(ctx context.Context, filter *project.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]project.Project, error) {
	exe := r.getExec(exec)
	q := builder(exe).Select(projectColumns...).From("projects")
	if filter != nil {
		if filter.ClientID != "" {
			q = q.Where(sq.Eq{"client_id": filter.ClientID})
		}
		if filter.Status != "" {
			q = q.Where(sq.Eq{"estimate_status": string(filter.Status)})
		}
		if filter.AssignedTo != "" {
			q = q.Where(sq.Eq{"assigned_to": filter.AssignedTo})
		}
		if filter.Search != "" {
			q = q.Where(likeAny(filter.Search, "name", "address"))
		}
	}
	q = orderBy(q, ordering, "created_at DESC")

	var rows []projectRow
	if err := selectAll(ctx, exe, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying projects")
	}
	projects := make([]project.Project, 0, len(rows))
	for _, row := range rows {
		p, err := row.project()
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, nil
}

func (r projectRepository) UpdateProject(ctx context.Context, p project.Project, exec ...core.DBExecutor) (project.Project, error) {
	row, err := toProjectRow(p)
	if err != nil {
		return project.Project{}, err
	}
	exe := r.getExec(exec)
	q := builder(exe).Update("projects").SetMap(map[string]interface{}{
		"name":             row.Name,
		"address":          row.Address,
		"plan_type":        row.PlanType,
		"qty":              row.Qty,
		"est_qty":          row.EstQty,
		"manual_price":     row.ManualPrice,
		"estimate_status":  row.EstimateStatus,
		"pricing_snapshot": row.PricingSnapshot,
		"sent_at":          row.SentAt,
		"sent_units":       row.SentUnits,
		"date_completed":   row.DateCompleted,
		"estimate_sent":    row.EstimateSent,
		"assigned_to":      row.AssignedTo,
		"version":          row.Version + 1,
		"updated_at":       row.UpdatedAt,
	}).Where(sq.Eq{"id": row.ID, "version": row.Version})

	res, err := execute(ctx, exe, q)
	if err != nil {
		return project.Project{}, errors.Wrap(err, "updating project")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return project.Project{}, errors.Wrap(err, "updating project")
	}
	if n == 0 {
		if _, err := r.GetProject(ctx, row.ID, exe); err != nil {
			return project.Project{}, err
		}
		return project.Project{}, project.ErrConcurrentUpdate
	}

	row.Version++
	return row.project()
}

func (r projectRepository) DeleteProject(ctx context.Context, id string, exec ...core.DBExecutor) error {
	exe := r.getExec(exec)
	res, err := execute(ctx, exe, builder(exe).Delete("projects").Where(sq.Eq{"id": id}))
	if err != nil {
		return errors.Wrap(err, "deleting project")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return project.ErrNotFound
	}
	return nil
}

// SumSentUnits sums the snapshot quantities of a client's estimates first sent within [from, to).
func (r projectRepository) SumSentUnits(ctx context.Context, clientID string, from, to time.Time, exec ...core.DBExecutor) (int, error) {
	exe := r.getExec(exec)
	q := builder(exe).Select("COALESCE(SUM(sent_units), 0)").From("projects").Where(sq.And{
		sq.Eq{"client_id": clientID},
		sq.NotEq{"sent_at": nil},
		sq.GtOrEq{"sent_at": formatTime(from)},
		sq.Lt{"sent_at": formatTime(to)},
	})

	var total int
	if err := get(ctx, exe, &total, q); err != nil {
		return 0, errors.Wrap(err, "summing sent units")
	}
	return total, nil
}
