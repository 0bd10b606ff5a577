package echoapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/roofest/core/loyalty"
	"github.com/trezcool/roofest/core/pricing"
	"github.com/trezcool/roofest/core/project"
	"github.com/trezcool/roofest/core/user"
	testutil "github.com/trezcool/roofest/tests"
)

type projectDoc struct {
	ID              string                   `json:"id"`
	ClientID        string                   `json:"clientId"`
	Qty             int                      `json:"Qty"`
	EstimateStatus  string                   `json:"estimateStatus"`
	ProjectStatus   string                   `json:"projectStatus"`
	Status          string                   `json:"status"`
	JobBoardStatus  string                   `json:"jobBoardStatus"`
	PricingSnapshot *project.PricingSnapshot `json:"pricingSnapshot"`
	DateCompleted   *string                  `json:"DateCompleted"`
	EstimateSent    []string                 `json:"estimateSent"`
	Version         int                      `json:"version"`
}

type statusChangeDoc struct {
	Project projectDoc      `json:"project"`
	Effects project.Effects `json:"effects"`
}

func statusBody(status string, version int) []byte {
	return []byte(fmt.Sprintf(`{"status": %q, "version": %d}`, status, version))
}

func TestProjectAPI_Workflow(t *testing.T) {
	app := newTestApp(t)
	admin := app.token(t, app.createUser(t, "admin", user.RoleAdmin, "", true))
	estimator := app.token(t, app.createUser(t, "estimator", user.RoleEstimator, "", true))

	client := testutil.CreateClient(t, app.clients, "Acme", pricing.AUD, "Australia/Sydney", loyalty.TierElite)
	member := app.token(t, app.createUser(t, "member", user.RoleUser, client.ID, true))

	// created by the client user: the client is taken from the token
	rec := app.do(http.MethodPost, "/v1/projects", member, []byte(`{"name": "1 George St", "PlanType": "Standard", "Qty": 2}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p projectDoc
	decode(t, rec, &p)
	assert.Equal(t, client.ID, p.ClientID)
	assert.Equal(t, "Estimate Requested", p.EstimateStatus)
	assert.Equal(t, "ART: Estimate Requested", p.ProjectStatus)
	assert.Nil(t, p.PricingSnapshot)
	path := "/v1/projects/" + p.ID

	t.Run("live pricing before sending", func(t *testing.T) {
		rec := app.do(http.MethodGet, path+"/pricing", member)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var ep project.EffectivePricing
		decode(t, rec, &ep)
		assert.Equal(t, project.SourceLive, ep.Source)
		assert.True(t, decimal.NewFromInt(140).Equal(ep.TotalPrice))
	})

	t.Run("estimator completion is redirected to review", func(t *testing.T) {
		rec := app.do(http.MethodPost, path+"/status", estimator, statusBody("estimate completed", 0))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var change statusChangeDoc
		decode(t, rec, &change)
		assert.True(t, change.Effects.Redirected)
		assert.Equal(t, "Awaiting Review", change.Project.EstimateStatus)
		p = change.Project
	})

	app.run(t, []httpTest{
		{name: "estimators cannot send", method: http.MethodPost, path: path + "/status", token: estimator, body: statusBody("Sent", 0), wantCode: http.StatusForbidden},
		{name: "unknown status", method: http.MethodPost, path: path + "/status", token: admin, body: statusBody("Done", 0), wantCode: http.StatusBadRequest},
		{name: "stale version", method: http.MethodPost, path: path + "/status", token: admin, body: statusBody("Sent", 1), wantCode: http.StatusConflict},
	})

	t.Run("admin sends the estimate", func(t *testing.T) {
		rec := app.do(http.MethodPost, path+"/status", admin, statusBody("Sent", p.Version))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var change statusChangeDoc
		decode(t, rec, &change)
		p = change.Project

		assert.True(t, change.Effects.EstimateSent)
		assert.Equal(t, "Sent", p.EstimateStatus)
		assert.Equal(t, "Estimate Completed", p.ProjectStatus)
		assert.Equal(t, "Estimate Completed", p.Status)
		assert.Equal(t, "Estimate Completed", p.JobBoardStatus)
		assert.Len(t, p.EstimateSent, 1)
		require.NotNil(t, p.DateCompleted)
		assert.Equal(t, time.Now().In(client.Location()).Format("2006-01-02"), *p.DateCompleted)

		snap := p.PricingSnapshot
		require.NotNil(t, snap)
		assert.True(t, decimal.NewFromInt(70).Equal(snap.PriceEach))
		assert.True(t, decimal.NewFromInt(140).Equal(snap.TotalPrice))
		assert.Equal(t, loyalty.TierElite, snap.LoyaltyTier)
		assert.Equal(t, 30, snap.DiscountPercent)

		sent := app.mail.SentMessages()
		require.Len(t, sent, 1)
		assert.Equal(t, "acme@clients.test", sent[0].To[0].Address)
		require.Len(t, sent[0].Attachments, 1)
		at := sent[0].Attachments[0]
		assert.Equal(t, "estimate-"+p.ID+".csv", at.Filename)
		assert.Equal(t, "text/csv", at.ContentType)
		csvData, err := base64.StdEncoding.DecodeString(at.Content.String())
		require.NoError(t, err)
		assert.Contains(t, string(csvData), "1 George St,Standard,2,70.00,140.00,AUD,Elite,30")

		events, err := app.outbox.FetchUnpublished(context.Background(), 10)
		require.NoError(t, err)
		var types []string
		for _, e := range events {
			types = append(types, e.EventType)
		}
		assert.Contains(t, types, project.EventEstimateSent)
	})

	t.Run("sent projects are locked", func(t *testing.T) {
		rec := app.do(http.MethodPut, path, estimator, []byte(`{"Qty": 5}`))
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = app.do(http.MethodGet, path+"/pricing", member)
		require.Equal(t, http.StatusOK, rec.Code)
		var ep project.EffectivePricing
		decode(t, rec, &ep)
		assert.Equal(t, project.SourceSnapshot, ep.Source)

		rec = app.do(http.MethodGet, path+"/transitions", member)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	t.Run("admin edits keep the frozen snapshot", func(t *testing.T) {
		rec := app.do(http.MethodPut, path, admin, []byte(`{"Qty": 5}`))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var edited projectDoc
		decode(t, rec, &edited)

		assert.Equal(t, 5, edited.Qty)
		assert.Equal(t, "Sent", edited.EstimateStatus)
		require.NotNil(t, edited.PricingSnapshot)
		assert.Equal(t, 2, edited.PricingSnapshot.Qty)
		assert.True(t, decimal.NewFromInt(140).Equal(edited.PricingSnapshot.TotalPrice))
		assert.True(t, p.PricingSnapshot.CapturedAt.Equal(edited.PricingSnapshot.CapturedAt))
		assert.Equal(t, p.DateCompleted, edited.DateCompleted)
		p = edited
	})

	t.Run("invoice", func(t *testing.T) {
		rec := app.do(http.MethodGet, "/v1/clients/"+client.ID+"/invoice-lines", admin)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var lines InvoiceLinesResponse
		decode(t, rec, &lines)
		require.Len(t, lines.Lines, 1)
		assert.True(t, decimal.NewFromInt(140).Equal(lines.Total))

		rec = app.do(http.MethodPost, "/v1/clients/"+client.ID+"/invoice", admin)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = app.do(http.MethodPut, "/v1/clients/"+client.ID, admin, []byte(`{"billingCustomerId": "cus_9"}`))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		rec = app.do(http.MethodPost, "/v1/clients/"+client.ID+"/invoice", admin)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"invoiceItems": ["ii_`+p.ID+`"]}`, rec.Body.String())
		assert.Equal(t, "cus_9", app.invoicer.customerID)
	})

	t.Run("cancel clears the snapshot", func(t *testing.T) {
		rec := app.do(http.MethodPost, path+"/status", admin, statusBody("Cancelled", 0))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var change statusChangeDoc
		decode(t, rec, &change)
		assert.Nil(t, change.Project.PricingSnapshot)
		assert.Nil(t, change.Project.DateCompleted)
		assert.Len(t, change.Project.EstimateSent, 1)
	})
}

func TestProjectAPI_Visibility(t *testing.T) {
	app := newTestApp(t)
	admin := app.token(t, app.createUser(t, "admin", user.RoleAdmin, "", true))

	acme := testutil.CreateClient(t, app.clients, "Acme", pricing.AUD, "Australia/Sydney", loyalty.TierCasual)
	other := testutil.CreateClient(t, app.clients, "Other", pricing.USD, "America/New_York", loyalty.TierPro)
	mine := testutil.CreateProject(t, app.projects, acme.ID, "Mine", pricing.PlanStandard, 1)
	theirs := testutil.CreateProject(t, app.projects, other.ID, "Theirs", pricing.PlanComplex, 1)

	member := app.token(t, app.createUser(t, "member", user.RoleUser, acme.ID, true))

	list := func(token, query string) []string {
		rec := app.do(http.MethodGet, "/v1/projects"+query, token)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var docs []projectDoc
		decode(t, rec, &docs)
		ids := make([]string, 0, len(docs))
		for _, d := range docs {
			ids = append(ids, d.ID)
		}
		return ids
	}

	assert.ElementsMatch(t, []string{mine.ID, theirs.ID}, list(admin, ""))
	assert.Equal(t, []string{mine.ID}, list(member, ""))
	assert.Equal(t, []string{mine.ID}, list(member, "?clientId="+other.ID))
	assert.Equal(t, []string{theirs.ID}, list(admin, "?search=THEIR"))
	assert.Equal(t, []string{}, list(admin, "?status=sent"))

	app.run(t, []httpTest{
		{name: "other client's project", path: "/v1/projects/" + theirs.ID, token: member, wantCode: http.StatusNotFound},
		{name: "unknown status filter", path: "/v1/projects?status=nope", token: admin, wantCode: http.StatusBadRequest},
		{name: "clients cannot delete", method: http.MethodDelete, path: "/v1/projects/" + mine.ID, token: member, wantCode: http.StatusForbidden},
		{name: "admin deletes", method: http.MethodDelete, path: "/v1/projects/" + theirs.ID, token: admin, wantCode: http.StatusNoContent},
		{name: "deleted", path: "/v1/projects/" + theirs.ID, token: admin, wantCode: http.StatusNotFound},
	})

	t.Run("clients cannot assign estimators", func(t *testing.T) {
		rec := app.do(http.MethodPut, "/v1/projects/"+mine.ID, member, []byte(`{"assignedTo": "`+mine.ID+`"}`))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
