package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/loyalty"
	"github.com/trezcool/roofest/core/pricing"
	"github.com/trezcool/roofest/core/project"
	"github.com/trezcool/roofest/core/user"
	emailsvc "github.com/trezcool/roofest/services/email"
	"github.com/trezcool/roofest/storage/database"
	sqlxrepos "github.com/trezcool/roofest/storage/database/sqlx"
	testutil "github.com/trezcool/roofest/tests"
)

const testPassword = "Sh1ngle$-Pass"

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

type testApp struct {
	conf     *core.Config
	db       *sqlx.DB
	server   *Server
	logger   *testutil.Logger
	mail     *emailsvc.ConsoleServiceMock
	users    user.Repository
	clients  loyalty.Repository
	projects project.Repository
	outbox   *sqlxrepos.OutboxRepository
	invoicer *fakeInvoicer
}

type fakeInvoicer struct {
	customerID string
	lines      []project.InvoiceLine
}

func (f *fakeInvoicer) Push(_ context.Context, customerID string, lines []project.InvoiceLine) ([]string, error) {
	f.customerID = customerID
	f.lines = lines
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, "ii_"+l.ProjectID)
	}
	return ids, nil
}

func newTestApp(t *testing.T, configure ...func(conf *core.Config)) *testApp {
	t.Helper()
	conf := core.NewTestConfig()
	for _, fn := range configure {
		fn(conf)
	}

	db := testutil.PrepareDB(t)
	logger := &testutil.Logger{}
	mail := emailsvc.NewConsoleServiceMock(conf, logger)

	validate, translator := core.NewValidator()
	user.RegisterValidators(validate, translator)

	tiers, err := loyalty.NewTiersFromConfig(conf)
	require.NoError(t, err)
	conv, err := pricing.NewConverterFromConfig(conf)
	require.NoError(t, err)
	table := pricing.NewTable(conv)
	pricing.RegisterValidators(validate, translator, table)

	tx := database.NewTransactor(db)
	usrRepo := sqlxrepos.NewUserRepository(db)
	clientRepo := sqlxrepos.NewClientRepository(db)
	projectRepo := sqlxrepos.NewProjectRepository(db)
	outbox := sqlxrepos.NewOutboxRepository(db)

	evaluator := loyalty.NewEvaluator(tiers, table, loyalty.ParseOverridePolicy(conf.Loyalty.OverridePolicy), conf.Loyalty.ReferencePlan)
	invoicer := &fakeInvoicer{}

	server := NewServer(conf, logger, &Deps{
		UserSvc:    user.NewService(conf, usrRepo, mail),
		ClientSvc:  loyalty.NewService(conf, tx, clientRepo, projectRepo, evaluator, logger),
		ProjectSvc: project.NewService(tx, projectRepo, clientRepo, project.NewCapturer(table, tiers), outbox, mail, logger),
		Pricing:    table,
		Invoicer:   invoicer,
		Validate:   validate,
		Translator: translator,
	})

	return &testApp{
		conf:     conf,
		db:       db,
		server:   server,
		logger:   logger,
		mail:     mail,
		users:    usrRepo,
		clients:  clientRepo,
		projects: projectRepo,
		outbox:   outbox,
		invoicer: invoicer,
	}
}

func (app *testApp) createUser(t *testing.T, uname, role, clientID string, isActive bool) user.User {
	t.Helper()
	usr := testutil.CreateUser(t, app.users, uname+" Name", uname, uname+"@roofest.test", testPassword, role, isActive)
	if clientID != "" {
		usr.ClientID = clientID
		var err error
		usr, err = app.users.UpdateUser(context.Background(), usr)
		require.NoError(t, err)
	}
	return usr
}

func (app *testApp) token(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := app.server.auth.generateToken(app.server.auth.claimsFor(usr))
	require.NoError(t, err)
	return token
}

// do serves the request and returns the recorder.
func (app *testApp) do(method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, token, data...)
	app.server.ServeHTTP(rec, req)
	return rec
}

func (app *testApp) run(t *testing.T, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			rec := app.do(method, tt.path, tt.token, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, httptest.NewRecorder()
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	require.NoError(t, err)
	return data
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	wantCode := tt.wantCode
	if wantCode == 0 {
		wantCode = http.StatusOK
	}
	assert.Equal(t, wantCode, rec.Code, rec.Body.String())
	if tt.wantData != nil {
		assert.JSONEq(t, string(tt.wantData), rec.Body.String())
	}
}
