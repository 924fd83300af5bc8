package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tests"

	_ "github.com/webssh-gateway/backend/internal/migrations"
)

// testEnv wraps a PocketBase test app with a seeded superuser, mirroring the
// fixture other internal packages use for PocketBase-backed tests.
type testEnv struct {
	app   *tests.TestApp
	token string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatal(err)
	}

	suCol, err := app.FindCollectionByNameOrId(core.CollectionNameSuperusers)
	if err != nil {
		app.Cleanup()
		t.Fatal(err)
	}
	su := core.NewRecord(suCol)
	su.Set("email", "admin@test.com")
	su.SetPassword("1234567890")
	if err := app.Save(su); err != nil {
		app.Cleanup()
		t.Fatal(err)
	}

	token, err := su.NewStaticAuthToken(0)
	if err != nil {
		app.Cleanup()
		t.Fatal(err)
	}

	return &testEnv{app: app, token: token}
}

func (te *testEnv) cleanup() { te.app.Cleanup() }

func (te *testEnv) doGateway(t *testing.T, authenticated bool) *httptest.ResponseRecorder {
	t.Helper()

	r, err := apis.NewRouter(te.app)
	if err != nil {
		t.Fatal(err)
	}
	g := r.Group("/api/ext")
	g.Bind(apis.RequireAuth())
	registerGatewayRoutes(g)

	mux, err := r.BuildMux()
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/ext/gateway/ws", nil)
	if authenticated {
		req.Header.Set("Authorization", te.token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestGatewayWSRequiresAuth(t *testing.T) {
	te := newTestEnv(t)
	defer te.cleanup()

	rec := te.doGateway(t, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unauthenticated upgrade request, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGatewayWSAuthenticatedWithoutAdapterWired(t *testing.T) {
	te := newTestEnv(t)
	defer te.cleanup()

	// gatewayAdapter is never set in this test process, so an authenticated
	// request must fail cleanly with 503 rather than panic on a nil Adapter.
	rec := te.doGateway(t, true)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the adapter isn't wired, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMapSSOHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Remote-User", "alice")
	req.Header.Set("X-Remote-Method", "publickey")

	mapping := map[string]string{
		"X-Remote-User":   "username",
		"X-Remote-Method": "method",
		"X-Absent":        "password",
	}
	got := mapSSOHeaders(req, mapping)

	if got["username"] != "alice" || got["method"] != "publickey" {
		t.Fatalf("unexpected mapped headers: %#v", got)
	}
	if _, present := got["password"]; present {
		t.Fatal("absent header should not appear in the mapped result")
	}
}

func TestTrustedProxy(t *testing.T) {
	if !trustedProxy("10.0.0.5", nil) {
		t.Error("empty trusted list should allow any client IP")
	}
	if !trustedProxy("10.0.0.5", []string{"10.0.0.5", "10.0.0.6"}) {
		t.Error("expected 10.0.0.5 to be trusted")
	}
	if trustedProxy("10.0.0.7", []string{"10.0.0.5", "10.0.0.6"}) {
		t.Error("expected 10.0.0.7 to be rejected")
	}
}
