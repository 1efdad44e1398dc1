package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Clark-Hu/bitebox/internal/authclient"
	"github.com/Clark-Hu/bitebox/internal/authmock"
	"github.com/Clark-Hu/bitebox/internal/config"
	"github.com/Clark-Hu/bitebox/internal/domain"
	"github.com/Clark-Hu/bitebox/internal/gate"
	"github.com/Clark-Hu/bitebox/internal/metrics"
	"github.com/Clark-Hu/bitebox/internal/profilecache"
	"github.com/Clark-Hu/bitebox/internal/repository"
	"github.com/Clark-Hu/bitebox/internal/role"
	"github.com/Clark-Hu/bitebox/internal/session"
	"github.com/Clark-Hu/bitebox/internal/testutil/pgtest"
)

const (
	testJWTSecret   = "handler-test-secret"
	adminPassphrase = "open sesame"

	mobileUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	desktopUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

type poolHealth struct{ pool *pgxpool.Pool }

func (p poolHealth) HealthCheck(ctx context.Context) error { return p.pool.Ping(ctx) }

type testEnv struct {
	srv      *Server
	repo     *repository.Repository
	mock     *authmock.Server
	profiles *profilecache.Memory
}

func newTestEnv(tb testing.TB) *testEnv {
	tb.Helper()

	pool := pgtest.NewPool(tb, "bitebox_http_test")
	repo := repository.NewWithPool(pool)

	mock := authmock.New(testJWTSecret, "anon-key", time.Hour, zap.NewNop())
	authSrv := httptest.NewServer(mock)
	tb.Cleanup(authSrv.Close)

	auth, err := authclient.NewHTTPClient(authSrv.URL+"/", "anon-key", 2*time.Second, zap.NewNop())
	if err != nil {
		tb.Fatalf("auth client: %v", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassphrase), bcrypt.MinCost)
	if err != nil {
		tb.Fatalf("hash passphrase: %v", err)
	}
	cfg := config.Config{
		Port:             "0",
		AdminPassHash:    string(hash),
		ReadTimeoutSecs:  15,
		WriteTimeoutSecs: 15,
		IdleTimeoutSecs:  60,
	}

	m := metrics.New(prometheus.NewRegistry())
	sessions := session.NewCookieProvider(auth, session.Options{JWTSecret: testJWTSecret, Leeway: time.Minute, Metrics: m})
	checker := role.NewChecker(repo.Admins, time.Second, zap.NewNop(), m)
	profiles := profilecache.NewMemory(time.Minute)

	srv := New(Deps{
		Config:   cfg,
		Health:   poolHealth{pool},
		Repo:     repo,
		Auth:     auth,
		Sessions: sessions,
		Gate:     gate.New(gate.DefaultRules(), sessions, checker, zap.NewNop(), m),
		Profiles: profiles,
		Metrics:  m,
		Logger:   zap.NewNop(),
	})
	return &testEnv{srv: srv, repo: repo, mock: mock, profiles: profiles}
}

type request struct {
	method    string
	path      string
	body      interface{}
	cookies   []*http.Cookie
	userAgent string
	header    map[string]string
}

func (e *testEnv) do(req request) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if req.body != nil {
		if raw, ok := req.body.(string); ok {
			body.WriteString(raw)
		} else {
			_ = json.NewEncoder(&body).Encode(req.body)
		}
	}
	method := req.method
	if method == "" {
		method = http.MethodGet
	}
	r := httptest.NewRequest(method, req.path, &body)
	if req.body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	ua := req.userAgent
	if ua == "" {
		ua = mobileUA
	}
	r.Header.Set("User-Agent", ua)
	for k, v := range req.header {
		r.Header.Set(k, v)
	}
	for _, c := range req.cookies {
		r.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, r)
	return rec
}

// login registers an account on the mock and signs in through the API.
func (e *testEnv) login(tb testing.TB, email string) (domain.User, []*http.Cookie) {
	tb.Helper()
	user, err := e.mock.AddUser(email, "password123")
	if err != nil {
		tb.Fatalf("add user %s: %v", email, err)
	}
	rec := e.do(request{
		method: http.MethodPost,
		path:   "/api/auth/login",
		body:   credentialsRequest{Email: email, Password: "password123"},
	})
	if rec.Code != http.StatusOK {
		tb.Fatalf("login %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	return user, rec.Result().Cookies()
}

func (e *testEnv) createRestaurant(tb testing.TB, name string) domain.Restaurant {
	tb.Helper()
	restaurant, err := e.repo.Restaurants.Create(context.Background(), repository.RestaurantParams{Name: name, Cuisine: "Tapas"})
	if err != nil {
		tb.Fatalf("create restaurant: %v", err)
	}
	return restaurant
}

type HandlerSuite struct {
	suite.Suite
	env *testEnv
	seq int
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupSuite() {
	s.env = newTestEnv(s.T())
}

func (s *HandlerSuite) email(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d@example.com", prefix, s.seq)
}

func (s *HandlerSuite) decode(rec *httptest.ResponseRecorder, dst interface{}) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func (s *HandlerSuite) TestHealthz() {
	rec := s.env.do(request{path: "/healthz", userAgent: "kube-probe/1.29"})
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"status":"ok"}`, rec.Body.String())
}

func (s *HandlerSuite) TestMetricsEndpointSkipsDeviceRules() {
	rec := s.env.do(request{path: "/metrics", userAgent: desktopUA})
	s.Equal(http.StatusOK, rec.Code)
}

func (s *HandlerSuite) TestGateOnPages() {
	rec := s.env.do(request{path: "/admin/restaurants", userAgent: desktopUA})
	s.Equal(http.StatusTemporaryRedirect, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	s.Require().NoError(err)
	s.Equal("/login", loc.Path)
	s.Equal("/admin/restaurants", loc.Query().Get("next"))

	rec = s.env.do(request{path: "/home", userAgent: desktopUA})
	s.Equal(http.StatusTemporaryRedirect, rec.Code)
	s.Equal("/desktop-notice", rec.Header().Get("Location"))

	rec = s.env.do(request{path: "/home", userAgent: mobileUA})
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `data-page="home"`)

	rec = s.env.do(request{path: "/login", userAgent: desktopUA})
	s.Equal(http.StatusOK, rec.Code)

	rec = s.env.do(request{path: "/desktop-notice", userAgent: desktopUA})
	s.Equal(http.StatusOK, rec.Code)

	rec = s.env.do(request{path: "/desktop-notice", userAgent: mobileUA})
	s.Equal(http.StatusTemporaryRedirect, rec.Code)
	s.Equal("/", rec.Header().Get("Location"))
}

func (s *HandlerSuite) TestGateOnUnmatchedPaths() {
	rec := s.env.do(request{path: "/about", userAgent: desktopUA})
	s.Equal(http.StatusTemporaryRedirect, rec.Code)
	s.Equal("/desktop-notice", rec.Header().Get("Location"))

	rec = s.env.do(request{path: "/about", userAgent: mobileUA})
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.env.do(request{path: "/admin/settings", userAgent: mobileUA})
	s.Equal(http.StatusTemporaryRedirect, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	s.Require().NoError(err)
	s.Equal("/login", loc.Path)
	s.Equal("/admin/settings", loc.Query().Get("next"))

	rec = s.env.do(request{path: "/admin/logo.png", userAgent: desktopUA})
	s.Equal(http.StatusNotFound, rec.Code)
	s.Empty(rec.Header().Get("Location"))
}

func (s *HandlerSuite) TestStaticAssetStillRefreshesSession() {
	email := s.email("static")
	user, err := s.env.mock.AddUser(email, "password123")
	s.Require().NoError(err)
	_, refresh, ok := s.env.mock.IssueTokens(email)
	s.Require().True(ok)
	expired := s.env.mock.SignAccessToken(user, time.Now().Add(-time.Minute))

	rec := s.env.do(request{
		path:      "/static/app.css",
		userAgent: desktopUA,
		cookies: []*http.Cookie{
			{Name: session.AccessCookie, Value: expired},
			{Name: session.RefreshCookie, Value: refresh},
		},
	})
	s.Equal(http.StatusNotFound, rec.Code)

	renewed := map[string]string{}
	for _, c := range rec.Result().Cookies() {
		renewed[c.Name] = c.Value
	}
	s.NotEmpty(renewed[session.AccessCookie])
	s.NotEqual(expired, renewed[session.AccessCookie])
	s.NotEmpty(renewed[session.RefreshCookie])
}

func (s *HandlerSuite) TestLoginAndMe() {
	rec := s.env.do(request{path: "/api/me", userAgent: desktopUA})
	s.Equal(http.StatusUnauthorized, rec.Code)

	email := s.email("diner")
	user, cookies := s.env.login(s.T(), email)
	s.Len(cookies, 2)

	rec = s.env.do(request{path: "/api/me", cookies: cookies, userAgent: desktopUA})
	s.Require().Equal(http.StatusOK, rec.Code)
	var me userResponse
	s.decode(rec, &me)
	s.Equal(user.ID, me.ID)
	s.Equal(email, me.Email)

	rec = s.env.do(request{
		method: http.MethodPost,
		path:   "/api/auth/login",
		body:   credentialsRequest{Email: email, Password: "nope"},
	})
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerSuite) TestMeAndLogoutUseRefreshedToken() {
	email := s.email("stale")
	user, err := s.env.mock.AddUser(email, "password123")
	s.Require().NoError(err)
	_, refresh, ok := s.env.mock.IssueTokens(email)
	s.Require().True(ok)
	expired := s.env.mock.SignAccessToken(user, time.Now().Add(-time.Minute))
	cookies := []*http.Cookie{
		{Name: session.AccessCookie, Value: expired},
		{Name: session.RefreshCookie, Value: refresh},
	}

	// The auth service rejects the expired cookie token, so a 200 shows the
	// handler sees the renewed one.
	rec := s.env.do(request{path: "/api/me", cookies: cookies})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var me userResponse
	s.decode(rec, &me)
	s.Equal(user.ID, me.ID)

	cookies = rec.Result().Cookies()
	s.Require().Len(cookies, 2)
	rec = s.env.do(request{method: http.MethodPost, path: "/api/auth/logout", cookies: cookies})
	s.Equal(http.StatusNoContent, rec.Code)

	var renewedRefresh string
	for _, c := range cookies {
		if c.Name == session.RefreshCookie {
			renewedRefresh = c.Value
		}
	}
	s.Require().NotEmpty(renewedRefresh)
	rec = s.env.do(request{path: "/api/me", cookies: []*http.Cookie{{Name: session.RefreshCookie, Value: renewedRefresh}}})
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerSuite) TestSignUpOverlongPasswordIsRejected() {
	rec := s.env.do(request{
		method: http.MethodPost,
		path:   "/api/auth/signup",
		body:   credentialsRequest{Email: s.email("long"), Password: strings.Repeat("p", 80)},
	})
	s.Equal(http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	s.Contains(rec.Body.String(), "SIGNUP_REJECTED")
}

func (s *HandlerSuite) TestSignUpAndForgotPassword() {
	email := s.email("new")
	rec := s.env.do(request{
		method: http.MethodPost,
		path:   "/api/auth/signup",
		body:   credentialsRequest{Email: email, Password: "secret123"},
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	s.NotEmpty(rec.Result().Cookies())

	rec = s.env.do(request{
		method: http.MethodPost,
		path:   "/api/auth/signup",
		body:   credentialsRequest{Email: email, Password: "secret123"},
	})
	s.Equal(http.StatusUnprocessableEntity, rec.Code)

	rec = s.env.do(request{
		method: http.MethodPost,
		path:   "/api/auth/forgot-password",
		body:   emailRequest{Email: email},
	})
	s.Equal(http.StatusAccepted, rec.Code)
	s.Contains(s.env.mock.Recoveries(), email)
}

func (s *HandlerSuite) TestLogoutClearsSession() {
	_, cookies := s.env.login(s.T(), s.email("leaving"))

	rec := s.env.do(request{method: http.MethodPost, path: "/api/auth/logout", cookies: cookies})
	s.Require().Equal(http.StatusNoContent, rec.Code)
	cleared := 0
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			cleared++
		}
	}
	s.Equal(2, cleared)

	// The refresh token was revoked by the auth service.
	expired := []*http.Cookie{}
	for _, c := range cookies {
		if c.Name == session.RefreshCookie {
			expired = append(expired, c)
		}
	}
	rec = s.env.do(request{path: "/api/me", cookies: expired})
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerSuite) TestAdminAccess() {
	user, cookies := s.env.login(s.T(), s.email("staff"))

	rec := s.env.do(request{path: "/admin/restaurants", cookies: cookies})
	s.Equal(http.StatusTemporaryRedirect, rec.Code)
	s.Equal("/", rec.Header().Get("Location"))

	s.Require().NoError(s.env.repo.Admins.Grant(context.Background(), user.ID))

	rec = s.env.do(request{path: "/admin/restaurants", cookies: cookies, userAgent: desktopUA})
	s.Equal(http.StatusOK, rec.Code)

	body := restaurantRequest{Name: "Casa Nova", Cuisine: "Portuguese"}
	rec = s.env.do(request{method: http.MethodPost, path: "/admin/api/restaurants", cookies: cookies, body: body})
	s.Equal(http.StatusUnauthorized, rec.Code)

	passphrase := map[string]string{adminPassphraseHeader: adminPassphrase}
	rec = s.env.do(request{method: http.MethodPost, path: "/admin/api/restaurants", cookies: cookies, body: body, header: passphrase})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var created restaurantResponse
	s.decode(rec, &created)
	s.Equal("Casa Nova", created.Name)
	s.Equal("/api/restaurants/"+created.ID, rec.Header().Get("Location"))

	rec = s.env.do(request{
		method:  http.MethodPost,
		path:    "/admin/api/restaurants/" + created.ID + "/dishes",
		cookies: cookies,
		body:    dishRequest{Name: "Bacalhau"},
		header:  passphrase,
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var dish dishResponse
	s.decode(rec, &dish)

	price := 3
	rec = s.env.do(request{
		method:  http.MethodPut,
		path:    "/admin/api/restaurants/" + created.ID,
		cookies: cookies,
		body:    restaurantRequest{Name: "Casa Nova", Cuisine: "Portuguese", PriceLevel: &price},
		header:  passphrase,
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec = s.env.do(request{method: http.MethodDelete, path: "/admin/api/dishes/" + dish.ID, cookies: cookies, header: passphrase})
	s.Equal(http.StatusNoContent, rec.Code)
	rec = s.env.do(request{method: http.MethodDelete, path: "/admin/api/restaurants/" + created.ID, cookies: cookies, header: passphrase})
	s.Equal(http.StatusNoContent, rec.Code)
	rec = s.env.do(request{path: "/api/restaurants/" + created.ID})
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestRatingsAggregateOneVotePerVoter() {
	restaurant := s.env.createRestaurant(s.T(), "Tasca do Zé")
	_, first := s.env.login(s.T(), s.email("first"))
	_, second := s.env.login(s.T(), s.email("second"))

	rate := func(cookies []*http.Cookie, value float64) *httptest.ResponseRecorder {
		return s.env.do(request{
			method:  http.MethodPost,
			path:    "/api/restaurants/" + restaurant.ID + "/ratings",
			cookies: cookies,
			body:    ratingRequest{Rating: value},
		})
	}

	s.Require().Equal(http.StatusCreated, rate(first, 2).Code)
	s.Require().Equal(http.StatusCreated, rate(first, 4).Code)
	rec := rate(second, 5)
	s.Require().Equal(http.StatusCreated, rec.Code)
	var rated ratingResponse
	s.decode(rec, &rated)
	s.Require().NotNil(rated.Public)
	s.InDelta(4.0, rated.Public.Value, 1e-9)
	s.Equal(2, rated.Public.VoterCount)

	s.Equal(http.StatusUnprocessableEntity, rate(first, 6).Code)
	s.Equal(http.StatusUnprocessableEntity, rate(first, 0).Code)
	s.Equal(http.StatusUnauthorized, rate(nil, 3).Code)

	rec = s.env.do(request{path: "/api/restaurants/" + restaurant.ID})
	s.Require().Equal(http.StatusOK, rec.Code)
	var detail restaurantDetailResponse
	s.decode(rec, &detail)
	s.InDelta(4.0, detail.Rating.Value, 1e-9)
	s.Equal(2, detail.Rating.VoterCount)
	s.Require().Len(detail.VoterAverages, 2)
	means := map[float64]int{}
	for _, avg := range detail.VoterAverages {
		means[avg.Mean] = avg.Count
	}
	s.Equal(map[float64]int{3: 2, 5: 1}, means)

	rec = s.env.do(request{path: "/api/me/ratings", cookies: first})
	s.Require().Equal(http.StatusOK, rec.Code)
	var mine struct {
		Items []ratingResponse `json:"items"`
	}
	s.decode(rec, &mine)
	s.Len(mine.Items, 2)
}

func (s *HandlerSuite) TestDishRatings() {
	restaurant := s.env.createRestaurant(s.T(), "Pasteis Place")
	dish, err := s.env.repo.Dishes.Create(context.Background(), repository.DishCreateParams{RestaurantID: restaurant.ID, Name: "Pastel de nata"})
	s.Require().NoError(err)
	_, cookies := s.env.login(s.T(), s.email("sweet"))

	rec := s.env.do(request{
		method:  http.MethodPost,
		path:    "/api/dishes/" + dish.ID + "/ratings",
		cookies: cookies,
		body:    ratingRequest{Rating: 4.5},
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.env.do(request{path: "/api/restaurants/" + restaurant.ID})
	s.Require().Equal(http.StatusOK, rec.Code)
	var detail restaurantDetailResponse
	s.decode(rec, &detail)
	s.Require().Len(detail.Dishes, 1)
	s.InDelta(4.5, detail.Dishes[0].Rating.Value, 1e-9)
	s.Equal(1, detail.Dishes[0].Rating.VoterCount)
	// Dish ratings are part of the venue score.
	s.Equal(1, detail.Rating.VoterCount)

	rec = s.env.do(request{
		method:  http.MethodPost,
		path:    "/api/dishes/00000000-0000-0000-0000-000000000000/ratings",
		cookies: cookies,
		body:    ratingRequest{Rating: 3},
	})
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestListRestaurants() {
	a := s.env.createRestaurant(s.T(), "Listing Alpha")
	s.env.createRestaurant(s.T(), "Listing Beta")

	rec := s.env.do(request{path: "/api/restaurants?q=Listing&limit=1", userAgent: desktopUA})
	s.Require().Equal(http.StatusOK, rec.Code)
	var page restaurantListResponse
	s.decode(rec, &page)
	s.Len(page.Items, 1)
	s.Require().NotNil(page.NextCursor)

	rec = s.env.do(request{path: "/api/restaurants?q=Listing&limit=1&cursor=" + url.QueryEscape(*page.NextCursor)})
	s.Require().Equal(http.StatusOK, rec.Code)
	var next restaurantListResponse
	s.decode(rec, &next)
	s.Require().Len(next.Items, 1)
	s.Equal(a.ID, next.Items[0].ID)

	rec = s.env.do(request{path: "/api/restaurants?limit=abc"})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestProfiles() {
	user, cookies := s.env.login(s.T(), s.email("profiled"))

	rec := s.env.do(request{path: "/api/profiles/" + user.ID})
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.env.do(request{
		method:  http.MethodPut,
		path:    "/api/profile",
		cookies: cookies,
		body:    profileRequest{DisplayName: "  Marta  "},
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	cached, ok, err := s.env.profiles.Get(context.Background(), user.ID)
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal("Marta", cached.DisplayName)

	rec = s.env.do(request{path: "/api/profiles/" + user.ID})
	s.Require().Equal(http.StatusOK, rec.Code)
	var got profileResponse
	s.decode(rec, &got)
	s.Equal("Marta", got.DisplayName)

	rec = s.env.do(request{
		method:  http.MethodPut,
		path:    "/api/profile",
		cookies: cookies,
		body:    profileRequest{DisplayName: ""},
	})
	s.Equal(http.StatusUnprocessableEntity, rec.Code)
}

func (s *HandlerSuite) TestMalformedBody() {
	_, cookies := s.env.login(s.T(), s.email("typo"))
	restaurant := s.env.createRestaurant(s.T(), "Malformed")

	rec := s.env.do(request{
		method:  http.MethodPost,
		path:    "/api/restaurants/" + restaurant.ID + "/ratings",
		cookies: cookies,
		body:    `{"rating":}`,
	})
	s.Equal(http.StatusUnprocessableEntity, rec.Code)
	var resp errorResponse
	s.decode(rec, &resp)
	s.Equal("VALIDATION_ERROR", resp.Code)
}
