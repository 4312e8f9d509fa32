package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func newTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"abc","refresh_token":"def","token_type":"Bearer","expires_in":3600}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func oauthConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "id",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{AuthURL: tokenURL + "/authorize", TokenURL: tokenURL + "/token"},
	}
}

func TestOAuthHandler(t *testing.T) {
	t.Run("exchanges code", func(t *testing.T) {
		tokens := newTokenServer(t)
		h := NewOAuthHandler(oauthConfig(tokens.URL), "xyz")

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?state=xyz&code=c0de", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), "Spotify connected") {
			t.Errorf("unexpected page %q", rec.Body.String())
		}

		res := <-h.Result()
		if res.Err != nil || res.Token == nil || res.Token.AccessToken != "abc" {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("rejects bad state", func(t *testing.T) {
		h := NewOAuthHandler(oauthConfig("http://127.0.0.1:0"), "xyz")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?state=nope&code=c0de", nil))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		if res := <-h.Result(); res.Err == nil {
			t.Error("expected state error")
		}
	})

	t.Run("reports provider error", func(t *testing.T) {
		h := NewOAuthHandler(oauthConfig("http://127.0.0.1:0"), "xyz")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?state=xyz&error=access_denied", nil))

		res := <-h.Result()
		if res.Err == nil || !strings.Contains(res.Err.Error(), "access_denied") {
			t.Errorf("expected access_denied, got %v", res.Err)
		}
	})

	t.Run("only first callback counts", func(t *testing.T) {
		tokens := newTokenServer(t)
		h := NewOAuthHandler(oauthConfig(tokens.URL), "xyz")
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/callback?state=xyz&code=a", nil))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?state=xyz&code=b", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected replay rejected, got %d", rec.Code)
		}
		if got := h.Routes(); len(got) != 1 || got[0] != "/callback" {
			t.Errorf("unexpected routes %v", got)
		}
	})
}
