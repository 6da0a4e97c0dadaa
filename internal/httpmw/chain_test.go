package httpmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func tag(name string, order *[]string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*order = append(*order, name)
			next.ServeHTTP(w, r)
		})
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), tag("a", &order), nil, tag("b", &order), tag("c", &order))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if got := strings.Join(order, ","); got != "a,b,c,handler" {
		t.Fatalf("order = %s", got)
	}
}

func TestChain_Empty(t *testing.T) {
	called := false
	Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if !called {
		t.Fatal("handler not called")
	}
}

func TestWhen(t *testing.T) {
	var order []string
	mw := tag("x", &order)
	if When(false, mw) != nil {
		t.Fatal("When(false) should be nil")
	}
	if When(true, mw) == nil {
		t.Fatal("When(true) should return the middleware")
	}
}
