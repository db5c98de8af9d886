// File: server/router.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handler registration and lookup on a chi mux.

package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/momentics/hioload-httpd/api"
)

type requestKey struct{}

type router struct {
	mux    *chi.Mux
	routes map[string]struct{}
}

func newRouter() *router {
	return &router{
		mux:    chi.NewRouter(),
		routes: make(map[string]struct{}),
	}
}

func (rt *router) add(method, pattern string, fn HandlerFunc, userCtx any) (err error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "*"
	}
	if !strings.HasPrefix(pattern, "/") {
		return fmt.Errorf("register %s %q: pattern must start with '/': %w", method, pattern, api.ErrInvalidArgument)
	}
	key := method + " " + pattern
	if _, dup := rt.routes[key]; dup {
		return fmt.Errorf("register %s: %w", key, api.ErrAlreadyExists)
	}

	h := func(w http.ResponseWriter, req *http.Request) {
		rq, _ := req.Context().Value(requestKey{}).(*Request)
		if rq == nil {
			http.Error(w, "request outside server loop", http.StatusInternalServerError)
			return
		}
		rq.req = req
		rq.userCtx = userCtx
		rq.err = fn(rq)
	}

	// chi panics on malformed patterns and unknown methods
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("register %s: %v: %w", key, r, api.ErrInvalidArgument)
		}
	}()
	if method == "*" {
		rt.mux.HandleFunc(pattern, h)
	} else {
		rt.mux.MethodFunc(method, pattern, h)
	}
	rt.routes[key] = struct{}{}
	return nil
}

// dispatch routes rq through the mux. Unknown paths answer 404, known paths with
// another method 405. A panicking handler is reported as an error.
func (rt *router) dispatch(rq *Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	ctx := context.WithValue(rq.req.Context(), requestKey{}, rq)
	rt.mux.ServeHTTP(rq.ResponseWriter(), rq.req.WithContext(ctx))
	return rq.err
}
