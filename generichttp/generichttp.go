// Package generichttp defines the route tables instrument wrappers use to
// expose themselves over HTTP, and handler generators for simple getters
// and setters.
package generichttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi"

	"github.com/benchlab/rigolab/server"
)

// MethodPath is a struct containing an HTTP method and a URL path
type MethodPath struct {
	Method, Path string
}

// RouteTable maps methods and paths to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints returns the "METHOD /path" strings of the table, sorted by path
func (rt RouteTable) Endpoints() []string {
	keys := make([]MethodPath, 0, len(rt))
	for k := range rt {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Path == keys[j].Path {
			return keys[i].Method < keys[j].Method
		}
		return keys[i].Path < keys[j].Path
	})
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.Method + " " + k.Path
	}
	return out
}

// Bind registers every route of the table on r
func (rt RouteTable) Bind(r chi.Router) {
	for mp, h := range rt {
		r.MethodFunc(mp.Method, mp.Path, h)
	}
}

// HTTPer is an interface which allows types to yield their route tables
type HTTPer interface {
	RT() RouteTable
}

// SubMuxSanitize converts a URL stem into the form chi mounts on,
// "omc/scope/" => "/omc/scope"
func SubMuxSanitize(str string) string {
	str = strings.TrimSuffix(strings.TrimSpace(str), "*")
	str = strings.Trim(str, "/")
	return "/" + str
}

// statuses holds the error to status code pairs registered with RegisterStatus
var statuses []struct {
	target error
	code   int
}

// RegisterStatus makes Error reply with code for any error matching target
// through errors.Is.  Call it from init.
func RegisterStatus(target error, code int) {
	statuses = append(statuses, struct {
		target error
		code   int
	}{target, code})
}

// Error replies with err and the status code registered for it, or 500
func Error(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	for _, s := range statuses {
		if errors.Is(err, s.target) {
			code = s.code
			break
		}
	}
	http.Error(w, err.Error(), code)
}

// GetJSON calls fcn and replies with its result encoded as JSON
func GetJSON[T any](fcn func() (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := fcn()
		if err != nil {
			Error(w, err)
			return
		}
		server.WriteJSON(w, v)
	}
}

// setter decodes a single-field JSON body of type B and calls fcn with the
// value unbox takes out of it
func setter[B, T any](fcn func(T) error, unbox func(B) T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var b B
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := fcn(unbox(b)); err != nil {
			Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetFloat replies with the result of fcn as {"f64": value}
func GetFloat(fcn func() (float64, error)) http.HandlerFunc {
	return GetJSON(func() (server.FloatT, error) {
		f, err := fcn()
		return server.FloatT{F64: f}, err
	})
}

// SetFloat calls fcn with the value of a {"f64": value} body
func SetFloat(fcn func(float64) error) http.HandlerFunc {
	return setter(fcn, func(b server.FloatT) float64 { return b.F64 })
}

// GetInt replies with the result of fcn as {"int": value}
func GetInt(fcn func() (int, error)) http.HandlerFunc {
	return GetJSON(func() (server.IntT, error) {
		i, err := fcn()
		return server.IntT{Int: i}, err
	})
}

// SetInt calls fcn with the value of an {"int": value} body
func SetInt(fcn func(int) error) http.HandlerFunc {
	return setter(fcn, func(b server.IntT) int { return b.Int })
}

// GetString replies with the result of fcn as {"str": value}
func GetString(fcn func() (string, error)) http.HandlerFunc {
	return GetJSON(func() (server.StrT, error) {
		s, err := fcn()
		return server.StrT{Str: s}, err
	})
}

// SetString calls fcn with the value of a {"str": value} body
func SetString(fcn func(string) error) http.HandlerFunc {
	return setter(fcn, func(b server.StrT) string { return b.Str })
}

// GetBool replies with the result of fcn as {"bool": value}
func GetBool(fcn func() (bool, error)) http.HandlerFunc {
	return GetJSON(func() (server.BoolT, error) {
		b, err := fcn()
		return server.BoolT{Bool: b}, err
	})
}

// SetBool calls fcn with the value of a {"bool": value} body
func SetBool(fcn func(bool) error) http.HandlerFunc {
	return setter(fcn, func(b server.BoolT) bool { return b.Bool })
}
