// Package ascii contains injectable HTTP interfaces to text based instruments
package ascii

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/benchlab/rigolab/generichttp"
	"github.com/benchlab/rigolab/log"
	"github.com/benchlab/rigolab/server"
)

// RawCommunicator has a single Raw method, which sends a command and
// returns the reply, or "" for commands without one
type RawCommunicator interface {
	Raw(string) (string, error)
}

// HTTPRaw sends the command in a {"str": cmd} body and replies with
// {"str": reply}
func HTTPRaw(raw RawCommunicator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		cmd := server.StrT{}
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cmd.Str = strings.TrimSpace(cmd.Str)
		if cmd.Str == "" {
			http.Error(w, "empty command", http.StatusBadRequest)
			return
		}
		log.Debug("raw > %s", cmd.Str)
		resp, err := raw.Raw(cmd.Str)
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		server.WriteJSON(w, server.StrT{Str: resp})
	}
}

// InjectRawComm adds POST /raw to rt
func InjectRawComm(rt generichttp.RouteTable, raw RawCommunicator) {
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/raw"}] = HTTPRaw(raw)
}
