package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/coder/websocket"

	"github.com/gluk-w/online-ide/internal/config"
	"github.com/gluk-w/online-ide/internal/database"
	"github.com/gluk-w/online-ide/internal/logutil"
	"github.com/gluk-w/online-ide/internal/middleware"
	"github.com/gluk-w/online-ide/internal/runner"
	"github.com/gluk-w/online-ide/internal/sandbox"
	"github.com/gluk-w/online-ide/internal/session"
)

// maxFrameSize caps a single inbound WebSocket message. Save frames carry
// whole files, so this is well above the raw input limit.
const maxFrameSize = 8 * 1024 * 1024

// Sessions and Runner are set from main.go during init.
var (
	Sessions *session.Registry
	Runner   *runner.Runner
)

// IDEWebSocket upgrades the connection and runs one IDE session on it.
//
// Query parameters:
//   - id:  (optional) public ID of a shared project
//   - eid: (optional) edit ID of a shared project
//
// A known project moves the sandbox into the project tree, keyed by public
// ID and client; unknown IDs fall back to the client's own sandbox.
func IDEWebSocket(w http.ResponseWriter, r *http.Request) {
	if Sessions == nil || Runner == nil {
		writeError(w, http.StatusServiceUnavailable, "Session registry not initialized")
		return
	}

	key := middleware.GetClientKey(r)
	project := lookupProject(r)
	projectID := ""
	if project != nil {
		projectID = project.PublicID
	}

	root, err := sandbox.EnsureRoot(config.Cfg.UsersPath, key, projectID)
	if err != nil {
		log.Printf("[ide] sandbox for %s: %v", key, err)
		writeError(w, http.StatusInternalServerError, "Failed to prepare sandbox")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin is enforced by middleware.RequireOrigin.
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[ide] failed to accept websocket from %s: %v", key, err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameSize)

	shell, args := config.Cfg.ShellCommand()
	s, err := session.New(conn, session.Config{
		Key:             key,
		Root:            root,
		Project:         project,
		ShellCommand:    shell,
		ShellArgs:       args,
		Runner:          Runner,
		OutputBuffer:    config.Cfg.OutputBufferBytes,
		MaxInputMessage: config.Cfg.MaxInputMessageBytes,
	})
	if err != nil {
		log.Printf("[ide] session for %s: %v", key, err)
		conn.Close(4500, "Failed to start shell")
		return
	}
	Sessions.Add(s)
	log.Printf("%s session %s opened, root %s", logutil.SessionPrefix(key), s.ID, root)

	s.Serve(r.Context())
}

func lookupProject(r *http.Request) *database.Project {
	q := r.URL.Query()
	publicID, editID := q.Get("id"), q.Get("eid")
	if (publicID == "" && editID == "") || database.DB == nil {
		return nil
	}
	p, err := database.LookupProject(publicID, editID)
	if err != nil {
		if !errors.Is(err, database.ErrProjectNotFound) {
			log.Printf("[ide] project lookup: %v", err)
		}
		return nil
	}
	return p
}
