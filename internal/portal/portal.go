// Package portal negotiates screencast sessions with
// xdg-desktop-portal over D-Bus: CreateSession, SelectSources, Start,
// and OpenPipeWireRemote, with restore-token persistence so repeat
// captures skip the picker dialog when the compositor allows it.
package portal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/ghostkellz/nitrogen/internal/logging"
	"github.com/ghostkellz/nitrogen/internal/nerr"
	"github.com/ghostkellz/nitrogen/internal/types"
)

const (
	portalService   = "org.freedesktop.portal.Desktop"
	portalPath      = "/org/freedesktop/portal/desktop"
	screenCastIface = "org.freedesktop.portal.ScreenCast"
	requestIface    = "org.freedesktop.portal.Request"
	sessionIface    = "org.freedesktop.portal.Session"
)

// D-Bus bitmask values for SelectSources' "types" option.
const (
	sourceTypeMonitor uint32 = 1 << 0
	sourceTypeWindow  uint32 = 1 << 1
)

// D-Bus bitmask values for SelectSources' "cursor_mode" option.
const (
	cursorModeHidden   uint32 = 1 << 0
	cursorModeEmbedded uint32 = 1 << 1
	cursorModeMetadata uint32 = 1 << 2
)

const (
	persistModeNone    uint32 = 0
	persistModeSession uint32 = 2

	createSessionTimeout = 30 * time.Second
	selectSourcesTimeout = 60 * time.Second
	startTimeout         = 30 * time.Second
)

// Portal owns at most one live screencast session at a time;
// StartSession returns nerr.ErrSessionAlreadyRunning if called while one is
// active.
type Portal struct {
	conn          *dbus.Conn
	mu            sync.Mutex
	sessionHandle dbus.ObjectPath
	nodeID        uint32
	restoreToken  string
	tokenPath     string
}

// New connects to the session bus and loads any previously saved
// restore token.
func New() (*Portal, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, nerr.Wrap(nerr.KindPortal, err)
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = os.Getenv("HOME")
	}
	p := &Portal{
		conn:      conn,
		tokenPath: filepath.Join(configDir, "nitrogen", "portal_token"),
	}
	p.loadRestoreToken()
	return p, nil
}

// Close releases the D-Bus connection. StopSession should be called
// first if a session is active.
func (p *Portal) Close() error {
	return p.conn.Close()
}

// StartSession opens a portal request, lets the user pick a source
// (unless a restore token satisfies the request silently), and
// returns the resulting SessionInfo. At most one session may be
// active per Portal; calling StartSession twice without an
// intervening StopSession fails with SessionAlreadyRunning.
func (p *Portal) StartSession(kind types.SelectionKind, cursor types.CursorMode, multiple bool) (types.SessionInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	log := logging.For("portal")

	if p.sessionHandle != "" {
		return types.SessionInfo{}, nerr.ErrSessionAlreadyRunning
	}

	sessionHandle, err := p.createSession()
	if err != nil {
		return types.SessionInfo{}, nerr.Context(err, "create session")
	}
	p.sessionHandle = sessionHandle
	log.Debug().Str("session", string(sessionHandle)).Msg("portal session created")

	if err := p.selectSources(sessionHandle, kind, cursor, multiple); err != nil {
		p.closeSession()
		return types.SessionInfo{}, nerr.Context(err, "select sources")
	}
	log.Debug().Msg("sources selected")

	nodeID, err := p.start(sessionHandle)
	if err != nil {
		p.closeSession()
		return types.SessionInfo{}, nerr.Context(err, "start session")
	}
	p.nodeID = nodeID

	fd, err := p.openPipeWireRemote(sessionHandle)
	if err != nil {
		p.closeSession()
		return types.SessionInfo{}, nerr.Context(err, "open pipewire remote")
	}

	log.Info().Uint32("node_id", nodeID).Int("fd", fd).Msg("screencast session started")
	return types.SessionInfo{NodeID: nodeID, PipeWireFD: fd}, nil
}

// StopSession releases the active portal session, if any. Idempotent.
func (p *Portal) StopSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeSession()
}

// closeSession must be called with p.mu held.
func (p *Portal) closeSession() {
	if p.sessionHandle == "" {
		return
	}
	p.conn.Object(portalService, p.sessionHandle).Call(sessionIface+".Close", 0)
	p.sessionHandle = ""
	p.nodeID = 0
}

// TakePipeWireFD transfers ownership of fd to the caller, who must
// close it when done. Nitrogen calls this exactly once per session,
// immediately after StartSession returns.
func TakePipeWireFD(info types.SessionInfo) int {
	return info.PipeWireFD
}

func (p *Portal) createSession() (dbus.ObjectPath, error) {
	obj := p.conn.Object(portalService, portalPath)
	token := fmt.Sprintf("nitrogen%d", os.Getpid())

	options := map[string]dbus.Variant{
		"handle_token":         dbus.MakeVariant(token),
		"session_handle_token": dbus.MakeVariant(fmt.Sprintf("nitrogensession%d", os.Getpid())),
	}

	sig, requestPath, err := p.call(obj, screenCastIface+".CreateSession", createSessionTimeout, options)
	if err != nil {
		return "", err
	}
	_ = requestPath

	response := sig.Body[0].(uint32)
	if response != 0 {
		return "", nerr.Portal(fmt.Sprintf("CreateSession denied (code %d)", response))
	}
	results, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return "", nerr.Portal("CreateSession: malformed results")
	}
	handle, ok := results["session_handle"]
	if !ok {
		return "", nerr.Portal("CreateSession: no session_handle in response")
	}
	switch v := handle.Value().(type) {
	case dbus.ObjectPath:
		return v, nil
	case string:
		return dbus.ObjectPath(v), nil
	default:
		return "", nerr.Portal(fmt.Sprintf("CreateSession: unexpected session_handle type %T", v))
	}
}

func (p *Portal) selectSources(sessionHandle dbus.ObjectPath, kind types.SelectionKind, cursor types.CursorMode, multiple bool) error {
	obj := p.conn.Object(portalService, portalPath)
	token := fmt.Sprintf("select%d", os.Getpid())

	options := map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(token),
		"types":        dbus.MakeVariant(selectionBitmask(kind)),
		"multiple":     dbus.MakeVariant(multiple),
		"cursor_mode":  dbus.MakeVariant(cursorBitmask(cursor)),
		"persist_mode": dbus.MakeVariant(persistModeSession),
	}
	if p.restoreToken != "" {
		options["restore_token"] = dbus.MakeVariant(p.restoreToken)
	}

	sig, _, err := p.call(obj, screenCastIface+".SelectSources", selectSourcesTimeout, sessionHandle, options)
	if err != nil {
		return err
	}
	response := sig.Body[0].(uint32)
	if response != 0 {
		return nerr.Portal(fmt.Sprintf("source selection denied (code %d)", response))
	}
	return nil
}

func (p *Portal) start(sessionHandle dbus.ObjectPath) (uint32, error) {
	obj := p.conn.Object(portalService, portalPath)
	token := fmt.Sprintf("start%d", os.Getpid())
	options := map[string]dbus.Variant{"handle_token": dbus.MakeVariant(token)}

	sig, _, err := p.call(obj, screenCastIface+".Start", startTimeout, sessionHandle, "", options)
	if err != nil {
		return 0, err
	}
	response := sig.Body[0].(uint32)
	if response != 0 {
		return 0, nerr.Portal(fmt.Sprintf("start denied (code %d)", response))
	}
	results, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return 0, nerr.Portal("Start: malformed results")
	}

	if rt, ok := results["restore_token"]; ok {
		if token, ok := rt.Value().(string); ok && token != "" {
			p.restoreToken = token
			p.saveRestoreToken()
		}
	}

	streams, ok := results["streams"]
	if !ok {
		return 0, nerr.Portal("No streams returned")
	}
	nodeID, ok := firstStreamNodeID(streams.Value())
	if !ok {
		return 0, nerr.Portal("No streams returned")
	}
	return nodeID, nil
}

// firstStreamNodeID decodes the streams result, which is the D-Bus
// type a(ua{sv}) — an array of (node_id, properties) structs. The
// Go-side decoded shape varies with the dbus library version, so both
// observed forms are handled.
func firstStreamNodeID(v interface{}) (uint32, bool) {
	switch vv := v.(type) {
	case [][]interface{}:
		if len(vv) > 0 && len(vv[0]) > 0 {
			if nodeID, ok := vv[0][0].(uint32); ok {
				return nodeID, true
			}
		}
	case []interface{}:
		if len(vv) > 0 {
			if stream, ok := vv[0].([]interface{}); ok && len(stream) > 0 {
				if nodeID, ok := stream[0].(uint32); ok {
					return nodeID, true
				}
			}
		}
	}
	return 0, false
}

func (p *Portal) openPipeWireRemote(sessionHandle dbus.ObjectPath) (int, error) {
	obj := p.conn.Object(portalService, portalPath)
	options := map[string]dbus.Variant{}

	var fd dbus.UnixFD
	call := obj.Call(screenCastIface+".OpenPipeWireRemote", 0, sessionHandle, options)
	if call.Err != nil {
		return 0, nerr.Wrap(nerr.KindPortal, call.Err)
	}
	if err := call.Store(&fd); err != nil {
		return 0, nerr.Wrap(nerr.KindPortal, err)
	}
	return int(fd), nil
}

// call performs the "set up a signal channel, add the Response match
// rule, invoke the method, wait for the correlated Response" dance
// common to CreateSession/SelectSources/Start.
func (p *Portal) call(obj dbus.BusObject, method string, timeout time.Duration, args ...interface{}) (*dbus.Signal, dbus.ObjectPath, error) {
	log := logging.For("portal")
	responseChan := make(chan *dbus.Signal, 10)

	matchRule := fmt.Sprintf("type='signal',interface='%s',member='Response'", requestIface)
	if err := p.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchRule).Err; err != nil {
		log.Warn().Err(err).Msg("failed to add portal match rule")
	}
	p.conn.Signal(responseChan)
	defer p.conn.RemoveSignal(responseChan)

	var requestPath dbus.ObjectPath
	if err := obj.Call(method, 0, args...).Store(&requestPath); err != nil {
		return nil, "", nerr.Wrap(nerr.KindPortal, err)
	}

	deadline := time.After(timeout)
	for {
		select {
		case <-deadline:
			return nil, "", nerr.Portal(fmt.Sprintf("timeout waiting for %s response", method))
		case sig := <-responseChan:
			if sig.Path != requestPath || sig.Name != requestIface+".Response" {
				continue
			}
			if len(sig.Body) < 2 {
				return nil, "", nerr.Portal(fmt.Sprintf("%s: malformed response body", method))
			}
			return sig, requestPath, nil
		}
	}
}

func selectionBitmask(kind types.SelectionKind) uint32 {
	switch kind {
	case types.SelectMonitor:
		return sourceTypeMonitor
	case types.SelectWindow:
		return sourceTypeWindow
	case types.SelectBoth:
		return sourceTypeMonitor | sourceTypeWindow
	default:
		return sourceTypeMonitor
	}
}

func cursorBitmask(mode types.CursorMode) uint32 {
	switch mode {
	case types.CursorHidden:
		return cursorModeHidden
	case types.CursorEmbedded:
		return cursorModeEmbedded
	case types.CursorMetadata:
		return cursorModeMetadata
	default:
		return cursorModeEmbedded
	}
}

type tokenFile struct {
	Token string `json:"token"`
}

func (p *Portal) loadRestoreToken() {
	data, err := os.ReadFile(p.tokenPath)
	if err != nil {
		return
	}
	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return
	}
	p.restoreToken = tf.Token
}

func (p *Portal) saveRestoreToken() {
	if p.restoreToken == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(p.tokenPath), 0o755); err != nil {
		return
	}
	data, err := json.Marshal(tokenFile{Token: p.restoreToken})
	if err != nil {
		return
	}
	_ = os.WriteFile(p.tokenPath, data, 0o600)
}
