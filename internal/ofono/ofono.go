// Package ofono discovers modems and reads their SIM phonebooks through the
// oFono daemon on the system D-Bus.
package ofono

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"github.com/micro-nova/simcontacts/internal/modem"
)

const (
	service        = "org.ofono"
	managerIface   = "org.ofono.Manager"
	modemIface     = "org.ofono.Modem"
	phonebookIface = "org.ofono.Phonebook"

	busService = "org.freedesktop.DBus"

	signalBuffer = 32
)

// Manager is a modem.Manager backed by oFono.
type Manager struct{}

// New creates an oFono manager using the system bus.
func New() *Manager {
	return &Manager{}
}

// modemEntry is one element of org.ofono.Manager.GetModems: a(oa{sv}).
type modemEntry struct {
	Path       dbus.ObjectPath
	Properties map[string]dbus.Variant
}

// Run subscribes to oFono signals, reports the modems oFono already knows
// and then forwards changes until ctx is cancelled. oFono may be absent or
// restart while Run is active; its modems come and go with it.
func (m *Manager) Run(ctx context.Context, ev modem.Events) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("ofono: connect system bus: %w", err)
	}
	defer conn.Close()

	// Subscribe before enumerating so no edge between the two is lost.
	if err := conn.AddMatchSignal(
		dbus.WithMatchSender(busService),
		dbus.WithMatchInterface(busService),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, service),
	); err != nil {
		return fmt.Errorf("ofono: match name owner: %w", err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchSender(service),
		dbus.WithMatchInterface(managerIface),
	); err != nil {
		return fmt.Errorf("ofono: match manager signals: %w", err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchSender(service),
		dbus.WithMatchInterface(modemIface),
		dbus.WithMatchMember("PropertyChanged"),
	); err != nil {
		return fmt.Errorf("ofono: match modem signals: %w", err)
	}
	sigs := make(chan *dbus.Signal, signalBuffer)
	conn.Signal(sigs)
	defer conn.RemoveSignal(sigs)

	w := newWatcher(conn, ev)
	w.enumerate = func() ([]modemEntry, error) { return getModems(ctx, conn) }
	w.sync()

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-sigs:
			if !ok {
				return errors.New("ofono: signal channel closed")
			}
			w.dispatch(sig)
		}
	}
}

func getModems(ctx context.Context, conn *dbus.Conn) ([]modemEntry, error) {
	var modems []modemEntry
	call := conn.Object(service, "/").CallWithContext(ctx, managerIface+".GetModems", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("ofono: GetModems: %w", call.Err)
	}
	if err := call.Store(&modems); err != nil {
		return nil, fmt.Errorf("ofono: GetModems: %w", err)
	}
	return modems, nil
}

// watcher turns oFono signals into modem.Events edges.
type watcher struct {
	conn      *dbus.Conn
	ev        modem.Events
	modems    map[dbus.ObjectPath]*ofonoModem
	enumerate func() ([]modemEntry, error)
}

func newWatcher(conn *dbus.Conn, ev modem.Events) *watcher {
	return &watcher{conn: conn, ev: ev, modems: make(map[dbus.ObjectPath]*ofonoModem)}
}

func (w *watcher) dispatch(sig *dbus.Signal) {
	switch sig.Name {
	case busService + ".NameOwnerChanged":
		if len(sig.Body) < 3 {
			return
		}
		name, ok1 := sig.Body[0].(string)
		oldOwner, ok2 := sig.Body[1].(string)
		newOwner, ok3 := sig.Body[2].(string)
		if !ok1 || !ok2 || !ok3 || name != service {
			return
		}
		if oldOwner != "" {
			w.vanished()
		}
		if newOwner != "" {
			slog.Info("ofono: service appeared", "owner", newOwner)
			w.sync()
		}

	case managerIface + ".ModemAdded":
		if len(sig.Body) < 2 {
			return
		}
		path, ok1 := sig.Body[0].(dbus.ObjectPath)
		props, ok2 := sig.Body[1].(map[string]dbus.Variant)
		if !ok1 || !ok2 {
			slog.Debug("ofono: malformed ModemAdded", "body", sig.Body)
			return
		}
		w.added(path, props)

	case managerIface + ".ModemRemoved":
		if len(sig.Body) < 1 {
			return
		}
		path, ok := sig.Body[0].(dbus.ObjectPath)
		if !ok {
			return
		}
		w.removed(path)

	case modemIface + ".PropertyChanged":
		if len(sig.Body) < 2 {
			return
		}
		name, ok1 := sig.Body[0].(string)
		value, ok2 := sig.Body[1].(dbus.Variant)
		if !ok1 || !ok2 || name != "Interfaces" {
			return
		}
		w.interfacesChanged(sig.Path, value)
	}
}

func (w *watcher) added(path dbus.ObjectPath, props map[string]dbus.Variant) {
	if _, ok := w.modems[path]; ok {
		return
	}
	om := &ofonoModem{conn: w.conn, path: path}
	om.valid.Store(hasPhonebook(props["Interfaces"]))
	w.modems[path] = om
	slog.Debug("ofono: modem added", "path", path, "phonebook", om.valid.Load())

	w.ev.ModemAdded(om)
	if om.valid.Load() {
		w.ev.PhonebookValidityChanged(om.Handle(), true)
	}
}

func (w *watcher) removed(path dbus.ObjectPath) {
	if _, ok := w.modems[path]; !ok {
		return
	}
	delete(w.modems, path)
	slog.Debug("ofono: modem removed", "path", path)
	w.ev.ModemRemoved(modem.Handle(path))
}

// sync reconciles the tracked modems with GetModems. An unreachable oFono
// counts as no modems.
func (w *watcher) sync() {
	var entries []modemEntry
	if w.enumerate != nil {
		var err error
		if entries, err = w.enumerate(); err != nil {
			slog.Warn("ofono: cannot list modems, waiting for oFono", "err", err)
			entries = nil
		}
	}

	present := make(map[dbus.ObjectPath]bool, len(entries))
	for _, e := range entries {
		present[e.Path] = true
	}
	for _, path := range slices.Sorted(maps.Keys(w.modems)) {
		if !present[path] {
			w.removed(path)
		}
	}
	for _, e := range entries {
		w.added(e.Path, e.Properties)
	}
	slog.Info("ofono: watching modems", "count", len(w.modems))
}

// vanished drops every tracked modem after oFono left the bus.
func (w *watcher) vanished() {
	slog.Warn("ofono: service vanished", "modems", len(w.modems))
	for _, path := range slices.Sorted(maps.Keys(w.modems)) {
		w.removed(path)
	}
}

func (w *watcher) interfacesChanged(path dbus.ObjectPath, v dbus.Variant) {
	om, ok := w.modems[path]
	if !ok {
		return
	}
	valid := hasPhonebook(v)
	if om.valid.Swap(valid) == valid {
		return
	}
	w.ev.PhonebookValidityChanged(om.Handle(), valid)
}

// hasPhonebook reports whether an Interfaces property lists the phonebook.
func hasPhonebook(v dbus.Variant) bool {
	ifaces, ok := v.Value().([]string)
	if !ok {
		return false
	}
	for _, i := range ifaces {
		if i == phonebookIface {
			return true
		}
	}
	return false
}

// ofonoModem is one oFono modem object.
type ofonoModem struct {
	conn  *dbus.Conn
	path  dbus.ObjectPath
	valid atomic.Bool
}

func (m *ofonoModem) Handle() modem.Handle       { return modem.Handle(m.path) }
func (m *ofonoModem) PhonebookValid() bool       { return m.valid.Load() }
func (m *ofonoModem) Phonebook() modem.Phonebook { return m }

// Import calls org.ofono.Phonebook.Import, which returns the whole SIM
// phonebook as vCard text. Cancelling ctx abandons the pending call.
func (m *ofonoModem) Import(ctx context.Context) (string, error) {
	var vcard string
	call := m.conn.Object(service, m.path).CallWithContext(ctx, phonebookIface+".Import", 0)
	if call.Err != nil {
		return "", fmt.Errorf("ofono: import %s: %w", m.path, call.Err)
	}
	if err := call.Store(&vcard); err != nil {
		return "", fmt.Errorf("ofono: import %s: %w", m.path, err)
	}
	return vcard, nil
}

var _ modem.Manager = (*Manager)(nil)
