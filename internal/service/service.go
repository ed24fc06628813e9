// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
	"github.com/google/uuid"

	"github.com/tks-project/secretsd/internal/cryptoengine"
	"github.com/tks-project/secretsd/internal/identity"
	"github.com/tks-project/secretsd/internal/prompt"
	"github.com/tks-project/secretsd/internal/session"
	"github.com/tks-project/secretsd/internal/store"
)

// Service is the root D-Bus object at /org/freedesktop/secrets, implementing
// org.freedesktop.Secret.Service.
type Service struct {
	conn     *dbus.Conn
	store    *store.Store
	sessions *session.Registry
	prompts  *prompt.Registry
	dialog   prompt.Dialog
	gate     *identity.Gate

	collectionsMu sync.Mutex
	collections   map[string]*Collection // keyed by collection name, guarded by collectionsMu
	svcProps      *prop.Properties

	lastActivityTimestamp atomic.Int64
	timeoutDuration       int64
	shutdownFn            context.CancelFunc
}

// New builds and fully exports the Secret Service: every persisted
// collection and item, the Service object itself, and starts the idle
// timeout monitor. The caller is responsible for requesting the well-known
// bus name.
// shutdown is called by the idle timeout monitor to end the daemon; it is
// expected to be the cancel function of the same ctx the caller's own
// shutdown-wait loop blocks on, so an idle timeout unblocks main exactly
// like an OS signal would.
func New(
	ctx context.Context,
	conn *dbus.Conn,
	st *store.Store,
	prompts *prompt.Registry,
	dialog prompt.Dialog,
	gate *identity.Gate,
	timeout time.Duration,
	shutdown context.CancelFunc,
) (*Service, error) {
	svc := &Service{
		conn:            conn,
		store:           st,
		sessions:        session.NewRegistry(),
		prompts:         prompts,
		dialog:          dialog,
		gate:            gate,
		collections:     make(map[string]*Collection),
		timeoutDuration: int64(timeout.Seconds()),
		shutdownFn:      shutdown,
	}
	svc.lastActivityTimestamp.Store(time.Now().Unix())

	if err := conn.Export(svc, dbus.ObjectPath(ServicePath), ServiceIface); err != nil {
		return nil, fmt.Errorf("export service: %w", err)
	}
	if err := svc.exportServiceProps(); err != nil {
		return nil, fmt.Errorf("export service props: %w", err)
	}

	for _, name := range st.ListCollections() {
		if err := svc.loadCollection(name); err != nil {
			log.Printf("warning: could not load collection %q: %v", name, err)
		}
	}

	conn.BusObject().AddMatchSignal("org.freedesktop.DBus", "NameOwnerChanged")
	go svc.watchNameOwnerChanged()

	svc.startTimeoutMonitor(ctx)
	return svc, nil
}

func (svc *Service) exportServiceProps() error {
	propsSpec := prop.Map{
		ServiceIface: {
			"Collections": {
				Value:    svc.collectionPaths(),
				Writable: false,
				Emit:     prop.EmitTrue,
			},
		},
	}
	p, err := prop.Export(svc.conn, dbus.ObjectPath(ServicePath), propsSpec)
	if err != nil {
		return err
	}
	svc.svcProps = p
	return nil
}

func (svc *Service) collectionPaths() []dbus.ObjectPath {
	names := svc.store.ListCollections()
	paths := make([]dbus.ObjectPath, len(names))
	for i, n := range names {
		paths[i] = CollectionPath(n)
	}
	return paths
}

func (svc *Service) loadCollection(name string) error {
	col := &Collection{name: name, svc: svc}
	if err := svc.exportCollection(col); err != nil {
		return err
	}
	svc.putCollection(name, col)

	c, ok := svc.store.GetCollection(name)
	if !ok {
		return nil
	}
	for _, it := range c.OrderedItems() {
		item := &Item{collectionName: name, uuid: it.UUID, svc: svc}
		if err := svc.exportItem(item); err != nil {
			log.Printf("warning: could not export item %s/%s: %v", name, it.UUID, err)
		}
	}
	return nil
}

func (svc *Service) updateCollectionsProp() {
	if svc.svcProps == nil {
		return
	}
	svc.svcProps.SetMust(ServiceIface, "Collections", svc.collectionPaths())
}

// watchNameOwnerChanged reaps sessions whose owning bus name has gone away.
// A NameOwnerChanged signal with an empty new-owner means the name was
// released, whether by a clean bus.Close() or an ungraceful disconnect;
// either way any session that name opened is now unreachable and its
// Session.Close was never called, so it is torn down here instead.
func (svc *Service) watchNameOwnerChanged() {
	ch := make(chan *dbus.Signal, 16)
	svc.conn.Signal(ch)
	for sig := range ch {
		if sig.Name != "org.freedesktop.DBus.NameOwnerChanged" {
			continue
		}
		if len(sig.Body) != 3 {
			continue
		}
		name, _ := sig.Body[0].(string)
		newOwner, _ := sig.Body[2].(string)
		if newOwner != "" {
			continue
		}
		for _, sess := range svc.sessions.RemoveBySender(name) {
			sess.Close()
			_ = svc.conn.Export(nil, sess.Path, SessionIface)
		}
	}
}

// getCollection looks up a registered Collection object by name.
func (svc *Service) getCollection(name string) (*Collection, bool) {
	svc.collectionsMu.Lock()
	defer svc.collectionsMu.Unlock()
	col, ok := svc.collections[name]
	return col, ok
}

// putCollection registers col under name.
func (svc *Service) putCollection(name string, col *Collection) {
	svc.collectionsMu.Lock()
	defer svc.collectionsMu.Unlock()
	svc.collections[name] = col
}

// dropCollection unregisters name.
func (svc *Service) dropCollection(name string) {
	svc.collectionsMu.Lock()
	defer svc.collectionsMu.Unlock()
	delete(svc.collections, name)
}

func (svc *Service) recordActivity() {
	svc.lastActivityTimestamp.Store(time.Now().Unix())
}

func (svc *Service) startTimeoutMonitor(ctx context.Context) {
	if svc.timeoutDuration <= 0 {
		return
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			lastActivity := svc.lastActivityTimestamp.Load()
			deadline := lastActivity + svc.timeoutDuration
			now := time.Now().Unix()
			if now >= deadline {
				log.Printf("idle timeout (%d seconds) exceeded, initiating shutdown", svc.timeoutDuration)
				svc.shutdownFn()
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(deadline-now) * time.Second):
			}
		}
	}()
}

// OpenSession implements Service.OpenSession(algorithm, input). The calling
// executable is authorized through the client identity gate (C6) before a
// session is negotiated — the first contact point for every client process.
func (svc *Service) OpenSession(algorithm string, input dbus.Variant, sender dbus.Sender) (dbus.Variant, dbus.ObjectPath, *dbus.Error) {
	svc.recordActivity()

	if err := svc.gate.Authorize(context.Background(), string(sender)); err != nil {
		return dbus.MakeVariant(""), NoPrompt, toDBusError(err)
	}

	var in []byte
	if algorithm == cryptoengine.AlgorithmDH {
		b, ok := input.Value().([]byte)
		if !ok {
			return dbus.MakeVariant(""), NoPrompt,
				&dbus.Error{Name: "org.freedesktop.DBus.Error.InvalidArgs", Body: []interface{}{"expected client public key as byte array"}}
		}
		in = b
	}

	path := SessionPath(uuid.New().String())
	sess, output, err := session.Open(path, string(sender), algorithm, in)
	if err != nil {
		return dbus.MakeVariant(""), NoPrompt, toDBusError(err)
	}

	wrapped := &sessionObject{sess: sess, svc: svc}
	if err := svc.conn.Export(wrapped, path, SessionIface); err != nil {
		return dbus.MakeVariant(""), NoPrompt,
			&dbus.Error{Name: "org.freedesktop.DBus.Error.Failed", Body: []interface{}{"export session"}}
	}
	svc.sessions.Add(sess)

	if output == nil {
		return dbus.MakeVariant(""), path, nil
	}
	return dbus.MakeVariant(output), path, nil
}

// CreateCollection implements Service.CreateCollection(properties, alias).
// A brand-new collection is always passphrase-protected, so this mints a
// KindPassphrase prompt rather than creating the collection synchronously;
// the caller must invoke Prompt.Prompt on the returned path.
func (svc *Service) CreateCollection(properties map[string]dbus.Variant, alias string, sender dbus.Sender) (dbus.ObjectPath, dbus.ObjectPath, *dbus.Error) {
	svc.recordActivity()

	if err := svc.gate.Authorize(context.Background(), string(sender)); err != nil {
		return NoPrompt, NoPrompt, toDBusError(err)
	}

	if alias != "" {
		if existing := svc.store.GetAlias(alias); existing != "" {
			return CollectionPath(existing), NoPrompt, nil
		}
	}

	label := "Secrets"
	if v, ok := properties[CollectionIface+".Label"]; ok {
		if s, ok := v.Value().(string); ok && s != "" {
			label = s
		}
	}

	name := collectionSlug(label)
	base := name
	for i := 2; ; i++ {
		if _, exists := svc.store.GetCollection(name); !exists {
			break
		}
		name = fmt.Sprintf("%s%d", base, i)
	}

	p := svc.prompts.New(prompt.KindPassphrase,
		fmt.Sprintf("Choose a passphrase to protect the new collection %q", label),
		svc.dialog,
		func(res prompt.Result) (dbus.Variant, error) {
			if _, err := svc.store.CreateCollection(name, label, res.Passphrase); err != nil {
				return dbus.Variant{}, err
			}
			if alias != "" {
				_ = svc.store.SetAlias(alias, name)
			}
			col := &Collection{name: name, svc: svc}
			if err := svc.exportCollection(col); err != nil {
				return dbus.Variant{}, err
			}
			svc.putCollection(name, col)
			if alias != "" {
				svc.exportCollectionAtAlias(alias, name)
			}
			colPath := CollectionPath(name)
			_ = svc.conn.Emit(dbus.ObjectPath(ServicePath), ServiceIface+".CollectionCreated", colPath)
			svc.updateCollectionsProp()
			return dbus.MakeVariant(colPath), nil
		},
		nil,
	)
	return NoPrompt, p.Path, nil
}

// SearchItems implements Service.SearchItems(attributes): returns matching
// items from unlocked collections, plus the names (surfaced as collection
// object paths) of locked collections that could contain matches.
func (svc *Service) SearchItems(attributes map[string]string, sender dbus.Sender) ([]dbus.ObjectPath, []dbus.ObjectPath, *dbus.Error) {
	svc.recordActivity()

	if err := svc.gate.Authorize(context.Background(), string(sender)); err != nil {
		return nil, nil, toDBusError(err)
	}

	unlockedRefs, lockedNames := svc.store.SearchItems(attributes)
	unlocked := make([]dbus.ObjectPath, len(unlockedRefs))
	for i, ref := range unlockedRefs {
		unlocked[i] = ItemPath(ref.Collection, ref.UUID)
	}
	locked := make([]dbus.ObjectPath, len(lockedNames))
	for i, name := range lockedNames {
		locked[i] = CollectionPath(name)
	}
	return unlocked, locked, nil
}

// Unlock implements Service.Unlock(objects): already-unlocked collections
// are returned immediately; any that need a passphrase are bundled into one
// composite prompt so the user is asked once even when several collections
// named in objects are locked.
func (svc *Service) Unlock(objects []dbus.ObjectPath, sender dbus.Sender) ([]dbus.ObjectPath, dbus.ObjectPath, *dbus.Error) {
	svc.recordActivity()

	if err := svc.gate.Authorize(context.Background(), string(sender)); err != nil {
		return nil, NoPrompt, toDBusError(err)
	}

	var unlocked []dbus.ObjectPath
	var pending []string
	seen := make(map[string]bool)
	for _, obj := range objects {
		name := CollectionNameFromPath(obj)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		needsPrompt, err := svc.store.BeginUnlock(name)
		if err != nil {
			continue
		}
		if !needsPrompt {
			unlocked = append(unlocked, CollectionPath(name))
			continue
		}
		pending = append(pending, name)
	}
	if len(pending) == 0 {
		return unlocked, NoPrompt, nil
	}

	p := svc.prompts.New(prompt.KindPassphrase, unlockPromptText(pending), svc.dialog,
		func(res prompt.Result) (dbus.Variant, error) {
			var paths []dbus.ObjectPath
			for _, name := range pending {
				c, ok := svc.store.GetCollection(name)
				if !ok {
					continue
				}
				key, err := cryptoengine.DerivePassphraseKey(res.Passphrase, c.Salt, c.Iterations)
				if err != nil {
					log.Printf("unlock %q: %v", name, err)
					continue
				}
				warnings, err := svc.store.FinishUnlock(name, key)
				if err != nil {
					log.Printf("unlock %q: %v", name, err)
					continue
				}
				for _, w := range warnings {
					log.Printf("collection %q: item %q had no matching sealed entry and remains unavailable", name, w)
				}
				svc.setCollectionLocked(name, false)
				paths = append(paths, CollectionPath(name))
			}
			return dbus.MakeVariant(paths), nil
		},
		func() error {
			for _, name := range pending {
				_ = svc.store.AbortUnlock(name)
			}
			return nil
		},
	)
	return unlocked, p.Path, nil
}

func unlockPromptText(names []string) string {
	if len(names) == 1 {
		return fmt.Sprintf("Enter the passphrase for collection %q", names[0])
	}
	return fmt.Sprintf("Enter the passphrase for %d collections", len(names))
}

// Lock implements Service.Lock(objects): locking never needs a prompt.
func (svc *Service) Lock(objects []dbus.ObjectPath, sender dbus.Sender) ([]dbus.ObjectPath, dbus.ObjectPath, *dbus.Error) {
	svc.recordActivity()

	if err := svc.gate.Authorize(context.Background(), string(sender)); err != nil {
		return nil, NoPrompt, toDBusError(err)
	}

	seen := make(map[string]bool)
	var locked []dbus.ObjectPath
	for _, obj := range objects {
		name := CollectionNameFromPath(obj)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if err := svc.store.Lock(name); err != nil {
			continue
		}
		svc.setCollectionLocked(name, true)
		locked = append(locked, CollectionPath(name))
	}
	return locked, NoPrompt, nil
}

// GetSecrets implements Service.GetSecrets(items, session).
func (svc *Service) GetSecrets(items []dbus.ObjectPath, sessionPath dbus.ObjectPath, sender dbus.Sender) (map[dbus.ObjectPath]dbus.Variant, *dbus.Error) {
	svc.recordActivity()

	if err := svc.gate.Authorize(context.Background(), string(sender)); err != nil {
		return nil, toDBusError(err)
	}

	sess, ok := svc.sessions.Get(sessionPath)
	if !ok {
		return nil, noSessionErr(sessionPath)
	}

	result := make(map[dbus.ObjectPath]dbus.Variant, len(items))
	for _, itemPath := range items {
		colName, itemUUID := ItemUUIDFromPath(itemPath)
		if colName == "" {
			continue
		}
		item, err := svc.store.GetItem(colName, itemUUID)
		if err != nil {
			continue
		}
		if item.Secret == nil {
			return nil, &dbus.Error{Name: "org.freedesktop.Secret.Error.IsLocked", Body: []interface{}{"collection is locked"}}
		}
		ct := item.ContentType
		if ct == "" {
			ct = "text/plain; charset=utf8"
		}
		params, value, err := sess.Encrypt(item.Secret)
		if err != nil {
			log.Printf("warning: could not encrypt secret for %s: %v", itemPath, err)
			continue
		}
		result[itemPath] = dbus.MakeVariant(Secret{
			Session:     sessionPath,
			Parameters:  params,
			Value:       value,
			ContentType: ct,
		})
	}
	return result, nil
}

// ReadAlias implements Service.ReadAlias(name).
func (svc *Service) ReadAlias(name string, sender dbus.Sender) (dbus.ObjectPath, *dbus.Error) {
	svc.recordActivity()
	if err := svc.gate.Authorize(context.Background(), string(sender)); err != nil {
		return NoPrompt, toDBusError(err)
	}
	colName := svc.store.GetAlias(name)
	if colName == "" {
		return NoPrompt, nil
	}
	return CollectionPath(colName), nil
}

// SetAlias implements Service.SetAlias(name, collection). Passing "/" or ""
// as collection removes the alias.
func (svc *Service) SetAlias(name string, collection dbus.ObjectPath, sender dbus.Sender) *dbus.Error {
	svc.recordActivity()

	if err := svc.gate.Authorize(context.Background(), string(sender)); err != nil {
		return toDBusError(err)
	}

	colStr := string(collection)
	if colStr == "/" || colStr == "" {
		if err := svc.store.SetAlias(name, ""); err != nil {
			return toDBusError(err)
		}
		aliasPath := AliasPath(name)
		_ = svc.conn.Export(nil, aliasPath, CollectionIface)
		_ = svc.conn.Export(nil, aliasPath, "org.freedesktop.DBus.Properties")
		return nil
	}
	colName := CollectionNameFromPath(collection)
	if colName == "" {
		return &dbus.Error{Name: "org.freedesktop.DBus.Error.InvalidArgs", Body: []interface{}{"invalid collection path"}}
	}
	if err := svc.store.SetAlias(name, colName); err != nil {
		return toDBusError(err)
	}
	svc.exportCollectionAtAlias(name, colName)
	return nil
}

func (svc *Service) exportCollectionAtAlias(alias, colName string) {
	col, ok := svc.getCollection(colName)
	if !ok {
		return
	}
	aliasPath := AliasPath(alias)
	if err := svc.conn.Export(col, aliasPath, CollectionIface); err != nil {
		log.Printf("warning: could not export collection at alias path %s: %v", aliasPath, err)
	}
	if err := svc.conn.Export(col, aliasPath, "org.freedesktop.DBus.Properties"); err != nil {
		log.Printf("warning: could not export properties at alias path %s: %v", aliasPath, err)
	}
}

// collectionSlug converts a human-readable label into a valid D-Bus path
// component, e.g. "My Secrets" -> "mysecrets".
func collectionSlug(label string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(label) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "collection"
	}
	return b.String()
}
