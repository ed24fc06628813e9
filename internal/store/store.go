// SPDX-License-Identifier: Apache-2.0

// Package store implements the item/collection model (C3): collections and
// their items, the locked state machine, duplicate-item detection, and
// attribute search. Persistence of metadata and sealed secrets is delegated
// to a backend.Backend; this package owns only the in-memory model and the
// rules around it.
package store

import (
	"crypto/rand"
	"sort"
	"sync"
	"time"

	"github.com/tks-project/secretsd/internal/backend"
	"github.com/tks-project/secretsd/internal/cryptoengine"
	"github.com/tks-project/secretsd/internal/tkserr"
)

// DefaultAlias is the alias every daemon guarantees resolves to a
// collection. New points it at "login", creating that collection on startup
// when no collection of that name exists.
const DefaultAlias = "default"

// DefaultCollectionName is the collection created to satisfy DefaultAlias
// when the store is empty.
const DefaultCollectionName = "login"

// LockState is a collection's position in the Locked/Unlocking/Unlocked/
// Locking state machine.
type LockState int

const (
	StateLocked LockState = iota
	StateUnlocking
	StateUnlocked
	StateLocking
)

func (s LockState) String() string {
	switch s {
	case StateUnlocking:
		return "Unlocking"
	case StateUnlocked:
		return "Unlocked"
	case StateLocking:
		return "Locking"
	default:
		return "Locked"
	}
}

// Item is an in-memory item. Secret is nil whenever the owning collection is
// not StateUnlocked.
type Item struct {
	UUID        string
	Label       string
	Attributes  map[string]string
	Created     uint64
	Modified    uint64
	ContentType string
	Secret      []byte
}

// Collection is an in-memory collection: its metadata, its items, and its
// position in the lock state machine. Zero value is not usable; construct
// through Store methods.
type Collection struct {
	Name       string
	Label      string
	Created    uint64
	Modified   uint64
	Salt       []byte
	Iterations int
	State      LockState
	Items      map[string]*Item

	// order holds every key of Items in insertion order. spec.md §3 models
	// a collection's items as an ordered list, and §4.3 uses insertion
	// order as the search tie-break; Go map iteration order is randomized,
	// so the map alone cannot carry that invariant.
	order []string

	// masterKey is the AES-256 key derived from this collection's
	// passphrase, cached in memory only while State == StateUnlocked so
	// that every item write does not re-run PBKDF2. Wiped by Lock.
	masterKey []byte
}

// OrderedItems returns every item in the collection in insertion order.
func (c *Collection) OrderedItems() []*Item {
	items := make([]*Item, 0, len(c.order))
	for _, uuid := range c.order {
		if it, ok := c.Items[uuid]; ok {
			items = append(items, it)
		}
	}
	return items
}

// insertItem adds it to both the item map and the order list. Replacing an
// existing UUID in place (CreateItem's replace=true path) must not call
// this — it mutates the existing *Item directly so the item keeps its
// original position.
func (c *Collection) insertItem(it *Item) {
	c.Items[it.UUID] = it
	c.order = append(c.order, it.UUID)
}

// removeItem deletes uuid from the item map and the order list, returning
// the removed item and its former order index (-1 if it was not present)
// so a failed persist can restore it at the same position.
func (c *Collection) removeItem(uuid string) (*Item, int) {
	item, ok := c.Items[uuid]
	if !ok {
		return nil, -1
	}
	delete(c.Items, uuid)
	for i, id := range c.order {
		if id == uuid {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return item, i
		}
	}
	return item, -1
}

// restoreItem reinserts item at index (clamped to the current length),
// undoing a prior removeItem when a subsequent persist fails.
func (c *Collection) restoreItem(item *Item, index int) {
	c.Items[item.UUID] = item
	if index < 0 || index > len(c.order) {
		index = len(c.order)
	}
	c.order = append(c.order, "")
	copy(c.order[index+1:], c.order[index:])
	c.order[index] = item.UUID
}

func (c *Collection) toMetadata() backend.CollectionMetadata {
	items := make(map[string]backend.ItemMetadata, len(c.Items))
	for uuid, it := range c.Items {
		items[uuid] = backend.ItemMetadata{
			Label:       it.Label,
			Attributes:  it.Attributes,
			Created:     it.Created,
			Modified:    it.Modified,
			ContentType: it.ContentType,
		}
	}
	return backend.CollectionMetadata{
		Name:       c.Name,
		Label:      c.Label,
		Created:    c.Created,
		Modified:   c.Modified,
		Salt:       c.Salt,
		Iterations: c.Iterations,
		Items:      items,
	}
}

// ItemRef identifies an item by collection name and UUID, used as a search
// result so callers can resolve the D-Bus object path without holding a
// reference into the store's internals.
type ItemRef struct {
	Collection string
	UUID       string
}

// Store is the process-wide collection/item registry. A single mutex
// serializes every mutation, matching the daemon's single-writer
// concurrency model: prompts never hold this lock across a suspension
// waiting on user input, only inside their on-confirm/on-deny actions.
type Store struct {
	mu          sync.Mutex
	backend     backend.Backend
	collections map[string]*Collection
	aliases     map[string]string
}

// New loads every collection's metadata from backend (all collections start
// StateLocked, since item secrets are never persisted in cleartext) and
// ensures the "default" alias resolves to a collection, creating
// DefaultCollectionName with a fresh random salt if nothing claims it yet.
func New(be backend.Backend) (*Store, error) {
	s := &Store{
		backend:     be,
		collections: make(map[string]*Collection),
		aliases:     make(map[string]string),
	}

	names, err := be.ListCollections()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		meta, err := be.LoadMetadata(name)
		if err != nil {
			return nil, err
		}
		s.collections[name] = fromMetadata(meta)
	}
	if _, ok := s.collections[DefaultCollectionName]; !ok {
		// The default collection starts StateLocked like every other
		// collection. It has no items file yet, so the first unlock accepts
		// whatever passphrase the user enters and seals later writes under it.
		if err := s.createCollectionLocked(DefaultCollectionName, "Login"); err != nil {
			return nil, err
		}
	}
	s.aliases[DefaultAlias] = DefaultCollectionName

	return s, nil
}

func fromMetadata(meta backend.CollectionMetadata) *Collection {
	items := make(map[string]*Item, len(meta.Items))
	order := make([]string, 0, len(meta.Items))
	for uuid, im := range meta.Items {
		items[uuid] = &Item{
			UUID:        uuid,
			Label:       im.Label,
			Attributes:  im.Attributes,
			Created:     im.Created,
			Modified:    im.Modified,
			ContentType: im.ContentType,
			Secret:      nil,
		}
		order = append(order, uuid)
	}
	// The persisted metadata format does not itself carry insertion order
	// (backend.CollectionMetadata.Items is a map), so the best order a
	// reload can reconstruct is by creation time, tie-broken by UUID for a
	// deterministic result.
	sort.Slice(order, func(i, j int) bool {
		a, b := items[order[i]], items[order[j]]
		if a.Created != b.Created {
			return a.Created < b.Created
		}
		return a.UUID < b.UUID
	})
	return &Collection{
		Name:       meta.Name,
		Label:      meta.Label,
		Created:    meta.Created,
		Modified:   meta.Modified,
		Salt:       meta.Salt,
		Iterations: meta.Iterations,
		State:      StateLocked,
		Items:      items,
		order:      order,
	}
}

func now() uint64 { return uint64(time.Now().Unix()) }

// --- Collections ---

// GetCollection returns the named collection.
func (s *Store) GetCollection(name string) (*Collection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	return c, ok
}

// ListCollections returns every collection name.
func (s *Store) ListCollections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	return names
}

// CreateCollection creates a new, initially unlocked, empty collection with
// a freshly generated PBKDF2 salt, deriving its master key from passphrase
// using that salt so a later unlock (which re-derives the key the same way
// from the persisted salt) recovers the identical key.
func (s *Store) CreateCollection(name, label string, passphrase []byte) (*Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.createCollectionLocked(name, label); err != nil {
		return nil, err
	}
	c := s.collections[name]
	key, err := cryptoengine.DerivePassphraseKey(passphrase, c.Salt, c.Iterations)
	if err != nil {
		delete(s.collections, name)
		return nil, err
	}
	c.State = StateUnlocked
	c.masterKey = key
	return c, nil
}

func (s *Store) createCollectionLocked(name, label string) error {
	if _, ok := s.collections[name]; ok {
		return tkserr.Duplicate(name)
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return tkserr.Crypto("generate collection salt", err)
	}
	ts := now()
	c := &Collection{
		Name:       name,
		Label:      label,
		Created:    ts,
		Modified:   ts,
		Salt:       salt,
		Iterations: cryptoengine.MinPBKDF2Iterations,
		State:      StateLocked,
		Items:      make(map[string]*Item),
	}
	s.collections[name] = c
	if err := s.backend.SaveMetadata(c.toMetadata()); err != nil {
		delete(s.collections, name)
		return err
	}
	return nil
}

// SetCollectionLabel updates a collection's display label.
func (s *Store) SetCollectionLabel(name, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return tkserr.NotFound(name)
	}
	c.Label = label
	c.Modified = now()
	return s.persist(c)
}

// DeleteCollection removes a collection, its items, and any aliases
// pointing to it. The collection DefaultAlias resolves to cannot be deleted.
func (s *Store) DeleteCollection(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		return tkserr.NotFound(name)
	}
	if s.aliases[DefaultAlias] == name {
		return tkserr.Parameter("the collection holding the default alias cannot be deleted")
	}
	if err := s.backend.DeleteCollection(name); err != nil {
		return err
	}
	delete(s.collections, name)
	for alias, target := range s.aliases {
		if target == name {
			delete(s.aliases, alias)
		}
	}
	return nil
}

// --- Lock state machine ---

// BeginUnlock transitions a StateLocked collection to StateUnlocking. It is
// idempotent: a collection that is already StateUnlocked or StateUnlocking
// returns needsPrompt=false to tell the caller no prompt is needed.
func (s *Store) BeginUnlock(name string) (needsPrompt bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return false, tkserr.NotFound(name)
	}
	switch c.State {
	case StateUnlocked, StateUnlocking:
		return false, nil
	}
	c.State = StateUnlocking
	return true, nil
}

// FinishUnlock completes an unlock that BeginUnlock started, given the
// AES-256 key derived from the user's passphrase. Items with no matching
// entry in the sealed blob are left with a nil Secret (retained in a
// locked-in-practice state) rather than failing the whole unlock, mirroring
// the original implementation's partial-restore behavior; warnings names
// those item UUIDs for the caller to log.
func (s *Store) FinishUnlock(name string, key []byte) (warnings []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, tkserr.NotFound(name)
	}
	if c.State == StateUnlocked {
		return nil, nil
	}

	secrets, err := s.backend.LoadItems(c.toMetadata(), key)
	if err != nil {
		c.State = StateLocked
		return nil, err
	}
	for _, item := range c.OrderedItems() {
		sec, ok := secrets[item.UUID]
		if !ok {
			warnings = append(warnings, item.UUID)
			continue
		}
		item.Secret = sec.Data
		if sec.ContentType != "" {
			item.ContentType = sec.ContentType
		}
	}
	c.State = StateUnlocked
	c.masterKey = key
	return warnings, nil
}

// AbortUnlock reverts a collection from StateUnlocking back to StateLocked,
// used when the user dismisses the unlock prompt.
func (s *Store) AbortUnlock(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return tkserr.NotFound(name)
	}
	if c.State == StateUnlocking {
		c.State = StateLocked
	}
	return nil
}

// Lock transitions a collection to StateLocked, wiping every item's
// in-memory plaintext. Idempotent and unconditional, matching the original
// implementation's lock().
func (s *Store) Lock(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return tkserr.NotFound(name)
	}
	c.State = StateLocking
	for _, item := range c.OrderedItems() {
		for i := range item.Secret {
			item.Secret[i] = 0
		}
		item.Secret = nil
	}
	for i := range c.masterKey {
		c.masterKey[i] = 0
	}
	c.masterKey = nil
	c.State = StateLocked
	return nil
}

// --- Items ---

// GetItem returns an item within a collection.
func (s *Store) GetItem(collection, uuid string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil, tkserr.NotFound(collection)
	}
	item, ok := c.Items[uuid]
	if !ok {
		return nil, tkserr.NotFound(uuid)
	}
	return item, nil
}

// CreateItem inserts or replaces an item in collection, which must be
// StateUnlocked. A secret matching an existing item's attributes, content
// type, and plaintext is a duplicate: replace=false rejects it with
// Duplicate (naming the existing UUID); replace=true overwrites that item
// in place and returns its UUID instead of minting a new one.
func (s *Store) CreateItem(collectionName, uuid, label string, attrs map[string]string, secret []byte, contentType string, replace bool) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collectionName]
	if !ok {
		return nil, tkserr.NotFound(collectionName)
	}
	if c.State != StateUnlocked {
		return nil, tkserr.PermissionDenied("collection " + collectionName + " is locked")
	}

	if existing, ok := c.Items[uuid]; ok && replace {
		existing.Label = label
		existing.Attributes = attrs
		existing.Secret = secret
		existing.ContentType = contentType
		existing.Modified = now()
		c.Modified = existing.Modified
		if err := s.persist(c); err != nil {
			return nil, err
		}
		return existing, nil
	}

	if dup := findDuplicate(c, attrs, secret, contentType); dup != nil {
		if !replace {
			return nil, tkserr.Duplicate(dup.UUID)
		}
		dup.Label = label
		dup.Secret = secret
		dup.ContentType = contentType
		dup.Modified = now()
		c.Modified = dup.Modified
		if err := s.persist(c); err != nil {
			return nil, err
		}
		return dup, nil
	}

	ts := now()
	item := &Item{
		UUID:        uuid,
		Label:       label,
		Attributes:  attrs,
		Created:     ts,
		Modified:    ts,
		ContentType: contentType,
		Secret:      secret,
	}
	c.insertItem(item)
	c.Modified = ts
	if err := s.persist(c); err != nil {
		c.removeItem(uuid)
		return nil, err
	}
	return item, nil
}

// SetItemLabel updates an item's display label. The collection must be
// StateUnlocked, matching the same write-access rule as CreateItem.
func (s *Store) SetItemLabel(collectionName, uuid, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, item, err := s.lockedItem(collectionName, uuid)
	if err != nil {
		return err
	}
	item.Label = label
	item.Modified = now()
	c.Modified = item.Modified
	return s.persist(c)
}

// SetItemAttributes updates an item's lookup attributes.
func (s *Store) SetItemAttributes(collectionName, uuid string, attrs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, item, err := s.lockedItem(collectionName, uuid)
	if err != nil {
		return err
	}
	item.Attributes = attrs
	item.Modified = now()
	c.Modified = item.Modified
	return s.persist(c)
}

// lockedItem resolves an item for a write operation, requiring the owning
// collection to be StateUnlocked. Callers must hold s.mu.
func (s *Store) lockedItem(collectionName, uuid string) (*Collection, *Item, error) {
	c, ok := s.collections[collectionName]
	if !ok {
		return nil, nil, tkserr.NotFound(collectionName)
	}
	if c.State != StateUnlocked {
		return nil, nil, tkserr.PermissionDenied("collection " + collectionName + " is locked")
	}
	item, ok := c.Items[uuid]
	if !ok {
		return nil, nil, tkserr.NotFound(uuid)
	}
	return c, item, nil
}

func findDuplicate(c *Collection, attrs map[string]string, secret []byte, contentType string) *Item {
	for _, item := range c.OrderedItems() {
		if !attrsEqual(item.Attributes, attrs) {
			continue
		}
		if item.ContentType != contentType {
			continue
		}
		if string(item.Secret) != string(secret) {
			continue
		}
		return item
	}
	return nil
}

func attrsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// DeleteItem removes an item from a collection, which must be StateUnlocked.
func (s *Store) DeleteItem(collectionName, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collectionName]
	if !ok {
		return tkserr.NotFound(collectionName)
	}
	if c.State != StateUnlocked {
		return tkserr.PermissionDenied("collection " + collectionName + " is locked")
	}
	if _, ok := c.Items[uuid]; !ok {
		return tkserr.NotFound(uuid)
	}
	item, index := c.removeItem(uuid)
	c.Modified = now()
	if err := s.persist(c); err != nil {
		c.restoreItem(item, index)
		return err
	}
	return nil
}

// persist writes both the metadata file and, if the collection is
// currently unlocked, the sealed items file. Callers must hold s.mu.
func (s *Store) persist(c *Collection) error {
	if err := s.backend.SaveMetadata(c.toMetadata()); err != nil {
		return err
	}
	if c.State != StateUnlocked {
		return nil
	}
	secrets := make(map[string]backend.ItemSecret, len(c.Items))
	for _, item := range c.OrderedItems() {
		secrets[item.UUID] = backend.ItemSecret{Data: item.Secret, ContentType: item.ContentType}
	}
	return s.backend.SaveItems(c.toMetadata(), secrets, c.masterKey)
}

// SearchItems returns every item in every unlocked collection matching
// attrs (a superset match: every key/value pair in attrs must be present in
// the item's attributes), plus the distinct set of locked collections that
// contain at least one item (locked collections cannot be searched for
// individual matches, so they are surfaced wholesale per spec so the caller
// can offer to unlock them).
func (s *Store) SearchItems(attrs map[string]string) (unlocked []ItemRef, lockedCollections []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seenLocked := make(map[string]bool)
	for name, c := range s.collections {
		if c.State != StateUnlocked {
			if len(c.Items) > 0 && !seenLocked[name] {
				seenLocked[name] = true
				lockedCollections = append(lockedCollections, name)
			}
			continue
		}
		for _, item := range c.OrderedItems() {
			if matchesAll(item.Attributes, attrs) {
				unlocked = append(unlocked, ItemRef{Collection: name, UUID: item.UUID})
			}
		}
	}
	return unlocked, lockedCollections
}

// matchesAll reports whether itemAttrs contains every key/value pair in
// want (an empty want matches everything).
func matchesAll(itemAttrs, want map[string]string) bool {
	for k, v := range want {
		if itemAttrs[k] != v {
			return false
		}
	}
	return true
}

// --- Aliases ---

// GetAlias resolves an alias to a collection name, or "" if unset.
func (s *Store) GetAlias(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aliases[name]
}

// SetAlias maps alias to collection. Passing collection="" removes the
// alias. DefaultAlias must always resolve to some collection, so it cannot
// be removed this way (matching the "unique default alias" invariant).
func (s *Store) SetAlias(alias, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if collection == "" {
		if alias == DefaultAlias {
			return tkserr.Parameter("the default alias cannot be unset")
		}
		delete(s.aliases, alias)
		return nil
	}
	if _, ok := s.collections[collection]; !ok {
		return tkserr.NotFound(collection)
	}
	s.aliases[alias] = collection
	return nil
}
