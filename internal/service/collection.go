// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
	"github.com/google/uuid"

	"github.com/tks-project/secretsd/internal/store"
)

// Collection implements org.freedesktop.Secret.Collection, registered at
// /org/freedesktop/secrets/collection/{name}.
type Collection struct {
	name  string
	svc   *Service
	props *prop.Properties
}

// Delete implements Collection.Delete(). Deleting a collection never needs
// a prompt.
func (c *Collection) Delete(sender dbus.Sender) (dbus.ObjectPath, *dbus.Error) {
	c.svc.recordActivity()
	if err := c.svc.gate.Authorize(context.Background(), string(sender)); err != nil {
		return NoPrompt, toDBusError(err)
	}
	path := CollectionPath(c.name)

	if col, ok := c.svc.store.GetCollection(c.name); ok {
		for _, item := range col.OrderedItems() {
			itemPath := ItemPath(c.name, item.UUID)
			_ = c.svc.conn.Export(nil, itemPath, ItemIface)
			_ = c.svc.conn.Export(nil, itemPath, "org.freedesktop.DBus.Properties")
		}
	}

	if err := c.svc.store.DeleteCollection(c.name); err != nil {
		return NoPrompt, toDBusError(err)
	}

	_ = c.svc.conn.Export(nil, path, CollectionIface)
	_ = c.svc.conn.Export(nil, path, "org.freedesktop.DBus.Properties")
	c.svc.dropCollection(c.name)

	_ = c.svc.conn.Emit(dbus.ObjectPath(ServicePath), ServiceIface+".CollectionDeleted", path)
	c.svc.updateCollectionsProp()

	return NoPrompt, nil
}

// SearchItems implements Collection.SearchItems(attributes). Locked
// collections report no matches rather than erroring — the caller is
// expected to Unlock first, as for Service.SearchItems.
func (c *Collection) SearchItems(attributes map[string]string, sender dbus.Sender) ([]dbus.ObjectPath, *dbus.Error) {
	if err := c.svc.gate.Authorize(context.Background(), string(sender)); err != nil {
		return nil, toDBusError(err)
	}
	col, ok := c.svc.store.GetCollection(c.name)
	if !ok || col.State != store.StateUnlocked {
		return []dbus.ObjectPath{}, nil
	}
	var paths []dbus.ObjectPath
	for _, item := range col.OrderedItems() {
		if matchesAttrs(item.Attributes, attributes) {
			paths = append(paths, ItemPath(c.name, item.UUID))
		}
	}
	return paths, nil
}

func matchesAttrs(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

// CreateItem implements Collection.CreateItem(properties, secret, replace).
// The owning collection must already be unlocked; creating an item never
// needs a prompt of its own.
func (c *Collection) CreateItem(properties map[string]dbus.Variant, secret Secret, replace bool, sender dbus.Sender) (dbus.ObjectPath, dbus.ObjectPath, *dbus.Error) {
	c.svc.recordActivity()
	if err := c.svc.gate.Authorize(context.Background(), string(sender)); err != nil {
		return NoPrompt, NoPrompt, toDBusError(err)
	}

	sess, ok := c.svc.sessions.Get(secret.Session)
	if !ok {
		return NoPrompt, NoPrompt, noSessionErr(secret.Session)
	}
	plaintext, err := sess.Decrypt(string(sender), secret.Parameters, secret.Value)
	if err != nil {
		return NoPrompt, NoPrompt, toDBusError(err)
	}

	label, attrs := itemPropsFromVariants(properties)
	contentType := secret.ContentType
	if contentType == "" {
		contentType = "text/plain; charset=utf8"
	}

	itemUUID := uuid.New().String()
	item, err := c.svc.store.CreateItem(c.name, itemUUID, label, attrs, plaintext, contentType, replace)
	if err != nil {
		return NoPrompt, NoPrompt, toDBusError(err)
	}

	itemPath := ItemPath(c.name, item.UUID)
	obj := &Item{collectionName: c.name, uuid: item.UUID, svc: c.svc}
	if err := c.svc.exportItem(obj); err != nil {
		return NoPrompt, NoPrompt, toDBusError(err)
	}

	c.svc.updateCollectionItemsProp(c.name)
	_ = c.svc.conn.Emit(CollectionPath(c.name), CollectionIface+".ItemCreated", itemPath)

	return itemPath, NoPrompt, nil
}

func itemPropsFromVariants(properties map[string]dbus.Variant) (label string, attrs map[string]string) {
	attrs = make(map[string]string)
	if v, ok := properties[ItemIface+".Label"]; ok {
		if s, ok := v.Value().(string); ok {
			label = s
		}
	}
	if v, ok := properties[ItemIface+".Attributes"]; ok {
		if m, ok := v.Value().(map[string]string); ok {
			attrs = m
		}
	}
	return label, attrs
}

// exportCollection exports the Collection interface and its properties.
func (svc *Service) exportCollection(col *Collection) error {
	path := CollectionPath(col.name)
	if err := svc.conn.Export(col, path, CollectionIface); err != nil {
		return fmt.Errorf("export collection methods at %s: %w", path, err)
	}

	c, _ := svc.store.GetCollection(col.name)
	propsSpec := prop.Map{
		CollectionIface: {
			"Items": {
				Value:    itemPaths(c),
				Writable: false,
				Emit:     prop.EmitTrue,
			},
			"Label": {
				Value:    c.Label,
				Writable: true,
				Emit:     prop.EmitTrue,
				Callback: func(change *prop.Change) *dbus.Error {
					if label, ok := change.Value.(string); ok {
						_ = svc.store.SetCollectionLabel(col.name, label)
					}
					return nil
				},
			},
			"Locked": {
				Value:    c.State != store.StateUnlocked,
				Writable: false,
				Emit:     prop.EmitTrue,
			},
			"Created": {
				Value:    c.Created,
				Writable: false,
				Emit:     prop.EmitFalse,
			},
			"Modified": {
				Value:    c.Modified,
				Writable: false,
				Emit:     prop.EmitFalse,
			},
		},
	}
	props, err := prop.Export(svc.conn, path, propsSpec)
	if err != nil {
		return fmt.Errorf("export collection properties at %s: %w", path, err)
	}
	col.props = props
	return nil
}

func itemPaths(c *store.Collection) []dbus.ObjectPath {
	if c == nil {
		return nil
	}
	paths := make([]dbus.ObjectPath, 0, len(c.Items))
	for _, item := range c.OrderedItems() {
		paths = append(paths, ItemPath(c.Name, item.UUID))
	}
	return paths
}

func (svc *Service) updateCollectionItemsProp(name string) {
	col, ok := svc.getCollection(name)
	if !ok || col.props == nil {
		return
	}
	c, _ := svc.store.GetCollection(name)
	col.props.SetMust(CollectionIface, "Items", itemPaths(c))
}

// setCollectionLocked refreshes the Locked property after an Unlock/Lock
// call and emits a signal so watching clients notice without polling.
func (svc *Service) setCollectionLocked(name string, locked bool) {
	col, ok := svc.getCollection(name)
	if !ok || col.props == nil {
		return
	}
	col.props.SetMust(CollectionIface, "Locked", locked)
}
