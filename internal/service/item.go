// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
)

// Item implements org.freedesktop.Secret.Item, registered at
// /org/freedesktop/secrets/collection/{name}/{uuid}.
type Item struct {
	collectionName string
	uuid           string
	svc            *Service
	props          *prop.Properties
}

// Delete implements Item.Delete(). Deleting an item never needs a prompt.
func (i *Item) Delete(sender dbus.Sender) (dbus.ObjectPath, *dbus.Error) {
	i.svc.recordActivity()
	if err := i.svc.gate.Authorize(context.Background(), string(sender)); err != nil {
		return NoPrompt, toDBusError(err)
	}
	path := ItemPath(i.collectionName, i.uuid)

	if err := i.svc.store.DeleteItem(i.collectionName, i.uuid); err != nil {
		return NoPrompt, toDBusError(err)
	}

	_ = i.svc.conn.Export(nil, path, ItemIface)
	_ = i.svc.conn.Export(nil, path, "org.freedesktop.DBus.Properties")

	i.svc.updateCollectionItemsProp(i.collectionName)
	_ = i.svc.conn.Emit(CollectionPath(i.collectionName), CollectionIface+".ItemDeleted", path)

	return NoPrompt, nil
}

// GetSecret implements Item.GetSecret(session). The owning collection must
// be unlocked; a locked item has no cached plaintext to encrypt.
func (i *Item) GetSecret(sessionPath dbus.ObjectPath, sender dbus.Sender) (Secret, *dbus.Error) {
	i.svc.recordActivity()
	if err := i.svc.gate.Authorize(context.Background(), string(sender)); err != nil {
		return Secret{}, toDBusError(err)
	}

	sess, ok := i.svc.sessions.Get(sessionPath)
	if !ok {
		return Secret{}, noSessionErr(sessionPath)
	}

	item, err := i.svc.store.GetItem(i.collectionName, i.uuid)
	if err != nil {
		return Secret{}, toDBusError(err)
	}
	if item.Secret == nil {
		return Secret{}, &dbus.Error{Name: "org.freedesktop.Secret.Error.IsLocked", Body: []interface{}{"collection is locked"}}
	}

	ct := item.ContentType
	if ct == "" {
		ct = "text/plain; charset=utf8"
	}
	params, value, err := sess.Encrypt(item.Secret)
	if err != nil {
		return Secret{}, toDBusError(err)
	}
	return Secret{Session: sessionPath, Parameters: params, Value: value, ContentType: ct}, nil
}

// SetSecret implements Item.SetSecret(secret). The session named in secret
// must belong to the bus name actually invoking this method, not merely the
// one that opened it — sender is the genuine D-Bus caller, filled in
// automatically by the bus library, so a client cannot replay another
// client's session object path to overwrite its secrets.
func (i *Item) SetSecret(secret Secret, sender dbus.Sender) *dbus.Error {
	i.svc.recordActivity()
	if err := i.svc.gate.Authorize(context.Background(), string(sender)); err != nil {
		return toDBusError(err)
	}

	sess, ok := i.svc.sessions.Get(secret.Session)
	if !ok {
		return noSessionErr(secret.Session)
	}
	plaintext, err := sess.Decrypt(string(sender), secret.Parameters, secret.Value)
	if err != nil {
		return toDBusError(err)
	}

	contentType := secret.ContentType
	if contentType == "" {
		contentType = "text/plain; charset=utf8"
	}
	item, err := i.svc.store.GetItem(i.collectionName, i.uuid)
	if err != nil {
		return toDBusError(err)
	}
	if _, err := i.svc.store.CreateItem(i.collectionName, i.uuid, item.Label, item.Attributes, plaintext, contentType, true); err != nil {
		return toDBusError(err)
	}

	i.svc.updateItemProps(i)
	_ = i.svc.conn.Emit(CollectionPath(i.collectionName), CollectionIface+".ItemChanged", ItemPath(i.collectionName, i.uuid))
	return nil
}

// exportItem exports the Item interface and its properties.
func (svc *Service) exportItem(item *Item) error {
	path := ItemPath(item.collectionName, item.uuid)
	if err := svc.conn.Export(item, path, ItemIface); err != nil {
		return fmt.Errorf("export item methods at %s: %w", path, err)
	}

	it, err := svc.store.GetItem(item.collectionName, item.uuid)
	if err != nil {
		return fmt.Errorf("load item for props at %s: %w", path, err)
	}
	propsSpec := prop.Map{
		ItemIface: {
			"Locked": {
				Value:    it.Secret == nil,
				Writable: false,
				Emit:     prop.EmitTrue,
			},
			"Attributes": {
				Value:    it.Attributes,
				Writable: true,
				Emit:     prop.EmitTrue,
				Callback: func(change *prop.Change) *dbus.Error {
					if attrs, ok := change.Value.(map[string]string); ok {
						_ = svc.store.SetItemAttributes(item.collectionName, item.uuid, attrs)
					}
					return nil
				},
			},
			"Label": {
				Value:    it.Label,
				Writable: true,
				Emit:     prop.EmitTrue,
				Callback: func(change *prop.Change) *dbus.Error {
					if label, ok := change.Value.(string); ok {
						_ = svc.store.SetItemLabel(item.collectionName, item.uuid, label)
					}
					return nil
				},
			},
			"Created": {
				Value:    it.Created,
				Writable: false,
				Emit:     prop.EmitFalse,
			},
			"Modified": {
				Value:    it.Modified,
				Writable: false,
				Emit:     prop.EmitFalse,
			},
		},
	}
	props, perr := prop.Export(svc.conn, path, propsSpec)
	if perr != nil {
		return fmt.Errorf("export item properties at %s: %w", path, perr)
	}
	item.props = props
	return nil
}

// updateItemProps refreshes an item's Locked/Modified properties after
// SetSecret rewrites its contents.
func (svc *Service) updateItemProps(item *Item) {
	if item.props == nil {
		return
	}
	it, err := svc.store.GetItem(item.collectionName, item.uuid)
	if err != nil {
		return
	}
	item.props.SetMust(ItemIface, "Locked", it.Secret == nil)
	item.props.SetMust(ItemIface, "Modified", it.Modified)
}
