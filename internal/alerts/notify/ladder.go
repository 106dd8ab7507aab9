package notify

import (
	alerts "coldchain-cloud/internal/alerts/domain"
	assets "coldchain-cloud/internal/assets/domain"
)

var ladder = map[alerts.Layer][]ChannelKind{
	alerts.Layer1: {ChannelEmail, ChannelPush},
	alerts.Layer2: {ChannelEmail, ChannelPush, ChannelSMS},
	alerts.Layer3: {ChannelEmail, ChannelPush, ChannelSMS, ChannelVoice},
}

// ChannelsFor returns the ordered channels of a layer.
func ChannelsFor(layer alerts.Layer) []ChannelKind {
	return append([]ChannelKind(nil), ladder[layer]...)
}

// ContactsFor returns who is notified at layer: the primary contact at layer 1,
// plus the first backup at layer 2, plus every backup at layer 3.
func ContactsFor(cfg assets.EscalationConfig, layer alerts.Layer) []assets.Contact {
	var contacts []assets.Contact
	add := func(c assets.Contact) {
		if c.Email == "" && c.Phone == "" {
			return
		}
		contacts = append(contacts, c)
	}
	add(cfg.PrimaryContact)
	switch {
	case layer >= alerts.Layer3:
		for _, c := range cfg.BackupContacts {
			add(c)
		}
	case layer == alerts.Layer2 && len(cfg.BackupContacts) > 0:
		add(cfg.BackupContacts[0])
	}
	return contacts
}
