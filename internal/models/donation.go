package models

import (
	"bytes"
	"encoding/json"
	"sort"
)

// DonationSnapshot is a denormalized copy of a donation item taken when a card
// is created. The messenger stores and shows it but never edits it, so fields
// it does not know about are carried through untouched.
type DonationSnapshot struct {
	ID             ID     `json:"id"`
	Name           string `json:"name,omitempty"`
	Quantity       int    `json:"quantity,omitempty"`
	Image          string `json:"image,omitempty"`
	ExpirationDate string `json:"expiration_date,omitempty"`
	BakeryName     string `json:"bakery_name,omitempty"`
	BakeryID       ID     `json:"bakery_id,omitempty"`

	extra map[string]json.RawMessage
}

// snapshotFields keeps json tags in one place for the extra-field bookkeeping.
type snapshotFields struct {
	ID             ID     `json:"id"`
	Name           string `json:"name,omitempty"`
	Quantity       int    `json:"quantity,omitempty"`
	Image          string `json:"image,omitempty"`
	ExpirationDate string `json:"expiration_date,omitempty"`
	BakeryName     string `json:"bakery_name,omitempty"`
	BakeryID       ID     `json:"bakery_id,omitempty"`
}

var knownSnapshotKeys = map[string]struct{}{
	"id": {}, "name": {}, "quantity": {}, "image": {},
	"expiration_date": {}, "bakery_name": {}, "bakery_id": {},
}

// Extra returns a field the messenger does not model, if present.
func (d DonationSnapshot) Extra(key string) (json.RawMessage, bool) {
	v, ok := d.extra[key]
	return v, ok
}

func (d *DonationSnapshot) UnmarshalJSON(data []byte) error {
	var f snapshotFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	*d = DonationSnapshot{
		ID:             f.ID,
		Name:           f.Name,
		Quantity:       f.Quantity,
		Image:          f.Image,
		ExpirationDate: f.ExpirationDate,
		BakeryName:     f.BakeryName,
		BakeryID:       f.BakeryID,
	}
	for k, v := range all {
		if _, known := knownSnapshotKeys[k]; known {
			continue
		}
		if d.extra == nil {
			d.extra = make(map[string]json.RawMessage)
		}
		d.extra[k] = v
	}
	return nil
}

func (d DonationSnapshot) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(snapshotFields{
		ID:             d.ID,
		Name:           d.Name,
		Quantity:       d.Quantity,
		Image:          d.Image,
		ExpirationDate: d.ExpirationDate,
		BakeryName:     d.BakeryName,
		BakeryID:       d.BakeryID,
	})
	if err != nil || len(d.extra) == 0 {
		return base, err
	}

	keys := make([]string, 0, len(d.extra))
	for k := range d.extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(base[:len(base)-1])
	for _, k := range keys {
		name, _ := json.Marshal(k)
		buf.WriteByte(',')
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(d.extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
