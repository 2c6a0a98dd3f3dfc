// Package qrcode turns patients and records into the short strings carried
// by QR symbols, and back.
//
// A payload is compact JSON with single or double letter keys. It embeds the
// id of the live entity plus a small display snapshot; scanners always look
// the entity up again. Descriptions, prescriptions and attachments are never
// embedded.
package qrcode

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/qrmedi/qrmedi/internal/platform/apperr"
)

type Kind string

const (
	KindEmergency      Kind = "emergency"
	KindPatientSummary Kind = "patient-summary"
	KindRecordSummary  Kind = "record-summary"
)

// Valid reports whether k is a known payload kind.
func (k Kind) Valid() bool {
	switch k {
	case KindEmergency, KindPatientSummary, KindRecordSummary:
		return true
	}
	return false
}

const (
	// Version is written to every payload as "v".
	Version = 1
	// MaxPayloadBytes stays under the 1273 byte capacity of the largest
	// symbol at error-correction level H.
	MaxPayloadBytes = 1200

	sigBytes = 16
)

// PatientInfo is the patient snapshot embedded in emergency and
// patient-summary payloads.
type PatientInfo struct {
	ID                    uuid.UUID `json:"id"`
	Name                  string    `json:"name"`
	BloodGroup            string    `json:"blood_group,omitempty"`
	EmergencyContactName  string    `json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone string    `json:"emergency_contact_phone,omitempty"`
	Allergies             []string  `json:"allergies,omitempty"`
}

// RecordInfo is the snapshot embedded in record-summary payloads.
type RecordInfo struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	Date      string    `json:"date"`
}

// Payload is a decoded QR string. Exactly one of Patient and Record is set.
type Payload struct {
	Kind     Kind
	IssuedAt time.Time
	Patient  *PatientInfo
	Record   *RecordInfo
}

// EntityID is the id of the patient or record the payload points at.
func (p Payload) EntityID() uuid.UUID {
	if p.Record != nil {
		return p.Record.ID
	}
	if p.Patient != nil {
		return p.Patient.ID
	}
	return uuid.Nil
}

// Expired reports whether the payload is older than ttl. A zero ttl never
// expires; with a positive ttl an undated payload counts as expired.
func (p Payload) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	if p.IssuedAt.IsZero() {
		return true
	}
	return now.Sub(p.IssuedAt) > ttl
}

type wire struct {
	V   int      `json:"v"`
	K   Kind     `json:"k"`
	ID  string   `json:"id"`
	Iat int64    `json:"iat,omitempty"`
	N   string   `json:"n,omitempty"`
	BG  string   `json:"bg,omitempty"`
	EN  string   `json:"en,omitempty"`
	EP  string   `json:"ep,omitempty"`
	AL  []string `json:"al,omitempty"`
	P   string   `json:"p,omitempty"`
	T   string   `json:"t,omitempty"`
	RT  string   `json:"rt,omitempty"`
	D   string   `json:"d,omitempty"`
	S   string   `json:"s,omitempty"`
}

// Codec encodes and decodes payloads. With a key, every payload carries a
// truncated HMAC-SHA256 in "s" and Decode rejects anything unsigned or
// tampered with.
type Codec struct {
	key []byte
}

func NewCodec(key []byte) *Codec {
	return &Codec{key: key}
}

// EncodePatient builds an emergency or patient-summary payload.
func (c *Codec) EncodePatient(kind Kind, info PatientInfo, issuedAt time.Time) (string, error) {
	if kind != KindEmergency && kind != KindPatientSummary {
		return "", apperr.Field("kind", "must be emergency or patient-summary")
	}
	if info.ID == uuid.Nil {
		return "", apperr.Field("id", "is required")
	}
	w := wire{
		V:  Version,
		K:  kind,
		ID: info.ID.String(),
		N:  info.Name,
		BG: info.BloodGroup,
		EN: info.EmergencyContactName,
		EP: info.EmergencyContactPhone,
	}
	if kind == KindEmergency {
		w.AL = info.Allergies
	}
	return c.seal(w, issuedAt)
}

// EncodeRecord builds a record-summary payload.
func (c *Codec) EncodeRecord(info RecordInfo, issuedAt time.Time) (string, error) {
	if info.ID == uuid.Nil || info.PatientID == uuid.Nil {
		return "", apperr.Field("id", "is required")
	}
	return c.seal(wire{
		V:  Version,
		K:  KindRecordSummary,
		ID: info.ID.String(),
		P:  info.PatientID.String(),
		T:  info.Title,
		RT: info.Type,
		D:  info.Date,
	}, issuedAt)
}

func (c *Codec) seal(w wire, issuedAt time.Time) (string, error) {
	if !issuedAt.IsZero() {
		w.Iat = issuedAt.Unix()
	}
	body, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("marshal qr payload: %w", err)
	}
	if len(c.key) > 0 {
		w.S = c.sign(body)
		if body, err = json.Marshal(w); err != nil {
			return "", fmt.Errorf("marshal qr payload: %w", err)
		}
	}
	if len(body) > MaxPayloadBytes {
		return "", apperr.Validation(
			fmt.Sprintf("payload is %d bytes, the limit is %d", len(body), MaxPayloadBytes), nil)
	}
	return string(body), nil
}

func (c *Codec) sign(body []byte) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(body)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)[:sigBytes])
}

// Decode parses a scanned string. Every failure is an apperr parse error;
// Decode never panics on arbitrary input.
func (c *Codec) Decode(s string) (Payload, error) {
	if s == "" {
		return Payload{}, apperr.Parse("empty payload")
	}
	if len(s) > MaxPayloadBytes {
		return Payload{}, apperr.Parse("payload too large")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.DisallowUnknownFields()
	var w wire
	if err := dec.Decode(&w); err != nil {
		return Payload{}, apperr.Parse("payload is not valid json")
	}
	if _, err := dec.Token(); err != io.EOF {
		return Payload{}, apperr.Parse("trailing data after payload")
	}
	if w.V != Version {
		return Payload{}, apperr.Parse(fmt.Sprintf("unsupported payload version %d", w.V))
	}

	if len(c.key) > 0 {
		if w.S == "" {
			return Payload{}, apperr.Parse("payload is not signed")
		}
		sig := w.S
		w.S = ""
		body, err := json.Marshal(w)
		if err != nil || !hmac.Equal([]byte(sig), []byte(c.sign(body))) {
			return Payload{}, apperr.Parse("payload signature mismatch")
		}
	}

	id, err := uuid.Parse(w.ID)
	if err != nil {
		return Payload{}, apperr.Parse("payload id is not a uuid")
	}

	p := Payload{Kind: w.K}
	if w.Iat > 0 {
		p.IssuedAt = time.Unix(w.Iat, 0).UTC()
	}

	switch w.K {
	case KindEmergency, KindPatientSummary:
		if w.P != "" || w.T != "" || w.RT != "" || w.D != "" {
			return Payload{}, apperr.Parse("patient payload carries record fields")
		}
		if w.K == KindPatientSummary && len(w.AL) > 0 {
			return Payload{}, apperr.Parse("patient summary carries allergies")
		}
		p.Patient = &PatientInfo{
			ID:                    id,
			Name:                  w.N,
			BloodGroup:            w.BG,
			EmergencyContactName:  w.EN,
			EmergencyContactPhone: w.EP,
			Allergies:             w.AL,
		}
	case KindRecordSummary:
		if w.N != "" || w.BG != "" || w.EN != "" || w.EP != "" || len(w.AL) > 0 {
			return Payload{}, apperr.Parse("record payload carries patient fields")
		}
		pid, err := uuid.Parse(w.P)
		if err != nil {
			return Payload{}, apperr.Parse("payload patient id is not a uuid")
		}
		p.Record = &RecordInfo{ID: id, PatientID: pid, Title: w.T, Type: w.RT, Date: w.D}
	default:
		return Payload{}, apperr.Parse(fmt.Sprintf("unknown payload kind %q", w.K))
	}
	return p, nil
}
