package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// EditRecord is a single change from the MediaWiki recentchanges feed
// (formatversion=2). It is produced by the feed and never mutated.
type EditRecord struct {
	Type      string    `json:"type,omitempty"`
	Namespace int       `json:"ns"`
	Title     string    `json:"title" validate:"required"`
	User      string    `json:"user" validate:"required"`
	RevID     int64     `json:"revid" validate:"gte=0"`
	OldRevID  int64     `json:"old_revid" validate:"gte=0"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
	Comment   string    `json:"comment"`
	Tags      []string  `json:"tags"`
	Bot       bool      `json:"bot"`
}

// Validate reports whether the record can be stored if it turns out to be a
// revert. Revision-deleted changes arrive without a user (userhidden) and
// fail here.
func (e *EditRecord) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("invalid edit record (title=%q revid=%d): %w", e.Title, e.RevID, err)
	}
	return nil
}

// ClassifiedEvent is an EditRecord with the classifier's verdict attached.
// IsVandalismRevert is only ever true when IsRevert is true.
type ClassifiedEvent struct {
	EditRecord
	IsRevert          bool   `json:"is_revert"`
	IsVandalismRevert bool   `json:"is_vandalism_revert"`
	RevertSignal      string `json:"revert_signal,omitempty"`
	VandalismSignal   string `json:"vandalism_signal,omitempty"`
}

// RevertEvent is the stored subset of a ClassifiedEvent whose IsRevert was
// true. Vandalism reverts are kept but excluded from window computations.
type RevertEvent struct {
	Article     string    `json:"article" validate:"required"`
	User        string    `json:"user" validate:"required"`
	RevID       int64     `json:"revid" validate:"gte=0"`
	OldRevID    int64     `json:"old_revid" validate:"gte=0"`
	Timestamp   time.Time `json:"timestamp" validate:"required"`
	IsVandalism bool      `json:"is_vandalism"`
	Comment     string    `json:"comment,omitempty"`
}

// ToRevertEvent converts a classified revert into its stored form. The second
// return value is false for non-reverts, which are never stored.
func (c ClassifiedEvent) ToRevertEvent() (RevertEvent, bool) {
	if !c.IsRevert {
		return RevertEvent{}, false
	}
	return RevertEvent{
		Article:     c.Title,
		User:        c.User,
		RevID:       c.RevID,
		OldRevID:    c.OldRevID,
		Timestamp:   c.Timestamp.UTC().Truncate(time.Second),
		IsVandalism: c.IsVandalismRevert,
		Comment:     c.Comment,
	}, true
}

// Validate checks the fields the detectors depend on. A record that fails
// here must not be silently skipped: that would undercount violations.
func (e *RevertEvent) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("invalid revert event (article=%q user=%q revid=%d): %w", e.Article, e.User, e.RevID, err)
	}
	return nil
}

// StreamEdit is a recentchange event from Wikimedia EventStreams. Unlike the
// API feed it carries no change tags.
type StreamEdit struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Namespace int    `json:"namespace"`
	Title     string `json:"title"`
	User      string `json:"user"`
	Bot       bool   `json:"bot"`
	Wiki      string `json:"wiki"`
	ServerURL string `json:"server_url"`
	Timestamp int64  `json:"timestamp"`
	Revision  struct {
		Old int64 `json:"old"`
		New int64 `json:"new"`
	} `json:"revision"`
	Comment string `json:"comment"`
}

// Language extracts the language code from the wiki field
// For example, "enwiki" returns "en", "simplewiki" returns "simple"
func (e *StreamEdit) Language() string {
	if len(e.Wiki) < 2 {
		return ""
	}
	return strings.TrimSuffix(e.Wiki, "wiki")
}

// Validate checks if the stream event has the fields an EditRecord needs
func (e *StreamEdit) Validate() error {
	if strings.TrimSpace(e.Type) == "" {
		return fmt.Errorf("Type is required")
	}
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("Title is required")
	}
	if strings.TrimSpace(e.User) == "" {
		return fmt.Errorf("User is required")
	}
	if e.Timestamp == 0 {
		return fmt.Errorf("Timestamp is required and cannot be zero")
	}
	if e.Revision.Old < 0 || e.Revision.New < 0 {
		return fmt.Errorf("Revision values cannot be negative")
	}
	return nil
}

// ToEditRecord maps the stream shape onto the feed's EditRecord.
func (e *StreamEdit) ToEditRecord() EditRecord {
	return EditRecord{
		Type:      e.Type,
		Namespace: e.Namespace,
		Title:     e.Title,
		User:      e.User,
		RevID:     e.Revision.New,
		OldRevID:  e.Revision.Old,
		Timestamp: time.Unix(e.Timestamp, 0).UTC(),
		Comment:   e.Comment,
		Bot:       e.Bot,
	}
}
