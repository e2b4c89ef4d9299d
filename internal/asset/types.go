package asset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/records"
)

const (
	// Collection holds asset records.
	Collection = "asset"
	// TagCollection holds the tags assets reference.
	TagCollection = "tag"

	// AssetTypePackage marks an extracted interactive package.
	AssetTypePackage = "edgeAnimation"
	// NoThumbnail is the thumbnailPath of assets without a preview.
	NoThumbnail = "none"

	KindFile    = "file"
	KindPackage = "package"
)

// tagPopulate is merged into every retrieve so tags come back as {_id, title}.
var tagPopulate = map[string]string{"tags": "_id title"}

// Relations declares the asset -> tag reference for record stores.
func Relations() records.Relations {
	return records.Relations{Collection: {"tags": TagCollection}}
}

// Tag references a tag record. It decodes from either a bare id or an {_id, title} object.
type Tag struct {
	ID    string `json:"_id"`
	Title string `json:"title,omitempty"`
}

func (t *Tag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*t = Tag{ID: id}
		return nil
	}
	var obj struct {
		ID    string `json:"_id"`
		Title string `json:"title"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("tag: %w", err)
	}
	*t = Tag{ID: obj.ID, Title: obj.Title}
	return nil
}

// ParseTags splits a comma separated list of tag ids, dropping blanks.
func ParseTags(raw string) []Tag {
	var tags []Tag
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" {
			tags = append(tags, Tag{ID: id})
		}
	}
	return tags
}

// Asset is one stored file or extracted package. Path and the stored bytes never change after creation.
type Asset struct {
	ID            string     `json:"_id,omitempty"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Repository    string     `json:"repository"`
	Filename      string     `json:"filename"`
	Directory     string     `json:"directory"`
	Path          string     `json:"path"`
	Size          int64      `json:"size"`
	MimeType      string     `json:"mimeType,omitempty"`
	IsDirectory   bool       `json:"isDirectory"`
	Tags          []Tag      `json:"tags"`
	ThumbnailPath string     `json:"thumbnailPath"`
	CreatedBy     string     `json:"createdBy,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	DateCreated   time.Time  `json:"dateCreated"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
	AssetType     string     `json:"assetType,omitempty"`
}

// HasThumbnail reports whether a preview was stored for the asset.
func (a Asset) HasThumbnail() bool {
	return a.ThumbnailPath != "" && a.ThumbnailPath != NoThumbnail
}

// Delta is the mutable subset of an asset. Nil fields are left untouched.
type Delta struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Tags        []Tag      `json:"tags,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

// Empty reports whether the delta changes nothing.
func (d Delta) Empty() bool {
	return d.Title == nil && d.Description == nil && d.Tags == nil
}

func (d Delta) document() records.Document {
	doc := records.Document{}
	if d.Title != nil {
		doc["title"] = *d.Title
	}
	if d.Description != nil {
		doc["description"] = *d.Description
	}
	if d.Tags != nil {
		doc["tags"] = tagIDs(d.Tags)
	}
	if d.UpdatedAt != nil {
		doc["updatedAt"] = d.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return doc
}

// UploadedFile is a client upload already staged on local disk.
type UploadedFile struct {
	// Name is the original client filename.
	Name string
	// Path is the staged location.
	Path     string
	Size     int64
	MimeType string
}

// UploadInput carries the caller-supplied fields of an upload.
type UploadInput struct {
	Title       string
	Description string
	Repository  string
	Tags        []Tag
	File        UploadedFile
}

// Download is an open asset stream. The caller closes Reader.
type Download struct {
	Reader   io.ReadCloser
	MimeType string
	Size     int64
}

func toDocument(a Asset) (records.Document, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode asset: %w", err)
	}
	doc := records.Document{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("encode asset: %w", err)
	}
	doc["tags"] = tagIDs(a.Tags)
	return doc, nil
}

func fromDocument(doc records.Document) (Asset, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return Asset{}, fmt.Errorf("decode asset: %w", err)
	}
	var a Asset
	if err := json.Unmarshal(raw, &a); err != nil {
		return Asset{}, fmt.Errorf("decode asset %s: %w", doc.ID(), err)
	}
	if a.Tags == nil {
		a.Tags = []Tag{}
	}
	return a, nil
}

func tagIDs(tags []Tag) []any {
	ids := make([]any, 0, len(tags))
	for _, t := range tags {
		if id := strings.TrimSpace(t.ID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
