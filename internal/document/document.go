package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultAccountID owns the document in single-user deployments and absorbs
// legacy single-document archives on load.
const DefaultAccountID = "local"

var (
	// ErrInvalidDocument indicates a document payload without the required top-level shape.
	ErrInvalidDocument = errors.New("document: invalid document payload")
	// ErrInvalidArchive indicates an archive payload that is neither an archive nor a legacy document.
	ErrInvalidArchive = errors.New("document: invalid archive payload")
)

// Comment is an append-only child of a Note or Post.
type Comment struct {
	Author string `json:"author"`
	Text   string `json:"text"`
	Time   int64  `json:"time"`
}

// Note is a timestamped text entry inside a category. Time is unix milliseconds.
type Note struct {
	Text     string    `json:"text"`
	Time     int64     `json:"time"`
	Comments []Comment `json:"comments,omitempty"`
}

// Post is an entry on the cross-account feed.
type Post struct {
	Author   string    `json:"author"`
	Text     string    `json:"text"`
	Time     int64     `json:"time"`
	Comments []Comment `json:"comments"`
}

// HistoryEntry is one cleared quick-note snapshot.
type HistoryEntry struct {
	Text string `json:"text"`
	Time int64  `json:"time"`
}

// QuickMeta carries last-writer-wins arbitration metadata for the quick note.
type QuickMeta struct {
	OriginClientID string `json:"originClientId"`
	Timestamp      int64  `json:"timestamp"`
}

// Document is the full note-taking state for one account. Category display
// order is kept in an explicit key list; new categories go to the front.
type Document struct {
	QuickNote     string            `json:"quickNote"`
	QuickMeta     *QuickMeta        `json:"quickMeta,omitempty"`
	History       []HistoryEntry    `json:"history"`
	Categories    map[string][]Note `json:"categories"`
	CategoryOrder []string          `json:"categoryOrder,omitempty"`
	Feed          []Post            `json:"feed,omitempty"`
}

// New returns an empty, structurally valid document.
func New() Document {
	return Document{
		History:       []HistoryEntry{},
		Categories:    map[string][]Note{},
		CategoryOrder: []string{},
	}
}

// Account couples an optional credential hash with its owner's document.
type Account struct {
	Secret   string   `json:"secret,omitempty"`
	Document Document `json:"document"`
}

// Archive is the persisted aggregate for one deployment: every account's
// document plus the feed shared across accounts.
type Archive struct {
	Version  int                `json:"version"`
	Accounts map[string]Account `json:"accounts"`
	Feed     []Post             `json:"feed,omitempty"`
}

// NewArchive returns an empty archive holding only the default account.
func NewArchive() Archive {
	return Archive{
		Version:  1,
		Accounts: map[string]Account{DefaultAccountID: {Document: New()}},
	}
}

type rawDocument struct {
	QuickNote     *string           `json:"quickNote"`
	Quick         *string           `json:"quick"`
	QuickMeta     *QuickMeta        `json:"quickMeta"`
	History       []json.RawMessage `json:"history"`
	Categories    json.RawMessage   `json:"categories"`
	CategoryOrder []string          `json:"categoryOrder"`
	Feed          []rawPost         `json:"feed"`
}

type rawPost struct {
	Author   string    `json:"author"`
	User     string    `json:"user"`
	Text     string    `json:"text"`
	Time     int64     `json:"time"`
	Comments []Comment `json:"comments"`
}

// UnmarshalJSON decodes a document, migrating the legacy shapes observed
// across the persisted variants: a `quick` field instead of `quickNote`,
// history entries stored as bare strings, feed authors under `user`, and
// categories stored as an array of {name, notes} pairs. Category key order
// from the JSON object is preserved when no explicit order list is present.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := Document{QuickMeta: raw.QuickMeta}
	switch {
	case raw.QuickNote != nil:
		out.QuickNote = *raw.QuickNote
	case raw.Quick != nil:
		out.QuickNote = *raw.Quick
	}

	if raw.History != nil {
		out.History = make([]HistoryEntry, 0, len(raw.History))
		for _, entry := range raw.History {
			parsed, err := parseHistoryEntry(entry)
			if err != nil {
				return err
			}
			out.History = append(out.History, parsed)
		}
	}

	if raw.Categories != nil {
		categories, order, err := parseCategories(raw.Categories)
		if err != nil {
			return err
		}
		out.Categories = categories
		out.CategoryOrder = order
		if len(raw.CategoryOrder) > 0 {
			out.CategoryOrder = raw.CategoryOrder
		}
	}

	if raw.Feed != nil {
		out.Feed = make([]Post, 0, len(raw.Feed))
		for _, post := range raw.Feed {
			author := post.Author
			if author == "" {
				author = post.User
			}
			comments := post.Comments
			if comments == nil {
				comments = []Comment{}
			}
			out.Feed = append(out.Feed, Post{
				Author:   author,
				Text:     post.Text,
				Time:     post.Time,
				Comments: comments,
			})
		}
	}

	*d = out
	return nil
}

func parseHistoryEntry(raw json.RawMessage) (HistoryEntry, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return HistoryEntry{}, err
		}
		return HistoryEntry{Text: text}, nil
	}
	var entry HistoryEntry
	if err := json.Unmarshal(trimmed, &entry); err != nil {
		return HistoryEntry{}, err
	}
	return entry, nil
}

func parseCategories(raw json.RawMessage) (map[string][]Note, []string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return map[string][]Note{}, []string{}, nil
	}
	if trimmed[0] == '[' {
		return parseCategoryArray(trimmed)
	}

	categories := map[string][]Note{}
	order := []string{}
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	if _, err := decoder.Token(); err != nil {
		return nil, nil, err
	}
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return nil, nil, err
		}
		name, ok := keyToken.(string)
		if !ok {
			return nil, nil, fmt.Errorf("%w: non-string category key", ErrInvalidDocument)
		}
		var notes []Note
		if err := decoder.Decode(&notes); err != nil {
			return nil, nil, err
		}
		if notes == nil {
			notes = []Note{}
		}
		if _, seen := categories[name]; !seen {
			order = append(order, name)
		}
		categories[name] = notes
	}
	return categories, order, nil
}

func parseCategoryArray(raw []byte) (map[string][]Note, []string, error) {
	var entries []struct {
		Name  string `json:"name"`
		Notes []Note `json:"notes"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, nil, err
	}
	categories := map[string][]Note{}
	order := []string{}
	for _, entry := range entries {
		if entry.Name == "" {
			continue
		}
		notes := entry.Notes
		if notes == nil {
			notes = []Note{}
		}
		if _, seen := categories[entry.Name]; !seen {
			order = append(order, entry.Name)
		}
		categories[entry.Name] = notes
	}
	return categories, order, nil
}

// Normalize repairs a decoded document in place: nil collections become
// empty ones and the category order list is reconciled with the map keys.
func (d *Document) Normalize() {
	if d.History == nil {
		d.History = []HistoryEntry{}
	}
	if d.Categories == nil {
		d.Categories = map[string][]Note{}
	}
	for name, notes := range d.Categories {
		if notes == nil {
			d.Categories[name] = []Note{}
		}
	}

	order := make([]string, 0, len(d.Categories))
	seen := make(map[string]bool, len(d.Categories))
	for _, name := range d.CategoryOrder {
		if _, exists := d.Categories[name]; exists && !seen[name] {
			order = append(order, name)
			seen[name] = true
		}
	}
	for name := range d.Categories {
		if !seen[name] {
			order = append(order, name)
		}
	}
	d.CategoryOrder = order
}

// Clone returns a deep copy suitable for handing to subscribers.
func (d Document) Clone() Document {
	out := d
	if d.QuickMeta != nil {
		meta := *d.QuickMeta
		out.QuickMeta = &meta
	}
	out.History = append(make([]HistoryEntry, 0, len(d.History)), d.History...)
	out.CategoryOrder = append(make([]string, 0, len(d.CategoryOrder)), d.CategoryOrder...)
	out.Categories = make(map[string][]Note, len(d.Categories))
	for name, notes := range d.Categories {
		out.Categories[name] = cloneNotes(notes)
	}
	out.Feed = ClonePosts(d.Feed)
	return out
}

func cloneNotes(notes []Note) []Note {
	copied := make([]Note, len(notes))
	for index, note := range notes {
		copied[index] = note
		copied[index].Comments = append([]Comment(nil), note.Comments...)
	}
	return copied
}

// ClonePosts deep-copies a feed slice.
func ClonePosts(posts []Post) []Post {
	if posts == nil {
		return nil
	}
	copied := make([]Post, len(posts))
	for index, post := range posts {
		copied[index] = post
		copied[index].Comments = append(make([]Comment, 0, len(post.Comments)), post.Comments...)
	}
	return copied
}

// Parse decodes a restore payload. The categories key is required; its
// absence distinguishes an arbitrary JSON object from a document backup.
func Parse(data []byte) (Document, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if _, ok := probe["categories"]; !ok {
		return Document{}, fmt.Errorf("%w: missing categories", ErrInvalidDocument)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	doc.Normalize()
	return doc, nil
}

// ParseArchive decodes a persisted archive. A legacy payload holding a bare
// document is migrated into an archive under the default account.
func ParseArchive(data []byte) (Archive, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return Archive{}, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	if _, ok := probe["accounts"]; ok {
		var archive Archive
		if err := json.Unmarshal(data, &archive); err != nil {
			return Archive{}, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
		}
		archive.Normalize()
		return archive, nil
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Archive{}, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	doc.Normalize()
	archive := Archive{
		Version:  1,
		Accounts: map[string]Account{DefaultAccountID: {Document: doc}},
	}
	// Older single-document payloads keep the feed inside the document.
	if doc.Feed != nil {
		archive.Feed = doc.Feed
		account := archive.Accounts[DefaultAccountID]
		account.Document.Feed = nil
		archive.Accounts[DefaultAccountID] = account
	}
	return archive, nil
}

// Normalize repairs a decoded archive in place.
func (a *Archive) Normalize() {
	if a.Version == 0 {
		a.Version = 1
	}
	if a.Accounts == nil {
		a.Accounts = map[string]Account{}
	}
	for id, account := range a.Accounts {
		account.Document.Normalize()
		a.Accounts[id] = account
	}
	if _, ok := a.Accounts[DefaultAccountID]; !ok {
		a.Accounts[DefaultAccountID] = Account{Document: New()}
	}
	for index := range a.Feed {
		if a.Feed[index].Comments == nil {
			a.Feed[index].Comments = []Comment{}
		}
	}
}

// Clone returns a deep copy of the archive.
func (a Archive) Clone() Archive {
	out := a
	out.Accounts = make(map[string]Account, len(a.Accounts))
	for id, account := range a.Accounts {
		out.Accounts[id] = Account{
			Secret:   account.Secret,
			Document: account.Document.Clone(),
		}
	}
	out.Feed = ClonePosts(a.Feed)
	return out
}
