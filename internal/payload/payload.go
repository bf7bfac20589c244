// Package payload defines the abstract decrypted record envelope and the
// per-collection wire DTOs described in spec.md §6. The crypto envelope
// itself (encrypt/decrypt of the opaque BSO ciphertext) is out of scope;
// this package only models what is on the plaintext side of that boundary.
package payload

import "encoding/json"

// Payload is either a live record ({id, data}) or a tombstone ({id,
// deleted: true}). The embedding application's crypto layer is
// responsible for producing/consuming these from/to ciphertext.
type Payload struct {
	ID      string
	Deleted bool
	Data    json.RawMessage
}

// LoginRecord is the wire shape for one login record, per spec.md §6.
type LoginRecord struct {
	ID                string `json:"id"`
	Hostname          string `json:"hostname"`
	HTTPRealm         string `json:"httpRealm,omitempty"`
	FormSubmitURL     string `json:"formSubmitURL,omitempty"`
	Username          string `json:"username"`
	Password          string `json:"password"`
	UsernameField     string `json:"usernameField,omitempty"`
	PasswordField     string `json:"passwordField,omitempty"`
	TimeCreated       int64  `json:"timeCreated,omitempty"`
	TimeLastUsed      int64  `json:"timeLastUsed,omitempty"`
	TimePasswordChanged int64 `json:"timePasswordChanged,omitempty"`
	TimesUsed         int64  `json:"timesUsed,omitempty"`
}

// BookmarkRecord is the tagged wire shape for bookmark tree nodes. Type
// discriminates Bookmark/Folder/Query/Separator/Livemark; Livemark is
// never uploaded (spec.md §4.2) but can arrive as incoming.
type BookmarkRecord struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	ParentID   string   `json:"parentid"`
	ParentName string   `json:"parentName,omitempty"`
	DateAdded  int64    `json:"dateAdded,omitempty"`
	Title      string   `json:"title,omitempty"`
	BmkURI     string   `json:"bmkUri,omitempty"`
	Keyword    string   `json:"keyword,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Children   []string `json:"children,omitempty"`
}

const (
	BookmarkTypeBookmark  = "bookmark"
	BookmarkTypeFolder    = "folder"
	BookmarkTypeQuery     = "query"
	BookmarkTypeSeparator = "separator"
	BookmarkTypeLivemark  = "livemark"
)

// HistoryVisit is one entry of a HistoryRecord's visits array. Date is
// milliseconds since epoch; Transition is a small integer visit type.
type HistoryVisit struct {
	Date       int64 `json:"date"`
	Transition int   `json:"transition"`
}

// HistoryRecord is the wire shape for one place and its recent visits.
type HistoryRecord struct {
	ID        string         `json:"id"`
	HistURI   string         `json:"histUri"`
	Title     string         `json:"title,omitempty"`
	SortIndex int            `json:"sortindex,omitempty"`
	TTL       int            `json:"ttl,omitempty"`
	Visits    []HistoryVisit `json:"visits,omitempty"`
}

// Tombstone builds a deletion-only payload for id.
func Tombstone(id string) Payload {
	return Payload{ID: id, Deleted: true}
}

// Encode marshals v as the Data field of a live payload for id.
func Encode(id string, v interface{}) (Payload, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Payload{}, err
	}
	return Payload{ID: id, Data: raw}, nil
}

// Decode unmarshals p.Data into v. Callers must check p.Deleted first.
func Decode(p Payload, v interface{}) error {
	return json.Unmarshal(p.Data, v)
}
