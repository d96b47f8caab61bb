// Package convert maps domain types to and from the protobuf Struct messages
// carried by the Scanner gRPC service.
package convert

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/cc42-scan/internal/model"
)

// --- helpers ---

// Fields wraps a decoded request or response for typed access.
type Fields map[string]any

// From returns the fields of s; a nil struct has none.
func From(s *structpb.Struct) Fields {
	if s == nil {
		return Fields{}
	}
	return s.AsMap()
}

// String returns the string at key, "" when absent.
func (f Fields) String(key string) string {
	s, _ := f[key].(string)
	return s
}

// Int returns the integral number at key, 0 when absent.
func (f Fields) Int(key string) (int64, error) {
	v, ok := f[key]
	if !ok || v == nil {
		return 0, nil
	}
	n, ok := v.(float64)
	if !ok || n != math.Trunc(n) || math.Abs(n) > 1<<53 {
		return 0, fmt.Errorf("%s: not an integer", key)
	}
	return int64(n), nil
}

// Bool returns the boolean at key.
func (f Fields) Bool(key string) bool {
	b, _ := f[key].(bool)
	return b
}

// List returns the objects of the list at key.
func (f Fields) List(key string) ([]Fields, error) {
	v, ok := f[key]
	if !ok || v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: not a list", key)
	}
	out := make([]Fields, 0, len(items))
	for i, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d]: not an object", key, i)
		}
		out = append(out, m)
	}
	return out, nil
}

// Struct builds a message from plain Go values.
func Struct(m map[string]any) (*structpb.Struct, error) {
	return structpb.NewStruct(m)
}

func ms(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return float64(t.UnixMilli())
}

// --- documents (server -> client) ---

func docMap(d model.Doc) map[string]any {
	return map[string]any{
		"key":       d.Key,
		"value":     d.Value,
		"ver":       float64(d.Ver),
		"seq":       float64(d.Seq),
		"deleted":   d.Deleted,
		"updatedAt": ms(d.UpdatedAt),
	}
}

// ToProtoDoc converts a document to its message.
func ToProtoDoc(d model.Doc) (*structpb.Struct, error) {
	return structpb.NewStruct(docMap(d))
}

// ToProtoDocs converts documents to {"docs": [...]}.
func ToProtoDocs(ds []model.Doc) (*structpb.Struct, error) {
	list := make([]any, 0, len(ds))
	for _, d := range ds {
		list = append(list, docMap(d))
	}
	return structpb.NewStruct(map[string]any{"docs": list})
}

func docFromFields(f Fields) (model.Doc, error) {
	d := model.Doc{Key: f.String("key"), Value: f["value"], Deleted: f.Bool("deleted")}
	if d.Key == "" {
		return model.Doc{}, fmt.Errorf("empty key")
	}
	var err error
	if d.Ver, err = f.Int("ver"); err != nil {
		return model.Doc{}, err
	}
	if d.Seq, err = f.Int("seq"); err != nil {
		return model.Doc{}, err
	}
	at, err := f.Int("updatedAt")
	if err != nil {
		return model.Doc{}, err
	}
	if at != 0 {
		d.UpdatedAt = time.UnixMilli(at)
	}
	return d, nil
}

// FromProtoDoc converts a message back to a document.
func FromProtoDoc(s *structpb.Struct) (model.Doc, error) {
	return docFromFields(From(s))
}

// FromProtoDocs converts {"docs": [...]} back to documents.
func FromProtoDocs(s *structpb.Struct) ([]model.Doc, error) {
	items, err := From(s).List("docs")
	if err != nil {
		return nil, err
	}
	out := make([]model.Doc, 0, len(items))
	for i, it := range items {
		d, err := docFromFields(it)
		if err != nil {
			return nil, fmt.Errorf("doc[%d]: %w", i, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// --- writes (client -> server) ---

// ToProtoWrites converts a batch to {"writes": [...]}.
func ToProtoWrites(ws []model.DocWrite) (*structpb.Struct, error) {
	list := make([]any, 0, len(ws))
	for _, w := range ws {
		list = append(list, map[string]any{"key": w.Key, "baseVer": float64(w.BaseVer), "value": w.Value})
	}
	return structpb.NewStruct(map[string]any{"writes": list})
}

// FromProtoWrites converts {"writes": [...]} to a batch.
func FromProtoWrites(s *structpb.Struct) ([]model.DocWrite, error) {
	items, err := From(s).List("writes")
	if err != nil {
		return nil, err
	}
	out := make([]model.DocWrite, 0, len(items))
	for i, it := range items {
		w := model.DocWrite{Key: it.String("key"), Value: it["value"]}
		if w.Key == "" {
			return nil, fmt.Errorf("write[%d]: empty key", i)
		}
		if w.BaseVer, err = it.Int("baseVer"); err != nil {
			return nil, fmt.Errorf("write[%d]: %w", i, err)
		}
		out = append(out, w)
	}
	return out, nil
}

// --- versions / changes (server -> client) ---

// ToProtoVersions converts commit results to {"results": [...]}.
func ToProtoVersions(vs []model.DocVersion) (*structpb.Struct, error) {
	list := make([]any, 0, len(vs))
	for _, v := range vs {
		list = append(list, map[string]any{"key": v.Key, "newVer": float64(v.NewVer), "seq": float64(v.Seq)})
	}
	return structpb.NewStruct(map[string]any{"results": list})
}

// FromProtoVersions converts {"results": [...]} back to commit results.
func FromProtoVersions(s *structpb.Struct) ([]model.DocVersion, error) {
	items, err := From(s).List("results")
	if err != nil {
		return nil, err
	}
	out := make([]model.DocVersion, 0, len(items))
	for i, it := range items {
		v := model.DocVersion{Key: it.String("key")}
		if v.NewVer, err = it.Int("newVer"); err != nil {
			return nil, fmt.Errorf("result[%d]: %w", i, err)
		}
		if v.Seq, err = it.Int("seq"); err != nil {
			return nil, fmt.Errorf("result[%d]: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ToProtoChanges converts a change feed page to {"changes": [...]}.
func ToProtoChanges(cs []model.DocChange) (*structpb.Struct, error) {
	list := make([]any, 0, len(cs))
	for _, c := range cs {
		list = append(list, map[string]any{"key": c.Key, "seq": float64(c.Seq), "deleted": c.Deleted})
	}
	return structpb.NewStruct(map[string]any{"changes": list})
}

// FromProtoChanges converts {"changes": [...]} back to a change feed page.
func FromProtoChanges(s *structpb.Struct) ([]model.DocChange, error) {
	items, err := From(s).List("changes")
	if err != nil {
		return nil, err
	}
	out := make([]model.DocChange, 0, len(items))
	for i, it := range items {
		c := model.DocChange{Key: it.String("key"), Deleted: it.Bool("deleted")}
		if c.Seq, err = it.Int("seq"); err != nil {
			return nil, fmt.Errorf("change[%d]: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// --- auth ---

// ToProtoProfile converts registration data, credentials included.
func ToProtoProfile(login, password string, p model.Profile) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"login":       login,
		"password":    password,
		"intraId":     p.IntraID,
		"displayName": p.DisplayName,
		"imageUrl":    p.ImageURL,
		"campusId":    p.CampusID,
		"role":        string(p.Role),
	})
}

// ProfileFrom extracts the profile part of a registration request.
func ProfileFrom(f Fields) model.Profile {
	return model.Profile{
		IntraID:     f.String("intraId"),
		DisplayName: f.String("displayName"),
		ImageURL:    f.String("imageUrl"),
		CampusID:    f.String("campusId"),
		Role:        model.Role(f.String("role")),
	}
}

// ToProtoSession converts a successful login.
func ToProtoSession(t model.Tokens, u model.User) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"accessToken": t.AccessToken,
		"expiresAt":   ms(t.ExpiresAt),
		"userId":      u.ID.String(),
		"login":       u.Login,
		"intraId":     u.IntraID,
		"displayName": u.DisplayName,
		"imageUrl":    u.ImageURL,
		"campusId":    u.CampusID,
		"role":        string(u.Role),
	})
}

// Session is the client view of a login response.
type Session struct {
	Tokens  model.Tokens
	Profile model.Profile
	Login   string
	UserID  string
}

// FromProtoSession converts a login response.
func FromProtoSession(s *structpb.Struct) (Session, error) {
	f := From(s)
	out := Session{
		Tokens:  model.Tokens{AccessToken: f.String("accessToken")},
		Profile: ProfileFrom(f),
		Login:   f.String("login"),
		UserID:  f.String("userId"),
	}
	if out.Tokens.AccessToken == "" {
		return Session{}, fmt.Errorf("empty access token")
	}
	exp, err := f.Int("expiresAt")
	if err != nil {
		return Session{}, err
	}
	out.Tokens.ExpiresAt = time.UnixMilli(exp)
	return out, nil
}
