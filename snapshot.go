package framelink

// ContextSnapshot is an immutable, JSON-serializable projection of host
// state taken at invocation time. Related entities are repositories indexed
// by ID rather than nested object graphs: consumers resolve relationships
// by ID lookup, because no live object reference survives the frame
// boundary.
//
// Snapshots are never mutated in place; a host state change produces a new
// snapshot delivered with the next invocation.
type ContextSnapshot struct {
	CurrentUser      *User                  `json:"currentUser,omitempty"`
	Site             *Site                  `json:"site,omitempty"`
	Theme            *Theme                 `json:"theme,omitempty"`
	PluginParameters map[string]interface{} `json:"pluginParameters,omitempty"`

	// Repositories indexed by ID.
	ItemTypes map[string]*ItemType `json:"itemTypes,omitempty"`
	Fields    map[string]*Field    `json:"fields,omitempty"`
	Users     map[string]*User     `json:"users,omitempty"`
}

// User is the snapshot projection of a CMS user account.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"fullName,omitempty"`
	RoleID   string `json:"roleId,omitempty"`
}

// Site is the snapshot projection of the project the plugin runs in.
type Site struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Domain  string   `json:"domain,omitempty"`
	Locales []string `json:"locales,omitempty"`
}

// Theme carries the host UI colors so guest frames can match them.
type Theme struct {
	PrimaryColor string `json:"primaryColor,omitempty"`
	AccentColor  string `json:"accentColor,omitempty"`
	LightColor   string `json:"lightColor,omitempty"`
	DarkColor    string `json:"darkColor,omitempty"`
}

// ItemType is the snapshot projection of a content model. Fields are
// referenced by ID; look them up in ContextSnapshot.Fields.
type ItemType struct {
	ID        string   `json:"id"`
	APIKey    string   `json:"apiKey"`
	Name      string   `json:"name,omitempty"`
	Singleton bool     `json:"singleton,omitempty"`
	FieldIDs  []string `json:"fieldIds,omitempty"`
}

// Field is the snapshot projection of a single model field.
type Field struct {
	ID         string                 `json:"id"`
	APIKey     string                 `json:"apiKey"`
	Label      string                 `json:"label,omitempty"`
	FieldType  string                 `json:"fieldType"`
	ItemTypeID string                 `json:"itemTypeId"`
	Localized  bool                   `json:"localized,omitempty"`
	Validators map[string]interface{} `json:"validators,omitempty"`
}

// Clone returns a deep copy of the snapshot. Guest-side mutation of the
// copy must never reach host state, so every container is duplicated.
func (s *ContextSnapshot) Clone() *ContextSnapshot {
	if s == nil {
		return nil
	}
	out := &ContextSnapshot{
		CurrentUser:      s.CurrentUser.clone(),
		PluginParameters: cloneAnyMap(s.PluginParameters),
	}
	if s.Site != nil {
		site := *s.Site
		site.Locales = append([]string(nil), s.Site.Locales...)
		out.Site = &site
	}
	if s.Theme != nil {
		theme := *s.Theme
		out.Theme = &theme
	}
	if s.ItemTypes != nil {
		out.ItemTypes = make(map[string]*ItemType, len(s.ItemTypes))
		for id, it := range s.ItemTypes {
			cp := *it
			cp.FieldIDs = append([]string(nil), it.FieldIDs...)
			out.ItemTypes[id] = &cp
		}
	}
	if s.Fields != nil {
		out.Fields = make(map[string]*Field, len(s.Fields))
		for id, f := range s.Fields {
			cp := *f
			cp.Validators = cloneAnyMap(f.Validators)
			out.Fields[id] = &cp
		}
	}
	if s.Users != nil {
		out.Users = make(map[string]*User, len(s.Users))
		for id, u := range s.Users {
			out.Users[id] = u.clone()
		}
	}
	return out
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}

// cloneAnyMap deep-copies a JSON-shaped map (maps, slices, scalars).
func cloneAnyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneAnyValue(v)
	}
	return out
}

func cloneAnyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return cloneAnyMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneAnyValue(item)
		}
		return out
	default:
		return val
	}
}
